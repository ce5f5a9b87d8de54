/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package ratelimit paces requests against the ESM query API.
//
// The ESM appliance serves every console and integration from one query
// pool, so the health monitor spaces its own requests out: a minimum gap
// between consecutive calls plus a rolling per-minute cap.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config configures request pacing.
type Config struct {
	// MinInterval is the minimum gap between consecutive requests.
	MinInterval time.Duration

	// MaxPerMinute caps requests in any rolling minute. 0 disables the cap.
	MaxPerMinute int
}

// DefaultConfig returns pacing defaults safe for a shared ESM.
func DefaultConfig() Config {
	return Config{
		MinInterval:  250 * time.Millisecond,
		MaxPerMinute: 60,
	}
}

// Limiter hands out request slots.
type Limiter struct {
	config Config

	mu      sync.Mutex
	last    time.Time
	history []time.Time

	now func() time.Time // injectable for tests
}

// NewLimiter creates a limiter.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{config: cfg, now: time.Now}
}

// Reserve books the next request slot and returns how long the caller must
// wait before using it.
func (l *Limiter) Reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	slot := now

	if !l.last.IsZero() {
		if next := l.last.Add(l.config.MinInterval); next.After(slot) {
			slot = next
		}
	}

	if l.config.MaxPerMinute > 0 {
		l.prune(slot)
		if len(l.history) >= l.config.MaxPerMinute {
			if next := l.history[0].Add(time.Minute); next.After(slot) {
				slot = next
				l.prune(slot)
			}
		}
	}

	l.last = slot
	l.history = append(l.history, slot)
	return slot.Sub(now)
}

// Wait reserves a slot and blocks until it is due or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	delay := l.Reserve()
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// prune drops history entries outside the rolling minute ending at t.
// Caller holds the lock.
func (l *Limiter) prune(t time.Time) {
	cutoff := t.Add(-time.Minute)
	kept := l.history[:0]
	for _, h := range l.history {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	l.history = kept
}
