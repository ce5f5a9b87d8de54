/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package runner orchestrates one evaluation run: resolve the platform
// reference clock → query each monitored source → normalize the latest
// activity timestamp → classify staleness → collect ordered results.
//
// Failure handling is per source: a query error, an empty result set, a
// missing timestamp field, or an unparseable timestamp degrade that single
// source to UNKNOWN and never abort the rest of the run.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/marcus-qen/esmhealth/internal/esm"
	"github.com/marcus-qen/esmhealth/internal/esmtime"
	"github.com/marcus-qen/esmhealth/internal/metrics"
	"github.com/marcus-qen/esmhealth/internal/registry"
	"github.com/marcus-qen/esmhealth/internal/staleness"
	"github.com/marcus-qen/esmhealth/internal/telemetry"
)

// Querier is the ESM query collaborator. Both methods return records most
// recent first; one record is enough for a staleness check.
type Querier interface {
	TriggeredAlarms(ctx context.Context, window string) ([]esm.Record, error)
	EventsForDatasource(ctx context.Context, ipsID, window string) ([]esm.Record, error)
}

// TimeSource provides the platform's authoritative clock.
type TimeSource interface {
	CurrentTime(ctx context.Context) (string, error)
	TimezoneID(ctx context.Context) (string, error)
}

// ReferenceClock is the platform's current time, localized to the
// platform's configured zone. It is resolved once per run and shared
// read-only by every evaluation so all sources compare against one
// consistent instant.
type ReferenceClock struct {
	Now      esmtime.Localized
	ZoneCode string
	Location *time.Location
}

// ResolveClock fetches and localizes the platform clock. Failure here is a
// run-level error: without a comparison baseline nothing can be evaluated.
func ResolveClock(ctx context.Context, ts TimeSource) (ReferenceClock, error) {
	raw, err := ts.CurrentTime(ctx)
	if err != nil {
		return ReferenceClock{}, fmt.Errorf("resolve reference clock: %w", err)
	}
	code, err := ts.TimezoneID(ctx)
	if err != nil {
		return ReferenceClock{}, fmt.Errorf("resolve reference clock: %w", err)
	}
	loc, err := esmtime.ZoneLocation(code)
	if err != nil {
		return ReferenceClock{}, fmt.Errorf("resolve reference clock: %w", err)
	}
	in, err := esmtime.Parse(raw)
	if err != nil {
		return ReferenceClock{}, fmt.Errorf("resolve reference clock: %w", err)
	}

	return ReferenceClock{
		Now:      esmtime.Localize(in, loc),
		ZoneCode: code,
		Location: loc,
	}, nil
}

// Run is the outcome of one complete evaluation pass.
type Run struct {
	ID       string
	Clock    ReferenceClock
	Results  []staleness.Result
	Duration time.Duration
}

// Runner evaluates the monitored sources of one run.
type Runner struct {
	querier     Querier
	log         logr.Logger
	concurrency int
}

// New creates a runner. Evaluation is sequential by default; the ESM query
// API is a shared, request-limited resource.
func New(q Querier, log logr.Logger) *Runner {
	return &Runner{querier: q, log: log, concurrency: 1}
}

// SetConcurrency bounds parallel source evaluation. Values below 2 keep
// the sequential pass.
func (r *Runner) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	r.concurrency = n
}

// RunOnce evaluates every source and returns one result per source, in
// registry order regardless of evaluation concurrency. The runner performs
// no alerting or printing; consuming the results is the caller's job.
func (r *Runner) RunOnce(ctx context.Context, sources []registry.Source, clock ReferenceClock) *Run {
	runID := uuid.NewString()
	start := time.Now()

	ctx, span := telemetry.StartRunSpan(ctx, runID, len(sources))
	defer span.End()

	r.log.Info("evaluation run starting",
		"run_id", runID,
		"sources", len(sources),
		"reference_time", clock.Now.String(),
	)

	results := make([]staleness.Result, len(sources))

	if r.concurrency > 1 {
		sem := make(chan struct{}, r.concurrency)
		var wg sync.WaitGroup
		for i, src := range sources {
			wg.Add(1)
			go func(i int, src registry.Source) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[i] = r.evaluateSource(ctx, src, clock)
			}(i, src)
		}
		wg.Wait()
	} else {
		for i, src := range sources {
			results[i] = r.evaluateSource(ctx, src, clock)
		}
	}

	duration := time.Since(start)
	metrics.RecordRunComplete(duration)
	r.log.Info("evaluation run complete", "run_id", runID, "duration", duration.String())

	return &Run{
		ID:       runID,
		Clock:    clock,
		Results:  results,
		Duration: duration,
	}
}

// evaluateSource produces the result for a single source. Never returns an
// error: every failure mode is folded into an UNKNOWN observation.
func (r *Runner) evaluateSource(ctx context.Context, src registry.Source, clock ReferenceClock) staleness.Result {
	ctx, span := telemetry.StartSourceSpan(ctx, src.DisplayName, string(src.Kind))

	obs := r.observe(ctx, src, clock)
	res := staleness.Evaluate(src, obs, clock.Now)

	metrics.RecordCheck(src.DisplayName, string(res.Status), res.IdleMinutes, obs.Known())
	telemetry.EndSourceSpan(span, string(res.Status), res.IdleMinutes, obs.Known())

	switch res.Status {
	case staleness.StatusAlert:
		r.log.Info("source stale",
			"source", src.DisplayName,
			"idle_minutes", res.IdleMinutes,
			"threshold_minutes", src.ThresholdMinutes,
		)
	case staleness.StatusUnknown:
		r.log.Info("source activity unknown", "source", src.DisplayName, "detail", obs.Detail())
	}

	return res
}

// observe determines a source's last activity time. The returned
// Observation is Unavailable with a detail for every degradation path.
func (r *Runner) observe(ctx context.Context, src registry.Source, clock ReferenceClock) staleness.Observation {
	qctx, qspan := telemetry.StartQuerySpan(ctx, src.DisplayName, src.Window)

	var records []esm.Record
	var err error
	switch src.Kind {
	case registry.KindAlarms:
		records, err = r.querier.TriggeredAlarms(qctx, src.Window)
	case registry.KindEvents:
		records, err = r.querier.EventsForDatasource(qctx, src.ID, src.Window)
	default:
		err = fmt.Errorf("unknown source kind %q", src.Kind)
	}

	if err != nil {
		qspan.RecordError(err)
		qspan.SetStatus(codes.Error, "query failed")
		qspan.End()
		metrics.RecordQueryFailure(src.DisplayName)
		r.log.Error(err, "ESM query failed", "source", src.DisplayName)
		return staleness.Unavailable(fmt.Sprintf("query failed: %v", err))
	}
	qspan.End()

	if len(records) == 0 {
		return staleness.Unavailable("empty result set")
	}

	raw, ok := records[0].LastActivity()
	if !ok {
		return staleness.Unavailable("no activity timestamp field in result")
	}

	in, err := esmtime.Parse(raw)
	if err != nil {
		return staleness.Unavailable(fmt.Sprintf("unparseable timestamp %q", raw))
	}

	return staleness.Observed(esmtime.Localize(in, clock.Location))
}
