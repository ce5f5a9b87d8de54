/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package staleness classifies monitored sources by idle time.
//
// Evaluate is a pure function: given the last observed activity time, the
// platform reference clock, and a threshold, it computes idle minutes and
// classifies the source OK, ALERT, or UNKNOWN. The unknown path is a
// first-class Observation value, not an intercepted error.
package staleness

import (
	"fmt"
	"math"
	"time"

	"github.com/marcus-qen/esmhealth/internal/esmtime"
	"github.com/marcus-qen/esmhealth/internal/registry"
)

// Status is the classification of one source.
type Status string

const (
	StatusOK      Status = "OK"
	StatusAlert   Status = "ALERT"
	StatusUnknown Status = "UNKNOWN"
)

// Observation is the outcome of trying to determine a source's last
// activity time: either a localized instant, or unavailable with a detail
// explaining why.
type Observation struct {
	at     esmtime.Localized
	known  bool
	detail string
}

// Observed wraps a known last-activity time.
func Observed(at esmtime.Localized) Observation {
	return Observation{at: at, known: true}
}

// Unavailable marks the activity time as undeterminable.
func Unavailable(detail string) Observation {
	return Observation{detail: detail}
}

// Known reports whether an activity time was determined.
func (o Observation) Known() bool { return o.known }

// Time returns the observed activity time; only meaningful when Known.
func (o Observation) Time() esmtime.Localized { return o.at }

// Detail returns the unavailability explanation; empty when Known.
func (o Observation) Detail() string { return o.detail }

// Result is the evaluation of one source. Immutable; created fresh per
// evaluation and consumed by the caller.
type Result struct {
	Source       registry.Source
	LastActivity Observation
	Reference    esmtime.Localized

	// IdleMinutes is undefined when LastActivity is unavailable. It may be
	// negative when the reference clock trails the activity time.
	IdleMinutes int

	Status  Status
	Message string
}

// Evaluate classifies a source. ALERT iff the activity time is known and
// idle minutes strictly exceed the threshold; UNKNOWN iff the activity time
// could not be determined; otherwise OK. Negative idle time (clock skew,
// future-dated events) is never an error and never alerts.
func Evaluate(src registry.Source, obs Observation, ref esmtime.Localized) Result {
	res := Result{
		Source:       src,
		LastActivity: obs,
		Reference:    ref,
	}

	if !obs.Known() {
		res.Status = StatusUnknown
		res.Message = unknownMessage(src, obs.Detail())
		return res
	}

	idle := ref.Sub(obs.Time())
	res.IdleMinutes = int(math.Floor(idle.Seconds() / 60))

	if res.IdleMinutes > src.ThresholdMinutes {
		res.Status = StatusAlert
		res.Message = alertMessage(src, res.IdleMinutes, obs.Time())
		return res
	}

	res.Status = StatusOK
	res.Message = okMessage(src, obs.Time())
	return res
}

// IdleDuration returns the idle time as a duration; only meaningful when
// the activity time is known.
func (r Result) IdleDuration() time.Duration {
	return time.Duration(r.IdleMinutes) * time.Minute
}

func activityNoun(kind registry.Kind) string {
	if kind == registry.KindAlarms {
		return "alarms"
	}
	return "events"
}

func alertMessage(src registry.Source, idleMinutes int, last esmtime.Localized) string {
	return fmt.Sprintf(
		"Device: %s has not seen %s for %d minutes. The threshold is set to %d minutes and the last activity was generated at %s.",
		src.DisplayName, activityNoun(src.Kind), idleMinutes, src.ThresholdMinutes, last,
	)
}

func okMessage(src registry.Source, last esmtime.Localized) string {
	return fmt.Sprintf(
		"%s within the threshold of %d minutes. Latest %s timestamp: %s.",
		src.DisplayName, src.ThresholdMinutes, activityNoun(src.Kind), last,
	)
}

func unknownMessage(src registry.Source, detail string) string {
	if detail == "" {
		detail = "no data"
	}
	return fmt.Sprintf(
		"%s: no %s data available in window %s (%s); threshold is %d minutes.",
		src.DisplayName, activityNoun(src.Kind), src.Window, detail, src.ThresholdMinutes,
	)
}
