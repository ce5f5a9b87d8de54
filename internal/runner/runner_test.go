/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/esmhealth/internal/esm"
	"github.com/marcus-qen/esmhealth/internal/registry"
	"github.com/marcus-qen/esmhealth/internal/staleness"
)

type fakeQuerier struct {
	alarms    []esm.Record
	alarmsErr error

	// events is keyed by the masked datasource ID.
	events    map[string][]esm.Record
	eventsErr map[string]error
}

func (f *fakeQuerier) TriggeredAlarms(ctx context.Context, window string) ([]esm.Record, error) {
	return f.alarms, f.alarmsErr
}

func (f *fakeQuerier) EventsForDatasource(ctx context.Context, ipsID, window string) ([]esm.Record, error) {
	if err := f.eventsErr[ipsID]; err != nil {
		return nil, err
	}
	return f.events[ipsID], nil
}

type fakeTimeSource struct {
	now     string
	nowErr  error
	zone    string
	zoneErr error
}

func (f *fakeTimeSource) CurrentTime(ctx context.Context) (string, error) { return f.now, f.nowErr }
func (f *fakeTimeSource) TimezoneID(ctx context.Context) (string, error) { return f.zone, f.zoneErr }

func record(field, value string) esm.Record {
	return esm.Record{Fields: map[string]string{field: value}}
}

func testClock(t *testing.T) ReferenceClock {
	t.Helper()
	ts := &fakeTimeSource{now: "2024-01-01 10:00:00", zone: "UTC"}
	clock, err := ResolveClock(context.Background(), ts)
	if err != nil {
		t.Fatalf("ResolveClock: %v", err)
	}
	return clock
}

func eventSource(id string, threshold int) registry.Source {
	return registry.Source{
		Kind:             registry.KindEvents,
		ID:               id + "/8",
		DeviceID:         id,
		DisplayName:      "recv-" + id,
		NameResolved:     true,
		Window:           "LAST_HOUR",
		ThresholdMinutes: threshold,
	}
}

func TestResolveClock(t *testing.T) {
	ts := &fakeTimeSource{now: "2024-01-01 10:00:00", zone: "7"}
	clock, err := ResolveClock(context.Background(), ts)
	if err != nil {
		t.Fatalf("ResolveClock: %v", err)
	}
	if clock.ZoneCode != "7" {
		t.Errorf("ZoneCode = %q, want 7", clock.ZoneCode)
	}
	if clock.Location.String() != "America/New_York" {
		t.Errorf("Location = %q, want America/New_York", clock.Location)
	}
	// Naive platform time keeps its wall clock in the platform zone.
	if clock.Now.Time().Hour() != 10 {
		t.Errorf("Now hour = %d, want 10", clock.Now.Time().Hour())
	}
}

func TestResolveClockFailures(t *testing.T) {
	cases := []*fakeTimeSource{
		{nowErr: errors.New("api down"), zone: "UTC"},
		{now: "2024-01-01 10:00:00", zoneErr: errors.New("api down")},
		{now: "2024-01-01 10:00:00", zone: "999"},
		{now: "garbage", zone: "UTC"},
	}
	for i, ts := range cases {
		if _, err := ResolveClock(context.Background(), ts); err == nil {
			t.Errorf("case %d: ResolveClock succeeded, want error", i)
		}
	}
}

func TestRunOnceClassifiesSources(t *testing.T) {
	q := &fakeQuerier{
		alarms: []esm.Record{record(esm.FieldTriggeredDate, "2024-01-01 09:45:00")},
		events: map[string][]esm.Record{
			"1/8": {record(esm.FieldLastTime, "2024-01-01 08:00:00")},
		},
	}
	sources := []registry.Source{
		{Kind: registry.KindAlarms, DisplayName: registry.AlarmSourceName, NameResolved: true, Window: "LAST_HOUR", ThresholdMinutes: 30},
		eventSource("1", 30),
	}

	run := New(q, logr.Discard()).RunOnce(context.Background(), sources, testClock(t))

	if run.ID == "" {
		t.Error("run ID empty")
	}
	if len(run.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(run.Results))
	}
	if run.Results[0].Status != staleness.StatusOK {
		t.Errorf("alarm status = %s, want OK", run.Results[0].Status)
	}
	if run.Results[1].Status != staleness.StatusAlert {
		t.Errorf("event status = %s, want ALERT", run.Results[1].Status)
	}
	if run.Results[1].IdleMinutes != 120 {
		t.Errorf("event idle = %d, want 120", run.Results[1].IdleMinutes)
	}
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	// The middle source fails; its neighbors still evaluate.
	q := &fakeQuerier{
		events: map[string][]esm.Record{
			"1/8": {record(esm.FieldLastTime, "2024-01-01 09:50:00")},
			"3/8": {record(esm.FieldLastTime, "2024-01-01 09:55:00")},
		},
		eventsErr: map[string]error{"2/8": errors.New("connection reset")},
	}
	sources := []registry.Source{
		eventSource("1", 30), eventSource("2", 30), eventSource("3", 30),
	}

	run := New(q, logr.Discard()).RunOnce(context.Background(), sources, testClock(t))

	if got := run.Results[0].Status; got != staleness.StatusOK {
		t.Errorf("results[0] = %s, want OK", got)
	}
	if got := run.Results[1].Status; got != staleness.StatusUnknown {
		t.Errorf("results[1] = %s, want UNKNOWN", got)
	}
	if !strings.Contains(run.Results[1].Message, "query failed") {
		t.Errorf("failed source message = %q", run.Results[1].Message)
	}
	if got := run.Results[2].Status; got != staleness.StatusOK {
		t.Errorf("results[2] = %s, want OK", got)
	}
}

func TestRunOnceDegradationPaths(t *testing.T) {
	q := &fakeQuerier{
		events: map[string][]esm.Record{
			"empty/8":   {},
			"nofield/8": {esm.Record{Fields: map[string]string{"Rule.msg": "x"}}},
			"badtime/8": {record(esm.FieldLastTime, "not a timestamp")},
		},
	}
	sources := []registry.Source{
		eventSource("empty", 30), eventSource("nofield", 30), eventSource("badtime", 30),
	}

	run := New(q, logr.Discard()).RunOnce(context.Background(), sources, testClock(t))

	wantDetail := []string{"empty result set", "no activity timestamp field", "unparseable timestamp"}
	for i, res := range run.Results {
		if res.Status != staleness.StatusUnknown {
			t.Errorf("results[%d] = %s, want UNKNOWN", i, res.Status)
		}
		if !strings.Contains(res.Message, wantDetail[i]) {
			t.Errorf("results[%d] message = %q, want detail %q", i, res.Message, wantDetail[i])
		}
	}
}

func TestRunOnceAlarmTimestampFallback(t *testing.T) {
	// Alert.LastTime wins when present; triggeredDate is the fallback.
	q := &fakeQuerier{
		alarms: []esm.Record{{Fields: map[string]string{
			esm.FieldLastTime:      "2024-01-01 09:50:00",
			esm.FieldTriggeredDate: "2024-01-01 08:00:00",
		}}},
	}
	src := registry.Source{Kind: registry.KindAlarms, DisplayName: registry.AlarmSourceName, NameResolved: true, Window: "LAST_HOUR", ThresholdMinutes: 30}

	run := New(q, logr.Discard()).RunOnce(context.Background(), []registry.Source{src}, testClock(t))
	if run.Results[0].IdleMinutes != 10 {
		t.Errorf("idle = %d, want 10 (from Alert.LastTime)", run.Results[0].IdleMinutes)
	}
}

func TestRunOnceConcurrentKeepsOrder(t *testing.T) {
	q := &fakeQuerier{events: map[string][]esm.Record{}}
	var sources []registry.Source
	stamps := []string{
		"2024-01-01 09:00:00", "2024-01-01 09:10:00", "2024-01-01 09:20:00",
		"2024-01-01 09:30:00", "2024-01-01 09:40:00", "2024-01-01 09:50:00",
	}
	for i, stamp := range stamps {
		id := string(rune('a' + i))
		q.events[id+"/8"] = []esm.Record{record(esm.FieldLastTime, stamp)}
		sources = append(sources, eventSource(id, 200))
	}

	r := New(q, logr.Discard())
	r.SetConcurrency(4)
	run := r.RunOnce(context.Background(), sources, testClock(t))

	for i, res := range run.Results {
		if res.Source.DeviceID != sources[i].DeviceID {
			t.Fatalf("results[%d] is %s, order not preserved", i, res.Source.DeviceID)
		}
		wantIdle := 60 - i*10
		if res.IdleMinutes != wantIdle {
			t.Errorf("results[%d] idle = %d, want %d", i, res.IdleMinutes, wantIdle)
		}
	}
}

func TestRunOnceEmptySourceList(t *testing.T) {
	run := New(&fakeQuerier{}, logr.Discard()).RunOnce(context.Background(), nil, testClock(t))
	if len(run.Results) != 0 {
		t.Errorf("got %d results, want 0", len(run.Results))
	}
	if run.Duration < 0 || run.Duration > time.Minute {
		t.Errorf("implausible duration %v", run.Duration)
	}
}
