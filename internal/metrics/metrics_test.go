/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func getGaugeVecValue(gv *prometheus.GaugeVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := gv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func getHistogramCount(h prometheus.Histogram) uint64 {
	m := &dto.Metric{}
	if err := h.Write(m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordCheck(t *testing.T) {
	before := getCounterValue(ChecksTotal, "recv-east", "ALERT")

	RecordCheck("recv-east", "ALERT", 95, true)

	if got := getCounterValue(ChecksTotal, "recv-east", "ALERT"); got != before+1 {
		t.Errorf("ChecksTotal = %v, want %v", got, before+1)
	}
	if got := getGaugeVecValue(IdleMinutes, "recv-east"); got != 95 {
		t.Errorf("IdleMinutes = %v, want 95", got)
	}
}

func TestRecordCheckUnknownSkipsIdleGauge(t *testing.T) {
	RecordCheck("recv-gone", "UNKNOWN", 0, false)
	RecordCheck("recv-gone", "OK", 7, true)

	if got := getGaugeVecValue(IdleMinutes, "recv-gone"); got != 7 {
		t.Errorf("IdleMinutes = %v, want 7 (unknown check must not touch the gauge)", got)
	}
}

func TestRecordCheckNegativeIdle(t *testing.T) {
	RecordCheck("recv-skew", "OK", -5, true)
	if got := getGaugeVecValue(IdleMinutes, "recv-skew"); got != -5 {
		t.Errorf("IdleMinutes = %v, want -5", got)
	}
}

func TestRecordQueryFailure(t *testing.T) {
	before := getCounterValue(QueryFailuresTotal, "recv-east")
	RecordQueryFailure("recv-east")
	if got := getCounterValue(QueryFailuresTotal, "recv-east"); got != before+1 {
		t.Errorf("QueryFailuresTotal = %v, want %v", got, before+1)
	}
}

func TestRecordRunComplete(t *testing.T) {
	before := getHistogramCount(RunDurationSeconds)

	RecordRunComplete(3 * time.Second)

	if got := getHistogramCount(RunDurationSeconds); got != before+1 {
		t.Errorf("RunDurationSeconds count = %d, want %d", got, before+1)
	}
	if ts := getGaugeValue(LastRunTimestamp); ts <= 0 {
		t.Errorf("LastRunTimestamp = %v, want positive unix time", ts)
	}
}
