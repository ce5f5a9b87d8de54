/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/esmhealth/internal/registry"
	"github.com/marcus-qen/esmhealth/internal/signing"
	"github.com/marcus-qen/esmhealth/internal/staleness"
)

func TestFromResultSeverityMapping(t *testing.T) {
	src := registry.Source{DisplayName: "recv-east", Kind: registry.KindEvents}
	cases := []struct {
		status   staleness.Status
		severity string
	}{
		{staleness.StatusAlert, "critical"},
		{staleness.StatusUnknown, "warning"},
		{staleness.StatusOK, "info"},
	}

	for _, tc := range cases {
		msg := FromResult("run-1", staleness.Result{Source: src, Status: tc.status, Message: "detail"})
		if msg.Severity != tc.severity {
			t.Errorf("status %s severity = %q, want %q", tc.status, msg.Severity, tc.severity)
		}
		if msg.Source != "recv-east" || msg.RunID != "run-1" {
			t.Errorf("message fields lost: %+v", msg)
		}
	}
}

func TestSlackChannelSend(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL, "#soc-alerts")
	err := ch.Send(context.Background(), Message{
		Source:   "recv-east",
		Severity: "critical",
		Title:    "recv-east latest activity outside of threshold",
		Body:     "Device: recv-east has not seen events for 95 minutes.",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if received["channel"] != "#soc-alerts" {
		t.Errorf("channel = %v, want #soc-alerts", received["channel"])
	}
	text, _ := received["text"].(string)
	if !strings.Contains(text, "recv-east") || !strings.Contains(text, "CRITICAL") {
		t.Errorf("slack text = %q", text)
	}
}

func TestSlackChannelErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer server.Close()

	if err := NewSlackChannel(server.URL, "").Send(context.Background(), Message{}); err == nil {
		t.Fatal("400 response not surfaced")
	}
}

func TestWebhookChannelSignsPayload(t *testing.T) {
	signer := signing.NewSigner([]byte("webhook-secret"))

	var received map[string]interface{}
	var signature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get("X-Esmhealth-Signature")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, map[string]string{"Authorization": "Bearer tok"}, signer)
	msg := Message{
		RunID:     "run-9",
		Source:    "recv-east",
		Status:    staleness.StatusAlert,
		Severity:  "critical",
		Title:     "stale",
		Body:      "details",
		Timestamp: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := ch.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if signature == "" {
		t.Fatal("signature header missing")
	}
	// The receiver re-canonicalizes the decoded payload and verifies.
	if err := signer.Verify("run-9", received, signature); err != nil {
		t.Errorf("signature did not verify: %v", err)
	}
	if received["status"] != "ALERT" || received["source"] != "recv-east" {
		t.Errorf("payload = %v", received)
	}
}

func TestWebhookChannelUnsigned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Esmhealth-Signature") != "" {
			t.Error("unsigned channel sent a signature")
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	if err := NewWebhookChannel(server.URL, nil, nil).Send(context.Background(), Message{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

type recordingChannel struct {
	name string
	sent []Message
}

func (c *recordingChannel) Send(_ context.Context, msg Message) error {
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingChannel) Type() string { return c.name }

func TestRouterSeverityCascade(t *testing.T) {
	info := &recordingChannel{name: "info"}
	warning := &recordingChannel{name: "warning"}
	critical := &recordingChannel{name: "critical"}

	router := NewRouter(SeverityRoute{
		Info:     []Channel{info},
		Warning:  []Channel{warning},
		Critical: []Channel{critical},
	}, nil, logr.Discard())

	router.Notify(context.Background(), Message{Source: "a", Severity: "critical"})
	if len(critical.sent) != 1 || len(warning.sent) != 1 || len(info.sent) != 1 {
		t.Errorf("critical cascade = %d/%d/%d, want 1/1/1", len(critical.sent), len(warning.sent), len(info.sent))
	}

	router.Notify(context.Background(), Message{Source: "b", Severity: "warning"})
	if len(critical.sent) != 1 || len(warning.sent) != 2 || len(info.sent) != 2 {
		t.Errorf("warning cascade wrong: %d/%d/%d", len(critical.sent), len(warning.sent), len(info.sent))
	}

	router.Notify(context.Background(), Message{Source: "c", Severity: "info"})
	if len(info.sent) != 3 || len(warning.sent) != 2 {
		t.Errorf("info routed wrong: info=%d warning=%d", len(info.sent), len(warning.sent))
	}
}

func TestRouterRateLimit(t *testing.T) {
	ch := &recordingChannel{name: "critical"}
	router := NewRouter(SeverityRoute{Critical: []Channel{ch}}, NewRateLimiter(2), logr.Discard())

	for i := 0; i < 5; i++ {
		router.Notify(context.Background(), Message{Source: "recv-east", Severity: "critical"})
	}
	if len(ch.sent) != 2 {
		t.Errorf("sent %d notifications, want 2 (rate-limited)", len(ch.sent))
	}

	// A different source has its own budget.
	router.Notify(context.Background(), Message{Source: "recv-west", Severity: "critical"})
	if len(ch.sent) != 3 {
		t.Errorf("independent source limited: sent = %d, want 3", len(ch.sent))
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1)
	if !rl.Allow("x") {
		t.Fatal("first notification blocked")
	}
	if rl.Allow("x") {
		t.Fatal("second notification within the hour allowed")
	}
}
