// Copyright (c) 2025 HostPulse authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"hostpulse/internal/broadcast"
	"hostpulse/internal/sampler"
	"hostpulse/internal/stats"
	"hostpulse/internal/telemetry"
	"hostpulse/internal/watcher"
)

func testDeps() Deps {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return Deps{Log: log, Metrics: telemetry.New(), WriteTimeout: time.Second}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestStreamHandlerPushesSnapshots(t *testing.T) {
	topic := broadcast.NewTopic[stats.CPUSnapshot]("cpu")
	deps := testDeps()
	srv := httptest.NewServer(StreamHandler(topic, deps))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	waitFor(t, "subscription", func() bool { return topic.Subscribers() == 1 })

	for _, snap := range []stats.CPUSnapshot{{12.0, 45.5}, {13.0, 46.0}} {
		topic.Publish(snap)
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if mt != websocket.TextMessage {
			t.Fatalf("message type = %d", mt)
		}
		var got stats.CPUSnapshot
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0] != snap[0] || got[1] != snap[1] {
			t.Fatalf("got %v, want %v", got, snap)
		}
	}
	if got := testutil.ToFloat64(deps.Metrics.Subscribers.WithLabelValues("cpu")); got != 1 {
		t.Fatalf("subscriber gauge = %v", got)
	}
}

func TestStreamHandlerReleasesSubscriptionOnDisconnect(t *testing.T) {
	topic := broadcast.NewTopic[stats.MemorySnapshot]("memory")
	deps := testDeps()
	srv := httptest.NewServer(StreamHandler(topic, deps))
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	defer b.Close()
	waitFor(t, "two subscriptions", func() bool { return topic.Subscribers() == 2 })

	a.Close()
	waitFor(t, "release", func() bool { return topic.Subscribers() == 1 })

	// the remaining client is unaffected
	topic.Publish(stats.NewMemorySnapshot(16_000_000_000, 8_000_000_000, 0, 0, 0))
	_ = b.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := b.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got stats.MemorySnapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.UsedComputed != 8_000_000_000 {
		t.Fatalf("used computed = %d", got.UsedComputed)
	}
	waitFor(t, "gauge", func() bool {
		return testutil.ToFloat64(deps.Metrics.Subscribers.WithLabelValues("memory")) == 1
	})
}

func TestStreamHandlerClosesOnTopicClose(t *testing.T) {
	topic := broadcast.NewTopic[stats.CPUSnapshot]("cpu")
	srv := httptest.NewServer(StreamHandler(topic, testDeps()))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	waitFor(t, "subscription", func() bool { return topic.Subscribers() == 1 })

	topic.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseGoingAway {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestStreamHandlerRejectsPlainRequest(t *testing.T) {
	topic := broadcast.NewTopic[stats.CPUSnapshot]("cpu")
	deps := testDeps()
	srv := httptest.NewServer(StreamHandler(topic, deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if topic.Subscribers() != 0 {
		t.Fatal("failed upgrade created a subscription")
	}
	if got := testutil.ToFloat64(deps.Metrics.UpgradeErrors); got != 1 {
		t.Fatalf("upgrade errors = %v", got)
	}
}

func TestLatestHandler(t *testing.T) {
	topic := broadcast.NewTopic[stats.CPUSnapshot]("cpu")
	h := LatestHandler(topic)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/cpus", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("before first sample: status = %d", rec.Code)
	}

	topic.Publish(stats.CPUSnapshot{12.0, 45.5})
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/cpus", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[12,45.5]" {
		t.Fatalf("body = %s", body)
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/api/cpus", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	topics := sampler.NewTopics()
	sub := topics.CPU.Subscribe()
	defer sub.Close()

	rec := httptest.NewRecorder()
	HealthHandler(topics)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got healthResp
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "ok" || got.Version != BackendVersion {
		t.Fatalf("got %+v", got)
	}
	if got.Subscribers["cpu"] != 1 || got.Subscribers["memory"] != 0 {
		t.Fatalf("subscribers = %v", got.Subscribers)
	}
	if got.Platform == "" {
		t.Fatal("platform should never be empty")
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	if !strings.Contains(rec.Body.String(), BackendVersion) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestAssetHandler(t *testing.T) {
	fsys := fstest.MapFS{
		"index.html": {Data: []byte("<html></html>")},
		"index.mjs":  {Data: []byte("export {}")},
		"index.css":  {Data: []byte("body{}")},
		"logo":       {Data: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")},
	}
	h := AssetHandler(fsys)

	cases := []struct {
		path   string
		status int
		ctype  string
	}{
		{"/", http.StatusOK, "text/html; charset=utf-8"},
		{"/index.mjs", http.StatusOK, "application/javascript;charset=utf-8"},
		{"/index.css", http.StatusOK, "text/css;charset=utf-8"},
		{"/logo", http.StatusOK, "image/png"},
		{"/missing.js", http.StatusNotFound, ""},
		{"/../etc/passwd", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.status {
			t.Errorf("%s: status %d", tc.path, rec.Code)
			continue
		}
		if tc.ctype != "" && rec.Header().Get("Content-Type") != tc.ctype {
			t.Errorf("%s: content type %q", tc.path, rec.Header().Get("Content-Type"))
		}
	}
}

func TestEventsHandler(t *testing.T) {
	topic := broadcast.NewTopic[watcher.Event]("assets")
	srv := httptest.NewServer(EventsHandler(topic, testDeps().Log))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %s", ct)
	}
	waitFor(t, "sse subscription", func() bool { return topic.Subscribers() == 1 })

	topic.Publish(watcher.Event{Type: watcher.EventAssetChange, Path: "/index.css"})

	lines := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "data: ") {
				lines <- sc.Text()
				return
			}
		}
	}()
	select {
	case line := <-lines:
		if !strings.Contains(line, `"path":"/index.css"`) {
			t.Fatalf("line = %s", line)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
}

func TestConnStateString(t *testing.T) {
	if stateConnecting.String() != "connecting" || stateStreaming.String() != "streaming" || stateClosed.String() != "closed" {
		t.Fatal("unexpected state names")
	}
}
