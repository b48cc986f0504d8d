package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"hostpulse/internal/sampler"
	"hostpulse/internal/stats"
	"hostpulse/internal/telemetry"
)

func startServer(t *testing.T) (*Server, *sampler.Topics, int) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	topics := sampler.NewTopics()
	assets := fstest.MapFS{"index.html": {Data: []byte("<html>dash</html>")}}

	s := New("127.0.0.1:0", assets, topics, telemetry.New(), nil, log)
	s.Routes()
	port, err := s.Start()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, topics, port
}

func get(t *testing.T, port int, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRoutes(t *testing.T) {
	_, topics, port := startServer(t)

	if code, _ := get(t, port, "/health"); code != http.StatusOK {
		t.Fatalf("/health = %d", code)
	}
	if code, _ := get(t, port, "/api/cpus"); code != http.StatusServiceUnavailable {
		t.Fatalf("/api/cpus before sample = %d", code)
	}
	topics.Memory.Publish(stats.NewMemorySnapshot(16_000_000_000, 8_000_000_000, 0, 0, 0))
	if code, body := get(t, port, "/api/memory"); code != http.StatusOK {
		t.Fatalf("/api/memory = %d %s", code, body)
	}
	if code, body := get(t, port, "/"); code != http.StatusOK || body != "<html>dash</html>" {
		t.Fatalf("/ = %d %q", code, body)
	}
	if code, _ := get(t, port, "/metrics"); code != http.StatusOK {
		t.Fatalf("/metrics = %d", code)
	}
	if code, _ := get(t, port, "/api/events"); code != http.StatusNotFound {
		t.Fatalf("/api/events without static dir = %d", code)
	}
}

func TestShutdownEndsStreams(t *testing.T) {
	s, topics, port := startServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/realtime/cpus", port), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for topics.CPU.Subscribers() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestStartBindFailure(t *testing.T) {
	_, _, port := startServer(t)

	log := logrus.New()
	log.SetOutput(io.Discard)
	other := New(fmt.Sprintf("127.0.0.1:%d", port), fstest.MapFS{}, sampler.NewTopics(), telemetry.New(), nil, log)
	other.Routes()
	if _, err := other.Start(); err == nil {
		t.Fatal("expected bind failure on a port in use")
	}
}
