package wsclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"dcabot/pkg/logx"

	"github.com/gorilla/websocket"
)

func TestClientHeartbeat(t *testing.T) {
	var pings int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetPingHandler(func(string) error {
			atomic.AddInt32(&pings, 1)
			return conn.WriteControl(websocket.PongMessage, []byte{}, time.Now().Add(time.Second))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	logger, _ := logx.New("DEBUG")

	client := NewClient(url, func(message []byte) {}, logger, Backoff{Min: 10 * time.Millisecond, Max: 10 * time.Millisecond})
	client.SetPingConfig(100*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond)

	client.Start()
	defer client.Stop()

	time.Sleep(500 * time.Millisecond)

	if atomic.LoadInt32(&pings) < 2 {
		t.Errorf("expected at least 2 pings, got %d", atomic.LoadInt32(&pings))
	}
}

func TestClientReconnectOnTimeout(t *testing.T) {
	var connections int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&connections, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetPingHandler(func(string) error { return nil })

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	logger, _ := logx.New("DEBUG")

	client := NewClient(url, func(message []byte) {}, logger, Backoff{Min: 10 * time.Millisecond, Max: 10 * time.Millisecond})
	client.SetPingConfig(100*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond)

	client.Start()
	defer client.Stop()

	time.Sleep(600 * time.Millisecond)

	if atomic.LoadInt32(&connections) < 2 {
		t.Errorf("expected multiple connections due to reconnects, got %d", atomic.LoadInt32(&connections))
	}
}

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second}
	if got := b.next(0); got != 100*time.Millisecond {
		t.Errorf("attempt 0: expected 100ms, got %v", got)
	}
	if got := b.next(1); got != 200*time.Millisecond {
		t.Errorf("attempt 1: expected 200ms, got %v", got)
	}
	if got := b.next(10); got != time.Second {
		t.Errorf("attempt 10: expected capped at 1s, got %v", got)
	}
}
