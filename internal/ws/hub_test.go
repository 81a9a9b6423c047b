package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", want, hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_BroadcastAlert(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleAlerts))
	defer srv.Close()
	defer hub.Close()

	conn := dialTestHub(t, srv)
	defer conn.Close()
	waitForClients(t, hub, 1)

	z := 4.2
	sent := Alert{
		ID:        "test-alert-1",
		MeterCode: "SETOR-A-01",
		TS:        time.Date(2025, 11, 2, 16, 0, 0, 0, time.UTC),
		FlowLPM:   25.0,
		ZScore:    &z,
		Method:    "zscore",
	}
	hub.Broadcast(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read alert: %v", err)
	}

	var got Alert
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Failed to unmarshal alert: %v", err)
	}
	if got.ID != sent.ID || got.MeterCode != sent.MeterCode || got.FlowLPM != sent.FlowLPM {
		t.Errorf("Alert mismatch: got %+v", got)
	}
	if got.ZScore == nil || *got.ZScore != 4.2 {
		t.Errorf("Expected zscore 4.2, got %v", got.ZScore)
	}
	if got.RollingLow != nil {
		t.Errorf("Expected omitted bounds, got %v", got.RollingLow)
	}
}

func TestHub_MultipleClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleAlerts))
	defer srv.Close()
	defer hub.Close()

	c1 := dialTestHub(t, srv)
	defer c1.Close()
	c2 := dialTestHub(t, srv)
	defer c2.Close()
	waitForClients(t, hub, 2)

	hub.Broadcast(Alert{ID: "a1", MeterCode: "M", FlowLPM: 1, Method: "iqr"})

	for _, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Client failed to read: %v", err)
		}
		var got Alert
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Failed to unmarshal: %v", err)
		}
		if got.ID != "a1" {
			t.Errorf("Expected alert a1, got %q", got.ID)
		}
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleAlerts))
	defer srv.Close()
	defer hub.Close()

	conn := dialTestHub(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// Broadcast into an empty hub must not panic
	hub.Broadcast(Alert{ID: "a2", MeterCode: "M", FlowLPM: 1, Method: "zscore"})
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleAlerts))
	defer srv.Close()

	conn := dialTestHub(t, srv)
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.Close()
	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients after close, got %d", hub.ClientCount())
	}
}
