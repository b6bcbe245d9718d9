package feed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/enso-notes/enso/internal/event"
	"github.com/enso-notes/enso/internal/thought"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil, nil)
	hub.Start()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return hub, srv
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcastsThoughtUpdates(t *testing.T) {
	hub, srv := newTestHub(t)

	a := dial(t, srv)
	b := dial(t, srv)
	if msg := readMessage(t, a); msg.Type != MessageTypeHello {
		t.Fatalf("first message type = %q, want hello", msg.Type)
	}
	readMessage(t, b)
	waitForClients(t, hub, 2)

	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hub.Publish(event.Event{
		Kind:      event.Created,
		ThoughtID: "th_1",
		Thought:   &thought.Thought{ID: "th_1", Title: "First", UpdatedAt: updated},
		At:        updated,
	})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		if msg.Type != MessageTypeThoughtUpdate {
			t.Fatalf("type = %q, want thought_update", msg.Type)
		}
		var data ThoughtUpdateData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			t.Fatal(err)
		}
		if data.ThoughtID != "th_1" || data.Action != event.Created || data.Title != "First" {
			t.Errorf("unexpected payload %+v", data)
		}
		if data.UpdatedAt == nil || !data.UpdatedAt.Equal(updated) {
			t.Errorf("updated_at = %v, want %v", data.UpdatedAt, updated)
		}
	}
}

func TestHubSyncComplete(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)
	readMessage(t, conn)
	waitForClients(t, hub, 1)

	hub.Publish(event.Event{Kind: event.Synced, ClientID: "laptop", Applied: 2, Returned: 5, Duration: 1500 * time.Microsecond})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("type = %q, want sync_complete", msg.Type)
	}
	var data SyncCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatal(err)
	}
	want := SyncCompleteData{ClientID: "laptop", Applied: 2, Returned: 5, DurationMS: 1.5}
	if data != want {
		t.Errorf("payload = %+v, want %+v", data, want)
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
}

func TestHubRemovesDisconnectedClients(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)
	readMessage(t, conn)
	waitForClients(t, hub, 1)

	if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitForClients(t, hub, 0)
}

func TestBroadcastAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, nil)
	hub.Start()
	hub.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < bufferSize*2; i++ {
			hub.Broadcast(Message{Type: MessageTypeSyncComplete})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked after Stop")
	}
}
