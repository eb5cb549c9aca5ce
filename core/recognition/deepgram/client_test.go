package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func newListenServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade test connection: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitForEviction(t *testing.T, client *TranscriptionClient, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := client.stream(sessionID); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stream for session %s was never evicted", sessionID)
}

func TestEndReturnsAccumulatedTranscript(t *testing.T) {
	baseURL := newListenServer(t, func(conn *websocket.Conn) {
		for {
			msgType, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch msgType {
			case websocket.BinaryMessage:
				conn.WriteMessage(websocket.TextMessage, []byte(
					`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello there"}]}}`))
			case websocket.TextMessage:
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
			}
		}
	})

	client := NewTranscriptionClient(WithAPIKey("test-key"), WithBaseURL(baseURL))

	if err := client.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	if err := client.Append("sess-1", make([]byte, 320)); err != nil {
		t.Fatalf("expected append to succeed, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	transcript, err := client.End(ctx, "sess-1")
	if err != nil {
		t.Fatalf("expected end to succeed, got %v", err)
	}
	if transcript != "hello there" {
		t.Fatalf("expected transcript \"hello there\", got %q", transcript)
	}
}

func TestDeadStreamIsEvicted(t *testing.T) {
	baseURL := newListenServer(t, func(conn *websocket.Conn) {
		// Drop the connection right away, like a remote failure would.
	})

	client := NewTranscriptionClient(WithAPIKey("test-key"), WithBaseURL(baseURL))

	if err := client.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}

	waitForEviction(t, client, "sess-1")

	if err := client.Append("sess-1", []byte{0x01}); err == nil {
		t.Fatal("expected append to a dead session to fail")
	}
}

func TestAbortRemovesStream(t *testing.T) {
	baseURL := newListenServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client := NewTranscriptionClient(WithAPIKey("test-key"), WithBaseURL(baseURL))

	if err := client.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}

	client.Abort("sess-1")

	if _, ok := client.stream("sess-1"); ok {
		t.Fatal("expected the stream entry to be removed on abort")
	}
	if err := client.Append("sess-1", []byte{0x01}); err == nil {
		t.Fatal("expected append after abort to fail")
	}
}
