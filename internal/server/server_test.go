package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vaultmcp/vaultd/internal/gitx"
)

func startServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	})
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad message %q: %v", data, err)
	}
	return msg
}

func TestWebSocketHelloOnConnect(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeHello {
		t.Errorf("first message type = %s, want %s", msg.Type, MessageTypeHello)
	}
}

func TestBroadcastNoteChange(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)
	readMessage(t, conn) // hello

	s.BroadcastNoteChange([]string{"daily/today.md"})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeNoteChange {
		t.Fatalf("type = %s, want %s", msg.Type, MessageTypeNoteChange)
	}

	var data NoteChangeData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("bad data: %v", err)
	}
	if len(data.Paths) != 1 || data.Paths[0] != "daily/today.md" {
		t.Errorf("paths = %v", data.Paths)
	}
}

func TestBroadcastSyncOutcome(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)
	readMessage(t, conn) // hello

	s.BroadcastSyncOutcome(gitx.Outcome{Success: true, Action: gitx.ActionSync, ChangesPushed: true})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSyncOutcome {
		t.Fatalf("type = %s, want %s", msg.Type, MessageTypeSyncOutcome)
	}

	var outcome gitx.Outcome
	if err := json.Unmarshal(msg.Data, &outcome); err != nil {
		t.Fatalf("bad data: %v", err)
	}
	if !outcome.Success || !outcome.ChangesPushed {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	s := startServer(t)

	a := dial(t, s)
	b := dial(t, s)
	readMessage(t, a)
	readMessage(t, b)

	s.BroadcastNoteChange([]string{"shared.md"})

	if msg := readMessage(t, a); msg.Type != MessageTypeNoteChange {
		t.Errorf("client a got %s", msg.Type)
	}
	if msg := readMessage(t, b); msg.Type != MessageTypeNoteChange {
		t.Errorf("client b got %s", msg.Type)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)
	readMessage(t, conn)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %v", health["status"])
	}
	if health["clients"] != float64(1) {
		t.Errorf("clients = %v", health["clients"])
	}
}
