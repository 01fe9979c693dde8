package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSubscriptionHandshake_InitAckSubscribeNext(t *testing.T) {
	upgrader := NewUpgrader(echoExecutor)
	ts := httptest.NewServer(http.HandlerFunc(upgrader.Handle))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(frame{Type: "connection_init"}); err != nil {
		t.Fatal(err)
	}
	var ack frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != "connection_ack" {
		t.Fatalf("expected connection_ack, got %q", ack.Type)
	}

	payload, _ := json.Marshal(subscribePayload{Query: "{ ping }"})
	if err := conn.WriteJSON(frame{Type: "subscribe", ID: "1", Payload: payload}); err != nil {
		t.Fatal(err)
	}

	var next frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatal(err)
	}
	if next.Type != "next" || next.ID != "1" {
		t.Fatalf("expected next frame for id=1, got %+v", next)
	}

	var complete frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&complete); err != nil {
		t.Fatal(err)
	}
	if complete.Type != "complete" || complete.ID != "1" {
		t.Fatalf("expected complete frame for id=1, got %+v", complete)
	}
}

func TestSubscriptionHandshake_PingPong(t *testing.T) {
	upgrader := NewUpgrader(echoExecutor)
	ts := httptest.NewServer(http.HandlerFunc(upgrader.Handle))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(frame{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	var pong frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatal(err)
	}
	if pong.Type != "pong" {
		t.Fatalf("expected pong, got %q", pong.Type)
	}
}
