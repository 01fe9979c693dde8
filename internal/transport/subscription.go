package transport

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// frame is the envelope for every message on the push channel, modeled on
// a connection_init/subscribe/next/complete handshake. The transport is
// subprotocol-agnostic to browser vs. daemon clients — it only speaks this
// JSON frame shape.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrader upgrades an HTTP connection to the push subprotocol.
type Upgrader struct {
	exec Executor
}

// NewUpgrader builds an Upgrader backed by exec for answering subscribed
// queries (treated here as one-shot "next" sends; a streaming resolver can
// push further "next" frames for the same id as new data arrives).
func NewUpgrader(exec Executor) *Upgrader {
	return &Upgrader{exec: exec}
}

// Handle is the http.HandlerFunc for the subscription endpoint.
func (u *Upgrader) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("transport: websocket upgrade failed")
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeFrame := func(f frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(f)
	}

	active := make(map[string]chan struct{})
	var activeMu sync.Mutex

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			break
		}

		switch f.Type {
		case "connection_init":
			_ = writeFrame(frame{Type: "connection_ack"})

		case "subscribe", "start":
			var payload subscribePayload
			if err := json.Unmarshal(f.Payload, &payload); err != nil {
				_ = writeFrame(frame{Type: "error", ID: f.ID})
				continue
			}

			stop := make(chan struct{})
			activeMu.Lock()
			active[f.ID] = stop
			activeMu.Unlock()

			resp := u.exec(payload.Query, payload.Variables)
			data, _ := json.Marshal(resp)
			_ = writeFrame(frame{Type: "next", ID: f.ID, Payload: data})
			_ = writeFrame(frame{Type: "complete", ID: f.ID})

			activeMu.Lock()
			delete(active, f.ID)
			activeMu.Unlock()

		case "complete":
			activeMu.Lock()
			if stop, ok := active[f.ID]; ok {
				close(stop)
				delete(active, f.ID)
			}
			activeMu.Unlock()

		case "ping":
			_ = writeFrame(frame{Type: "pong"})
		}
	}

	activeMu.Lock()
	for _, stop := range active {
		close(stop)
	}
	activeMu.Unlock()
}
