package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

const reconnectBackoff = 5 * time.Second

// notifyPayload mirrors the JSON a trigger function sends on the
// notification channel, per spec.md §4.8.
type notifyPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Table     string `json:"table,omitempty"`
	ID        string `json:"id,omitempty"`
}

// ListenPostgres runs a reconnecting LISTEN loop against channel on conn,
// translating each notification into a bus Event via the fixed mapping
// table from spec.md §4.8. It blocks until ctx is canceled.
func ListenPostgres(ctx context.Context, connString, channel string, b *Bus) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := listenOnce(ctx, connString, channel, b); err != nil {
			log.Warn().Err(err).Msg("bus: postgres listener disconnected, retrying")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func listenOnce(ctx context.Context, connString, channel string, b *Bus) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "LISTEN \""+channel+"\""); err != nil {
		return err
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var payload notifyPayload
		if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil {
			log.Warn().Err(err).Str("payload", n.Payload).Msg("bus: unparseable notify payload")
			continue
		}
		if ev, ok := translate(payload); ok {
			b.Publish(ev)
		}
	}
}

func translate(p notifyPayload) (Event, bool) {
	switch p.Type {
	case "session_synced":
		return Event{Type: SessionUpdated, SessionID: p.SessionID}, true
	case "session_added":
		return Event{Type: SessionAdded, SessionID: p.SessionID, Parent: nil}, true
	case "message_added":
		return Event{Type: SessionMessageAdded, SessionID: p.SessionID, MessageIndex: 0}, true
	case "node_updated":
		return Event{Type: NodeUpdated, NodeID: p.ID, NodeTypename: p.Table}, true
	default:
		return Event{}, false
	}
}
