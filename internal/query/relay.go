// Package query implements the relay-style global-ID scheme, cursor-based
// pagination, and scalar filter model behind the GraphQL-shaped query
// surface the daemon exposes.
package query

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidGlobalID is returned when a global ID has an empty typename or
// id component.
var ErrInvalidGlobalID = errors.New("query: invalid global id")

// EncodeGlobalID builds "<typename>:<rawID>".
func EncodeGlobalID(typename, rawID string) string {
	return typename + ":" + rawID
}

// DecodeGlobalID splits a global ID on its first colon only, so a raw id
// that itself contains colons (e.g. "Session:<projectDir>:<sessionId>")
// round-trips intact.
func DecodeGlobalID(id string) (typename, rawID string, err error) {
	idx := strings.Index(id, ":")
	if idx < 0 {
		return "", "", ErrInvalidGlobalID
	}
	typename, rawID = id[:idx], id[idx+1:]
	if typename == "" || rawID == "" {
		return "", "", ErrInvalidGlobalID
	}
	return typename, rawID, nil
}

// ErrInvalidMessageCursor is returned by DecodeMessageCursor for malformed
// or legacy-format cursors.
var ErrInvalidMessageCursor = errors.New("query: invalid message cursor")

const messageCursorPrefix = "MC:"

// EncodeMessageCursor builds "MC:<timestamp>|<id>". Both components are
// immutable once written, so the cursor survives re-indexing.
func EncodeMessageCursor(timestamp, id string) string {
	return messageCursorPrefix + timestamp + "|" + id
}

// DecodeMessageCursor splits a message cursor into its timestamp and id.
// Old-format "Message:…" cursors (from a prior cursor scheme) are rejected.
func DecodeMessageCursor(cursor string) (timestamp, id string, err error) {
	if !strings.HasPrefix(cursor, messageCursorPrefix) {
		return "", "", ErrInvalidMessageCursor
	}
	rest := strings.TrimPrefix(cursor, messageCursorPrefix)
	idx := strings.Index(rest, "|")
	if idx < 0 {
		return "", "", ErrInvalidMessageCursor
	}
	timestamp, id = rest[:idx], rest[idx+1:]
	if timestamp == "" || id == "" {
		return "", "", ErrInvalidMessageCursor
	}
	return timestamp, id, nil
}

// EncodeSessionCursor base64-encodes "<sessionID>:<date>".
func EncodeSessionCursor(sessionID, date string) string {
	return base64.StdEncoding.EncodeToString([]byte(sessionID + ":" + date))
}

// DecodeSessionCursor reverses EncodeSessionCursor.
func DecodeSessionCursor(cursor string) (sessionID, date string, err error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", ErrInvalidMessageCursor
	}
	idx := strings.LastIndex(string(raw), ":")
	if idx < 0 {
		return "", "", ErrInvalidMessageCursor
	}
	sessionID, date = string(raw[:idx]), string(raw[idx+1:])
	if sessionID == "" || date == "" {
		return "", "", ErrInvalidMessageCursor
	}
	return sessionID, date, nil
}
