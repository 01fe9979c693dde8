package query

import "testing"

func TestDecodeGlobalID_Simple(t *testing.T) {
	typename, id, err := DecodeGlobalID(EncodeGlobalID("Repo", "abc"))
	if err != nil {
		t.Fatal(err)
	}
	if typename != "Repo" || id != "abc" {
		t.Fatalf("got (%q, %q)", typename, id)
	}
}

func TestDecodeGlobalID_RawIDWithColons(t *testing.T) {
	typename, id, err := DecodeGlobalID("Session:/proj/dir:abc-123")
	if err != nil {
		t.Fatal(err)
	}
	if typename != "Session" || id != "/proj/dir:abc-123" {
		t.Fatalf("got (%q, %q)", typename, id)
	}
}

func TestDecodeGlobalID_RejectsMissingColon(t *testing.T) {
	if _, _, err := DecodeGlobalID("NoColonHere"); err != ErrInvalidGlobalID {
		t.Fatalf("expected ErrInvalidGlobalID, got %v", err)
	}
}

func TestDecodeGlobalID_RejectsEmptyParts(t *testing.T) {
	if _, _, err := DecodeGlobalID(":abc"); err != ErrInvalidGlobalID {
		t.Fatal("expected empty typename to be rejected")
	}
	if _, _, err := DecodeGlobalID("Repo:"); err != ErrInvalidGlobalID {
		t.Fatal("expected empty id to be rejected")
	}
}

func TestMessageCursor_RoundTrip(t *testing.T) {
	cursor := EncodeMessageCursor("2024-01-01T10:00:00Z", "m1")
	ts, id, err := DecodeMessageCursor(cursor)
	if err != nil {
		t.Fatal(err)
	}
	if ts != "2024-01-01T10:00:00Z" || id != "m1" {
		t.Fatalf("got (%q, %q)", ts, id)
	}
}

func TestMessageCursor_RejectsOldFormat(t *testing.T) {
	if _, _, err := DecodeMessageCursor("Message:m1"); err != ErrInvalidMessageCursor {
		t.Fatalf("expected old-format cursor rejected, got %v", err)
	}
}

func TestSessionCursor_RoundTrip(t *testing.T) {
	cursor := EncodeSessionCursor("sess1", "2024-01-01")
	sessionID, date, err := DecodeSessionCursor(cursor)
	if err != nil {
		t.Fatal(err)
	}
	if sessionID != "sess1" || date != "2024-01-01" {
		t.Fatalf("got (%q, %q)", sessionID, date)
	}
}
