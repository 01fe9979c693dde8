package watcher

import (
	"testing"

	"github.com/fsnotify/fsnotify"
)

func TestExtractSessionID_PlainUUID(t *testing.T) {
	got := ExtractSessionID("/home/user/.claude/projects/test/abc12345-1234-5678-9abc-def012345678.jsonl")
	want := "abc12345-1234-5678-9abc-def012345678"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractSessionID_MessagesSuffix(t *testing.T) {
	got := ExtractSessionID("/home/user/.claude/projects/test/abc12345-1234-5678-9abc-def012345678_messages.jsonl")
	want := "abc12345-1234-5678-9abc-def012345678"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractSessionID_TooShort(t *testing.T) {
	if got := ExtractSessionID("/home/user/.claude/projects/test/short.jsonl"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestExtractSessionID_NonHexRejected(t *testing.T) {
	if got := ExtractSessionID("/home/user/.claude/projects/test/not-a-valid-session-id-zzzzzzzzzzzz.jsonl"); got != "" {
		t.Fatalf("expected empty for non-hex chars, got %q", got)
	}
}

func TestExtractProjectSlug_Found(t *testing.T) {
	got := ExtractProjectSlug("/home/user/.claude/projects/Volumes-dev-src-myproject/session.jsonl")
	want := "Volumes-dev-src-myproject"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractProjectSlug_NoProjectsDir(t *testing.T) {
	if got := ExtractProjectSlug("/home/user/random/session.jsonl"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestConvertEvent_IgnoresNonJSONL(t *testing.T) {
	ev := fsnotify.Event{Name: "/home/user/.claude/projects/test/notes.txt", Op: fsnotify.Write}
	if _, ok := convertEvent(ev); ok {
		t.Fatal("expected non-jsonl event to be ignored")
	}
}

func TestConvertEvent_WriteOnJSONL(t *testing.T) {
	ev := fsnotify.Event{
		Name: "/home/user/.claude/projects/test/abc12345-1234-5678-9abc-def012345678.jsonl",
		Op:   fsnotify.Write,
	}
	fe, ok := convertEvent(ev)
	if !ok {
		t.Fatal("expected jsonl write event to convert")
	}
	if fe.Type != EventModified {
		t.Fatalf("got type %v, want %v", fe.Type, EventModified)
	}
	if fe.SessionID == "" {
		t.Fatal("expected session id to be extracted")
	}
}
