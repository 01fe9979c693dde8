package hooks

import (
	"context"
	"testing"
	"time"
)

func TestExecute_PromptOnlySkipped(t *testing.T) {
	result := Execute(context.Background(), HookSpec{Type: "prompt", Prompt: "are you sure?"}, "p", "PreToolUse", "", nil, nil)
	if result.ExitCode != 0 {
		t.Fatalf("expected exit 0 for prompt-only hook, got %d", result.ExitCode)
	}
}

func TestExecute_SuccessfulCommand(t *testing.T) {
	events := make(chan StreamEvent, 16)
	result := Execute(context.Background(), HookSpec{Type: "command", Command: "echo hello"}, "p", "PreToolUse", "", nil, events)
	if result.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", result.ExitCode)
	}

	var sawStdout, sawComplete bool
	close(events)
	for ev := range events {
		if ev.Type == StreamStdout && ev.Line == "hello" {
			sawStdout = true
		}
		if ev.Type == StreamComplete {
			sawComplete = true
		}
	}
	if !sawStdout || !sawComplete {
		t.Fatalf("expected stdout+complete events, got stdout=%v complete=%v", sawStdout, sawComplete)
	}
}

func TestExecute_NonZeroExit(t *testing.T) {
	result := Execute(context.Background(), HookSpec{Type: "command", Command: "exit 3"}, "p", "PreToolUse", "", nil, nil)
	if result.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", result.ExitCode)
	}
}

func TestExecute_TimeoutReportsNegativeOne(t *testing.T) {
	result := Execute(context.Background(), HookSpec{Type: "command", Command: "sleep 5", Timeout: 1}, "p", "PreToolUse", "", nil, nil)
	if result.ExitCode != -1 {
		t.Fatalf("expected exit -1 on timeout, got %d", result.ExitCode)
	}
}

func TestCachedResult_ReportsZeroDurationAndCached(t *testing.T) {
	events := make(chan StreamEvent, 4)
	result := CachedResult("p", "PreToolUse", events)
	if result.ExitCode != 0 || result.DurationMS != 0 || !result.Cached {
		t.Fatalf("unexpected cached result: %+v", result)
	}
	select {
	case ev := <-events:
		if ev.Type != StreamComplete || !ev.Cached {
			t.Fatalf("expected cached Complete event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected immediate Complete event")
	}
}
