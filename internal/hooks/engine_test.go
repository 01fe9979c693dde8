package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestEngine_Run_CacheSkipsSecondInvocation(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "hooks/hooks.json", `{
		"hooks": {"PreToolUse": [{"matcher": "Write", "hooks": [{"type": "command", "command": "echo ok"}]}]}
	}`)
	plugins := Discover([]string{root})

	watchedFile := filepath.Join(root, "watched.ts")
	os.WriteFile(watchedFile, []byte("x"), 0o644)

	engine := NewEngine()
	in := RunInput{Event: "PreToolUse", ToolName: "Write", Files: []string{watchedFile}}

	first := engine.Run(context.Background(), plugins, in, nil)
	if len(first) != 1 || first[0].Cached {
		t.Fatalf("expected first run to execute, got %+v", first)
	}

	second := engine.Run(context.Background(), plugins, in, nil)
	if len(second) != 1 || !second[0].Cached {
		t.Fatalf("expected second run to hit cache, got %+v", second)
	}
}

func TestEngine_Run_FileChangeInvalidatesCache(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "hooks/hooks.json", `{
		"hooks": {"PreToolUse": [{"hooks": [{"type": "command", "command": "echo ok"}]}]}
	}`)
	plugins := Discover([]string{root})

	watchedFile := filepath.Join(root, "watched.ts")
	os.WriteFile(watchedFile, []byte("x"), 0o644)

	engine := NewEngine()
	in := RunInput{Event: "PreToolUse", Files: []string{watchedFile}}

	engine.Run(context.Background(), plugins, in, nil)
	os.WriteFile(watchedFile, []byte("changed"), 0o644)

	second := engine.Run(context.Background(), plugins, in, nil)
	if second[0].Cached {
		t.Fatal("expected file change to invalidate the cache")
	}
}

func TestNewScheduler_InvalidSpecFails(t *testing.T) {
	engine := NewEngine()
	if _, err := NewScheduler(engine, "not a cron spec", func() map[CacheKey][]string { return nil }, nil); err == nil {
		t.Fatal("expected invalid cron spec to error")
	}
}
