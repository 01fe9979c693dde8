package hooks

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const sampleManifest = `{
  "hooks": {
    "PreToolUse": [
      {"matcher": "Write|Edit", "hooks": [{"type": "command", "command": "echo lint"}]}
    ],
    "PostToolUse": [
      {"hooks": [{"type": "command", "command": "echo done"}]}
    ]
  }
}`

func TestDiscover_FindsHooksJSONFirst(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "hooks/hooks.json", sampleManifest)

	plugins := Discover([]string{root})
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}
	if len(plugins[0].Manifest.Hooks["PreToolUse"]) != 1 {
		t.Fatal("expected PreToolUse matcher to be parsed")
	}
}

func TestDiscover_FallsBackToPluginHooksJSON(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, ".claude-plugin/hooks.json", sampleManifest)

	plugins := Discover([]string{root})
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}
}

func TestDiscover_SkipsUnparseableManifest(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "hooks/hooks.json", "{not valid json")

	plugins := Discover([]string{root})
	if len(plugins) != 0 {
		t.Fatalf("expected unparseable manifest to be skipped, got %d plugins", len(plugins))
	}
}

func TestDiscover_NoManifestFound(t *testing.T) {
	root := t.TempDir()
	plugins := Discover([]string{root})
	if len(plugins) != 0 {
		t.Fatalf("expected 0 plugins, got %d", len(plugins))
	}
}

func TestMatches_NoMatcherMatchesAnything(t *testing.T) {
	if !Matches(Matcher{}, "AnyTool") {
		t.Fatal("expected empty matcher to match")
	}
	if !Matches(Matcher{}, "") {
		t.Fatal("expected empty matcher to match empty tool name")
	}
}

func TestMatches_PipeSplitMatcher(t *testing.T) {
	m := Matcher{Matcher: "Write | Edit"}
	if !Matches(m, "Write") || !Matches(m, "Edit") {
		t.Fatal("expected pipe-split pieces to match, trimmed")
	}
	if Matches(m, "Bash") {
		t.Fatal("expected non-listed tool to not match")
	}
}

func TestMatches_MatcherPresentToolAbsentNeverMatches(t *testing.T) {
	m := Matcher{Matcher: "Write"}
	if Matches(m, "") {
		t.Fatal("expected matcher-present + tool-absent to never match")
	}
}

func TestMatchedHooks_ReturnsAllMatchingAcrossPlugins(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "hooks/hooks.json", sampleManifest)
	plugins := Discover([]string{root})

	matches := MatchedHooks(plugins, "PreToolUse", "Write")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}

	matches = MatchedHooks(plugins, "PostToolUse", "")
	if len(matches) != 1 {
		t.Fatalf("expected 1 unconditional PostToolUse match, got %d", len(matches))
	}
}
