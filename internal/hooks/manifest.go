// Package hooks discovers per-plugin hook manifests, matches them against
// tool-use events, and runs matched commands as tracked child processes
// with validation-cache short-circuiting.
package hooks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// manifestNames are tried in order; the first that exists wins.
var manifestNames = []string{
	filepath.Join("hooks", "hooks.json"),
	filepath.Join(".claude-plugin", "hooks.json"),
	"hooks.json",
}

// HookSpec is one entry under manifest.hooks[event][].hooks[].
type HookSpec struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	Timeout int    `json:"timeout,omitempty"` // seconds, 0 means DefaultTimeout
}

// Matcher is one manifest.hooks[event][] entry.
type Matcher struct {
	Matcher string     `json:"matcher,omitempty"`
	Hooks   []HookSpec `json:"hooks"`
}

// Manifest is the parsed shape of a plugin's hooks.json.
type Manifest struct {
	Hooks map[string][]Matcher `json:"hooks"`
}

// Plugin is a discovered manifest together with the plugin root it was
// read from, used to name cache keys and working directories.
type Plugin struct {
	Name     string
	Root     string
	Manifest Manifest
}

// Discover attempts each manifestNames candidate under root, in order,
// returning the first manifest found. Parse errors are logged and treated
// as "no manifest" rather than aborting discovery of other plugins.
func Discover(pluginRoots []string) []Plugin {
	var plugins []Plugin
	for _, root := range pluginRoots {
		for _, candidate := range manifestNames {
			path := filepath.Join(root, candidate)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			var m Manifest
			if err := json.Unmarshal(data, &m); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("hooks: skipping plugin with unparseable manifest")
				break
			}
			plugins = append(plugins, Plugin{Name: filepath.Base(root), Root: root, Manifest: m})
			break
		}
	}
	return plugins
}

// Matches reports whether a matcher entry fires for (event, toolName).
// A matcher-present entry with an absent tool name never matches; an
// absent matcher matches any tool name (or none).
func Matches(m Matcher, toolName string) bool {
	if m.Matcher == "" {
		return true
	}
	if toolName == "" {
		return false
	}
	for _, piece := range strings.Split(m.Matcher, "|") {
		if strings.TrimSpace(piece) == toolName {
			return true
		}
	}
	return false
}

// MatchedHooks returns every HookSpec across all discovered plugins whose
// matcher fires for (event, toolName), paired with the owning plugin.
func MatchedHooks(plugins []Plugin, event, toolName string) []struct {
	Plugin Plugin
	Spec   HookSpec
} {
	var out []struct {
		Plugin Plugin
		Spec   HookSpec
	}
	for _, p := range plugins {
		for _, matcher := range p.Manifest.Hooks[event] {
			if !Matches(matcher, toolName) {
				continue
			}
			for _, spec := range matcher.Hooks {
				out = append(out, struct {
					Plugin Plugin
					Spec   HookSpec
				}{Plugin: p, Spec: spec})
			}
		}
	}
	return out
}
