// Package watcher monitors Claude Code project directories for JSONL
// transcript changes using fsnotify, debouncing rapid writes into a single
// event per file the way a text editor's autosave would otherwise flood a
// naive watcher.
package watcher

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	homedir "github.com/mitchellh/go-homedir"
)

// ErrNoHomeDir is returned by New when no watch path is given and the home
// directory cannot be resolved.
var ErrNoHomeDir = errors.New("watcher: home directory not found")

// EventType enumerates FileEvent.Type.
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventRemoved  EventType = "removed"
)

// FileEvent is a single debounced filesystem change.
type FileEvent struct {
	Type        EventType
	Path        string
	SessionID   string // "" if the filename doesn't look like a session id
	ProjectSlug string // "" if the path has no "projects/<slug>/" component
}

var sessionIDPattern = regexp.MustCompile(`^[0-9a-fA-F-]+$`)

// ExtractSessionID pulls the session id out of a JSONL filename of the form
// "{id}.jsonl" or "{id}_messages.jsonl". Returns "" if the stem is shorter
// than 32 characters or contains non-hex/non-hyphen characters.
func ExtractSessionID(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.TrimSuffix(stem, "_messages")
	if len(stem) < 32 || !sessionIDPattern.MatchString(stem) {
		return ""
	}
	return stem
}

// ExtractProjectSlug returns the path component immediately following a
// "projects" component, or "" if there is none.
func ExtractProjectSlug(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, p := range parts {
		if p == "projects" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

const debounceWindow = 100 * time.Millisecond
const idleTick = time.Second

// Watcher owns an fsnotify watcher and emits debounced FileEvents on Events.
type Watcher struct {
	fsw    *fsnotify.Watcher
	Events chan FileEvent

	mu      sync.Mutex
	watched map[string]string // config dir -> watched projects path
	stop    chan struct{}
	once    sync.Once
}

// New creates a Watcher. If watchPath is empty, it defaults to
// "~/.claude/projects".
func New(watchPath string) (*Watcher, error) {
	if watchPath == "" {
		home, err := homedir.Dir()
		if err != nil || home == "" {
			return nil, ErrNoHomeDir
		}
		watchPath = filepath.Join(home, ".claude", "projects")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(watchPath); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		Events:  make(chan FileEvent, 1024),
		watched: map[string]string{filepath.Dir(watchPath): watchPath},
		stop:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// AddWatchPath registers an additional config directory's projects path for
// watching. Returns false if configDir is already watched.
func (w *Watcher) AddWatchPath(configDir, projectsPath string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[configDir]; ok {
		return false, nil
	}
	if projectsPath == "" {
		projectsPath = filepath.Join(configDir, "projects")
	}
	if err := w.fsw.Add(projectsPath); err != nil {
		return false, err
	}
	w.watched[configDir] = projectsPath
	return true, nil
}

// RemoveWatchPath unregisters a config directory. Returns false if it
// wasn't being watched.
func (w *Watcher) RemoveWatchPath(configDir string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	path, ok := w.watched[configDir]
	if !ok {
		return false, nil
	}
	delete(w.watched, configDir)
	return true, w.fsw.Remove(path)
}

// WatchedPaths returns all currently watched project directories.
func (w *Watcher) WatchedPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.watched))
	for _, p := range w.watched {
		paths = append(paths, p)
	}
	return paths
}

// Close stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.once.Do(func() { close(w.stop) })
	err := w.fsw.Close()
	return err
}

// run mirrors the recv_timeout loop of the original watcher: a path is
// re-emitted only once per debounceWindow unless it hasn't been seen yet;
// the idle tick clears the seen-set so a quiet file can fire again later.
func (w *Watcher) run() {
	defer close(w.Events)

	seen := make(map[string]struct{})
	lastEvent := time.Now()

	idle := time.NewTicker(idleTick)
	defer idle.Stop()

	for {
		select {
		case <-w.stop:
			return

		case <-idle.C:
			seen = make(map[string]struct{})

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			fe, ok := convertEvent(ev)
			if !ok {
				continue
			}

			now := time.Now()
			_, alreadySeen := seen[fe.Path]
			if now.Sub(lastEvent) > debounceWindow || !alreadySeen {
				seen[fe.Path] = struct{}{}
				lastEvent = now
				select {
				case w.Events <- fe:
				default:
					// Drop-newest: a full channel means the consumer is
					// behind; the indexer will catch up on its next pass.
				}
			}

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func convertEvent(ev fsnotify.Event) (FileEvent, bool) {
	if filepath.Ext(ev.Name) != ".jsonl" {
		return FileEvent{}, false
	}

	var eventType EventType
	switch {
	case ev.Has(fsnotify.Create):
		eventType = EventCreated
	case ev.Has(fsnotify.Write):
		eventType = EventModified
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		eventType = EventRemoved
	default:
		return FileEvent{}, false
	}

	return FileEvent{
		Type:        eventType,
		Path:        ev.Name,
		SessionID:   ExtractSessionID(ev.Name),
		ProjectSlug: ExtractProjectSlug(ev.Name),
	}, true
}
