// Package rpc serves the streaming service contracts client processes use
// for daemon control: coordinator health, session lookups, on-demand
// indexing, hook execution, named slots, and memory search. It is a
// distinct HTTP+NDJSON surface from the browser-facing query transport —
// client tooling speaks to it directly on its own port.
package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebushidocollective/han/internal/bus"
	"github.com/thebushidocollective/han/internal/hooks"
	"github.com/thebushidocollective/han/internal/indexer"
	"github.com/thebushidocollective/han/internal/lock"
	"github.com/thebushidocollective/han/internal/metrics"
	"github.com/thebushidocollective/han/internal/storage"
	"github.com/thebushidocollective/han/internal/watcher"
)

// Server wires the RPC HTTP surface together.
type Server struct {
	mux         *http.ServeMux
	store       storage.Store
	coordinator *lock.Coordinator
	indexer     *indexer.Indexer
	hookEngine  *hooks.Engine
	configDirID string
	version     string

	slots   *slotStore
	plugins []hooks.Plugin
}

// NewServer builds the RPC ServeMux. plugins is the set of discovered hook
// plugins consulted by the Hook service; it may be refreshed by calling
// SetPlugins as plugin directories change.
func NewServer(store storage.Store, coordinator *lock.Coordinator, ix *indexer.Indexer, hookEngine *hooks.Engine, configDirID, version string) *Server {
	s := &Server{
		mux:         http.NewServeMux(),
		store:       store,
		coordinator: coordinator,
		indexer:     ix,
		hookEngine:  hookEngine,
		configDirID: configDirID,
		version:     version,
		slots:       newSlotStore(),
	}

	s.mux.HandleFunc("/rpc/coordinator/health", s.handleHealth)
	s.mux.HandleFunc("/rpc/coordinator/version", s.handleVersion)
	s.mux.HandleFunc("/rpc/coordinator/lock", s.handleLockStatus)

	s.mux.HandleFunc("/rpc/sessions", s.handleSessionsList)
	s.mux.HandleFunc("/rpc/sessions/get", s.handleSessionGet)

	s.mux.HandleFunc("/rpc/index/file", s.handleIndexFile)

	s.mux.HandleFunc("/rpc/hooks/run", s.handleHookRun)

	s.mux.HandleFunc("/rpc/slots/get", s.handleSlotGet)
	s.mux.HandleFunc("/rpc/slots/set", s.handleSlotSet)
	s.mux.HandleFunc("/rpc/slots/watch", s.handleSlotWatch)

	s.mux.HandleFunc("/rpc/memory/search", s.handleMemorySearch)

	return s
}

// SetPlugins replaces the plugin set the Hook service runs against.
func (s *Server) SetPlugins(plugins []hooks.Plugin) {
	s.plugins = plugins
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("rpc: failed to encode response")
	}
}

// --- Coordinator ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	data, err := s.coordinator.ReadLock()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]bool{"locked": false})
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// --- Session ---

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		http.Error(w, "projectId is required", http.StatusBadRequest)
		return
	}
	sessions, err := s.store.ListSessionsByProject(r.Context(), projectID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if storage.IsNotFound(err) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// --- Indexer ---

func (s *Server) handleIndexFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	ev := watcher.FileEvent{
		Type:        watcher.EventModified,
		Path:        path,
		SessionID:   watcher.ExtractSessionID(path),
		ProjectSlug: watcher.ExtractProjectSlug(path),
	}
	result := s.indexer.IndexFile(r.Context(), ev, s.configDirID)
	status := http.StatusOK
	if result.Err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

// --- Hook ---

// hookOutputLine is the NDJSON wire shape streamed to the client, mirroring
// hooks.StreamEvent with JSON tags.
type hookOutputLine struct {
	Type       hooks.StreamEventType `json:"type"`
	HookID     string                `json:"hookId"`
	PluginName string                `json:"pluginName"`
	Event      string                `json:"event"`
	Line       string                `json:"line,omitempty"`
	ExitCode   int                   `json:"exitCode,omitempty"`
	DurationMS int64                 `json:"durationMs,omitempty"`
	Reason     string                `json:"reason,omitempty"`
	Cached     bool                  `json:"cached,omitempty"`
}

func (s *Server) handleHookRun(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Event        string   `json:"event"`
		ToolName     string   `json:"toolName"`
		Dir          string   `json:"dir"`
		EnvAdditions []string `json:"envAdditions"`
		Files        []string `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	events := make(chan hooks.StreamEvent, 256)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	orch := storage.Orchestration{
		ID:        uuid.NewString(),
		Event:     in.Event,
		Status:    storage.OrchestrationRunning,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.store.UpsertOrchestration(ctx, orch); err != nil {
		log.Error().Err(err).Str("event", in.Event).Msg("rpc: failed to persist orchestration")
	}

	matched := hooks.MatchedHooks(s.plugins, in.Event, in.ToolName)
	queueIDs := make([]string, len(matched))
	for i := range matched {
		queueIDs[i] = uuid.NewString()
		q := storage.AsyncHookQueue{
			ID:              queueIDs[i],
			OrchestrationID: orch.ID,
			Event:           in.Event,
			ToolName:        in.ToolName,
			Status:          storage.AsyncHookQueued,
			QueuedAt:        time.Now(),
		}
		if err := s.store.EnqueueAsyncHook(ctx, q); err != nil {
			log.Error().Err(err).Str("orchestrationId", orch.ID).Msg("rpc: failed to enqueue async hook work item")
		}
	}

	var results []hooks.Result
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(events)
		results = s.hookEngine.Run(ctx, s.plugins, hooks.RunInput{
			Event:        in.Event,
			ToolName:     in.ToolName,
			Dir:          in.Dir,
			EnvAdditions: in.EnvAdditions,
			Files:        in.Files,
		}, events)
	}()

	output := make(map[string]*strings.Builder)
	reason := make(map[string]string)
	enc := json.NewEncoder(w)
	for ev := range events {
		_ = enc.Encode(hookOutputLine{
			Type:       ev.Type,
			HookID:     ev.HookID,
			PluginName: ev.PluginName,
			Event:      ev.Event,
			Line:       ev.Line,
			ExitCode:   ev.ExitCode,
			DurationMS: ev.DurationMS,
			Reason:     ev.Reason,
			Cached:     ev.Cached,
		})
		switch ev.Type {
		case hooks.StreamStdout, hooks.StreamStderr:
			b, ok := output[ev.HookID]
			if !ok {
				b = &strings.Builder{}
				output[ev.HookID] = b
			}
			b.WriteString(ev.Line)
			b.WriteString("\n")
		case hooks.StreamComplete:
			if ev.ExitCode == 0 {
				metrics.HookExecutionsTotal.WithLabelValues("success").Inc()
			} else {
				metrics.HookExecutionsTotal.WithLabelValues("failure").Inc()
			}
		case hooks.StreamError:
			reason[ev.HookID] = ev.Reason
			metrics.HookExecutionsTotal.WithLabelValues("error").Inc()
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	wg.Wait()

	s.persistHookResults(context.WithoutCancel(ctx), orch, matched, queueIDs, in.Dir, results, output, reason)
}

// persistHookResults writes one HookExecution per matched hook plus the
// owning Orchestration's terminal status, transitions each hook's
// AsyncHookQueue entry out of pending, and publishes the bus events
// query/executor.go's hookExecutions resolver and session subscribers
// depend on. It runs after the streaming response has been flushed, using
// a context detached from the request so a client disconnect doesn't
// drop the audit trail.
func (s *Server) persistHookResults(ctx context.Context, orch storage.Orchestration, matched []struct {
	Plugin hooks.Plugin
	Spec   hooks.HookSpec
}, queueIDs []string, dir string, results []hooks.Result, output map[string]*strings.Builder, reason map[string]string) {
	status := storage.OrchestrationCompleted
	for i, res := range results {
		var hookType, pluginRoot, command string
		if i < len(matched) {
			hookType = matched[i].Spec.Type
			pluginRoot = matched[i].Plugin.Root
			command = matched[i].Spec.Command
		}
		passed := res.ExitCode == 0
		execStatus := storage.HookExecutionCompleted
		if !passed {
			status = storage.OrchestrationFailed
			execStatus = storage.HookExecutionFailed
		}
		out := ""
		if b, ok := output[res.HookID]; ok {
			out = b.String()
		}
		he := storage.HookExecution{
			ID:              res.HookID,
			OrchestrationID: orch.ID,
			HookType:        hookType,
			HookName:        orch.Event,
			PluginRoot:      pluginRoot,
			Directory:       dir,
			Command:         command,
			DurationMS:      res.DurationMS,
			ExitCode:        res.ExitCode,
			Passed:          passed,
			Output:          out,
			Error:           reason[res.HookID],
			Status:          execStatus,
			MaxAttempts:     1,
			Cached:          res.Cached,
		}
		if err := s.store.UpsertHookExecution(ctx, he); err != nil {
			log.Error().Err(err).Str("hookId", he.ID).Msg("rpc: failed to persist hook execution")
			continue
		}
		if i < len(queueIDs) {
			if err := s.store.UpdateAsyncHookStatus(ctx, queueIDs[i], storage.AsyncHookCompleted); err != nil {
				log.Error().Err(err).Str("queueId", queueIDs[i]).Msg("rpc: failed to update async hook queue status")
			}
		}
		s.indexer.Bus.Publish(bus.Event{Type: bus.HookResultAdded, NodeID: "HookExecution:" + he.ID, NodeTypename: "HookExecution"})
	}

	orch.Status = status
	orch.UpdatedAt = time.Now()
	if err := s.store.UpsertOrchestration(ctx, orch); err != nil {
		log.Error().Err(err).Str("orchestrationId", orch.ID).Msg("rpc: failed to finalize orchestration")
	}
	s.indexer.Bus.Publish(bus.Event{Type: bus.SessionHooksChanged})
}

// --- Slot ---

// slotStore is a named key/value store with change notification, used for
// short-lived agent-coordination state shared across cooperating clients.
type slotStore struct {
	mu   sync.RWMutex
	vals map[string]string
	bus  *bus.Bus
}

func newSlotStore() *slotStore {
	return &slotStore{vals: make(map[string]string), bus: bus.New()}
}

func (s *slotStore) get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[name]
	return v, ok
}

func (s *slotStore) set(name, value string) {
	s.mu.Lock()
	s.vals[name] = value
	s.mu.Unlock()
	s.bus.Publish(bus.Event{Type: bus.NodeUpdated, NodeID: "Slot:" + name, NodeTypename: "Slot"})
}

func (s *Server) handleSlotGet(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	v, ok := s.slots.get(name)
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": v, "found": ok})
}

func (s *Server) handleSlotSet(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.slots.set(in.Name, in.Value)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSlotWatch(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	sub := s.slots.bus.Subscribe()
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	ctx := r.Context()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.NodeID != "Slot:"+name {
				continue
			}
			v, _ := s.slots.get(name)
			_ = enc.Encode(map[string]string{"name": name, "value": v})
			if flusher != nil {
				flusher.Flush()
			}
		case <-ticker.C:
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// --- Memory ---

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 20
	hits, err := s.store.SearchGeneratedSummaries(r.Context(), q, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, hits)
}
