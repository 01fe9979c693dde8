// Package indexer turns a stream of file events into persisted rows with
// at-most-once semantics, and emits the change events consumed by the
// subscription bus.
package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/thebushidocollective/han/internal/bus"
	"github.com/thebushidocollective/han/internal/jsonl"
	"github.com/thebushidocollective/han/internal/storage"
	"github.com/thebushidocollective/han/internal/watcher"
)

// IndexResult is the outcome of one pass over a single file.
type IndexResult struct {
	SessionID       string
	MessagesIndexed int
	TotalMessages   int
	IsNewSession    bool
	Err             error
}

var agentFilePattern = regexp.MustCompile(`^agent-(.+)$`)

// classifySourceFile derives source_file_type (and, for agent files, the
// agent id to stamp onto every message) from a transcript's base filename.
func classifySourceFile(path string) (storage.SourceFileType, *string) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if strings.HasSuffix(stem, "-han") {
		return storage.SourceFileEvents, nil
	}
	if m := agentFilePattern.FindStringSubmatch(stem); m != nil {
		id := m[1]
		return storage.SourceFileAgent, &id
	}
	return storage.SourceFileMain, nil
}

// Indexer processes file-change events into persisted Message rows,
// publishing the resulting change events on Bus.
type Indexer struct {
	Store storage.Store
	Bus   *bus.Bus

	mu        sync.Mutex
	timelines map[string]*TaskTimeline // session id -> cached timeline
}

// New returns an Indexer backed by store, publishing onto b.
func New(store storage.Store, b *bus.Bus) *Indexer {
	return &Indexer{
		Store:     store,
		Bus:       b,
		timelines: make(map[string]*TaskTimeline),
	}
}

// IndexFile processes the unindexed tail of one JSONL file belonging to
// configDirID, per spec.md §4.4. A parse error on one line is recorded and
// skipped without aborting the pass; I/O or storage errors abort the pass
// without advancing the cursor, so the next event retries from the same
// offset.
func (ix *Indexer) IndexFile(ctx context.Context, ev watcher.FileEvent, configDirID string) IndexResult {
	if ev.Type == watcher.EventRemoved {
		if ev.SessionID == "" {
			return IndexResult{}
		}
		return ix.completeSession(ctx, ev.SessionID)
	}

	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	isNewSession := false
	sess, err := ix.Store.GetSession(ctx, sessionID)
	if storage.IsNotFound(err) {
		isNewSession = true
		sess = storage.Session{
			ID:              sessionID,
			Status:          storage.SessionActive,
			Slug:            ev.ProjectSlug,
			TranscriptPath:  ev.Path,
			ConfigDirID:     configDirID,
			LastIndexedLine: 0,
		}
		if ev.ProjectSlug != "" {
			proj, perr := ix.Store.GetProjectBySlug(ctx, ev.ProjectSlug)
			if storage.IsNotFound(perr) {
				proj = storage.Project{
					ID:           uuid.NewString(),
					Slug:         ev.ProjectSlug,
					AbsolutePath: filepath.Dir(ev.Path),
					Name:         ev.ProjectSlug,
					ConfigDirID:  configDirID,
				}
				if werr := ix.Store.UpsertProject(ctx, proj); werr != nil {
					return IndexResult{SessionID: sessionID, Err: werr}
				}
				ix.Bus.Publish(bus.Event{Type: bus.ProjectAdded, NodeID: "Project:" + proj.ID, NodeTypename: "Project"})
				sess.ProjectID = &proj.ID
			} else if perr == nil {
				sess.ProjectID = &proj.ID
			}
		}
	} else if err != nil {
		return IndexResult{SessionID: sessionID, Err: err}
	}

	total, err := jsonl.CountLines(ev.Path)
	if err != nil {
		return IndexResult{SessionID: sessionID, Err: err}
	}
	if total <= sess.LastIndexedLine {
		return IndexResult{SessionID: sessionID, TotalMessages: int(total), IsNewSession: isNewSession}
	}

	page, err := jsonl.ReadPage(ev.Path, sess.LastIndexedLine, total-sess.LastIndexedLine)
	if err != nil {
		return IndexResult{SessionID: sessionID, Err: err}
	}

	sourceFileType, agentID := classifySourceFile(ev.Path)
	lines := make([]jsonlLine, len(page.Lines))
	for i, l := range page.Lines {
		lines[i] = jsonlLine{LineNumber: l.LineNumber, Content: l.Content}
	}

	intermediate, parseErrs := parsePass1(lines, sourceFileType == storage.SourceFileEvents)
	if parseErrs > 0 {
		log.Warn().Str("session_id", sessionID).Int("skipped", parseErrs).Msg("indexer: skipped unparseable lines")
	}
	resolved := resolvePass2(intermediate)

	timeline, err := ix.taskTimeline(ctx, sessionID)
	if err != nil {
		return IndexResult{SessionID: sessionID, Err: err}
	}

	if err := ix.Store.UpsertSession(ctx, sess); err != nil {
		return IndexResult{SessionID: sessionID, Err: err}
	}

	now := time.Now().UTC()
	msgs := make([]storage.Message, 0, len(resolved))
	for _, rl := range resolved {
		msg := toMessage(rl, sessionID, filepath.Base(ev.Path), sourceFileType, agentID, now)
		if taskID, ok := timeline.FindActive(msg.Timestamp); ok {
			msg.TaskID = &taskID
		}
		msgs = append(msgs, msg)

		if err := ix.upsertChildRecord(ctx, sessionID, rl, msg, now); err != nil {
			return IndexResult{SessionID: sessionID, Err: err}
		}
	}

	if len(msgs) > 0 {
		if err := ix.Store.InsertMessages(ctx, msgs); err != nil {
			return IndexResult{SessionID: sessionID, Err: err}
		}
	}

	if err := ix.Store.UpdateLastIndexedLine(ctx, sessionID, total); err != nil {
		return IndexResult{SessionID: sessionID, Err: err}
	}

	if isNewSession {
		ix.Bus.Publish(bus.Event{Type: bus.SessionAdded, SessionID: sessionID})
	}
	ix.Bus.Publish(bus.Event{Type: bus.SessionMessageAdded, SessionID: sessionID, MessageIndex: int(total)})
	ix.Bus.Publish(bus.Event{Type: bus.NodeUpdated, NodeID: "Session:" + sessionID, NodeTypename: "SessionData"})

	return IndexResult{
		SessionID:       sessionID,
		MessagesIndexed: len(msgs),
		TotalMessages:   int(total),
		IsNewSession:    isNewSession,
	}
}

// completeSession marks sess completed and produces its
// GeneratedSessionSummary once the watcher reports the transcript file has
// been removed from the directory it was indexed from (e.g. archived or
// rotated), the signal this indexer uses for "the session is over" per
// spec.md §3's GeneratedSessionSummary being "produced after a session
// completes."
func (ix *Indexer) completeSession(ctx context.Context, sessionID string) IndexResult {
	sess, err := ix.Store.GetSession(ctx, sessionID)
	if storage.IsNotFound(err) {
		return IndexResult{SessionID: sessionID}
	}
	if err != nil {
		return IndexResult{SessionID: sessionID, Err: err}
	}

	now := time.Now().UTC()
	if err := ix.generateSessionSummary(ctx, sessionID, now); err != nil {
		return IndexResult{SessionID: sessionID, Err: err}
	}

	sess.Status = storage.SessionCompleted
	if err := ix.Store.UpsertSession(ctx, sess); err != nil {
		return IndexResult{SessionID: sessionID, Err: err}
	}
	ix.Bus.Publish(bus.Event{Type: bus.SessionUpdated, SessionID: sessionID})
	return IndexResult{SessionID: sessionID}
}

// generateSessionSummary rolls up a session's messages and tasks into its
// one-per-session GeneratedSessionSummary row, read back by the memory-search
// RPC's SearchGeneratedSummaries. Topics extraction (beyond distinct tool
// names) isn't implemented; the field is left empty rather than populated
// with a guess.
func (ix *Indexer) generateSessionSummary(ctx context.Context, sessionID string, now time.Time) error {
	msgs, err := ix.Store.ListMessages(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	toolSeen := make(map[string]bool)
	fileSeen := make(map[string]bool)
	var tools, files []string
	for _, m := range msgs {
		if m.MessageType == storage.MessageToolUse && m.ToolName != "" && !toolSeen[m.ToolName] {
			toolSeen[m.ToolName] = true
			tools = append(tools, m.ToolName)
		}
		if m.ToolName == "Edit" || m.ToolName == "Write" {
			if path := gjson.Get(m.ToolInput, "file_path").String(); path != "" && !fileSeen[path] {
				fileSeen[path] = true
				files = append(files, path)
			}
		}
	}

	tasks, err := ix.Store.ListTasks(ctx, sessionID)
	if err != nil {
		return err
	}
	outcome := storage.TaskUnknown
	if len(tasks) > 0 {
		outcome = tasks[len(tasks)-1].Outcome
	}

	summary := storage.GeneratedSessionSummary{
		SessionID:     sessionID,
		SummaryText:   fmt.Sprintf("%d messages, %d distinct tools, %d files touched.", len(msgs), len(tools), len(files)),
		FilesModified: files,
		ToolsUsed:     tools,
		Outcome:       outcome,
		MessageCount:  len(msgs),
		GeneratedAt:   now,
	}
	return ix.Store.UpsertGeneratedSessionSummary(ctx, summary)
}

// upsertChildRecord persists the at-most-one-per-session child rows
// (summary/compact/todo) a record may carry, alongside its Message row.
func (ix *Indexer) upsertChildRecord(ctx context.Context, sessionID string, rl resolvedLine, msg storage.Message, now time.Time) error {
	switch rl.MessageType {
	case storage.MessageSummary:
		return ix.Store.UpsertSessionSummary(ctx, storage.SessionSummary{
			SessionID: sessionID,
			Content:   msg.Content,
			LeafUUID:  rl.LeafUUID,
			Timestamp: msg.Timestamp,
			UpdatedAt: now,
		})
	case storage.MessageToolResult:
		ix.Bus.Publish(bus.Event{Type: bus.ToolResultAdded, SessionID: sessionID, NodeID: "Message:" + msg.ID, NodeTypename: "Message"})
		if todos := rl.JSON.Get("toolUseResult.newTodos"); todos.Exists() {
			if err := ix.Store.UpsertSessionTodo(ctx, storage.SessionTodo{
				SessionID: sessionID,
				Todos:     todos.Raw,
				Timestamp: msg.Timestamp,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
			if err := ix.upsertNativeTasksFromTodos(ctx, sessionID, msg.ID, todos, msg.Timestamp, now); err != nil {
				return err
			}
			ix.Bus.Publish(bus.Event{Type: bus.SessionTodosChanged, SessionID: sessionID})
			return nil
		}
	case storage.MessageToolUse:
		name := rl.JSON.Get("message.content.0.name").String()
		if name == "" {
			name = rl.JSON.Get("toolName").String()
		}
		if name == "TaskCreate" || name == "TaskUpdate" {
			return ix.upsertNativeTaskFromToolUse(ctx, sessionID, msg.ID, rl, now)
		}
		if name == "Edit" || name == "Write" || name == "MultiEdit" || name == "NotebookEdit" {
			return ix.recordFileChange(ctx, sessionID, msg, name)
		}
	case storage.MessageSystem:
		if rl.JSON.Get("isCompactSummary").Bool() {
			return ix.Store.UpsertSessionCompact(ctx, storage.SessionCompact{
				SessionID: sessionID,
				Content:   msg.Content,
				Timestamp: msg.Timestamp,
				UpdatedAt: now,
			})
		}
	case storage.MessageEvent:
		return ix.upsertTaskFromEvent(ctx, sessionID, rl, msg.Timestamp)
	}
	return nil
}

// upsertNativeTasksFromTodos materializes one NativeTask row per TodoWrite
// item, keyed by a content-derived id so the same todo upserts onto the same
// row across successive newTodos snapshots, per spec.md §4.4's native-task
// upsert semantics. Grounded on han-db's native_tasks CRUD (create defaults
// to pending; status="completed" stamps completed_at).
func (ix *Indexer) upsertNativeTasksFromTodos(ctx context.Context, sessionID, messageID string, todos gjson.Result, ts, now time.Time) error {
	for _, item := range todos.Array() {
		content := item.Get("content").String()
		if content == "" {
			continue
		}
		status := storage.NativeTaskStatus(item.Get("status").String())
		if status == "" {
			status = storage.NativeTaskPending
		}
		t := storage.NativeTask{
			ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID+"|todo|"+content)).String(),
			SessionID:   sessionID,
			MessageID:   messageID,
			Subject:     content,
			Status:      status,
			ActiveForm:  item.Get("activeForm").String(),
			CreatedAt:   ts,
			UpdatedAt:   now,
		}
		if status == storage.NativeTaskCompleted {
			completed := ts
			t.CompletedAt = &completed
		}
		if err := ix.Store.UpsertNativeTask(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// recordFileChange appends a SessionFileChange audit row for a single
// Edit/Write/MultiEdit/NotebookEdit tool_use record, per spec.md §3's
// "audit trail for per-tool file edits."
func (ix *Indexer) recordFileChange(ctx context.Context, sessionID string, msg storage.Message, toolName string) error {
	path := gjson.Get(msg.ToolInput, "file_path").String()
	if path == "" {
		path = gjson.Get(msg.ToolInput, "notebook_path").String()
	}
	if path == "" {
		return nil
	}
	if err := ix.Store.InsertSessionFileChange(ctx, storage.SessionFileChange{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		MessageID:    msg.ID,
		FilePath:     path,
		ToolName:     toolName,
		LinesAdded:   msg.LinesAdded,
		LinesRemoved: msg.LinesRemoved,
		Timestamp:    msg.Timestamp,
	}); err != nil {
		return err
	}
	ix.Bus.Publish(bus.Event{Type: bus.SessionFilesChanged, SessionID: sessionID})
	return nil
}

// upsertNativeTaskFromToolUse materializes a NativeTask from a Claude Code
// TaskCreate/TaskUpdate tool_use record, per han-api's native_task.rs doc
// comment naming these as the entity's source.
func (ix *Indexer) upsertNativeTaskFromToolUse(ctx context.Context, sessionID, messageID string, rl resolvedLine, now time.Time) error {
	input := rl.JSON.Get("message.content.0.input")
	if !input.Exists() {
		input = rl.JSON.Get("toolInput")
	}
	id := input.Get("id").String()
	if id == "" {
		return nil
	}
	status := storage.NativeTaskStatus(input.Get("status").String())
	if status == "" {
		status = storage.NativeTaskPending
	}
	var blocks, blockedBy []string
	for _, b := range input.Get("blocks").Array() {
		blocks = append(blocks, b.String())
	}
	for _, b := range input.Get("blockedBy").Array() {
		blockedBy = append(blockedBy, b.String())
	}
	t := storage.NativeTask{
		ID:          id,
		SessionID:   sessionID,
		MessageID:   messageID,
		Subject:     input.Get("subject").String(),
		Description: input.Get("description").String(),
		Status:      status,
		ActiveForm:  input.Get("activeForm").String(),
		Owner:       input.Get("owner").String(),
		Blocks:      blocks,
		BlockedBy:   blockedBy,
		CreatedAt:   rl.Timestamp,
		UpdatedAt:   now,
	}
	if status == storage.NativeTaskCompleted {
		completed := rl.Timestamp
		t.CompletedAt = &completed
	}
	return ix.Store.UpsertNativeTask(ctx, t)
}

// upsertTaskFromEvent materializes the Task (metrics) entity from a
// sidecar -han.jsonl event record, per han-db's tasks CRUD (create/
// complete/fail). The task timeline (taskTimeline) reads this table, not
// NativeTask, so every Task write invalidates the cached timeline.
func (ix *Indexer) upsertTaskFromEvent(ctx context.Context, sessionID string, rl resolvedLine, ts time.Time) error {
	j := rl.JSON
	event := j.Get("event").String()
	if event == "" {
		event = j.Get("type").String()
	}
	taskID := j.Get("taskId").String()
	if taskID == "" {
		return nil
	}

	switch event {
	case "task_started":
		if err := ix.Store.UpsertTask(ctx, storage.Task{
			ID:        taskID,
			SessionID: sessionID,
			Outcome:   storage.TaskUnknown,
			StartedAt: ts,
		}); err != nil {
			return err
		}
		ix.InvalidateTimeline(sessionID)
		return nil
	case "task_completed", "task_failed":
		existing, err := ix.Store.GetTaskByTaskID(ctx, taskID)
		if err != nil && !storage.IsNotFound(err) {
			return err
		}
		if storage.IsNotFound(err) {
			existing = storage.Task{ID: taskID, SessionID: sessionID, StartedAt: ts}
		}

		outcome := storage.TaskOutcome(j.Get("outcome").String())
		if outcome == "" {
			outcome = storage.TaskSuccess
			if event == "task_failed" {
				outcome = storage.TaskFailed
			}
		}
		existing.Outcome = outcome
		existing.Confidence = j.Get("confidence").Float()
		existing.FilesModified = int(j.Get("filesModified").Int())
		existing.TestsAdded = int(j.Get("testsAdded").Int())
		completed := ts
		existing.CompletedAt = &completed

		if err := ix.Store.UpsertTask(ctx, existing); err != nil {
			return err
		}
		ix.InvalidateTimeline(sessionID)
		return nil
	}
	return nil
}

// taskTimeline returns the cached timeline for sessionID, rebuilding it
// from storage the first time it's requested in this process.
func (ix *Indexer) taskTimeline(ctx context.Context, sessionID string) (*TaskTimeline, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if tl, ok := ix.timelines[sessionID]; ok {
		return tl, nil
	}

	tasks, err := ix.Store.ListTasks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tl := NewTaskTimeline()
	for _, t := range tasks {
		tl.Push(TaskRange{TaskID: t.ID, StartTime: t.StartedAt, EndTime: t.CompletedAt})
	}
	ix.timelines[sessionID] = tl
	return tl, nil
}

// InvalidateTimeline drops the cached task timeline for sessionID, forcing
// the next IndexFile call to rebuild it from storage. Callers invoke this
// after writing a new Task (metrics) row so the next pass sees it.
func (ix *Indexer) InvalidateTimeline(sessionID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.timelines, sessionID)
}
