package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebushidocollective/han/internal/bus"
	"github.com/thebushidocollective/han/internal/storage"
	"github.com/thebushidocollective/han/internal/watcher"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "han.db")
	store, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "abc12345-1234-5678-9abc-def012345678.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sessionID = "abc12345-1234-5678-9abc-def012345678"

// S1: fresh session indexing. Three lines (user, assistant, tool_use)
// persist as 3 messages, cursor lands at 3, and SessionAdded ->
// SessionMessageAdded -> NodeUpdated fire in order.
func TestIndexFile_FreshSession(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertConfigDir(context.Background(), storage.ConfigDir{
		ID: "cfg1", AbsolutePath: "/home/user/.claude",
	}))

	path := writeTranscript(t,
		`{"uuid":"u1","type":"user","timestamp":"2024-01-01T10:00:00Z","message":{"role":"user","content":"hi"}}`,
		`{"uuid":"u2","type":"assistant","timestamp":"2024-01-01T10:00:05Z","message":{"role":"assistant","content":"hello"}}`,
		`{"uuid":"u3","type":"tool_use","timestamp":"2024-01-01T10:00:07Z","toolName":"Read","toolInput":{"path":"x"}}`,
	)

	b := bus.New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	ix := New(store, b)
	ev := watcher.FileEvent{Type: watcher.EventCreated, Path: path, SessionID: sessionID}
	res := ix.IndexFile(context.Background(), ev, "cfg1")

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.MessagesIndexed)
	assert.Equal(t, 3, res.TotalMessages)
	assert.True(t, res.IsNewSession)

	sess, err := store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, sess.LastIndexedLine)

	msgs, err := store.ListMessages(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	var events []bus.EventType
	for i := 0; i < 3; i++ {
		select {
		case e := <-sub.C:
			events = append(events, e.Type)
		default:
		}
	}
	assert.Equal(t, []bus.EventType{bus.SessionAdded, bus.SessionMessageAdded, bus.NodeUpdated}, events)
}

// S2: append & increment. A second pass over a file with one new line
// only indexes the tail and advances the cursor by one.
func TestIndexFile_AppendIncrement(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertConfigDir(context.Background(), storage.ConfigDir{
		ID: "cfg1", AbsolutePath: "/home/user/.claude",
	}))

	path := writeTranscript(t,
		`{"uuid":"u1","type":"user","timestamp":"2024-01-01T10:00:00Z","message":{"role":"user","content":"hi"}}`,
		`{"uuid":"u2","type":"assistant","timestamp":"2024-01-01T10:00:05Z","message":{"role":"assistant","content":"hello"}}`,
		`{"uuid":"u3","type":"tool_use","timestamp":"2024-01-01T10:00:07Z","toolName":"Read"}`,
	)

	b := bus.New()
	ix := New(store, b)
	ev := watcher.FileEvent{Type: watcher.EventCreated, Path: path, SessionID: sessionID}
	first := ix.IndexFile(context.Background(), ev, "cfg1")
	require.NoError(t, first.Err)
	require.Equal(t, 3, first.MessagesIndexed)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"uuid":"u4","type":"tool_result","timestamp":"2024-01-01T10:00:09Z","toolName":"Read","toolUseResult":"done"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	second := ix.IndexFile(context.Background(), ev, "cfg1")
	require.NoError(t, second.Err)
	assert.Equal(t, 1, second.MessagesIndexed)
	assert.Equal(t, 4, second.TotalMessages)
	assert.False(t, second.IsNewSession)

	sess, err := store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, sess.LastIndexedLine)
}

// P2: idempotence. Running the same unchanged file through a second pass
// indexes zero new messages and the row set doesn't change.
func TestIndexFile_IdempotentOnUnchangedFile(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertConfigDir(context.Background(), storage.ConfigDir{
		ID: "cfg1", AbsolutePath: "/home/user/.claude",
	}))

	path := writeTranscript(t,
		`{"uuid":"u1","type":"user","timestamp":"2024-01-01T10:00:00Z","message":{"role":"user","content":"hi"}}`,
	)

	b := bus.New()
	ix := New(store, b)
	ev := watcher.FileEvent{Type: watcher.EventCreated, Path: path, SessionID: sessionID}

	first := ix.IndexFile(context.Background(), ev, "cfg1")
	require.NoError(t, first.Err)
	require.Equal(t, 1, first.MessagesIndexed)

	second := ix.IndexFile(context.Background(), ev, "cfg1")
	require.NoError(t, second.Err)
	assert.Equal(t, 0, second.MessagesIndexed)
	assert.Equal(t, 1, second.TotalMessages)

	msgs, err := store.ListMessages(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

// P4: summary timestamp resolution. A summary whose leafUuid matches a
// peer record borrows that peer's timestamp; an unresolved summary is
// skipped entirely, never fabricated.
func TestIndexFile_SummaryTimestampResolution(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertConfigDir(context.Background(), storage.ConfigDir{
		ID: "cfg1", AbsolutePath: "/home/user/.claude",
	}))

	path := writeTranscript(t,
		`{"uuid":"peer1","type":"user","timestamp":"2024-01-01T10:00:00Z","message":{"role":"user","content":"hi"}}`,
		`{"uuid":"sum1","type":"summary","leafUuid":"peer1","summary":"a chat about hi"}`,
		`{"uuid":"sum2","type":"summary","leafUuid":"missing-peer","summary":"orphaned"}`,
	)

	b := bus.New()
	ix := New(store, b)
	ev := watcher.FileEvent{Type: watcher.EventCreated, Path: path, SessionID: sessionID}
	res := ix.IndexFile(context.Background(), ev, "cfg1")
	require.NoError(t, res.Err)

	// Only the user record and the resolved summary persist; the
	// unresolved summary (sum2) is dropped, never fabricated.
	assert.Equal(t, 2, res.MessagesIndexed)

	msgs, err := store.ListMessages(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	var sawSummary bool
	for _, m := range msgs {
		if m.MessageType == storage.MessageSummary {
			sawSummary = true
			assert.Equal(t, "sum1", m.ID)
			assert.Equal(t, "2024-01-01T10:00:00Z", m.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
		}
	}
	assert.True(t, sawSummary, "resolved summary should be persisted")
}

// P3: at-most-once per line. Re-indexing a file that was appended to
// twice never produces a duplicate (session_id, line_number) message row,
// because the cursor only advances forward and natural-key upserts are
// no-ops on repeat.
func TestIndexFile_AtMostOncePerLine(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertConfigDir(context.Background(), storage.ConfigDir{
		ID: "cfg1", AbsolutePath: "/home/user/.claude",
	}))

	path := writeTranscript(t,
		`{"uuid":"u1","type":"user","timestamp":"2024-01-01T10:00:00Z","message":{"role":"user","content":"hi"}}`,
	)

	b := bus.New()
	ix := New(store, b)
	ev := watcher.FileEvent{Type: watcher.EventCreated, Path: path, SessionID: sessionID}

	for i := 0; i < 3; i++ {
		res := ix.IndexFile(context.Background(), ev, "cfg1")
		require.NoError(t, res.Err)
	}

	msgs, err := store.ListMessages(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

// Task (metrics) rows materialize from -han.jsonl event records, and the
// task timeline assigns a message's TaskID from those rows (not from
// NativeTask, which has no started_at/completed_at of its own).
func TestIndexFile_TaskMetricsMaterializationAndTimeline(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertConfigDir(context.Background(), storage.ConfigDir{
		ID: "cfg1", AbsolutePath: "/home/user/.claude",
	}))

	b := bus.New()
	ix := New(store, b)

	eventsPath := writeTranscriptNamed(t, "abc12345-han.jsonl",
		`{"type":"task_started","taskId":"t1","timestamp":"2024-01-01T09:59:00Z"}`,
		`{"type":"task_completed","taskId":"t1","timestamp":"2024-01-01T10:01:00Z"}`,
	)
	evEvents := watcher.FileEvent{Type: watcher.EventCreated, Path: eventsPath, SessionID: sessionID}
	resEvents := ix.IndexFile(context.Background(), evEvents, "cfg1")
	require.NoError(t, resEvents.Err)

	tasks, err := store.ListTasks(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, storage.TaskSuccess, tasks[0].Outcome)
	require.NotNil(t, tasks[0].CompletedAt)

	mainPath := writeTranscript(t,
		`{"uuid":"u1","type":"tool_use","timestamp":"2024-01-01T10:00:00Z","toolName":"Read","toolInput":{"path":"x"}}`,
	)
	evMain := watcher.FileEvent{Type: watcher.EventCreated, Path: mainPath, SessionID: sessionID}
	resMain := ix.IndexFile(context.Background(), evMain, "cfg1")
	require.NoError(t, resMain.Err)

	msgs, err := store.ListMessages(context.Background(), sessionID)
	require.NoError(t, err)
	var toolMsg *storage.Message
	for i := range msgs {
		if msgs[i].MessageType == storage.MessageToolUse {
			toolMsg = &msgs[i]
		}
	}
	require.NotNil(t, toolMsg)
	require.NotNil(t, toolMsg.TaskID)
	assert.Equal(t, "t1", *toolMsg.TaskID)
}

// NativeTask rows materialize from a TodoWrite tool_result's newTodos
// array, the same natural-key-upsert idiom already used for SessionTodo.
func TestIndexFile_NativeTaskFromTodoWrite(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertConfigDir(context.Background(), storage.ConfigDir{
		ID: "cfg1", AbsolutePath: "/home/user/.claude",
	}))

	path := writeTranscript(t,
		`{"uuid":"u1","type":"tool_result","timestamp":"2024-01-01T10:00:00Z","toolName":"TodoWrite","toolUseResult":{"newTodos":[{"content":"fix the bug","status":"in_progress","activeForm":"Fixing the bug"}]}}`,
	)

	b := bus.New()
	ix := New(store, b)
	ev := watcher.FileEvent{Type: watcher.EventCreated, Path: path, SessionID: sessionID}
	res := ix.IndexFile(context.Background(), ev, "cfg1")
	require.NoError(t, res.Err)

	native, err := store.ListNativeTasks(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, native, 1)
	assert.Equal(t, "fix the bug", native[0].Subject)
	assert.Equal(t, storage.NativeTaskInProgress, native[0].Status)
}

// NativeTask rows also materialize from TaskCreate tool_use records,
// keyed on the id the tool call supplies.
func TestIndexFile_NativeTaskFromTaskCreate(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertConfigDir(context.Background(), storage.ConfigDir{
		ID: "cfg1", AbsolutePath: "/home/user/.claude",
	}))

	path := writeTranscript(t,
		`{"uuid":"u1","type":"tool_use","timestamp":"2024-01-01T10:00:00Z","toolName":"TaskCreate","toolInput":{"id":"task-42","subject":"ship the feature","status":"pending"}}`,
	)

	b := bus.New()
	ix := New(store, b)
	ev := watcher.FileEvent{Type: watcher.EventCreated, Path: path, SessionID: sessionID}
	res := ix.IndexFile(context.Background(), ev, "cfg1")
	require.NoError(t, res.Err)

	native, err := store.ListNativeTasks(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, native, 1)
	assert.Equal(t, "task-42", native[0].ID)
	assert.Equal(t, "ship the feature", native[0].Subject)
}

// Edit/Write tool_use records append a SessionFileChange audit row and
// publish SessionFilesChanged.
func TestIndexFile_FileChangeAuditAndBusEvent(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertConfigDir(context.Background(), storage.ConfigDir{
		ID: "cfg1", AbsolutePath: "/home/user/.claude",
	}))

	path := writeTranscript(t,
		`{"uuid":"u1","type":"tool_use","timestamp":"2024-01-01T10:00:00Z","toolName":"Edit","toolInput":{"file_path":"/tmp/foo.go"},"linesAdded":3,"linesRemoved":1}`,
	)

	b := bus.New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	ix := New(store, b)
	ev := watcher.FileEvent{Type: watcher.EventCreated, Path: path, SessionID: sessionID}
	res := ix.IndexFile(context.Background(), ev, "cfg1")
	require.NoError(t, res.Err)

	var sawFilesChanged bool
	for i := 0; i < 10; i++ {
		select {
		case e := <-sub.C:
			if e.Type == bus.SessionFilesChanged {
				sawFilesChanged = true
			}
		default:
		}
	}
	assert.True(t, sawFilesChanged, "SessionFilesChanged should publish for an Edit tool_use record")
}

// A watcher EventRemoved for a known session id marks it completed and
// produces its GeneratedSessionSummary, publishing SessionUpdated.
func TestIndexFile_SessionCompletionGeneratesSummary(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertConfigDir(context.Background(), storage.ConfigDir{
		ID: "cfg1", AbsolutePath: "/home/user/.claude",
	}))

	path := writeTranscript(t,
		`{"uuid":"u1","type":"user","timestamp":"2024-01-01T10:00:00Z","message":{"role":"user","content":"hi"}}`,
		`{"uuid":"u2","type":"tool_use","timestamp":"2024-01-01T10:00:05Z","toolName":"Edit","toolInput":{"file_path":"/tmp/foo.go"}}`,
	)

	b := bus.New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	ix := New(store, b)
	ev := watcher.FileEvent{Type: watcher.EventCreated, Path: path, SessionID: sessionID}
	res := ix.IndexFile(context.Background(), ev, "cfg1")
	require.NoError(t, res.Err)

	removed := watcher.FileEvent{Type: watcher.EventRemoved, Path: path, SessionID: sessionID}
	removedRes := ix.IndexFile(context.Background(), removed, "cfg1")
	require.NoError(t, removedRes.Err)

	sess, err := store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, storage.SessionCompleted, sess.Status)

	hits, err := store.SearchGeneratedSummaries(context.Background(), "messages", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, sessionID, hits[0].SessionID)

	var sawSessionUpdated bool
	for i := 0; i < 10; i++ {
		select {
		case e := <-sub.C:
			if e.Type == bus.SessionUpdated {
				sawSessionUpdated = true
			}
		default:
		}
	}
	assert.True(t, sawSessionUpdated)
}

// An EventRemoved for an id the indexer never saw is a no-op, not an
// error (e.g. a file removed before any event created it).
func TestIndexFile_SessionCompletionUnknownSessionIsNoop(t *testing.T) {
	store := openTestStore(t)
	b := bus.New()
	ix := New(store, b)

	ev := watcher.FileEvent{Type: watcher.EventRemoved, Path: "/tmp/missing.jsonl", SessionID: "never-indexed"}
	res := ix.IndexFile(context.Background(), ev, "cfg1")
	assert.NoError(t, res.Err)
}

func writeTranscriptNamed(t *testing.T, name string, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
