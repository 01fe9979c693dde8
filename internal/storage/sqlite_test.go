package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "han.db")
	store, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedSession(t *testing.T, store Store, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertConfigDir(ctx, ConfigDir{
		ID:           "cfg1",
		AbsolutePath: "/home/user/.claude",
		RegisteredAt: time.Now(),
	}))
	require.NoError(t, store.UpsertSession(ctx, Session{
		ID:              id,
		Status:          SessionActive,
		Slug:            "my-session",
		TranscriptPath:  "/home/user/.claude/projects/foo/" + id + ".jsonl",
		ConfigDirID:     "cfg1",
		LastIndexedLine: 0,
	}))
}

func TestOpenSQLite_CreatesSchema(t *testing.T) {
	store := openTestStore(t)
	seedSession(t, store, "sess1")

	got, err := store.GetSession(context.Background(), "sess1")
	require.NoError(t, err)
	assert.Equal(t, "sess1", got.ID)
	assert.Equal(t, SessionActive, got.Status)
}

func TestGetSession_NotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetSession(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestUpsertSession_UpdatesExistingRow(t *testing.T) {
	store := openTestStore(t)
	seedSession(t, store, "sess1")

	ctx := context.Background()
	require.NoError(t, store.UpsertSession(ctx, Session{
		ID:              "sess1",
		Status:          SessionCompleted,
		Slug:            "my-session",
		TranscriptPath:  "/home/user/.claude/projects/foo/sess1.jsonl",
		ConfigDirID:     "cfg1",
		LastIndexedLine: 0,
	}))

	got, err := store.GetSession(ctx, "sess1")
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, got.Status)
}

func TestUpdateLastIndexedLine(t *testing.T) {
	store := openTestStore(t)
	seedSession(t, store, "sess1")
	ctx := context.Background()

	require.NoError(t, store.UpdateLastIndexedLine(ctx, "sess1", 42))

	got, err := store.GetSession(ctx, "sess1")
	require.NoError(t, err)
	assert.EqualValues(t, 42, got.LastIndexedLine)
}

func makeMessage(id string, sessionID string, line uint32, content string) Message {
	return Message{
		ID:             id,
		SessionID:      sessionID,
		MessageType:    MessageUser,
		Content:        content,
		RawJSON:        `{}`,
		Timestamp:      time.Now(),
		LineNumber:     line,
		SourceFileType: SourceFileMain,
		IndexedAt:      time.Now(),
	}
}

func TestInsertMessages_BatchInsertIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	seedSession(t, store, "sess1")
	ctx := context.Background()

	msgs := []Message{
		makeMessage("m1", "sess1", 1, "hello world"),
		makeMessage("m2", "sess1", 2, "goodbye world"),
	}
	require.NoError(t, store.InsertMessages(ctx, msgs))
	// re-inserting the same ids is a no-op (ON CONFLICT DO NOTHING)
	require.NoError(t, store.InsertMessages(ctx, msgs))

	hits, err := store.SearchMessages(ctx, "world", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestInsertMessages_ChunksAcrossBatchSize(t *testing.T) {
	store := openTestStore(t)
	seedSession(t, store, "sess1")
	ctx := context.Background()

	var msgs []Message
	for i := uint32(1); i <= uint32(batchSize)+5; i++ {
		msgs = append(msgs, makeMessage(
			fmt.Sprintf("m%d", i), "sess1", i, fmt.Sprintf("line %d", i),
		))
	}
	require.NoError(t, store.InsertMessages(ctx, msgs))

	hits, err := store.SearchMessages(ctx, "line", 1000)
	require.NoError(t, err)
	assert.Len(t, hits, len(msgs))
}

func TestSearchMessages_RanksBM25(t *testing.T) {
	store := openTestStore(t)
	seedSession(t, store, "sess1")
	ctx := context.Background()

	require.NoError(t, store.InsertMessages(ctx, []Message{
		makeMessage("m1", "sess1", 1, "refactor the authentication module"),
		makeMessage("m2", "sess1", 2, "refactor refactor refactor authentication"),
		makeMessage("m3", "sess1", 3, "unrelated content about widgets"),
	}))

	hits, err := store.SearchMessages(ctx, "refactor authentication", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	ids := []string{hits[0].ID, hits[1].ID}
	assert.ElementsMatch(t, []string{"m1", "m2"}, ids)
	assert.LessOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestSearchMessages_NeutralizesFTSOperators(t *testing.T) {
	store := openTestStore(t)
	seedSession(t, store, "sess1")
	ctx := context.Background()

	require.NoError(t, store.InsertMessages(ctx, []Message{
		makeMessage("m1", "sess1", 1, `a message with "quotes" and AND inside it`),
	}))

	hits, err := store.SearchMessages(ctx, `"quotes" AND`, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].ID)
}

func TestSearchMessages_EmptyQueryReturnsNil(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	hits, err := store.SearchMessages(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestUpsertNativeTask_UnionsBlocksAndBlockedBy(t *testing.T) {
	store := openTestStore(t)
	seedSession(t, store, "sess1")
	ctx := context.Background()

	require.NoError(t, store.UpsertNativeTask(ctx, NativeTask{
		ID:        "task1",
		SessionID: "sess1",
		Status:    NativeTaskPending,
		CreatedAt: time.Now(),
		Blocks:    []string{"task2"},
		BlockedBy: []string{"task3"},
	}))

	require.NoError(t, store.UpsertNativeTask(ctx, NativeTask{
		ID:        "task1",
		SessionID: "sess1",
		Status:    NativeTaskInProgress,
		CreatedAt: time.Now(),
		Blocks:    []string{"task4"},
		BlockedBy: []string{"task3"},
	}))

	blocks, blockedBy, err := store.(*sqliteStore).readTaskArrays(ctx, "task1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"task2", "task4"}, blocks)
	assert.ElementsMatch(t, []string{"task3"}, blockedBy)
}

func TestUpsertHookExecution_UpdatesOnConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	exec := HookExecution{
		ID:              "hook1",
		OrchestrationID: "orch1",
		HookType:        "PreToolUse",
		HookName:        "lint",
		Command:         "sh -c lint.sh",
		Status:          "running",
	}
	require.NoError(t, store.UpsertHookExecution(ctx, exec))

	exec.Status = "completed"
	exec.ExitCode = 0
	exec.Passed = true
	exec.DurationMS = 120
	require.NoError(t, store.UpsertHookExecution(ctx, exec))
}
