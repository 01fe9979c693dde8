package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteStore is the embedded single-file backend: write-ahead-logged,
// NORMAL synchronous, foreign keys on, 64 MB page cache, 5s busy timeout —
// per spec.md §4.1.
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the embedded database at path
// and applies pending migrations.
func OpenSQLite(path string) (Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, newErr(KindIO, "mkdir data dir", err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-65536)&_pragma=busy_timeout(5000)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, newErr(KindDatabase, "open sqlite", err)
	}
	db.SetMaxOpenConns(1) // one writer, per the single-writer coordinator invariant

	if err := migrateSQLite(db, path); err != nil {
		db.Close()
		return nil, newErr(KindMigration, "apply migrations", err)
	}

	return &sqliteStore{db: db}, nil
}

func migrateSQLite(db *sql.DB, path string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, path, driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) UpsertConfigDir(ctx context.Context, d ConfigDir) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config_dirs (id, absolute_path, display_name, is_default, registered_at, session_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name=excluded.display_name,
			is_default=excluded.is_default,
			session_count=excluded.session_count
	`, d.ID, d.AbsolutePath, d.DisplayName, boolToInt(d.IsDefault), d.RegisteredAt.Format(time.RFC3339Nano), d.SessionCount)
	return newErr(KindDatabase, "upsert config dir", err)
}

func (s *sqliteStore) GetConfigDir(ctx context.Context, id string) (ConfigDir, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, absolute_path, display_name, is_default, registered_at, last_indexed_at, session_count
		FROM config_dirs WHERE id = ?
	`, id)
	return scanConfigDir(row.Scan)
}

func (s *sqliteStore) ListConfigDirs(ctx context.Context) ([]ConfigDir, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, absolute_path, display_name, is_default, registered_at, last_indexed_at, session_count
		FROM config_dirs ORDER BY registered_at
	`)
	if err != nil {
		return nil, newErr(KindDatabase, "list config dirs", err)
	}
	defer rows.Close()

	var out []ConfigDir
	for rows.Next() {
		d, err := scanConfigDir(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, newErr(KindDatabase, "iterate config dirs", rows.Err())
}

func scanConfigDir(scan func(dest ...any) error) (ConfigDir, error) {
	var d ConfigDir
	var isDefault int
	var registeredAt string
	var lastIndexedAt sql.NullString
	if err := scan(&d.ID, &d.AbsolutePath, &d.DisplayName, &isDefault, &registeredAt, &lastIndexedAt, &d.SessionCount); err != nil {
		if err == sql.ErrNoRows {
			return ConfigDir{}, newErr(KindNotFound, "get config dir", err)
		}
		return ConfigDir{}, newErr(KindDatabase, "scan config dir", err)
	}
	d.IsDefault = isDefault != 0
	if t, err := time.Parse(time.RFC3339Nano, registeredAt); err == nil {
		d.RegisteredAt = t
	}
	if lastIndexedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastIndexedAt.String); err == nil {
			d.LastIndexedAt = &t
		}
	}
	return d, nil
}

func (s *sqliteStore) UpsertRepo(ctx context.Context, r Repo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repos (id, remote_url, name, default_branch)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, default_branch=excluded.default_branch
	`, r.ID, r.RemoteURL, r.Name, r.DefaultBranch)
	return newErr(KindDatabase, "upsert repo", err)
}

func (s *sqliteStore) GetRepo(ctx context.Context, id string) (Repo, error) {
	var r Repo
	err := s.db.QueryRowContext(ctx, `SELECT id, remote_url, name, default_branch FROM repos WHERE id = ?`, id).
		Scan(&r.ID, &r.RemoteURL, &r.Name, &r.DefaultBranch)
	if err == sql.ErrNoRows {
		return Repo{}, newErr(KindNotFound, "get repo", err)
	}
	return r, newErr(KindDatabase, "get repo", err)
}

func (s *sqliteStore) UpsertProject(ctx context.Context, p Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, slug, absolute_path, relative_path, name, is_worktree, config_dir_id, repo_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			absolute_path=excluded.absolute_path,
			relative_path=excluded.relative_path,
			name=excluded.name,
			is_worktree=excluded.is_worktree,
			repo_id=excluded.repo_id
	`, p.ID, p.Slug, p.AbsolutePath, p.RelativePath, p.Name, boolToInt(p.IsWorktree), p.ConfigDirID, nullableStr(p.RepoID))
	return newErr(KindDatabase, "upsert project", err)
}

func (s *sqliteStore) GetProject(ctx context.Context, id string) (Project, error) {
	return s.queryOneProject(ctx, `
		SELECT id, slug, absolute_path, relative_path, name, is_worktree, config_dir_id, repo_id
		FROM projects WHERE id = ?
	`, id)
}

func (s *sqliteStore) GetProjectBySlug(ctx context.Context, slug string) (Project, error) {
	return s.queryOneProject(ctx, `
		SELECT id, slug, absolute_path, relative_path, name, is_worktree, config_dir_id, repo_id
		FROM projects WHERE slug = ?
	`, slug)
}

func (s *sqliteStore) queryOneProject(ctx context.Context, query string, arg any) (Project, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	var p Project
	var isWorktree int
	var repoID sql.NullString
	if err := row.Scan(&p.ID, &p.Slug, &p.AbsolutePath, &p.RelativePath, &p.Name, &isWorktree, &p.ConfigDirID, &repoID); err != nil {
		if err == sql.ErrNoRows {
			return Project{}, newErr(KindNotFound, "get project", err)
		}
		return Project{}, newErr(KindDatabase, "get project", err)
	}
	p.IsWorktree = isWorktree != 0
	if repoID.Valid {
		p.RepoID = &repoID.String
	}
	return p, nil
}

func (s *sqliteStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, absolute_path, relative_path, name, is_worktree, config_dir_id, repo_id FROM projects
	`)
	if err != nil {
		return nil, newErr(KindDatabase, "list projects", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var isWorktree int
		var repoID sql.NullString
		if err := rows.Scan(&p.ID, &p.Slug, &p.AbsolutePath, &p.RelativePath, &p.Name, &isWorktree, &p.ConfigDirID, &repoID); err != nil {
			return nil, newErr(KindDatabase, "scan project", err)
		}
		p.IsWorktree = isWorktree != 0
		if repoID.Valid {
			p.RepoID = &repoID.String
		}
		out = append(out, p)
	}
	return out, newErr(KindDatabase, "iterate projects", rows.Err())
}

func (s *sqliteStore) UpsertSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, status, slug, transcript_path, config_dir_id, last_indexed_line)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id=excluded.project_id,
			status=excluded.status,
			slug=excluded.slug,
			transcript_path=excluded.transcript_path
	`, sess.ID, nullableStr(sess.ProjectID), string(sess.Status), sess.Slug, sess.TranscriptPath, sess.ConfigDirID, sess.LastIndexedLine)
	return newErr(KindDatabase, "upsert session", err)
}

func (s *sqliteStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, status, slug, transcript_path, config_dir_id, last_indexed_line
		FROM sessions WHERE id = ?
	`, id)

	var sess Session
	var projectID sql.NullString
	var status string
	if err := row.Scan(&sess.ID, &projectID, &status, &sess.Slug, &sess.TranscriptPath, &sess.ConfigDirID, &sess.LastIndexedLine); err != nil {
		if err == sql.ErrNoRows {
			return Session{}, newErr(KindNotFound, "get session", err)
		}
		return Session{}, newErr(KindDatabase, "get session", err)
	}
	if projectID.Valid {
		sess.ProjectID = &projectID.String
	}
	sess.Status = SessionStatus(status)
	return sess, nil
}

func (s *sqliteStore) ListSessionsByProject(ctx context.Context, projectID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, status, slug, transcript_path, config_dir_id, last_indexed_line
		FROM sessions WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, newErr(KindDatabase, "list sessions by project", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var projID sql.NullString
		var status string
		if err := rows.Scan(&sess.ID, &projID, &status, &sess.Slug, &sess.TranscriptPath, &sess.ConfigDirID, &sess.LastIndexedLine); err != nil {
			return nil, newErr(KindDatabase, "scan session", err)
		}
		if projID.Valid {
			sess.ProjectID = &projID.String
		}
		sess.Status = SessionStatus(status)
		out = append(out, sess)
	}
	return out, newErr(KindDatabase, "iterate sessions", rows.Err())
}

func (s *sqliteStore) UpdateLastIndexedLine(ctx context.Context, sessionID string, line uint32) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_indexed_line = ? WHERE id = ?`, line, sessionID)
	return newErr(KindDatabase, "update last indexed line", err)
}

// batchSize is the per-statement chunk size for message inserts, per
// spec.md §4.1.
const batchSize = 50

func (s *sqliteStore) InsertMessages(ctx context.Context, msgs []Message) error {
	for start := 0; start < len(msgs); start += batchSize {
		end := start + batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		if err := s.insertMessageChunk(ctx, msgs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) insertMessageChunk(ctx context.Context, chunk []Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newErr(KindDatabase, "begin message batch", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (
			id, session_id, agent_id, parent_id, message_type, role, content,
			tool_name, tool_input, tool_result, raw_json, timestamp, line_number,
			source_file_name, source_file_type, task_id, token_count,
			lines_added, lines_removed, files_changed, sentiment, frustration, indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return newErr(KindDatabase, "prepare message insert", err)
	}
	defer stmt.Close()

	for _, m := range chunk {
		var frustration any
		if m.Frustration != nil {
			frustration = *m.Frustration
		}
		_, err := stmt.ExecContext(ctx,
			m.ID, m.SessionID, nullableStr(m.AgentID), nullableStr(m.ParentID), string(m.MessageType),
			m.Role, m.Content, m.ToolName, m.ToolInput, m.ToolResult, m.RawJSON,
			m.Timestamp.Format(time.RFC3339Nano), m.LineNumber, m.SourceFileName, string(m.SourceFileType),
			nullableStr(m.TaskID), m.TokenCount, m.LinesAdded, m.LinesRemoved, m.FilesChanged,
			nullableStr(m.Sentiment), frustration,
			m.IndexedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return newErr(KindDatabase, "insert message", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return newErr(KindDatabase, "commit message batch", err)
	}
	return nil
}

func (s *sqliteStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, newErr(KindDatabase, "count messages", err)
}

func (s *sqliteStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, agent_id, parent_id, message_type, role, content,
		       tool_name, tool_input, tool_result, raw_json, timestamp, line_number,
		       source_file_name, source_file_type, task_id, token_count,
		       lines_added, lines_removed, files_changed, sentiment, frustration, indexed_at
		FROM messages WHERE session_id = ? ORDER BY line_number
	`, sessionID)
	if err != nil {
		return nil, newErr(KindDatabase, "list messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, newErr(KindDatabase, "iterate messages", rows.Err())
}

func scanMessage(scan func(dest ...any) error) (Message, error) {
	var m Message
	var agentID, parentID, taskID, sentiment sql.NullString
	var frustration sql.NullFloat64
	var messageType, sourceFileType, ts, indexedAt string
	if err := scan(&m.ID, &m.SessionID, &agentID, &parentID, &messageType, &m.Role, &m.Content,
		&m.ToolName, &m.ToolInput, &m.ToolResult, &m.RawJSON, &ts, &m.LineNumber,
		&m.SourceFileName, &sourceFileType, &taskID, &m.TokenCount,
		&m.LinesAdded, &m.LinesRemoved, &m.FilesChanged, &sentiment, &frustration, &indexedAt); err != nil {
		return Message{}, newErr(KindDatabase, "scan message", err)
	}
	if agentID.Valid {
		m.AgentID = &agentID.String
	}
	if parentID.Valid {
		m.ParentID = &parentID.String
	}
	if taskID.Valid {
		m.TaskID = &taskID.String
	}
	if sentiment.Valid {
		m.Sentiment = &sentiment.String
	}
	if frustration.Valid {
		m.Frustration = &frustration.Float64
	}
	m.MessageType = MessageType(messageType)
	m.SourceFileType = SourceFileType(sourceFileType)
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		m.Timestamp = t
	}
	if t, err := time.Parse(time.RFC3339Nano, indexedAt); err == nil {
		m.IndexedAt = t
	}
	return m, nil
}

func (s *sqliteStore) UpsertNativeTask(ctx context.Context, t NativeTask) error {
	blocks, _ := json.Marshal(t.Blocks)
	blockedBy, _ := json.Marshal(t.BlockedBy)

	// Set-union blocks/blocked_by with any existing row, per spec.md §4.4.
	existingBlocks, existingBlockedBy, err := s.readTaskArrays(ctx, t.ID)
	if err == nil {
		blocks, _ = json.Marshal(unionStrings(existingBlocks, t.Blocks))
		blockedBy, _ = json.Marshal(unionStrings(existingBlockedBy, t.BlockedBy))
	}

	var completedAt any
	if t.CompletedAt != nil {
		completedAt = t.CompletedAt.Format(time.RFC3339Nano)
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = t.UpdatedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO native_tasks (
			id, session_id, message_id, subject, description, status, active_form,
			owner, blocks, blocked_by, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			message_id=excluded.message_id,
			subject=excluded.subject,
			description=excluded.description,
			status=excluded.status,
			active_form=excluded.active_form,
			owner=excluded.owner,
			blocks=excluded.blocks,
			blocked_by=excluded.blocked_by,
			updated_at=excluded.updated_at,
			completed_at=excluded.completed_at
	`, t.ID, t.SessionID, t.MessageID, t.Subject, t.Description, string(t.Status), t.ActiveForm,
		t.Owner, string(blocks), string(blockedBy), createdAt.Format(time.RFC3339Nano),
		t.UpdatedAt.Format(time.RFC3339Nano), completedAt)
	return newErr(KindDatabase, "upsert native task", err)
}

func (s *sqliteStore) readTaskArrays(ctx context.Context, id string) ([]string, []string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT blocks, blocked_by FROM native_tasks WHERE id = ?`, id)
	var blocksJSON, blockedByJSON string
	if err := row.Scan(&blocksJSON, &blockedByJSON); err != nil {
		return nil, nil, err
	}
	var blocks, blockedBy []string
	_ = json.Unmarshal([]byte(blocksJSON), &blocks)
	_ = json.Unmarshal([]byte(blockedByJSON), &blockedBy)
	return blocks, blockedBy, nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (s *sqliteStore) UpsertHookExecution(ctx context.Context, h HookExecution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hook_executions (
			id, orchestration_id, hook_type, hook_name, plugin_root, directory, command,
			duration_ms, exit_code, passed, output, error, status,
			consecutive_failures, max_attempts, pid, cached
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			duration_ms=excluded.duration_ms,
			exit_code=excluded.exit_code,
			passed=excluded.passed,
			output=excluded.output,
			error=excluded.error,
			status=excluded.status,
			consecutive_failures=excluded.consecutive_failures,
			cached=excluded.cached
	`, h.ID, h.OrchestrationID, h.HookType, h.HookName, h.PluginRoot, h.Directory, h.Command,
		h.DurationMS, h.ExitCode, boolToInt(h.Passed), h.Output, h.Error, string(h.Status),
		h.ConsecutiveFailures, h.MaxAttempts, h.PID, boolToInt(h.Cached))
	return newErr(KindDatabase, "upsert hook execution", err)
}

func (s *sqliteStore) ListNativeTasks(ctx context.Context, sessionID string) ([]NativeTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, message_id, subject, description, status, active_form,
		       owner, blocks, blocked_by, created_at, updated_at, completed_at
		FROM native_tasks WHERE session_id = ? ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, newErr(KindDatabase, "list native tasks", err)
	}
	defer rows.Close()

	var out []NativeTask
	for rows.Next() {
		var t NativeTask
		var status, createdAt, updatedAt string
		var completedAt sql.NullString
		var blocksJSON, blockedByJSON string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.MessageID, &t.Subject, &t.Description, &status,
			&t.ActiveForm, &t.Owner, &blocksJSON, &blockedByJSON, &createdAt, &updatedAt, &completedAt); err != nil {
			return nil, newErr(KindDatabase, "scan native task", err)
		}
		t.Status = NativeTaskStatus(status)
		if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			t.CreatedAt = parsed
		}
		if parsed, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			t.UpdatedAt = parsed
		}
		if completedAt.Valid {
			if parsed, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
				t.CompletedAt = &parsed
			}
		}
		_ = json.Unmarshal([]byte(blocksJSON), &t.Blocks)
		_ = json.Unmarshal([]byte(blockedByJSON), &t.BlockedBy)
		out = append(out, t)
	}
	return out, newErr(KindDatabase, "iterate native tasks", rows.Err())
}

func (s *sqliteStore) UpsertTask(ctx context.Context, t Task) error {
	var completedAt any
	if t.CompletedAt != nil {
		completedAt = t.CompletedAt.Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, outcome, confidence, files_modified, tests_added, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			outcome=excluded.outcome,
			confidence=excluded.confidence,
			files_modified=excluded.files_modified,
			tests_added=excluded.tests_added,
			completed_at=excluded.completed_at
	`, t.ID, t.SessionID, string(t.Outcome), t.Confidence, t.FilesModified, t.TestsAdded,
		t.StartedAt.Format(time.RFC3339Nano), completedAt)
	return newErr(KindDatabase, "upsert task", err)
}

func (s *sqliteStore) GetTaskByTaskID(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, outcome, confidence, files_modified, tests_added, started_at, completed_at
		FROM tasks WHERE id = ?
	`, taskID)
	return scanTask(row.Scan)
}

func (s *sqliteStore) ListTasks(ctx context.Context, sessionID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, outcome, confidence, files_modified, tests_added, started_at, completed_at
		FROM tasks WHERE session_id = ? ORDER BY started_at
	`, sessionID)
	if err != nil {
		return nil, newErr(KindDatabase, "list tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, newErr(KindDatabase, "iterate tasks", rows.Err())
}

func scanTask(scan func(dest ...any) error) (Task, error) {
	var t Task
	var outcome, startedAt string
	var completedAt sql.NullString
	if err := scan(&t.ID, &t.SessionID, &outcome, &t.Confidence, &t.FilesModified, &t.TestsAdded, &startedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return Task{}, newErr(KindNotFound, "get task", err)
		}
		return Task{}, newErr(KindDatabase, "scan task", err)
	}
	t.Outcome = TaskOutcome(outcome)
	if parsed, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		t.StartedAt = parsed
	}
	if completedAt.Valid {
		if parsed, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			t.CompletedAt = &parsed
		}
	}
	return t, nil
}

func (s *sqliteStore) UpsertSessionSummary(ctx context.Context, sum SessionSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_summaries (session_id, content, leaf_uuid, timestamp, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			content=excluded.content, leaf_uuid=excluded.leaf_uuid,
			timestamp=excluded.timestamp, updated_at=excluded.updated_at
	`, sum.SessionID, sum.Content, sum.LeafUUID, sum.Timestamp.Format(time.RFC3339Nano), sum.UpdatedAt.Format(time.RFC3339Nano))
	return newErr(KindDatabase, "upsert session summary", err)
}

func (s *sqliteStore) UpsertSessionCompact(ctx context.Context, c SessionCompact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_compacts (session_id, content, timestamp, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			content=excluded.content, timestamp=excluded.timestamp, updated_at=excluded.updated_at
	`, c.SessionID, c.Content, c.Timestamp.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano))
	return newErr(KindDatabase, "upsert session compact", err)
}

func (s *sqliteStore) UpsertSessionTodo(ctx context.Context, t SessionTodo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_todos (session_id, todos, timestamp, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			todos=excluded.todos, timestamp=excluded.timestamp, updated_at=excluded.updated_at
	`, t.SessionID, t.Todos, t.Timestamp.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))
	return newErr(KindDatabase, "upsert session todo", err)
}

func (s *sqliteStore) UpsertOrchestration(ctx context.Context, o Orchestration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orchestrations (id, session_id, event, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, updated_at=excluded.updated_at
	`, o.ID, nullableStr(o.SessionID), o.Event, string(o.Status), o.CreatedAt.Format(time.RFC3339Nano), o.UpdatedAt.Format(time.RFC3339Nano))
	return newErr(KindDatabase, "upsert orchestration", err)
}

func (s *sqliteStore) ListHookExecutions(ctx context.Context, orchestrationID string) ([]HookExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, orchestration_id, hook_type, hook_name, plugin_root, directory, command,
		       duration_ms, exit_code, passed, output, error, status,
		       consecutive_failures, max_attempts, pid, cached
		FROM hook_executions WHERE orchestration_id = ?
	`, orchestrationID)
	if err != nil {
		return nil, newErr(KindDatabase, "list hook executions", err)
	}
	defer rows.Close()

	var out []HookExecution
	for rows.Next() {
		var h HookExecution
		var passed, cached int
		var status string
		if err := rows.Scan(&h.ID, &h.OrchestrationID, &h.HookType, &h.HookName, &h.PluginRoot, &h.Directory, &h.Command,
			&h.DurationMS, &h.ExitCode, &passed, &h.Output, &h.Error, &status,
			&h.ConsecutiveFailures, &h.MaxAttempts, &h.PID, &cached); err != nil {
			return nil, newErr(KindDatabase, "scan hook execution", err)
		}
		h.Passed = passed != 0
		h.Cached = cached != 0
		h.Status = HookExecutionStatus(status)
		out = append(out, h)
	}
	return out, newErr(KindDatabase, "iterate hook executions", rows.Err())
}

func (s *sqliteStore) InsertSessionFileChange(ctx context.Context, c SessionFileChange) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_file_changes (id, session_id, message_id, file_path, tool_name, lines_added, lines_removed, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, c.ID, c.SessionID, c.MessageID, c.FilePath, c.ToolName, c.LinesAdded, c.LinesRemoved, c.Timestamp.Format(time.RFC3339Nano))
	return newErr(KindDatabase, "insert session file change", err)
}

func (s *sqliteStore) UpsertSessionFileValidation(ctx context.Context, v SessionFileValidation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_file_validations (id, session_id, plugin_name, hook_name, directory, file_path, content_hash, validated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plugin_name, hook_name, directory, file_path) DO UPDATE SET
			content_hash=excluded.content_hash, validated_at=excluded.validated_at
	`, v.ID, v.SessionID, v.PluginName, v.HookName, v.Directory, v.FilePath, v.ContentHash, v.ValidatedAt.Format(time.RFC3339Nano))
	return newErr(KindDatabase, "upsert session file validation", err)
}

func (s *sqliteStore) EnqueueAsyncHook(ctx context.Context, q AsyncHookQueue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO async_hook_queue (id, session_id, orchestration_id, event, tool_name, status, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, q.ID, nullableStr(q.SessionID), q.OrchestrationID, q.Event, q.ToolName, string(q.Status), q.QueuedAt.Format(time.RFC3339Nano))
	return newErr(KindDatabase, "enqueue async hook", err)
}

func (s *sqliteStore) ListPendingAsyncHooks(ctx context.Context) ([]AsyncHookQueue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, orchestration_id, event, tool_name, status, queued_at, started_at, completed_at
		FROM async_hook_queue WHERE status = 'pending' ORDER BY queued_at
	`)
	if err != nil {
		return nil, newErr(KindDatabase, "list pending async hooks", err)
	}
	defer rows.Close()

	var out []AsyncHookQueue
	for rows.Next() {
		var q AsyncHookQueue
		var sessionID sql.NullString
		var status, queuedAt string
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&q.ID, &sessionID, &q.OrchestrationID, &q.Event, &q.ToolName, &status, &queuedAt, &startedAt, &completedAt); err != nil {
			return nil, newErr(KindDatabase, "scan async hook", err)
		}
		if sessionID.Valid {
			q.SessionID = &sessionID.String
		}
		q.Status = AsyncHookQueueStatus(status)
		if t, err := time.Parse(time.RFC3339Nano, queuedAt); err == nil {
			q.QueuedAt = t
		}
		if startedAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
				q.StartedAt = &t
			}
		}
		if completedAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
				q.CompletedAt = &t
			}
		}
		out = append(out, q)
	}
	return out, newErr(KindDatabase, "iterate async hooks", rows.Err())
}

func (s *sqliteStore) UpdateAsyncHookStatus(ctx context.Context, id string, status AsyncHookQueueStatus) error {
	var err error
	switch status {
	case AsyncHookRunning:
		_, err = s.db.ExecContext(ctx, `UPDATE async_hook_queue SET status = ?, started_at = ? WHERE id = ?`, string(status), time.Now().Format(time.RFC3339Nano), id)
	case AsyncHookCompleted, AsyncHookCancelled:
		_, err = s.db.ExecContext(ctx, `UPDATE async_hook_queue SET status = ?, completed_at = ? WHERE id = ?`, string(status), time.Now().Format(time.RFC3339Nano), id)
	default:
		_, err = s.db.ExecContext(ctx, `UPDATE async_hook_queue SET status = ? WHERE id = ?`, string(status), id)
	}
	return newErr(KindDatabase, "update async hook status", err)
}

func (s *sqliteStore) UpsertGeneratedSessionSummary(ctx context.Context, g GeneratedSessionSummary) error {
	topics, _ := json.Marshal(g.Topics)
	files, _ := json.Marshal(g.FilesModified)
	tools, _ := json.Marshal(g.ToolsUsed)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generated_session_summaries (session_id, summary_text, topics, files_modified, tools_used, outcome, message_count, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			summary_text=excluded.summary_text, topics=excluded.topics, files_modified=excluded.files_modified,
			tools_used=excluded.tools_used, outcome=excluded.outcome, message_count=excluded.message_count,
			generated_at=excluded.generated_at
	`, g.SessionID, g.SummaryText, string(topics), string(files), string(tools), string(g.Outcome), g.MessageCount, g.GeneratedAt.Format(time.RFC3339Nano))
	return newErr(KindDatabase, "upsert generated session summary", err)
}

func (s *sqliteStore) SearchGeneratedSummaries(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	ftsQuery := tokenizeForFTS(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.session_id, g.summary_text, g.generated_at, bm25(generated_summaries_fts) AS score
		FROM generated_summaries_fts
		JOIN generated_session_summaries g ON g.rowid = generated_summaries_fts.rowid
		WHERE generated_summaries_fts MATCH ?
		ORDER BY score ASC
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, newErr(KindDatabase, "search generated summaries", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var ts string
		if err := rows.Scan(&h.SessionID, &h.Content, &ts, &h.Score); err != nil {
			return nil, newErr(KindDatabase, "scan generated summary hit", err)
		}
		h.ID = h.SessionID
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			h.Timestamp = parsed
		}
		hits = append(hits, h)
	}
	return hits, newErr(KindDatabase, "iterate generated summary hits", rows.Err())
}

// SearchMessages tokenizes query by splitting on whitespace and quoting
// each token verbatim (doubling any embedded double-quote), which
// neutralizes FTS5 query-language operators, per spec.md §4.1.
func (s *sqliteStore) SearchMessages(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	ftsQuery := tokenizeForFTS(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.session_id, m.content, m.message_type, m.timestamp, bm25(messages_fts) AS score
		FROM messages_fts
		JOIN messages m ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ?
		ORDER BY score ASC
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, newErr(KindDatabase, "search messages", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var messageType, ts string
		if err := rows.Scan(&h.ID, &h.SessionID, &h.Content, &messageType, &ts, &h.Score); err != nil {
			return nil, newErr(KindDatabase, "scan search hit", err)
		}
		h.MessageType = MessageType(messageType)
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			h.Timestamp = parsed
		}
		hits = append(hits, h)
	}
	return hits, newErr(KindDatabase, "iterate search hits", rows.Err())
}

func tokenizeForFTS(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
