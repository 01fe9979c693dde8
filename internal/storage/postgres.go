package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresStore is the networked engine used by the remote service. Full
// text search substitutes Postgres's native tsvector/GIN index for the
// embedded engine's FTS5 virtual table, per spec.md §4.1.
type postgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, newErr(KindDatabase, "connect postgres", err)
	}
	if err := migratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, newErr(KindMigration, "apply postgres migrations", err)
	}
	return &postgresStore{pool: pool}, nil
}

func migratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS config_dirs (
			id TEXT PRIMARY KEY,
			absolute_path TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			is_default BOOLEAN NOT NULL DEFAULT false,
			registered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			session_count INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			absolute_path TEXT NOT NULL,
			relative_path TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			is_worktree BOOLEAN NOT NULL DEFAULT false,
			config_dir_id TEXT NOT NULL REFERENCES config_dirs(id),
			repo_id TEXT
		);
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project_id TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			slug TEXT NOT NULL,
			transcript_path TEXT NOT NULL,
			config_dir_id TEXT NOT NULL REFERENCES config_dirs(id),
			last_indexed_line INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			agent_id TEXT,
			parent_id TEXT,
			message_type TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			tool_input TEXT NOT NULL DEFAULT '',
			tool_result TEXT NOT NULL DEFAULT '',
			raw_json TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			line_number INTEGER NOT NULL,
			source_file_name TEXT NOT NULL DEFAULT '',
			source_file_type TEXT NOT NULL DEFAULT 'main',
			task_id TEXT,
			token_count INTEGER NOT NULL DEFAULT 0,
			lines_added INTEGER NOT NULL DEFAULT 0,
			lines_removed INTEGER NOT NULL DEFAULT 0,
			files_changed INTEGER NOT NULL DEFAULT 0,
			sentiment TEXT,
			frustration DOUBLE PRECISION,
			indexed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			content_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
			UNIQUE(session_id, line_number)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_tsv ON messages USING GIN(content_tsv);
		CREATE TABLE IF NOT EXISTS native_tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			message_id TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			active_form TEXT NOT NULL DEFAULT '',
			owner TEXT NOT NULL DEFAULT '',
			blocks JSONB NOT NULL DEFAULT '[]',
			blocked_by JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS hook_executions (
			id TEXT PRIMARY KEY,
			orchestration_id TEXT NOT NULL,
			hook_type TEXT NOT NULL DEFAULT '',
			hook_name TEXT NOT NULL DEFAULT '',
			plugin_root TEXT NOT NULL DEFAULT '',
			directory TEXT NOT NULL DEFAULT '',
			command TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			exit_code INTEGER NOT NULL DEFAULT 0,
			passed BOOLEAN NOT NULL DEFAULT false,
			output TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 1,
			pid INTEGER NOT NULL DEFAULT 0,
			cached BOOLEAN NOT NULL DEFAULT false
		);
		CREATE TABLE IF NOT EXISTS repos (
			id TEXT PRIMARY KEY,
			remote_url TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			default_branch TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS session_summaries (
			session_id TEXT PRIMARY KEY REFERENCES sessions(id),
			content TEXT NOT NULL DEFAULT '',
			leaf_uuid TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS session_compacts (
			session_id TEXT PRIMARY KEY REFERENCES sessions(id),
			content TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS session_todos (
			session_id TEXT PRIMARY KEY REFERENCES sessions(id),
			todos JSONB NOT NULL DEFAULT '[]',
			timestamp TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			outcome TEXT NOT NULL DEFAULT 'unknown',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			files_modified INTEGER NOT NULL DEFAULT 0,
			tests_added INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS orchestrations (
			id TEXT PRIMARY KEY,
			session_id TEXT,
			event TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS session_file_changes (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			message_id TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL,
			tool_name TEXT NOT NULL DEFAULT '',
			lines_added INTEGER NOT NULL DEFAULT 0,
			lines_removed INTEGER NOT NULL DEFAULT 0,
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS session_file_validations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			plugin_name TEXT NOT NULL,
			hook_name TEXT NOT NULL,
			directory TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			validated_at TIMESTAMPTZ NOT NULL,
			UNIQUE(plugin_name, hook_name, directory, file_path)
		);
		CREATE TABLE IF NOT EXISTS async_hook_queue (
			id TEXT PRIMARY KEY,
			session_id TEXT,
			orchestration_id TEXT NOT NULL DEFAULT '',
			event TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			queued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS generated_session_summaries (
			session_id TEXT PRIMARY KEY REFERENCES sessions(id),
			summary_text TEXT NOT NULL DEFAULT '',
			topics JSONB NOT NULL DEFAULT '[]',
			files_modified JSONB NOT NULL DEFAULT '[]',
			tools_used JSONB NOT NULL DEFAULT '[]',
			outcome TEXT NOT NULL DEFAULT 'unknown',
			message_count INTEGER NOT NULL DEFAULT 0,
			generated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			summary_tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', summary_text)) STORED
		);
		CREATE INDEX IF NOT EXISTS idx_generated_summaries_tsv ON generated_session_summaries USING GIN(summary_tsv);
		CREATE TABLE IF NOT EXISTS synced_sessions (
			id TEXT PRIMARY KEY,
			owner_scope TEXT NOT NULL,
			encrypted_messages TEXT NOT NULL,
			encrypted_summary TEXT,
			message_count INTEGER NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS encryption_keys (
			id TEXT PRIMARY KEY,
			owner_scope TEXT NOT NULL,
			version INTEGER NOT NULL,
			wrapped_dek TEXT NOT NULL,
			wrap_nonce TEXT NOT NULL,
			kek_salt TEXT NOT NULL,
			algorithm TEXT NOT NULL DEFAULT 'AES-256-GCM',
			active BOOLEAN NOT NULL DEFAULT true,
			rotated_at TIMESTAMPTZ
		);
	`)
	return err
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) UpsertConfigDir(ctx context.Context, d ConfigDir) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO config_dirs (id, absolute_path, display_name, is_default, registered_at, session_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			is_default = excluded.is_default,
			session_count = excluded.session_count
	`, d.ID, d.AbsolutePath, d.DisplayName, d.IsDefault, d.RegisteredAt, d.SessionCount)
	return newErr(KindDatabase, "upsert config dir", err)
}

func (s *postgresStore) GetConfigDir(ctx context.Context, id string) (ConfigDir, error) {
	var d ConfigDir
	err := s.pool.QueryRow(ctx, `
		SELECT id, absolute_path, display_name, is_default, registered_at, session_count FROM config_dirs WHERE id = $1
	`, id).Scan(&d.ID, &d.AbsolutePath, &d.DisplayName, &d.IsDefault, &d.RegisteredAt, &d.SessionCount)
	if err == pgx.ErrNoRows {
		return ConfigDir{}, newErr(KindNotFound, "get config dir", err)
	}
	return d, newErr(KindDatabase, "get config dir", err)
}

func (s *postgresStore) ListConfigDirs(ctx context.Context) ([]ConfigDir, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, absolute_path, display_name, is_default, registered_at, session_count FROM config_dirs ORDER BY registered_at
	`)
	if err != nil {
		return nil, newErr(KindDatabase, "list config dirs", err)
	}
	defer rows.Close()

	var out []ConfigDir
	for rows.Next() {
		var d ConfigDir
		if err := rows.Scan(&d.ID, &d.AbsolutePath, &d.DisplayName, &d.IsDefault, &d.RegisteredAt, &d.SessionCount); err != nil {
			return nil, newErr(KindDatabase, "scan config dir", err)
		}
		out = append(out, d)
	}
	return out, newErr(KindDatabase, "iterate config dirs", rows.Err())
}

func (s *postgresStore) UpsertRepo(ctx context.Context, r Repo) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO repos (id, remote_url, name, default_branch) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, default_branch = excluded.default_branch
	`, r.ID, r.RemoteURL, r.Name, r.DefaultBranch)
	return newErr(KindDatabase, "upsert repo", err)
}

func (s *postgresStore) GetRepo(ctx context.Context, id string) (Repo, error) {
	var r Repo
	err := s.pool.QueryRow(ctx, `SELECT id, remote_url, name, default_branch FROM repos WHERE id = $1`, id).
		Scan(&r.ID, &r.RemoteURL, &r.Name, &r.DefaultBranch)
	if err == pgx.ErrNoRows {
		return Repo{}, newErr(KindNotFound, "get repo", err)
	}
	return r, newErr(KindDatabase, "get repo", err)
}

func (s *postgresStore) UpsertProject(ctx context.Context, p Project) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (id, slug, absolute_path, relative_path, name, is_worktree, config_dir_id, repo_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			absolute_path = excluded.absolute_path,
			relative_path = excluded.relative_path,
			name = excluded.name,
			is_worktree = excluded.is_worktree,
			repo_id = excluded.repo_id
	`, p.ID, p.Slug, p.AbsolutePath, p.RelativePath, p.Name, p.IsWorktree, p.ConfigDirID, p.RepoID)
	return newErr(KindDatabase, "upsert project", err)
}

func (s *postgresStore) UpsertSession(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, project_id, status, slug, transcript_path, config_dir_id, last_indexed_line)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			project_id = excluded.project_id,
			status = excluded.status,
			slug = excluded.slug,
			transcript_path = excluded.transcript_path
	`, sess.ID, sess.ProjectID, string(sess.Status), sess.Slug, sess.TranscriptPath, sess.ConfigDirID, sess.LastIndexedLine)
	return newErr(KindDatabase, "upsert session", err)
}

func (s *postgresStore) GetProject(ctx context.Context, id string) (Project, error) {
	return s.queryOneProject(ctx, `
		SELECT id, slug, absolute_path, relative_path, name, is_worktree, config_dir_id, repo_id FROM projects WHERE id = $1
	`, id)
}

func (s *postgresStore) GetProjectBySlug(ctx context.Context, slug string) (Project, error) {
	return s.queryOneProject(ctx, `
		SELECT id, slug, absolute_path, relative_path, name, is_worktree, config_dir_id, repo_id FROM projects WHERE slug = $1
	`, slug)
}

func (s *postgresStore) queryOneProject(ctx context.Context, query string, arg any) (Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&p.ID, &p.Slug, &p.AbsolutePath, &p.RelativePath, &p.Name, &p.IsWorktree, &p.ConfigDirID, &p.RepoID)
	if err == pgx.ErrNoRows {
		return Project{}, newErr(KindNotFound, "get project", err)
	}
	return p, newErr(KindDatabase, "get project", err)
}

func (s *postgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, slug, absolute_path, relative_path, name, is_worktree, config_dir_id, repo_id FROM projects
	`)
	if err != nil {
		return nil, newErr(KindDatabase, "list projects", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Slug, &p.AbsolutePath, &p.RelativePath, &p.Name, &p.IsWorktree, &p.ConfigDirID, &p.RepoID); err != nil {
			return nil, newErr(KindDatabase, "scan project", err)
		}
		out = append(out, p)
	}
	return out, newErr(KindDatabase, "iterate projects", rows.Err())
}

func (s *postgresStore) ListSessionsByProject(ctx context.Context, projectID string) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, status, slug, transcript_path, config_dir_id, last_indexed_line
		FROM sessions WHERE project_id = $1
	`, projectID)
	if err != nil {
		return nil, newErr(KindDatabase, "list sessions by project", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var status string
		if err := rows.Scan(&sess.ID, &sess.ProjectID, &status, &sess.Slug, &sess.TranscriptPath, &sess.ConfigDirID, &sess.LastIndexedLine); err != nil {
			return nil, newErr(KindDatabase, "scan session", err)
		}
		sess.Status = SessionStatus(status)
		out = append(out, sess)
	}
	return out, newErr(KindDatabase, "iterate sessions", rows.Err())
}

func (s *postgresStore) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, status, slug, transcript_path, config_dir_id, last_indexed_line
		FROM sessions WHERE id = $1
	`, id).Scan(&sess.ID, &sess.ProjectID, &status, &sess.Slug, &sess.TranscriptPath, &sess.ConfigDirID, &sess.LastIndexedLine)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Session{}, newErr(KindNotFound, "get session", err)
		}
		return Session{}, newErr(KindDatabase, "get session", err)
	}
	sess.Status = SessionStatus(status)
	return sess, nil
}

func (s *postgresStore) UpdateLastIndexedLine(ctx context.Context, sessionID string, line uint32) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET last_indexed_line = $1 WHERE id = $2`, line, sessionID)
	return newErr(KindDatabase, "update last indexed line", err)
}

func (s *postgresStore) InsertMessages(ctx context.Context, msgs []Message) error {
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

func (s *postgresStore) insertMessageChunk(ctx context.Context, chunk []Message) error {
	batch := &pgx.Batch{}
	for _, m := range chunk {
		batch.Queue(`
			INSERT INTO messages (
				id, session_id, agent_id, parent_id, message_type, role, content,
				tool_name, tool_input, tool_result, raw_json, timestamp, line_number,
				source_file_name, source_file_type, task_id, token_count,
				lines_added, lines_removed, files_changed, sentiment, frustration, indexed_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
			ON CONFLICT (id) DO NOTHING
		`, m.ID, m.SessionID, m.AgentID, m.ParentID, string(m.MessageType), m.Role, m.Content,
			m.ToolName, m.ToolInput, m.ToolResult, m.RawJSON, m.Timestamp, m.LineNumber,
			m.SourceFileName, string(m.SourceFileType), m.TaskID, m.TokenCount,
			m.LinesAdded, m.LinesRemoved, m.FilesChanged, m.Sentiment, m.Frustration, m.IndexedAt)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range chunk {
		if _, err := results.Exec(); err != nil {
			return newErr(KindDatabase, "insert message", err)
		}
	}
	return nil
}

func (s *postgresStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&n)
	return n, newErr(KindDatabase, "count messages", err)
}

func (s *postgresStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, agent_id, parent_id, message_type, role, content,
		       tool_name, tool_input, tool_result, raw_json, timestamp, line_number,
		       source_file_name, source_file_type, task_id, token_count,
		       lines_added, lines_removed, files_changed, sentiment, frustration, indexed_at
		FROM messages WHERE session_id = $1 ORDER BY line_number
	`, sessionID)
	if err != nil {
		return nil, newErr(KindDatabase, "list messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var messageType, sourceFileType string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.AgentID, &m.ParentID, &messageType, &m.Role, &m.Content,
			&m.ToolName, &m.ToolInput, &m.ToolResult, &m.RawJSON, &m.Timestamp, &m.LineNumber,
			&m.SourceFileName, &sourceFileType, &m.TaskID, &m.TokenCount,
			&m.LinesAdded, &m.LinesRemoved, &m.FilesChanged, &m.Sentiment, &m.Frustration, &m.IndexedAt); err != nil {
			return nil, newErr(KindDatabase, "scan message", err)
		}
		m.MessageType = MessageType(messageType)
		m.SourceFileType = SourceFileType(sourceFileType)
		out = append(out, m)
	}
	return out, newErr(KindDatabase, "iterate messages", rows.Err())
}

func (s *postgresStore) UpsertNativeTask(ctx context.Context, t NativeTask) error {
	var existingBlocks, existingBlockedBy []string
	row := s.pool.QueryRow(ctx, `SELECT blocks, blocked_by FROM native_tasks WHERE id = $1`, t.ID)
	var rawBlocks, rawBlockedBy []byte
	if err := row.Scan(&rawBlocks, &rawBlockedBy); err == nil {
		_ = json.Unmarshal(rawBlocks, &existingBlocks)
		_ = json.Unmarshal(rawBlockedBy, &existingBlockedBy)
	}
	blocks, _ := json.Marshal(unionStrings(existingBlocks, t.Blocks))
	blockedBy, _ := json.Marshal(unionStrings(existingBlockedBy, t.BlockedBy)) // unionStrings and batchSize are defined once in sqlite.go, shared across backends

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = t.UpdatedAt
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO native_tasks (
			id, session_id, message_id, subject, description, status, active_form,
			owner, blocks, blocked_by, created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			message_id = excluded.message_id,
			subject = excluded.subject,
			description = excluded.description,
			status = excluded.status,
			active_form = excluded.active_form,
			owner = excluded.owner,
			blocks = excluded.blocks,
			blocked_by = excluded.blocked_by,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`, t.ID, t.SessionID, t.MessageID, t.Subject, t.Description, string(t.Status), t.ActiveForm,
		t.Owner, blocks, blockedBy, createdAt, t.UpdatedAt, t.CompletedAt)
	return newErr(KindDatabase, "upsert native task", err)
}

func (s *postgresStore) ListNativeTasks(ctx context.Context, sessionID string) ([]NativeTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, message_id, subject, description, status, active_form,
		       owner, blocks, blocked_by, created_at, updated_at, completed_at
		FROM native_tasks WHERE session_id = $1 ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, newErr(KindDatabase, "list native tasks", err)
	}
	defer rows.Close()

	var out []NativeTask
	for rows.Next() {
		var t NativeTask
		var status string
		var rawBlocks, rawBlockedBy []byte
		if err := rows.Scan(&t.ID, &t.SessionID, &t.MessageID, &t.Subject, &t.Description, &status,
			&t.ActiveForm, &t.Owner, &rawBlocks, &rawBlockedBy, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt); err != nil {
			return nil, newErr(KindDatabase, "scan native task", err)
		}
		t.Status = NativeTaskStatus(status)
		_ = json.Unmarshal(rawBlocks, &t.Blocks)
		_ = json.Unmarshal(rawBlockedBy, &t.BlockedBy)
		out = append(out, t)
	}
	return out, newErr(KindDatabase, "iterate native tasks", rows.Err())
}

func (s *postgresStore) UpsertTask(ctx context.Context, t Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, session_id, outcome, confidence, files_modified, tests_added, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			outcome = excluded.outcome,
			confidence = excluded.confidence,
			files_modified = excluded.files_modified,
			tests_added = excluded.tests_added,
			completed_at = excluded.completed_at
	`, t.ID, t.SessionID, string(t.Outcome), t.Confidence, t.FilesModified, t.TestsAdded, t.StartedAt, t.CompletedAt)
	return newErr(KindDatabase, "upsert task", err)
}

func (s *postgresStore) GetTaskByTaskID(ctx context.Context, taskID string) (Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, session_id, outcome, confidence, files_modified, tests_added, started_at, completed_at
		FROM tasks WHERE id = $1
	`, taskID)
	return scanPostgresTask(row.Scan)
}

func (s *postgresStore) ListTasks(ctx context.Context, sessionID string) ([]Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, outcome, confidence, files_modified, tests_added, started_at, completed_at
		FROM tasks WHERE session_id = $1 ORDER BY started_at
	`, sessionID)
	if err != nil {
		return nil, newErr(KindDatabase, "list tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanPostgresTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, newErr(KindDatabase, "iterate tasks", rows.Err())
}

func scanPostgresTask(scan func(dest ...any) error) (Task, error) {
	var t Task
	var outcome string
	if err := scan(&t.ID, &t.SessionID, &outcome, &t.Confidence, &t.FilesModified, &t.TestsAdded, &t.StartedAt, &t.CompletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Task{}, newErr(KindNotFound, "get task", err)
		}
		return Task{}, newErr(KindDatabase, "scan task", err)
	}
	t.Outcome = TaskOutcome(outcome)
	return t, nil
}

func (s *postgresStore) UpsertSessionSummary(ctx context.Context, sum SessionSummary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_summaries (session_id, content, leaf_uuid, timestamp, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			content = excluded.content, leaf_uuid = excluded.leaf_uuid,
			timestamp = excluded.timestamp, updated_at = excluded.updated_at
	`, sum.SessionID, sum.Content, sum.LeafUUID, sum.Timestamp, sum.UpdatedAt)
	return newErr(KindDatabase, "upsert session summary", err)
}

func (s *postgresStore) UpsertSessionCompact(ctx context.Context, c SessionCompact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_compacts (session_id, content, timestamp, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET
			content = excluded.content, timestamp = excluded.timestamp, updated_at = excluded.updated_at
	`, c.SessionID, c.Content, c.Timestamp, c.UpdatedAt)
	return newErr(KindDatabase, "upsert session compact", err)
}

func (s *postgresStore) UpsertSessionTodo(ctx context.Context, t SessionTodo) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_todos (session_id, todos, timestamp, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET
			todos = excluded.todos, timestamp = excluded.timestamp, updated_at = excluded.updated_at
	`, t.SessionID, t.Todos, t.Timestamp, t.UpdatedAt)
	return newErr(KindDatabase, "upsert session todo", err)
}

func (s *postgresStore) UpsertOrchestration(ctx context.Context, o Orchestration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orchestrations (id, session_id, event, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
	`, o.ID, o.SessionID, o.Event, string(o.Status), o.CreatedAt, o.UpdatedAt)
	return newErr(KindDatabase, "upsert orchestration", err)
}

func (s *postgresStore) ListHookExecutions(ctx context.Context, orchestrationID string) ([]HookExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, orchestration_id, hook_type, hook_name, plugin_root, directory, command,
		       duration_ms, exit_code, passed, output, error, status,
		       consecutive_failures, max_attempts, pid, cached
		FROM hook_executions WHERE orchestration_id = $1
	`, orchestrationID)
	if err != nil {
		return nil, newErr(KindDatabase, "list hook executions", err)
	}
	defer rows.Close()

	var out []HookExecution
	for rows.Next() {
		var h HookExecution
		var status string
		if err := rows.Scan(&h.ID, &h.OrchestrationID, &h.HookType, &h.HookName, &h.PluginRoot, &h.Directory, &h.Command,
			&h.DurationMS, &h.ExitCode, &h.Passed, &h.Output, &h.Error, &status,
			&h.ConsecutiveFailures, &h.MaxAttempts, &h.PID, &h.Cached); err != nil {
			return nil, newErr(KindDatabase, "scan hook execution", err)
		}
		h.Status = HookExecutionStatus(status)
		out = append(out, h)
	}
	return out, newErr(KindDatabase, "iterate hook executions", rows.Err())
}

func (s *postgresStore) InsertSessionFileChange(ctx context.Context, c SessionFileChange) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_file_changes (id, session_id, message_id, file_path, tool_name, lines_added, lines_removed, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.SessionID, c.MessageID, c.FilePath, c.ToolName, c.LinesAdded, c.LinesRemoved, c.Timestamp)
	return newErr(KindDatabase, "insert session file change", err)
}

func (s *postgresStore) UpsertSessionFileValidation(ctx context.Context, v SessionFileValidation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_file_validations (id, session_id, plugin_name, hook_name, directory, file_path, content_hash, validated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (plugin_name, hook_name, directory, file_path) DO UPDATE SET
			content_hash = excluded.content_hash, validated_at = excluded.validated_at
	`, v.ID, v.SessionID, v.PluginName, v.HookName, v.Directory, v.FilePath, v.ContentHash, v.ValidatedAt)
	return newErr(KindDatabase, "upsert session file validation", err)
}

func (s *postgresStore) EnqueueAsyncHook(ctx context.Context, q AsyncHookQueue) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO async_hook_queue (id, session_id, orchestration_id, event, tool_name, status, queued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
	`, q.ID, q.SessionID, q.OrchestrationID, q.Event, q.ToolName, string(q.Status), q.QueuedAt)
	return newErr(KindDatabase, "enqueue async hook", err)
}

func (s *postgresStore) ListPendingAsyncHooks(ctx context.Context) ([]AsyncHookQueue, error) {
	rows, err := s.pool.Query(ctx, `
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
		var status string
		if err := rows.Scan(&q.ID, &q.SessionID, &q.OrchestrationID, &q.Event, &q.ToolName, &status, &q.QueuedAt, &q.StartedAt, &q.CompletedAt); err != nil {
			return nil, newErr(KindDatabase, "scan async hook", err)
		}
		q.Status = AsyncHookQueueStatus(status)
		out = append(out, q)
	}
	return out, newErr(KindDatabase, "iterate async hooks", rows.Err())
}

func (s *postgresStore) UpdateAsyncHookStatus(ctx context.Context, id string, status AsyncHookQueueStatus) error {
	var err error
	switch status {
	case AsyncHookRunning:
		_, err = s.pool.Exec(ctx, `UPDATE async_hook_queue SET status = $1, started_at = now() WHERE id = $2`, string(status), id)
	case AsyncHookCompleted, AsyncHookCancelled:
		_, err = s.pool.Exec(ctx, `UPDATE async_hook_queue SET status = $1, completed_at = now() WHERE id = $2`, string(status), id)
	default:
		_, err = s.pool.Exec(ctx, `UPDATE async_hook_queue SET status = $1 WHERE id = $2`, string(status), id)
	}
	return newErr(KindDatabase, "update async hook status", err)
}

func (s *postgresStore) UpsertGeneratedSessionSummary(ctx context.Context, g GeneratedSessionSummary) error {
	topics, _ := json.Marshal(g.Topics)
	files, _ := json.Marshal(g.FilesModified)
	tools, _ := json.Marshal(g.ToolsUsed)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO generated_session_summaries (session_id, summary_text, topics, files_modified, tools_used, outcome, message_count, generated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (session_id) DO UPDATE SET
			summary_text = excluded.summary_text, topics = excluded.topics, files_modified = excluded.files_modified,
			tools_used = excluded.tools_used, outcome = excluded.outcome, message_count = excluded.message_count,
			generated_at = excluded.generated_at
	`, g.SessionID, g.SummaryText, topics, files, tools, string(g.Outcome), g.MessageCount, g.GeneratedAt)
	return newErr(KindDatabase, "upsert generated session summary", err)
}

func (s *postgresStore) SearchGeneratedSummaries(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, summary_text, generated_at,
		       ts_rank(summary_tsv, plainto_tsquery('english', $1)) AS score
		FROM generated_session_summaries
		WHERE summary_tsv @@ plainto_tsquery('english', $1)
		ORDER BY score DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, newErr(KindDatabase, "search generated summaries", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.SessionID, &h.Content, &h.Timestamp, &h.Score); err != nil {
			return nil, newErr(KindDatabase, "scan generated summary hit", err)
		}
		h.ID = h.SessionID
		hits = append(hits, h)
	}
	return hits, newErr(KindDatabase, "iterate generated summary hits", rows.Err())
}

// UpsertSyncedSession, GetSyncedSession, ListSyncedSessions, and the
// EncryptionKey methods below satisfy RemoteStore; embedded SQLite never
// implements them since the remote sync feature only runs against Postgres.

func (s *postgresStore) UpsertSyncedSession(ctx context.Context, sess SyncedSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO synced_sessions (id, owner_scope, encrypted_messages, encrypted_summary, message_count, metadata, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			encrypted_messages = excluded.encrypted_messages, encrypted_summary = excluded.encrypted_summary,
			message_count = excluded.message_count, metadata = excluded.metadata, updated_at = excluded.updated_at
	`, sess.ID, sess.OwnerScope, sess.EncryptedMessages, sess.EncryptedSummary, sess.MessageCount, sess.Metadata, sess.UpdatedAt)
	return newErr(KindDatabase, "upsert synced session", err)
}

func (s *postgresStore) GetSyncedSession(ctx context.Context, id string) (SyncedSession, error) {
	var sess SyncedSession
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_scope, encrypted_messages, encrypted_summary, message_count, metadata, updated_at
		FROM synced_sessions WHERE id = $1
	`, id).Scan(&sess.ID, &sess.OwnerScope, &sess.EncryptedMessages, &sess.EncryptedSummary, &sess.MessageCount, &sess.Metadata, &sess.UpdatedAt)
	if err == pgx.ErrNoRows {
		return SyncedSession{}, newErr(KindNotFound, "get synced session", err)
	}
	return sess, newErr(KindDatabase, "get synced session", err)
}

func (s *postgresStore) ListSyncedSessions(ctx context.Context, ownerScope string) ([]SyncedSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_scope, encrypted_messages, encrypted_summary, message_count, metadata, updated_at
		FROM synced_sessions WHERE owner_scope = $1 ORDER BY updated_at DESC
	`, ownerScope)
	if err != nil {
		return nil, newErr(KindDatabase, "list synced sessions", err)
	}
	defer rows.Close()

	var out []SyncedSession
	for rows.Next() {
		var sess SyncedSession
		if err := rows.Scan(&sess.ID, &sess.OwnerScope, &sess.EncryptedMessages, &sess.EncryptedSummary, &sess.MessageCount, &sess.Metadata, &sess.UpdatedAt); err != nil {
			return nil, newErr(KindDatabase, "scan synced session", err)
		}
		out = append(out, sess)
	}
	return out, newErr(KindDatabase, "iterate synced sessions", rows.Err())
}

func (s *postgresStore) UpsertEncryptionKey(ctx context.Context, k EncryptionKey) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO encryption_keys (id, owner_scope, version, wrapped_dek, wrap_nonce, kek_salt, algorithm, active, rotated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			wrapped_dek = excluded.wrapped_dek, wrap_nonce = excluded.wrap_nonce, kek_salt = excluded.kek_salt,
			active = excluded.active, rotated_at = excluded.rotated_at
	`, k.ID, k.OwnerScope, k.Version, k.WrappedDEK, k.WrapNonce, k.KEKSalt, k.Algorithm, k.Active, k.RotatedAt)
	return newErr(KindDatabase, "upsert encryption key", err)
}

func (s *postgresStore) GetActiveEncryptionKey(ctx context.Context, ownerScope string) (EncryptionKey, error) {
	var k EncryptionKey
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_scope, version, wrapped_dek, wrap_nonce, kek_salt, algorithm, active, rotated_at
		FROM encryption_keys WHERE owner_scope = $1 AND active = true ORDER BY version DESC LIMIT 1
	`, ownerScope).Scan(&k.ID, &k.OwnerScope, &k.Version, &k.WrappedDEK, &k.WrapNonce, &k.KEKSalt, &k.Algorithm, &k.Active, &k.RotatedAt)
	if err == pgx.ErrNoRows {
		return EncryptionKey{}, newErr(KindNotFound, "get active encryption key", err)
	}
	return k, newErr(KindDatabase, "get active encryption key", err)
}

func (s *postgresStore) DeactivateEncryptionKey(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE encryption_keys SET active = false, rotated_at = now() WHERE id = $1`, id)
	return newErr(KindDatabase, "deactivate encryption key", err)
}

func (s *postgresStore) UpsertHookExecution(ctx context.Context, h HookExecution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hook_executions (
			id, orchestration_id, hook_type, hook_name, plugin_root, directory, command,
			duration_ms, exit_code, passed, output, error, status,
			consecutive_failures, max_attempts, pid, cached
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			duration_ms = excluded.duration_ms,
			exit_code = excluded.exit_code,
			passed = excluded.passed,
			output = excluded.output,
			error = excluded.error,
			status = excluded.status,
			consecutive_failures = excluded.consecutive_failures,
			cached = excluded.cached
	`, h.ID, h.OrchestrationID, h.HookType, h.HookName, h.PluginRoot, h.Directory, h.Command,
		h.DurationMS, h.ExitCode, h.Passed, h.Output, h.Error, string(h.Status),
		h.ConsecutiveFailures, h.MaxAttempts, h.PID, h.Cached)
	return newErr(KindDatabase, "upsert hook execution", err)
}

// SearchMessages uses Postgres's native tsvector/GIN search in place of the
// embedded engine's FTS5 virtual table, per spec.md §4.1.
func (s *postgresStore) SearchMessages(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, content, message_type, timestamp,
		       ts_rank(content_tsv, plainto_tsquery('english', $1)) AS score
		FROM messages
		WHERE content_tsv @@ plainto_tsquery('english', $1)
		ORDER BY score DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, newErr(KindDatabase, "search messages", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var messageType string
		var ts time.Time
		if err := rows.Scan(&h.ID, &h.SessionID, &h.Content, &messageType, &ts, &h.Score); err != nil {
			return nil, newErr(KindDatabase, "scan search hit", err)
		}
		h.MessageType = MessageType(messageType)
		h.Timestamp = ts
		hits = append(hits, h)
	}
	return hits, newErr(KindDatabase, "iterate search hits", rows.Err())
}
