// Package storage implements the relational schema, migrations, and typed
// CRUD/batch/full-text-search operations shared by the embedded (SQLite)
// and networked (Postgres) backends.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrorKind discriminates storage failures into typed kinds callers can
// switch on, rather than sniffing driver-specific error strings.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindConstraintViolation
	KindDatabase
	KindIO
	KindMigration
)

// Error is the single typed error surfaced by this package. The layer
// never retries internally — callers decide.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsNotFound reports whether err is, or wraps, a KindNotFound storage error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}

// ConfigDir is a registered root directory that contains transcripts.
type ConfigDir struct {
	ID            string
	AbsolutePath  string
	DisplayName   string
	IsDefault     bool
	RegisteredAt  time.Time
	LastIndexedAt *time.Time
	SessionCount  int
}

// Repo is a remote-identified source repository.
type Repo struct {
	ID            string
	RemoteURL     string
	Name          string
	DefaultBranch string
}

// Project is a working tree, keyed by a path-derived slug.
type Project struct {
	ID           string
	Slug         string
	AbsolutePath string
	RelativePath string
	Name         string
	IsWorktree   bool
	ConfigDirID  string
	RepoID       *string
}

// SessionStatus enumerates Session.status.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is a conversational transcript.
type Session struct {
	ID               string
	ProjectID        *string
	Status           SessionStatus
	Slug             string
	TranscriptPath   string
	ConfigDirID      string
	LastIndexedLine  uint32
}

// MessageType enumerates the ten Message.message_type kinds from spec.md §3.
type MessageType string

const (
	MessageSummary            MessageType = "summary"
	MessageUser                MessageType = "user"
	MessageAssistant           MessageType = "assistant"
	MessageToolUse             MessageType = "tool_use"
	MessageToolResult          MessageType = "tool_result"
	MessageProgress            MessageType = "progress"
	MessageSystem              MessageType = "system"
	MessageFileHistorySnapshot MessageType = "file-history-snapshot"
	MessageEvent               MessageType = "event"
	MessageUnknown             MessageType = "unknown"
)

// SourceFileType enumerates Message.source_file_type.
type SourceFileType string

const (
	SourceFileMain   SourceFileType = "main"
	SourceFileAgent  SourceFileType = "agent"
	SourceFileEvents SourceFileType = "events"
)

// Message is a single JSONL record materialized into the relational schema.
type Message struct {
	ID             string
	SessionID      string
	AgentID        *string
	ParentID       *string
	MessageType    MessageType
	Role           string
	Content        string
	ToolName       string
	ToolInput      string
	ToolResult     string
	RawJSON        string
	Timestamp      time.Time
	LineNumber     uint32
	SourceFileName string
	SourceFileType SourceFileType
	TaskID         *string
	TokenCount     int
	LinesAdded     int
	LinesRemoved   int
	FilesChanged   int
	Sentiment      *string
	Frustration    *float64
	IndexedAt      time.Time
}

// NativeTaskStatus enumerates NativeTask.status.
type NativeTaskStatus string

const (
	NativeTaskPending    NativeTaskStatus = "pending"
	NativeTaskInProgress NativeTaskStatus = "in_progress"
	NativeTaskCompleted  NativeTaskStatus = "completed"
)

// NativeTask is a lifecycle-tracked task referenced from within a Session,
// one row per Claude Code TaskCreate/TaskUpdate tool record. Unlike Task
// (metrics), it has no started_at column in its natural schema; lifecycle
// timing lives on created_at/completed_at.
type NativeTask struct {
	ID          string
	SessionID   string
	MessageID   string
	Subject     string
	Description string
	Status      NativeTaskStatus
	ActiveForm  string
	Owner       string
	Blocks      []string
	BlockedBy   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// HookExecutionStatus enumerates HookExecution.status.
type HookExecutionStatus string

const (
	HookExecutionPending   HookExecutionStatus = "pending"
	HookExecutionRunning   HookExecutionStatus = "running"
	HookExecutionCompleted HookExecutionStatus = "completed"
	HookExecutionFailed    HookExecutionStatus = "failed"
)

// HookExecution is one child-process run triggered by the hook engine.
type HookExecution struct {
	ID                  string
	OrchestrationID      string
	HookType             string
	HookName             string
	PluginRoot           string
	Directory            string
	Command              string
	DurationMS           int64
	ExitCode             int
	Passed               bool
	Output               string
	Error                string
	Status               HookExecutionStatus
	ConsecutiveFailures  int
	MaxAttempts          int
	PID                  int
	Cached               bool
}

// OrchestrationStatus enumerates Orchestration.status.
type OrchestrationStatus string

const (
	OrchestrationPending   OrchestrationStatus = "pending"
	OrchestrationRunning   OrchestrationStatus = "running"
	OrchestrationCompleted OrchestrationStatus = "completed"
	OrchestrationFailed    OrchestrationStatus = "failed"
	OrchestrationCancelled OrchestrationStatus = "cancelled"
)

// Orchestration groups one or more HookExecutions triggered by a single
// event.
type Orchestration struct {
	ID        string
	SessionID *string
	Event     string
	Status    OrchestrationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionSummary is the at-most-one-per-session summary child record.
type SessionSummary struct {
	SessionID string
	Content   string
	LeafUUID  string
	Timestamp time.Time
	UpdatedAt time.Time
}

// SessionCompact is the at-most-one-per-session compact child record.
type SessionCompact struct {
	SessionID string
	Content   string
	Timestamp time.Time
	UpdatedAt time.Time
}

// SessionTodo is the at-most-one-per-session todo-list child record.
// Todos is a verbatim JSON array, forward-compatible with whatever shape
// the client emits.
type SessionTodo struct {
	SessionID string
	Todos     string
	Timestamp time.Time
	UpdatedAt time.Time
}

// TaskOutcome enumerates Task.outcome (the independently tracked metrics
// entity, distinct from NativeTask).
type TaskOutcome string

const (
	TaskSuccess   TaskOutcome = "success"
	TaskPartial   TaskOutcome = "partial"
	TaskAbandoned TaskOutcome = "abandoned"
	TaskFailed    TaskOutcome = "failed"
	TaskUnknown   TaskOutcome = "unknown"
)

// Task is an independently tracked unit of work with an outcome and
// confidence score, per spec.md §3 ("Task (metrics)").
type Task struct {
	ID            string
	SessionID     string
	Outcome       TaskOutcome
	Confidence    float64
	FilesModified int
	TestsAdded    int
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// SessionFileChange is an audit-trail row for a single tool-driven file
// edit.
type SessionFileChange struct {
	ID           string
	SessionID    string
	MessageID    string
	FilePath     string
	ToolName     string
	LinesAdded   int
	LinesRemoved int
	Timestamp    time.Time
}

// SessionFileValidation is an audit-trail row for a per-(plugin,hook,dir)
// file-content validation, the same (file, hash) pairs the hook
// validation cache tracks in memory.
type SessionFileValidation struct {
	ID          string
	SessionID   string
	PluginName  string
	HookName    string
	Directory   string
	FilePath    string
	ContentHash string
	ValidatedAt time.Time
}

// AsyncHookQueueStatus enumerates AsyncHookQueue.status.
type AsyncHookQueueStatus string

const (
	AsyncHookQueued    AsyncHookQueueStatus = "pending"
	AsyncHookRunning   AsyncHookQueueStatus = "running"
	AsyncHookCompleted AsyncHookQueueStatus = "completed"
	AsyncHookCancelled AsyncHookQueueStatus = "cancelled"
)

// AsyncHookQueue is a queued hook work item awaiting the scheduler's
// periodic sweep.
type AsyncHookQueue struct {
	ID              string
	SessionID       *string
	OrchestrationID string
	Event           string
	ToolName        string
	Status          AsyncHookQueueStatus
	QueuedAt        time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// GeneratedSessionSummary is the one-per-session post-hoc rollup produced
// after a session completes.
type GeneratedSessionSummary struct {
	SessionID     string
	SummaryText   string
	Topics        []string
	FilesModified []string
	ToolsUsed     []string
	Outcome       TaskOutcome
	MessageCount  int
	GeneratedAt   time.Time
}

// SearchHit is a ranked full-text-search result, best match first. Score
// is the backend's own rank: bm25 distance in SQLite (ascending, lower is
// better), ts_rank in Postgres (descending, higher is better).
type SearchHit struct {
	ID          string
	SessionID   string
	Content     string
	MessageType MessageType
	Timestamp   time.Time
	Score       float64
}

// Store is the backend-agnostic contract. The embedded SQLite engine and
// the networked Postgres engine both implement it (spec.md §4.1: "two
// backends behind one interface").
type Store interface {
	Close() error

	UpsertConfigDir(ctx context.Context, d ConfigDir) error
	GetConfigDir(ctx context.Context, id string) (ConfigDir, error)
	ListConfigDirs(ctx context.Context) ([]ConfigDir, error)

	UpsertRepo(ctx context.Context, r Repo) error
	GetRepo(ctx context.Context, id string) (Repo, error)

	UpsertProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (Project, error)
	ListProjects(ctx context.Context) ([]Project, error)

	UpsertSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessionsByProject(ctx context.Context, projectID string) ([]Session, error)
	UpdateLastIndexedLine(ctx context.Context, sessionID string, line uint32) error

	// InsertMessages performs a chunked batch insert (50 rows/statement)
	// with do-nothing-on-conflict semantics: record ids are authoritative,
	// so re-indexing an already-seen line is a no-op.
	InsertMessages(ctx context.Context, msgs []Message) error
	CountMessages(ctx context.Context, sessionID string) (int, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)

	UpsertNativeTask(ctx context.Context, t NativeTask) error
	ListNativeTasks(ctx context.Context, sessionID string) ([]NativeTask, error)

	UpsertTask(ctx context.Context, t Task) error
	GetTaskByTaskID(ctx context.Context, taskID string) (Task, error)
	ListTasks(ctx context.Context, sessionID string) ([]Task, error)

	UpsertSessionSummary(ctx context.Context, s SessionSummary) error
	UpsertSessionCompact(ctx context.Context, c SessionCompact) error
	UpsertSessionTodo(ctx context.Context, t SessionTodo) error

	UpsertOrchestration(ctx context.Context, o Orchestration) error
	UpsertHookExecution(ctx context.Context, h HookExecution) error
	ListHookExecutions(ctx context.Context, orchestrationID string) ([]HookExecution, error)

	InsertSessionFileChange(ctx context.Context, c SessionFileChange) error
	UpsertSessionFileValidation(ctx context.Context, v SessionFileValidation) error

	EnqueueAsyncHook(ctx context.Context, q AsyncHookQueue) error
	ListPendingAsyncHooks(ctx context.Context) ([]AsyncHookQueue, error)
	UpdateAsyncHookStatus(ctx context.Context, id string, status AsyncHookQueueStatus) error

	UpsertGeneratedSessionSummary(ctx context.Context, g GeneratedSessionSummary) error

	SearchMessages(ctx context.Context, query string, limit int) ([]SearchHit, error)
	SearchGeneratedSummaries(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// RemoteStore extends Store with the synced-session and envelope-key CRUD
// the remote service (cmd/han-remote) needs. Only the networked Postgres
// backend implements it — embedded SQLite never runs the remote service.
type RemoteStore interface {
	Store

	UpsertSyncedSession(ctx context.Context, s SyncedSession) error
	GetSyncedSession(ctx context.Context, id string) (SyncedSession, error)
	ListSyncedSessions(ctx context.Context, ownerScope string) ([]SyncedSession, error)

	UpsertEncryptionKey(ctx context.Context, k EncryptionKey) error
	GetActiveEncryptionKey(ctx context.Context, ownerScope string) (EncryptionKey, error)
	DeactivateEncryptionKey(ctx context.Context, id string) error
}

// SyncedSession is a remote-only encrypted session upload.
type SyncedSession struct {
	ID                string
	OwnerScope        string
	EncryptedMessages string
	EncryptedSummary  string
	MessageCount      int
	Metadata          string
	UpdatedAt         time.Time
}

// EncryptionKey is a remote-only per-owner wrapped data-encryption key.
type EncryptionKey struct {
	ID           string
	OwnerScope   string
	Version      int
	WrappedDEK   string
	WrapNonce    string
	KEKSalt      string
	Algorithm    string
	Active       bool
	RotatedAt    *time.Time
}
