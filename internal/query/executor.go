package query

import (
	"context"
	"fmt"

	"github.com/thebushidocollective/han/internal/storage"
)

// Executor answers one (operation, variables) pair against a Store,
// returning the uniform response envelope transport.Server forwards
// verbatim to the client. It mirrors transport.Executor's signature
// without importing that package, so transport never depends on query.
type Executor struct {
	Store storage.Store
}

// Result is the shape transport.QueryResponse expects from Run.
type Result struct {
	Data   any
	Errors []string
}

// NewExecutor returns an Executor backed by store.
func NewExecutor(store storage.Store) *Executor {
	return &Executor{Store: store}
}

// Run dispatches query (an operation name) against variables. Unknown
// operations and per-field failures are reported in Errors without
// aborting whatever data could be gathered.
func (e *Executor) Run(ctx context.Context, query string, variables map[string]any) Result {
	switch query {
	case "configDirs":
		return e.configDirs(ctx)
	case "projects":
		return e.projects(ctx)
	case "sessionsByProject":
		return e.sessionsByProject(ctx, variables)
	case "session":
		return e.session(ctx, variables)
	case "messages":
		return e.messages(ctx, variables)
	case "searchMessages":
		return e.searchMessages(ctx, variables)
	case "searchSummaries":
		return e.searchSummaries(ctx, variables)
	case "nativeTasks":
		return e.nativeTasks(ctx, variables)
	case "hookExecutions":
		return e.hookExecutions(ctx, variables)
	default:
		return Result{Errors: []string{fmt.Sprintf("unknown operation %q", query)}}
	}
}

func (e *Executor) configDirs(ctx context.Context) Result {
	dirs, err := e.Store.ListConfigDirs(ctx)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}
	return Result{Data: dirs}
}

func (e *Executor) projects(ctx context.Context) Result {
	projects, err := e.Store.ListProjects(ctx)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}
	return Result{Data: projects}
}

func stringVar(variables map[string]any, key string) string {
	v, _ := variables[key].(string)
	return v
}

func intVar(variables map[string]any, key string) int {
	switch v := variables[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (e *Executor) sessionsByProject(ctx context.Context, variables map[string]any) Result {
	projectID := stringVar(variables, "projectId")
	if projectID == "" {
		return Result{Errors: []string{"projectId is required"}}
	}
	sessions, err := e.Store.ListSessionsByProject(ctx, projectID)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}

	args := PageArgs{
		First:  intPtrVar(variables, "first"),
		After:  stringPtrVar(variables, "after"),
		Last:   intPtrVar(variables, "last"),
		Before: stringPtrVar(variables, "before"),
	}
	page := Paginate(sessions, args, func(s storage.Session) string {
		return EncodeGlobalID("Session", s.ID)
	})
	return Result{Data: page}
}

func (e *Executor) session(ctx context.Context, variables map[string]any) Result {
	typename, rawID, err := DecodeGlobalID(stringVar(variables, "id"))
	if err != nil || typename != "Session" {
		return Result{Errors: []string{"invalid session id"}}
	}
	sess, err := e.Store.GetSession(ctx, rawID)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}
	return Result{Data: sess}
}

func (e *Executor) messages(ctx context.Context, variables map[string]any) Result {
	sessionID := stringVar(variables, "sessionId")
	if sessionID == "" {
		return Result{Errors: []string{"sessionId is required"}}
	}
	msgs, err := e.Store.ListMessages(ctx, sessionID)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}

	args := PageArgs{
		First:  intPtrVar(variables, "first"),
		After:  stringPtrVar(variables, "after"),
		Last:   intPtrVar(variables, "last"),
		Before: stringPtrVar(variables, "before"),
	}
	page := Paginate(msgs, args, func(m storage.Message) string {
		return EncodeMessageCursor(m.Timestamp.Format(timeFormat), m.ID)
	})
	return Result{Data: page}
}

const timeFormat = "2006-01-02T15:04:05.999999999Z07:00"

func (e *Executor) searchMessages(ctx context.Context, variables map[string]any) Result {
	q := stringVar(variables, "query")
	limit := intVar(variables, "limit")
	if limit <= 0 {
		limit = 20
	}
	hits, err := e.Store.SearchMessages(ctx, q, limit)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}
	return Result{Data: hits}
}

func (e *Executor) searchSummaries(ctx context.Context, variables map[string]any) Result {
	q := stringVar(variables, "query")
	limit := intVar(variables, "limit")
	if limit <= 0 {
		limit = 20
	}
	hits, err := e.Store.SearchGeneratedSummaries(ctx, q, limit)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}
	return Result{Data: hits}
}

func (e *Executor) nativeTasks(ctx context.Context, variables map[string]any) Result {
	sessionID := stringVar(variables, "sessionId")
	if sessionID == "" {
		return Result{Errors: []string{"sessionId is required"}}
	}
	tasks, err := e.Store.ListNativeTasks(ctx, sessionID)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}
	return Result{Data: tasks}
}

func (e *Executor) hookExecutions(ctx context.Context, variables map[string]any) Result {
	orchestrationID := stringVar(variables, "orchestrationId")
	if orchestrationID == "" {
		return Result{Errors: []string{"orchestrationId is required"}}
	}
	execs, err := e.Store.ListHookExecutions(ctx, orchestrationID)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}
	return Result{Data: execs}
}

func intPtrVar(variables map[string]any, key string) *int {
	v, ok := variables[key]
	if !ok {
		return nil
	}
	n := intVar(variables, key)
	_ = v
	return &n
}

func stringPtrVar(variables map[string]any, key string) *string {
	v, ok := variables[key].(string)
	if !ok || v == "" {
		return nil
	}
	return &v
}
