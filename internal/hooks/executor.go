package hooks

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultTimeout is used when a HookSpec doesn't set its own.
const DefaultTimeout = 30 * time.Second

// StreamEventType discriminates Execute's streamed messages.
type StreamEventType string

const (
	StreamStdout   StreamEventType = "stdout"
	StreamStderr   StreamEventType = "stderr"
	StreamComplete StreamEventType = "complete"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one message tagged with the hook run it belongs to.
type StreamEvent struct {
	Type       StreamEventType
	HookID     string
	PluginName string
	Event      string
	Line       string // for Stdout/Stderr
	ExitCode   int    // for Complete/Error
	DurationMS int64  // for Complete
	Reason     string // for Error
	Cached     bool
}

// Result is the overall outcome of one Execute call.
type Result struct {
	HookID     string
	ExitCode   int
	DurationMS int64
	Cached     bool
}

// Execute runs spec.Command via `sh -c` with the given environment
// additions and working directory, forwarding stdout/stderr line-by-line
// on events and finishing with a StreamComplete or StreamError message.
// Prompt-only hooks (no command) are skipped and return Result{ExitCode: 0}.
func Execute(ctx context.Context, spec HookSpec, pluginName, event, dir string, envAdditions []string, events chan<- StreamEvent) Result {
	hookID := ulid.Make().String()

	if spec.Command == "" {
		return Result{HookID: hookID, ExitCode: 0}
	}

	timeout := DefaultTimeout
	if spec.Timeout > 0 {
		timeout = time.Duration(spec.Timeout) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", spec.Command)
	cmd.Dir = dir
	cmd.Env = append(cmd.Environ(), envAdditions...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		emit(events, StreamEvent{Type: StreamError, HookID: hookID, PluginName: pluginName, Event: event, Reason: err.Error()})
		return Result{HookID: hookID, ExitCode: -1}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		emit(events, StreamEvent{Type: StreamError, HookID: hookID, PluginName: pluginName, Event: event, Reason: err.Error()})
		return Result{HookID: hookID, ExitCode: -1}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		emit(events, StreamEvent{Type: StreamError, HookID: hookID, PluginName: pluginName, Event: event, Reason: err.Error()})
		return Result{HookID: hookID, ExitCode: -1}
	}

	done := make(chan struct{})
	go streamLines(stdout, StreamStdout, hookID, pluginName, event, events)
	go func() {
		streamLines(stderr, StreamStderr, hookID, pluginName, event, events)
		close(done)
	}()

	err = cmd.Wait()
	<-done
	duration := time.Since(start).Milliseconds()

	if runCtx.Err() == context.DeadlineExceeded {
		emit(events, StreamEvent{Type: StreamError, HookID: hookID, PluginName: pluginName, Event: event, Reason: "timed out"})
		return Result{HookID: hookID, ExitCode: -1, DurationMS: duration}
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			emit(events, StreamEvent{Type: StreamError, HookID: hookID, PluginName: pluginName, Event: event, Reason: err.Error()})
			return Result{HookID: hookID, ExitCode: -1, DurationMS: duration}
		}
	}

	emit(events, StreamEvent{Type: StreamComplete, HookID: hookID, PluginName: pluginName, Event: event, ExitCode: exitCode, DurationMS: duration})
	return Result{HookID: hookID, ExitCode: exitCode, DurationMS: duration}
}

// CachedResult builds the immediate Complete{0,0, cached=true} result
// emitted on a validation-cache hit, without spawning a process.
func CachedResult(pluginName, event string, events chan<- StreamEvent) Result {
	hookID := ulid.Make().String()
	emit(events, StreamEvent{Type: StreamComplete, HookID: hookID, PluginName: pluginName, Event: event, ExitCode: 0, DurationMS: 0, Cached: true})
	return Result{HookID: hookID, ExitCode: 0, DurationMS: 0, Cached: true}
}

func streamLines(r io.Reader, kind StreamEventType, hookID, pluginName, event string, events chan<- StreamEvent) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		emit(events, StreamEvent{Type: kind, HookID: hookID, PluginName: pluginName, Event: event, Line: scanner.Text()})
	}
}

func emit(events chan<- StreamEvent, ev StreamEvent) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	default:
	}
}
