// Package lock implements the single-writer coordinator lock: a PID and
// heartbeat file at a conventional path, liveness detection, and graceful
// takeover of stale locks.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/shirou/gopsutil/v4/process"
)

// StaleTimeout is the heartbeat age beyond which a lock is considered
// abandoned by its holder.
const StaleTimeout = 30 * time.Second

// HeartbeatInterval is how often a held lock's heartbeat is refreshed.
const HeartbeatInterval = 10 * time.Second

var ErrNoHomeDir = errors.New("lock: could not resolve home directory")

// AlreadyLockedError reports that another live process already holds the
// lock.
type AlreadyLockedError struct {
	PID int
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("lock: held by another process (pid=%d)", e.PID)
}

// Data is the on-disk JSON shape of the lock file.
type Data struct {
	PID         int    `json:"pid"`
	AcquiredAt  string `json:"acquired_at"`
	HeartbeatAt string `json:"heartbeat_at"`
	Port        *int   `json:"port,omitempty"`
}

// Coordinator manages the process-wide coordinator lock file.
type Coordinator struct {
	path string

	stopHeartbeat chan struct{}
}

// New creates a Coordinator using the default path, ~/.han/coordinator.lock.
func New() (*Coordinator, error) {
	home, err := homedir.Dir()
	if err != nil || home == "" {
		return nil, ErrNoHomeDir
	}
	return &Coordinator{path: filepath.Join(home, ".han", "coordinator.lock")}, nil
}

// NewAt creates a Coordinator at an explicit path, for tests and for
// deployments with a custom data directory.
func NewAt(path string) *Coordinator {
	return &Coordinator{path: path}
}

// Path returns the lock file's path.
func (c *Coordinator) Path() string { return c.path }

// Acquire attempts to take the lock. If an existing lock file is present and
// its holder is live and has heartbeat within StaleTimeout, Acquire fails
// with *AlreadyLockedError. A missing, stale, or unparseable lock file is
// silently replaced.
func (c *Coordinator) Acquire(port *int) error {
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	if existing, err := c.ReadLock(); err == nil {
		if !c.isStale(existing) {
			return &AlreadyLockedError{PID: existing.PID}
		}
		_ = os.Remove(c.path)
	} else if _, statErr := os.Stat(c.path); statErr == nil {
		// File exists but failed to parse: treat as corrupt, replace it.
		_ = os.Remove(c.path)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	data := Data{
		PID:         os.Getpid(),
		AcquiredAt:  now,
		HeartbeatAt: now,
		Port:        port,
	}
	return c.write(data)
}

// Heartbeat refreshes heartbeat_at in place. Failures are best-effort: a
// missing or unreadable lock file is silently ignored.
func (c *Coordinator) Heartbeat() error {
	data, err := c.ReadLock()
	if err != nil {
		return nil
	}
	data.HeartbeatAt = time.Now().UTC().Format(time.RFC3339Nano)
	return c.write(data)
}

// StartHeartbeat launches a goroutine that calls Heartbeat every
// HeartbeatInterval until the returned stop function is called or Close is
// called. Release alone does not stop it.
func (c *Coordinator) StartHeartbeat() (stop func()) {
	stopCh := make(chan struct{})
	c.stopHeartbeat = stopCh
	go func() {
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = c.Heartbeat()
			case <-stopCh:
				return
			}
		}
	}()
	return func() {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
}

// Release removes the lock file. Safe to call when no lock file exists.
func (c *Coordinator) Release() error {
	err := os.Remove(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Close stops any running heartbeat goroutine and releases the lock.
// Callers defer Close() immediately after a successful Acquire.
func (c *Coordinator) Close() error {
	if c.stopHeartbeat != nil {
		select {
		case <-c.stopHeartbeat:
		default:
			close(c.stopHeartbeat)
		}
	}
	return c.Release()
}

// IsLocked reports whether a live, non-stale lock currently exists.
func (c *Coordinator) IsLocked() bool {
	data, err := c.ReadLock()
	if err != nil {
		return false
	}
	return !c.isStale(data)
}

// ReadLock parses the current lock file.
func (c *Coordinator) ReadLock() (Data, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return Data{}, err
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return Data{}, err
	}
	return data, nil
}

func (c *Coordinator) write(data Data) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, raw, 0o644)
}

// isStale reports whether the lock's holder is dead, or its heartbeat is
// older than StaleTimeout, or the heartbeat timestamp cannot be parsed.
func (c *Coordinator) isStale(data Data) bool {
	if !processExists(data.PID) {
		return true
	}

	heartbeat, err := time.Parse(time.RFC3339Nano, data.HeartbeatAt)
	if err != nil {
		heartbeat, err = time.Parse(time.RFC3339, data.HeartbeatAt)
		if err != nil {
			return true
		}
	}

	return time.Since(heartbeat) > StaleTimeout
}

// processExists reports whether a process with the given PID is alive,
// using a zero-signal-equivalent liveness probe. Platforms gopsutil cannot
// introspect conservatively report "alive" rather than falsely declaring a
// live lock stale.
var processExists = func(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return alive
}
