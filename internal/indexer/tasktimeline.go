// Package indexer turns a stream of file events into persisted rows with
// at-most-once semantics, and emits the change events consumed by the
// subscription bus.
package indexer

import "time"

// TaskRange is a task's time range: start (required) to end (open if the
// task is still in progress).
type TaskRange struct {
	TaskID    string
	StartTime time.Time
	EndTime   *time.Time
}

// TaskTimeline resolves a message timestamp to the task that was active at
// that instant.
type TaskTimeline struct {
	tasks []TaskRange
}

// NewTaskTimeline returns an empty timeline. Callers append ranges in
// start-time-ascending order via Push.
func NewTaskTimeline() *TaskTimeline {
	return &TaskTimeline{}
}

// Push appends a task range. The caller is responsible for maintaining
// sorted (ascending start_time) order, matching the build step that queries
// `ORDER BY started_at ASC`.
func (t *TaskTimeline) Push(r TaskRange) {
	t.tasks = append(t.tasks, r)
}

// FindActive returns the id of the task active at ts, or "" if none. It
// scans in reverse so that among overlapping ranges the most recently
// started task wins; ties on start_time resolve to the most-recently-pushed
// task because that one is encountered first in the reverse scan.
func (t *TaskTimeline) FindActive(ts time.Time) (string, bool) {
	for i := len(t.tasks) - 1; i >= 0; i-- {
		task := t.tasks[i]
		if task.StartTime.After(ts) {
			continue
		}
		if task.EndTime == nil {
			return task.TaskID, true
		}
		if !task.EndTime.Before(ts) {
			return task.TaskID, true
		}
	}
	return "", false
}
