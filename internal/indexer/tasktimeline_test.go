package indexer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestTaskTimeline_EmptyReturnsNone(t *testing.T) {
	tl := NewTaskTimeline()
	_, ok := tl.FindActive(parseTime(t, "2024-01-01T10:00:00Z"))
	assert.False(t, ok)
}

func TestTaskTimeline_SingleCompletedTask(t *testing.T) {
	tl := NewTaskTimeline()
	end := parseTime(t, "2024-01-01T10:30:00Z")
	tl.Push(TaskRange{TaskID: "task-1", StartTime: parseTime(t, "2024-01-01T10:00:00Z"), EndTime: &end})

	id, ok := tl.FindActive(parseTime(t, "2024-01-01T10:15:00Z"))
	require.True(t, ok)
	assert.Equal(t, "task-1", id)

	_, ok = tl.FindActive(parseTime(t, "2024-01-01T09:59:00Z"))
	assert.False(t, ok)

	_, ok = tl.FindActive(parseTime(t, "2024-01-01T10:31:00Z"))
	assert.False(t, ok)
}

func TestTaskTimeline_OngoingTaskHasNoUpperBound(t *testing.T) {
	tl := NewTaskTimeline()
	tl.Push(TaskRange{TaskID: "task-ongoing", StartTime: parseTime(t, "2024-01-01T10:00:00Z"), EndTime: nil})

	id, ok := tl.FindActive(parseTime(t, "2030-01-01T00:00:00Z"))
	require.True(t, ok)
	assert.Equal(t, "task-ongoing", id)
}

// TestTaskTimeline_OverlapResolvesToMostRecentlyStarted matches spec.md P14 / original_source fixture:
// t1 runs 10:00-10:30, t2 starts 10:15 and is still open.
func TestTaskTimeline_OverlapResolvesToMostRecentlyStarted(t *testing.T) {
	tl := NewTaskTimeline()
	t1End := parseTime(t, "2024-01-01T10:30:00Z")
	tl.Push(TaskRange{TaskID: "t1", StartTime: parseTime(t, "2024-01-01T10:00:00Z"), EndTime: &t1End})
	tl.Push(TaskRange{TaskID: "t2", StartTime: parseTime(t, "2024-01-01T10:15:00Z"), EndTime: nil})

	id, ok := tl.FindActive(parseTime(t, "2024-01-01T10:05:00Z"))
	require.True(t, ok)
	assert.Equal(t, "t1", id)

	id, ok = tl.FindActive(parseTime(t, "2024-01-01T10:20:00Z"))
	require.True(t, ok)
	assert.Equal(t, "t2", id)

	id, ok = tl.FindActive(parseTime(t, "2024-01-01T10:35:00Z"))
	require.True(t, ok)
	assert.Equal(t, "t2", id)

	_, ok = tl.FindActive(parseTime(t, "2024-01-01T09:00:00Z"))
	assert.False(t, ok)
}
