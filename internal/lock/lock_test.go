package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLock(t *testing.T) *Coordinator {
	t.Helper()
	return NewAt(filepath.Join(t.TempDir(), "test.lock"))
}

func intPtr(v int) *int { return &v }

func TestAcquireAndRelease(t *testing.T) {
	l := testLock(t)

	require.NoError(t, l.Acquire(intPtr(41956)))
	assert.True(t, l.IsLocked())

	data, err := l.ReadLock()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), data.PID)
	require.NotNil(t, data.Port)
	assert.Equal(t, 41956, *data.Port)

	require.NoError(t, l.Release())
	assert.False(t, l.IsLocked())
}

func TestDoubleAcquireFails(t *testing.T) {
	l := testLock(t)
	require.NoError(t, l.Acquire(nil))

	err := l.Acquire(nil)
	require.Error(t, err)
	var alreadyLocked *AlreadyLockedError
	assert.ErrorAs(t, err, &alreadyLocked)

	require.NoError(t, l.Release())
}

func TestStaleLockRemoved(t *testing.T) {
	l := testLock(t)

	stale := Data{
		PID:         99999999,
		AcquiredAt:  time.Now().UTC().Format(time.RFC3339Nano),
		HeartbeatAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	require.NoError(t, l.write(stale))

	require.NoError(t, l.Acquire(nil))
	assert.True(t, l.IsLocked())
	data, err := l.ReadLock()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), data.PID)

	require.NoError(t, l.Release())
}

func TestStaleHeartbeatRemoved(t *testing.T) {
	l := testLock(t)

	old := Data{
		PID:         os.Getpid(),
		AcquiredAt:  time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano),
		HeartbeatAt: time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano),
	}
	require.NoError(t, l.write(old))

	require.NoError(t, l.Acquire(nil))
	assert.True(t, l.IsLocked())
	require.NoError(t, l.Release())
}

func TestHeartbeatUpdatesTimestamp(t *testing.T) {
	l := testLock(t)
	require.NoError(t, l.Acquire(nil))

	before, err := l.ReadLock()
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, l.Heartbeat())

	after, err := l.ReadLock()
	require.NoError(t, err)
	assert.NotEqual(t, before.HeartbeatAt, after.HeartbeatAt)

	require.NoError(t, l.Release())
}

func TestCorruptedLockOverwritten(t *testing.T) {
	l := testLock(t)
	require.NoError(t, os.WriteFile(l.Path(), []byte("not json"), 0o644))

	require.NoError(t, l.Acquire(nil))
	assert.True(t, l.IsLocked())
	require.NoError(t, l.Release())
}

func TestProcessExists(t *testing.T) {
	assert.True(t, processExists(os.Getpid()))
	assert.False(t, processExists(99999999))
}

func TestCloseReleasesAndStopsHeartbeat(t *testing.T) {
	l := testLock(t)
	require.NoError(t, l.Acquire(nil))
	stop := l.StartHeartbeat()
	defer stop()

	require.NoError(t, l.Close())
	assert.False(t, l.IsLocked())
}
