package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lclpedro/hyperhook/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockSnapshots struct {
	calls    atomic.Int32
	err      error
	deadline bool
}

func (m *mockSnapshots) SnapshotAll(ctx context.Context) (int, error) {
	m.calls.Add(1)
	_, m.deadline = ctx.Deadline()
	return 3, m.err
}

func TestScheduler_AddJobRejectsBadSchedule(t *testing.T) {
	s := New(&mockLogger{})
	err := s.AddJob("not a schedule", NewSnapshotJob(&mockSnapshots{}, 0, &mockLogger{}))
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestScheduler_RunsRegisteredJob(t *testing.T) {
	snaps := &mockSnapshots{}
	s := New(&mockLogger{})
	require.NoError(t, s.AddJob("@every 1s", NewSnapshotJob(snaps, time.Second, &mockLogger{})))

	s.Start()
	assert.Eventually(t, func() bool { return snaps.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestSnapshotJob_Run(t *testing.T) {
	snaps := &mockSnapshots{err: errors.New("owner 2: boom")}
	job := NewSnapshotJob(snaps, 0, &mockLogger{})

	assert.Equal(t, "account_snapshots", job.Name())
	err := New(&mockLogger{}).RunNow(job)
	assert.EqualError(t, err, "owner 2: boom")
	assert.True(t, snaps.deadline)
	assert.Equal(t, int32(1), snaps.calls.Load())
}
