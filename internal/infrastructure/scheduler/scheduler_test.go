package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testJob is a configurable Job for scheduler tests.
type testJob struct {
	name  string
	runs  atomic.Int64
	err   error
	panic bool
}

func (j *testJob) Name() string        { return j.name }
func (j *testJob) Description() string { return "test job" }

func (j *testJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	return j.err
}

func newTestScheduler() *Scheduler {
	return NewScheduler(SchedulerConfig{})
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := newTestScheduler()
	schedule := NewIntervalSchedule(time.Hour)

	assert.ErrorIs(t, s.Register(nil, schedule), ErrNilJob)
	assert.ErrorIs(t, s.Register(&testJob{name: "a"}, nil), ErrNilSchedule)

	require.NoError(t, s.Register(&testJob{name: "a"}, schedule))
	assert.ErrorIs(t, s.Register(&testJob{name: "a"}, schedule), ErrJobAlreadyExists)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(&testJob{name: "a"}, NewIntervalSchedule(time.Hour)))

	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler()
	job := &testJob{name: "cycle"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "cycle")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(1), job.runs.Load())

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunNowReportsFailure(t *testing.T) {
	s := newTestScheduler()
	job := &testJob{name: "broken", err: errors.New("db gone")}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "broken")
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, err, result.Error)
}

func TestScheduler_ListJobs(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(&testJob{name: "cycle"}, NewIntervalSchedule(5*time.Minute)))

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, "cycle", infos[0].Name)
	assert.Equal(t, "@every 5m0s", infos[0].Schedule)
	assert.False(t, infos[0].NextRun.IsZero())
	assert.Equal(t, int64(0), infos[0].RunCount)
}

func TestScheduler_PanickingJobIsContained(t *testing.T) {
	s := newTestScheduler()
	job := &testJob{name: "explosive", panic: true}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	// Force the run through the internal path that wraps recover.
	s.mu.RLock()
	sj := s.jobs["explosive"]
	s.mu.RUnlock()

	s.wg.Add(1)
	s.runJob(sj)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1), infos[0].FailCount)
	require.NotNil(t, infos[0].LastResult)
	assert.False(t, infos[0].LastResult.Success)
	assert.Contains(t, infos[0].LastResult.Error.Error(), "job panicked")
	assert.True(t, s.IsRunning())
}
