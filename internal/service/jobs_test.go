package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	id := r.Create("//fs01/docs")

	job, err := r.Get(id)
	require.NoError(t, err)
	assert.Len(t, id, 8)
	assert.Equal(t, JobStatusStarted, job.Status)
	assert.Zero(t, job.Progress)
	assert.False(t, job.ShouldStop)
	assert.Nil(t, job.Result)
	assert.Equal(t, "//fs01/docs", job.Share)
}

func TestRegistryUnknownJob(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, r.RequestStop("nope"), ErrJobNotFound)
	assert.ErrorIs(t, r.Update("nope", JobUpdate{}), ErrJobNotFound)
}

func TestRegistryUpdateMerges(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	id := r.Create("s")

	r.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, r.Update(id, JobUpdate{Status: ptrTo(JobStatusRunning), Progress: ptrTo(50.0)}))
	require.NoError(t, r.Update(id, JobUpdate{Stats: &Stats{Total: 4}}))

	job, _ := r.Get(id)
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Equal(t, 50.0, job.Progress)
	assert.Equal(t, 4, job.Stats.Total)
	assert.Equal(t, base.Add(time.Minute), job.UpdatedAt)
	assert.Equal(t, base, job.StartedAt)
}

func TestRegistryProgressClampedAndMonotonic(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	id := r.Create("s")

	require.NoError(t, r.Update(id, JobUpdate{Progress: ptrTo(60.0)}))
	require.NoError(t, r.Update(id, JobUpdate{Progress: ptrTo(30.0)}))
	job, _ := r.Get(id)
	assert.Equal(t, 60.0, job.Progress)

	require.NoError(t, r.Update(id, JobUpdate{Progress: ptrTo(250.0)}))
	job, _ = r.Get(id)
	assert.Equal(t, 100.0, job.Progress)
}

func TestRegistryTerminalStatusIsFinal(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	id := r.Create("s")
	require.NoError(t, r.Update(id, JobUpdate{Status: ptrTo(JobStatusFailed), Result: ptrTo("boom")}))
	require.NoError(t, r.Update(id, JobUpdate{Status: ptrTo(JobStatusRunning)}))

	job, _ := r.Get(id)
	assert.Equal(t, JobStatusFailed, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "boom", *job.Result)
}

func TestRegistryTerminalJobIsFrozen(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	id := r.Create("s")
	require.NoError(t, r.Update(id, JobUpdate{
		Status:   ptrTo(JobStatusCompleted),
		Progress: ptrTo(100.0),
		Result:   ptrTo("processed 2 of 2 files"),
		Stats:    &Stats{Total: 2, Transferred: 2},
	}))
	finished, _ := r.Get(id)

	require.NoError(t, r.Update(id, JobUpdate{
		Status: ptrTo(JobStatusFailed),
		Result: ptrTo("late failure"),
		Stats:  &Stats{Total: 9, Failed: 9},
	}))

	job, _ := r.Get(id)
	assert.Equal(t, JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "processed 2 of 2 files", *job.Result)
	assert.Equal(t, Stats{Total: 2, Transferred: 2}, job.Stats)
	assert.Equal(t, finished.UpdatedAt, job.UpdatedAt)
}

func TestRegistryRequestStopKeepsStatus(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	id := r.Create("s")
	require.NoError(t, r.Update(id, JobUpdate{Status: ptrTo(JobStatusRunning)}))

	require.NoError(t, r.RequestStop(id))
	assert.True(t, r.ShouldStop(id))
	job, _ := r.Get(id)
	assert.Equal(t, JobStatusRunning, job.Status)
}

func TestRegistryStopAll(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	a := r.Create("a")
	b := r.Create("b")

	assert.Equal(t, 2, r.StopAll())

	_, err := r.Get(a)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = r.Get(b)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.True(t, r.ShouldStop(a))
	assert.True(t, r.ShouldStop(b))
	assert.Empty(t, r.List())
}

func TestRegistrySweep(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	done := r.Create("done")
	running := r.Create("running")
	fresh := r.Create("fresh")
	require.NoError(t, r.Update(done, JobUpdate{Status: ptrTo(JobStatusCompleted)}))
	require.NoError(t, r.Update(running, JobUpdate{Status: ptrTo(JobStatusRunning)}))
	r.now = func() time.Time { return base.Add(50 * time.Minute) }
	require.NoError(t, r.Update(fresh, JobUpdate{Status: ptrTo(JobStatusInterrupted)}))

	assert.Equal(t, 1, r.Sweep(base.Add(61*time.Minute)))

	_, err := r.Get(done)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = r.Get(running)
	assert.NoError(t, err, "non-terminal jobs are never swept")
	_, err = r.Get(fresh)
	assert.NoError(t, err)
}

func TestRegistryRunSweeperStops(t *testing.T) {
	r := NewRegistry(time.Nanosecond, nil)
	id := r.Create("s")
	require.NoError(t, r.Update(id, JobUpdate{Status: ptrTo(JobStatusCompleted)}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := r.Get(id)
		return err != nil
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	base := time.Now()
	r.now = func() time.Time { return base }
	older := r.Create("old")
	r.now = func() time.Time { return base.Add(time.Second) }
	newer := r.Create("new")

	jobs := r.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, newer, jobs[0].ID)
	assert.Equal(t, older, jobs[1].ID)
}

func TestRegistryConcurrentUpdates(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	id := r.Create("s")
	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(p float64) {
			defer wg.Done()
			_ = r.Update(id, JobUpdate{Progress: &p})
		}(float64(i))
	}
	wg.Wait()
	job, _ := r.Get(id)
	assert.Equal(t, 100.0, job.Progress)
}
