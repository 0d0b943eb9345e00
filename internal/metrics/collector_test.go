package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorEmptySnapshot(t *testing.T) {
	c := NewCollector()
	snap := c.Snapshot()

	assert.Nil(t, snap.Transfer)
	assert.Nil(t, snap.Checkpoint)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}

func TestCollectorRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpTransfer, 100*time.Millisecond)
	c.RecordTiming(OpTransfer, 300*time.Millisecond)
	c.RecordResult(OpTransfer, 200*time.Millisecond, errors.New("timeout"))

	snap := c.Snapshot()
	require.NotNil(t, snap.Transfer)
	assert.Equal(t, int64(3), snap.Transfer.Count)
	assert.Equal(t, int64(1), snap.Transfer.Errors)
	assert.Equal(t, int64(600), snap.Transfer.TotalTimeMs)
	assert.Equal(t, 200.0, snap.Transfer.AvgTimeMs)
	assert.Equal(t, int64(100), snap.Transfer.MinTimeMs)
	assert.Equal(t, int64(300), snap.Transfer.MaxTimeMs)
	assert.Nil(t, snap.RemoteList)
}

func TestCollectorLastError(t *testing.T) {
	c := NewCollector()
	c.RecordResult(OpConvert, time.Millisecond, errors.New("bad utf-8"))
	c.RecordTiming(OpConvert, time.Millisecond)

	snap := c.Snapshot().Convert
	require.NotNil(t, snap)
	assert.Equal(t, 0.5, snap.ErrorRate)
	assert.Equal(t, "bad utf-8", snap.LastError)
	require.NotNil(t, snap.LastErrorAt)
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpTransfer, time.Millisecond)
	c.Reset()

	assert.Nil(t, c.Snapshot().Transfer)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpTransfer, time.Millisecond)
	c.Reset()
	assert.Nil(t, c.Snapshot().Transfer)
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(OpCheckpoint, time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), c.Snapshot().Checkpoint.Count)
}

func TestPrometheusCounters(t *testing.T) {
	before := testutil.ToFloat64(BatchTimeouts)
	BatchTimeouts.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(BatchTimeouts))

	JobsFinished.WithLabelValues("completed").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(JobsFinished.WithLabelValues("completed")), 1.0)
}
