package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpDBQuery, 10*time.Millisecond)
	c.RecordTiming(OpDBQuery, 30*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.DBQuery)
	assert.Equal(t, int64(2), snap.DBQuery.Count)
	assert.Equal(t, int64(40), snap.DBQuery.TotalTimeMs)
	assert.Equal(t, int64(10), snap.DBQuery.MinTimeMs)
	assert.Equal(t, int64(30), snap.DBQuery.MaxTimeMs)
	assert.Equal(t, 20.0, snap.DBQuery.AvgTimeMs)
}

func TestRecordFailure(t *testing.T) {
	c := NewCollector()
	c.RecordFailure(OpWebhook)
	c.RecordFailure(OpWebhook)

	snap := c.Snapshot()
	require.NotNil(t, snap.Webhook)
	assert.Equal(t, int64(0), snap.Webhook.Count)
	assert.Equal(t, int64(2), snap.Webhook.Failures)
	assert.Equal(t, int64(0), snap.Webhook.MinTimeMs, "min sentinel must not leak into snapshots")
}

func TestSnapshotOmitsIdleOperations(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpStepHandler, time.Millisecond)

	snap := c.Snapshot()
	assert.NotNil(t, snap.StepHandler)
	assert.Nil(t, snap.Webhook)
	assert.Nil(t, snap.DBQuery)
	assert.Nil(t, snap.SendMessage)
	assert.Greater(t, snap.UptimeSeconds, 0.0)
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				c.RecordTiming(OpSendMessage, time.Millisecond)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	snap := c.Snapshot()
	require.NotNil(t, snap.SendMessage)
	assert.Equal(t, int64(800), snap.SendMessage.Count)
}
