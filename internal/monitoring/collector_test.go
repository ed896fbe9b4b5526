package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogramBucketLabels(t *testing.T) {
	c := NewCollector()
	c.RecordResponseTime(5 * time.Millisecond)
	c.RecordResponseTime(150 * time.Millisecond)
	c.RecordResponseTime(10 * time.Second)

	snap := c.Snapshot()

	assert.Equal(t, int64(1), snap.HistogramBuckets["le_10ms"])
	assert.Equal(t, int64(1), snap.HistogramBuckets["le_200ms"])
	assert.Equal(t, int64(1), snap.HistogramBuckets["+Inf"])
	assert.Len(t, snap.HistogramBuckets, len(histogramBucketsMs)+1)
}

func TestRecordAPICallAccumulatesPerProvider(t *testing.T) {
	c := NewCollector()
	c.RecordAPICall("etherscan", 40*time.Millisecond, false)
	c.RecordAPICall("etherscan", 120*time.Millisecond, true)
	c.RecordAPICall("coingecko", 15*time.Millisecond, false)

	snap := c.Snapshot()

	eth, ok := snap.Providers["etherscan"]
	require.True(t, ok)
	assert.Equal(t, int64(2), eth.Calls)
	assert.Equal(t, int64(1), eth.Failures)
	assert.Equal(t, int64(160), eth.TotalMs)
	assert.Equal(t, int64(40), eth.MinMs)
	assert.Equal(t, int64(120), eth.MaxMs)

	cg, ok := snap.Providers["coingecko"]
	require.True(t, ok)
	assert.Equal(t, int64(1), cg.Calls)
	assert.Equal(t, int64(0), cg.Failures)
}
