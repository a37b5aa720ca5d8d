package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	m := New(true)
	assert.NotNil(t, m)
	assert.True(t, m.enabled)

	m2 := New(false)
	assert.NotNil(t, m2)
	assert.False(t, m2.enabled)
}

func TestRecordRequest_Enabled(t *testing.T) {
	RequestsTotal.Reset()
	RequestDuration.Reset()

	m := New(true)
	m.RecordRequest("/v1/chat/completions", "gpt-4o", 200, 100*time.Millisecond)

	count := testutil.CollectAndCount(RequestsTotal)
	assert.Greater(t, count, 0)

	m.RecordRequest("/v1/chat/completions", "gpt-4o", 429, 5*time.Millisecond)
	count = testutil.CollectAndCount(RequestsTotal)
	assert.Equal(t, 2, count)
}

func TestRecordRequest_Disabled(t *testing.T) {
	RequestsTotal.Reset()

	m := New(false)
	m.RecordRequest("/v1/chat/completions", "gpt-4o", 200, 100*time.Millisecond)

	assert.Equal(t, 0, testutil.CollectAndCount(RequestsTotal))
}

func TestRecordTokens(t *testing.T) {
	TokensGenerated.Reset()

	m := New(true)
	m.RecordTokens("/v1/chat/completions", "gpt-4o", "completion", 42)
	m.RecordTokens("/v1/chat/completions", "gpt-4o", "completion", 0)

	value := testutil.ToFloat64(TokensGenerated.WithLabelValues("/v1/chat/completions", "gpt-4o", "completion"))
	assert.Equal(t, 42.0, value)
}

func TestStreamLifecycle(t *testing.T) {
	StreamsTerminated.Reset()

	m := New(true)
	before := testutil.ToFloat64(ActiveStreams)

	m.StreamStarted()
	assert.Equal(t, before+1, testutil.ToFloat64(ActiveStreams))

	m.StreamFinished("completed")
	assert.Equal(t, before, testutil.ToFloat64(ActiveStreams))
	assert.Equal(t, 1.0, testutil.ToFloat64(StreamsTerminated.WithLabelValues("completed")))
}

func TestRecordKVCacheRoute(t *testing.T) {
	m := New(true)
	before := testutil.ToFloat64(KVCacheHitTokens)

	m.RecordKVCacheRoute(32, 16)
	assert.Equal(t, before+32, testutil.ToFloat64(KVCacheHitTokens))
}

func TestRecordThrottle(t *testing.T) {
	RateLimitThrottles.Reset()

	m := New(true)
	m.RecordThrottle("rpm")
	m.RecordThrottle("rpm")
	m.RecordThrottle("tpm")

	assert.Equal(t, 2.0, testutil.ToFloat64(RateLimitThrottles.WithLabelValues("rpm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RateLimitThrottles.WithLabelValues("tpm")))
}
