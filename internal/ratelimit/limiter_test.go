package ratelimit

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierByName(t *testing.T) {
	assert.Equal(t, 60, TierByName("free").RPM)
	assert.Equal(t, "tier-1", TierByName("unknown").Name)
	assert.Len(t, AllTiers(), 6)
}

func TestLimiter_Overrides(t *testing.T) {
	l := New("free", 120, 0)
	tier := l.Tier()
	assert.Equal(t, "free", tier.Name)
	assert.Equal(t, 120, tier.RPM)
	assert.Equal(t, 40_000, tier.TPM) // zero override keeps the tier value
}

func TestLimiter_RPMExhaustion(t *testing.T) {
	l := New("free", 2, 0)

	for i := 0; i < 2; i++ {
		res := l.Check("key-a", 100)
		require.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, "2", res.Headers["X-RateLimit-Limit-Requests"])
	}

	res := l.Check("key-a", 100)
	require.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfterMillis, int64(0))
	assert.NotEmpty(t, res.Headers["Retry-After"])

	retryAfter, err := strconv.ParseInt(res.Headers["Retry-After"], 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, int64(1))
}

func TestLimiter_TPMExhaustion(t *testing.T) {
	l := New("free", 1000, 500)

	res := l.Check("key-a", 400)
	require.True(t, res.Allowed)

	// 400 of 500 spent; another 400 cannot fit until the bucket refills.
	res = l.Check("key-a", 400)
	require.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfterMillis, int64(0))

	// A smaller request still passes: denial debits nothing.
	res = l.Check("key-a", 50)
	assert.True(t, res.Allowed)
}

func TestLimiter_OversizedRequestNeverFits(t *testing.T) {
	l := New("free", 1000, 500)

	res := l.Check("key-a", 10_000)
	require.False(t, res.Allowed)
	// Retry-After reflects a full refill, not infinity.
	assert.Greater(t, res.RetryAfterMillis, int64(0))
	assert.LessOrEqual(t, res.RetryAfterMillis, int64(61_000))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New("free", 1, 0)

	require.True(t, l.Check("key-a", 10).Allowed)
	require.False(t, l.Check("key-a", 10).Allowed)

	// A different key has its own buckets.
	assert.True(t, l.Check("key-b", 10).Allowed)
	assert.Equal(t, 2, l.KeyCount())
}

func TestLimiter_NegativeTokensClamped(t *testing.T) {
	l := New("free", 10, 0)
	res := l.Check("key-a", -5)
	require.True(t, res.Allowed)

	stats, ok := l.Metrics().Key("key-a")
	require.True(t, ok)
	assert.Equal(t, int64(0), stats.TokensConsumed)
}

func TestMetrics_KeyStats(t *testing.T) {
	l := New("free", 2, 0)

	l.Check("key-a", 100)
	l.Check("key-a", 200)
	l.Check("key-a", 100) // throttled

	stats, ok := l.Metrics().Key("key-a")
	require.True(t, ok)
	assert.Equal(t, int64(3), stats.Attempts)
	assert.Equal(t, int64(2), stats.Allowed)
	assert.Equal(t, int64(1), stats.Throttled)
	assert.Equal(t, int64(300), stats.TokensConsumed)
	assert.InDelta(t, 1.0/3.0, stats.ThrottleRate, 1e-9)

	_, ok = l.Metrics().Key("never-seen")
	assert.False(t, ok)
}

func TestMetrics_EarlyRetries(t *testing.T) {
	l := New("free", 1, 0)

	require.True(t, l.Check("key-a", 10).Allowed)
	require.False(t, l.Check("key-a", 10).Allowed)

	// Immediately retrying before the advertised Retry-After counts as an
	// early retry, allowed or not.
	for i := 0; i < 4; i++ {
		l.Check("key-a", 10)
	}

	stats, _ := l.Metrics().Key("key-a")
	assert.GreaterOrEqual(t, stats.EarlyRetries, 4)

	patterns := l.Metrics().AbusePatterns()
	require.NotEmpty(t, patterns)
	assert.Equal(t, "key-a", patterns[0].Key)
	assert.Equal(t, "early_retry", patterns[0].Kind)
}

func TestMetrics_ThrottleAnalytics(t *testing.T) {
	l := New("free", 1, 0)

	l.Check("key-a", 10)
	l.Check("key-a", 10)
	l.Check("key-b", 10)
	l.Check("key-b", 10)

	ta := l.Metrics().ThrottleAnalytics()
	assert.Equal(t, int64(4), ta.TotalAttempts)
	assert.Equal(t, int64(2), ta.TotalThrottled)
	assert.InDelta(t, 0.5, ta.ThrottleRate, 1e-9)
	assert.Greater(t, ta.RetryAfterP50MS, int64(0))
	assert.GreaterOrEqual(t, ta.RetryAfterP99MS, ta.RetryAfterP50MS)

	total := int64(0)
	for _, n := range ta.RetryAfterBuckets {
		total += n
	}
	assert.Equal(t, int64(2), total)

	keys := l.Metrics().AllKeys()
	require.Len(t, keys, 2)
}
