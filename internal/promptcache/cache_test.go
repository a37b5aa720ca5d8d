package promptcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixaill76/openai-sim/internal/openai"
)

func chatReq(model, content string) *openai.ChatCompletionRequest {
	return &openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.Message{
			{Role: "user", Content: content},
		},
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint(chatReq("gpt-4o", "hello world"))
	b := Fingerprint(chatReq("gpt-4o", "hello world"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_SensitiveToPromptFields(t *testing.T) {
	base := Fingerprint(chatReq("gpt-4o", "hello"))

	assert.NotEqual(t, base, Fingerprint(chatReq("gpt-4o-mini", "hello")))
	assert.NotEqual(t, base, Fingerprint(chatReq("gpt-4o", "goodbye")))

	withTools := chatReq("gpt-4o", "hello")
	withTools.Tools = []openai.Tool{
		{Type: "function", Function: openai.ToolFunction{Name: "get_weather"}},
	}
	assert.NotEqual(t, base, Fingerprint(withTools))
}

func TestFingerprint_IgnoresSamplingFields(t *testing.T) {
	plain := chatReq("gpt-4o", "hello")

	tuned := chatReq("gpt-4o", "hello")
	temp := 0.1
	tuned.Temperature = &temp
	mt := 50
	tuned.MaxTokens = &mt
	tuned.Stream = true

	assert.Equal(t, Fingerprint(plain), Fingerprint(tuned))
}

func TestFingerprint_ToolOrderInsensitive(t *testing.T) {
	a := chatReq("gpt-4o", "hello")
	a.Tools = []openai.Tool{
		{Type: "function", Function: openai.ToolFunction{Name: "alpha"}},
		{Type: "function", Function: openai.ToolFunction{Name: "beta"}},
	}
	b := chatReq("gpt-4o", "hello")
	b.Tools = []openai.Tool{
		{Type: "function", Function: openai.ToolFunction{Name: "beta"}},
		{Type: "function", Function: openai.ToolFunction{Name: "alpha"}},
	}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestCache_MissThenHit(t *testing.T) {
	c, err := New(16, time.Minute, 1024)
	require.NoError(t, err)

	assert.Equal(t, 0, c.Get("fp1"))
	c.Put("fp1", 2000, 1984)
	assert.Equal(t, 1984, c.Get("fp1"))

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 50.0, stats.HitRate, 1e-9)
}

func TestCache_BelowThresholdNeverCached(t *testing.T) {
	c, err := New(16, time.Minute, 1024)
	require.NoError(t, err)

	c.Put("fp1", 500, 480)
	assert.Equal(t, 0, c.Get("fp1"))
	assert.Equal(t, 0, c.Len())

	// Zero cached count is not worth an entry either.
	c.Put("fp2", 2000, 0)
	assert.Equal(t, 0, c.Len())
}

func TestCache_TTLExpiry(t *testing.T) {
	c, err := New(16, 10*time.Millisecond, 100)
	require.NoError(t, err)

	c.Put("fp1", 2000, 1984)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c.Get("fp1"))

	// Refresh restores the entry.
	c.Put("fp1", 2000, 1984)
	assert.Equal(t, 1984, c.Get("fp1"))
}

func TestCache_InvalidateAndPurge(t *testing.T) {
	c, err := New(16, time.Minute, 100)
	require.NoError(t, err)

	c.Put("fp1", 2000, 1900)
	c.Put("fp2", 3000, 2900)
	assert.Equal(t, 2, c.Len())

	c.Invalidate("fp1")
	assert.Equal(t, 0, c.Get("fp1"))

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCache_NilSafe(t *testing.T) {
	var c *Cache
	assert.Equal(t, 0, c.Get("fp"))
	c.Put("fp", 2000, 1900)
	assert.Equal(t, Stats{}, c.Stats())
	assert.Equal(t, 0, c.Len())
}
