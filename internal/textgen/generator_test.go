package textgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedDeterministic(t *testing.T) {
	assert.Equal(t, Seed("hello world"), Seed("hello world"))
	assert.NotEqual(t, Seed("hello world"), Seed("hello worlds"))
}

func TestUnitsExactLength(t *testing.T) {
	for _, n := range []int{1, 2, 7, 30, 120, 500} {
		units := Units(42, n)
		assert.Len(t, units, n)
	}
	assert.Nil(t, Units(42, 0))
	assert.Nil(t, Units(42, -3))
}

func TestUnitsDeterministic(t *testing.T) {
	assert.Equal(t, Units(7, 50), Units(7, 50))
	assert.NotEqual(t, Units(7, 50), Units(8, 50))
}

func TestUnitsShape(t *testing.T) {
	units := Units(123, 200)

	// First unit is a capitalized word, never punctuation.
	first := units[0]
	require.False(t, isPunctUnit(first))
	assert.Equal(t, strings.ToUpper(first[:1]), first[:1])

	// No two punctuation units in a row.
	for i := 1; i < len(units); i++ {
		if isPunctUnit(units[i]) {
			assert.False(t, isPunctUnit(units[i-1]), "double punctuation at %d", i)
		}
	}
}

func TestJoinAndChunkTextAgree(t *testing.T) {
	units := Units(99, 80)

	var b strings.Builder
	for i := range units {
		b.WriteString(ChunkText(units, i))
	}
	assert.Equal(t, Join(units), b.String())

	// Punctuation binds to the preceding word.
	joined := Join([]string{"Hello", "world", "."})
	assert.Equal(t, "Hello world.", joined)
}

func TestText(t *testing.T) {
	text := Text(5, 40)
	assert.NotEmpty(t, text)
	assert.Equal(t, text, Text(5, 40))
	assert.Empty(t, Text(5, 0))
}

func TestIsReasoningModel(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"deepseek-ai/DeepSeek-R1", true},
		{"deepseek-reasoner", true},
		{"o1-preview", true},
		{"o3-mini", true},
		{"qwq-32b", true},
		{"openai/gpt-oss-120b", false},
		{"gpt-4o", false},
		{"gpt-3.5-turbo", false},
		{"text-embedding-3-small", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsReasoningModel(tt.model), tt.model)
	}
}

func TestReasoningTokenCountBounds(t *testing.T) {
	for _, seed := range []int64{0, 1, -1, 1 << 40, -(1 << 40), 12345} {
		n := ReasoningTokenCount(seed)
		assert.GreaterOrEqual(t, n, 20, "seed %d", seed)
		assert.LessOrEqual(t, n, 60, "seed %d", seed)
	}
	assert.Equal(t, ReasoningTokenCount(77), ReasoningTokenCount(77))
}

func TestReasoningUnitsDifferFromAnswer(t *testing.T) {
	seed := Seed("what is the answer")
	reasoning := ReasoningUnits(seed)
	answer := Units(seed, len(reasoning))
	assert.Len(t, reasoning, ReasoningTokenCount(seed))
	assert.NotEqual(t, answer, reasoning)
}
