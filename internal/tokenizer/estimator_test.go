package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"single word", "hello", 1},
		{"two words", "hello world", 2},
		{"trailing period", "hello world.", 3},
		{"punctuation heavy", "wait, what?!", 5},
		{"extra whitespace", "  spaced   out  ", 2},
		{"symbols", "a+b=c", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate(tt.text))
		})
	}
}

func TestEstimateImage(t *testing.T) {
	assert.Equal(t, 85, EstimateImage("low", 2048, 2048))
	// Unknown dimensions fall back to the flat charge.
	assert.Equal(t, 85, EstimateImage("high", 0, 0))
	assert.Equal(t, 85, EstimateImage("auto", 0, 0))
	// 512x512 is one tile.
	assert.Equal(t, 85+170, EstimateImage("high", 512, 512))
	// 1024x1024 is four tiles.
	assert.Equal(t, 85+4*170, EstimateImage("high", 1024, 1024))
	// 513 pixels spills into a second tile column.
	assert.Equal(t, 85+2*170, EstimateImage("high", 513, 512))
}

func TestEstimateAudioVideo(t *testing.T) {
	assert.Equal(t, 0, EstimateAudio(0))
	assert.Equal(t, 0, EstimateAudio(-1))
	assert.Equal(t, 50, EstimateAudio(1))
	assert.Equal(t, 75, EstimateAudio(1.5))
	// Fractional seconds round up.
	assert.Equal(t, 6, EstimateAudio(0.11))

	assert.Equal(t, 0, EstimateVideo(0))
	assert.Equal(t, 300, EstimateVideo(10))
	assert.Equal(t, 31, EstimateVideo(1.01))
}

func TestEstimateMessages(t *testing.T) {
	assert.Equal(t, 0, EstimateMessages(nil))
	// 2 priming + 4 overhead + 1 word.
	assert.Equal(t, 7, EstimateMessages([]string{"Hi"}))
	// 2 priming + 2*(4 overhead) + 2 + 3 words.
	assert.Equal(t, 15, EstimateMessages([]string{"hello there", "general kenobi yes"}))
	// Empty content still pays the message overhead.
	assert.Equal(t, 6, EstimateMessages([]string{""}))
}
