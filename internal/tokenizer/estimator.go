// Package tokenizer estimates token counts without a real tokenizer.
// The heuristic is deliberately simple and deterministic: one token per
// whitespace-separated word plus one token per punctuation character.
package tokenizer

import (
	"math"
	"strings"
	"unicode"
)

const (
	// imageBaseTokens is charged for every image regardless of detail.
	imageBaseTokens = 85
	// imageTileTokens is charged per 512x512 tile at high detail.
	imageTileTokens = 170
	// audioTokensPerSecond matches the observed audio token accounting rate.
	audioTokensPerSecond = 50
	// videoTokensPerSecond is the per-second charge for video input.
	videoTokensPerSecond = 30

	// Chat messages carry fixed formatting overhead on top of their content.
	messageOverheadTokens = 4
	replyPrimingTokens    = 2
)

// Estimate returns the token count for a piece of text.
// Each word costs one token plus one extra token per punctuation rune.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	tokens := 0
	for _, word := range strings.Fields(text) {
		tokens++
		for _, r := range word {
			if unicode.IsPunct(r) || unicode.IsSymbol(r) {
				tokens++
			}
		}
	}
	return tokens
}

// EstimateImage returns the token cost of an image attachment.
// detail "low" is a flat charge; "high" and "auto" charge per 512px tile.
func EstimateImage(detail string, width, height int) int {
	if detail == "low" {
		return imageBaseTokens
	}
	if width <= 0 || height <= 0 {
		// Unknown dimensions (e.g. opaque base64 payloads) are charged at low detail.
		return imageBaseTokens
	}
	tilesX := int(math.Ceil(float64(width) / 512.0))
	tilesY := int(math.Ceil(float64(height) / 512.0))
	return imageBaseTokens + imageTileTokens*tilesX*tilesY
}

// EstimateAudio returns the token cost of an audio clip of the given duration.
func EstimateAudio(durationSeconds float64) int {
	if durationSeconds <= 0 {
		return 0
	}
	return int(math.Ceil(durationSeconds * audioTokensPerSecond))
}

// EstimateVideo returns the token cost of a video clip of the given duration.
func EstimateVideo(durationSeconds float64) int {
	if durationSeconds <= 0 {
		return 0
	}
	return int(math.Ceil(durationSeconds * videoTokensPerSecond))
}

// EstimateMessages returns the prompt token count for a chat message sequence:
// per-message content plus fixed chat formatting overhead.
func EstimateMessages(texts []string) int {
	if len(texts) == 0 {
		return 0
	}
	total := replyPrimingTokens
	for _, t := range texts {
		total += messageOverheadTokens + Estimate(t)
	}
	return total
}
