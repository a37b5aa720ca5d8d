// Package textgen produces plausible generated text of an exact token length.
// No language model is involved: sentences are assembled from a fixed word
// list using a PRNG seeded from the prompt, so identical prompts produce
// identical output.
package textgen

import (
	"hash/fnv"
	"math/rand"
	"strings"
)

// wordList is the vocabulary for generated sentences. Ordinary prose words;
// no punctuation, so every word costs exactly one estimator token.
var wordList = []string{
	"the", "system", "provides", "a", "comprehensive", "approach", "to",
	"processing", "requests", "with", "efficient", "handling", "of",
	"multiple", "concurrent", "operations", "each", "component", "maintains",
	"its", "own", "state", "while", "coordinating", "through", "well",
	"defined", "interfaces", "this", "design", "allows", "for", "flexible",
	"configuration", "and", "predictable", "behavior", "under", "load",
	"performance", "characteristics", "remain", "stable", "across", "varying",
	"workloads", "because", "resources", "are", "allocated", "in", "advance",
	"data", "flows", "from", "input", "validation", "into", "routing",
	"where", "decisions", "consider", "both", "current", "capacity",
	"historical", "patterns", "results", "propagate", "back", "clients",
	"as", "they", "become", "available", "without", "unnecessary", "delay",
	"monitoring", "captures", "detailed", "metrics", "at", "every", "stage",
	"enabling", "operators", "observe", "trends", "diagnose", "issues",
	"quickly", "reliability", "depends", "on", "careful", "error", "recovery",
	"combined", "graceful", "degradation", "when", "limits", "reached",
	"overall", "architecture", "balances", "simplicity", "against",
	"capability", "making", "it", "suitable", "many", "deployment",
	"scenarios", "including", "testing", "staging", "production",
}

// punctuation marks emitted as standalone tokens at sentence boundaries.
var sentenceEnders = []string{".", ".", ".", "?", "!"}

// Seed derives a deterministic generator seed from text.
func Seed(text string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return int64(h.Sum64())
}

// Units returns exactly n emission units for the given seed. Each unit is a
// single estimator token: a bare word, or a punctuation mark. Punctuation
// units attach to the preceding word when joined.
func Units(seed int64, n int) []string {
	if n <= 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(seed))
	units := make([]string, 0, n)
	sentenceLen := 0
	target := 8 + rng.Intn(8) // words in current sentence
	newSentence := true

	for len(units) < n {
		// Close out the sentence with punctuation if there is room for at
		// least one more word afterwards, or if this is the last unit.
		if sentenceLen >= target && len(units) < n {
			units = append(units, sentenceEnders[rng.Intn(len(sentenceEnders))])
			sentenceLen = 0
			target = 8 + rng.Intn(8)
			newSentence = true
			continue
		}

		word := wordList[rng.Intn(len(wordList))]
		if newSentence {
			word = strings.ToUpper(word[:1]) + word[1:]
			newSentence = false
		}
		units = append(units, word)
		sentenceLen++
	}

	return units[:n]
}

// Join assembles units into display text. Punctuation units attach directly
// to the previous word; word units are space separated.
func Join(units []string) string {
	var b strings.Builder
	for i, u := range units {
		if i > 0 && !isPunctUnit(u) {
			b.WriteByte(' ')
		}
		b.WriteString(u)
	}
	return b.String()
}

// ChunkText returns the wire text for unit i of a stream: punctuation is
// emitted bare, words after the first carry their separating space.
func ChunkText(units []string, i int) string {
	if i == 0 || isPunctUnit(units[i]) {
		return units[i]
	}
	return " " + units[i]
}

func isPunctUnit(u string) bool {
	switch u {
	case ".", "?", "!", ",", ";", ":":
		return true
	}
	return false
}

// Text generates n tokens of prose for the given seed and joins them.
func Text(seed int64, n int) string {
	return Join(Units(seed, n))
}
