package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/mixaill76/openai-sim/internal/utils"
)

const (
	// throttleHistoryLen bounds the per-key ring of recent throttles.
	throttleHistoryLen = 100
	// earlyRetryWindow and earlyRetryThreshold define the abuse rule for
	// clients that retry before the advertised Retry-After has elapsed.
	earlyRetryWindow    = time.Minute
	earlyRetryThreshold = 3
	// sustainedThrottleRate flags keys that spend most of their attempts
	// being throttled.
	sustainedThrottleRate = 0.5
	sustainedMinAttempts  = 10
)

// retryAfterBuckets are the histogram boundaries (milliseconds) for
// throttle retry-after analytics.
var retryAfterBuckets = []int64{100, 500, 1000, 5000, 30000, 60000}

// Metrics records rate-limit attempts and throttles per key and derives
// throttle analytics and abuse patterns from them.
type Metrics struct {
	mu   sync.Mutex
	keys map[string]*keyMetrics
}

type keyMetrics struct {
	attempts  int64
	allowed   int64
	throttled int64
	tokens    int64

	// ring of recent throttle events
	recent    [throttleHistoryLen]throttleEvent
	recentLen int
	recentPos int

	// early-retry detection: a request arriving before this deadline
	// ignored the advertised Retry-After.
	retryDeadline time.Time
	earlyRetries  []time.Time
}

type throttleEvent struct {
	at           time.Time
	retryAfterMS int64
}

func NewMetrics() *Metrics {
	return &Metrics{keys: make(map[string]*keyMetrics)}
}

func (m *Metrics) recordAttempt(key string, allowed bool, retryAfterMS int64, tokens int) {
	now := utils.NowUTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	km := m.keys[key]
	if km == nil {
		km = &keyMetrics{}
		m.keys[key] = km
	}

	km.attempts++
	if allowed {
		km.allowed++
		km.tokens += int64(tokens)
	} else {
		km.throttled++
		km.recent[km.recentPos] = throttleEvent{at: now, retryAfterMS: retryAfterMS}
		km.recentPos = (km.recentPos + 1) % throttleHistoryLen
		if km.recentLen < throttleHistoryLen {
			km.recentLen++
		}
	}

	// Any attempt, allowed or not, that lands before the previously
	// advertised retry deadline counts as an early retry.
	if !km.retryDeadline.IsZero() && now.Before(km.retryDeadline) {
		km.earlyRetries = append(km.earlyRetries, now)
		if len(km.earlyRetries) > throttleHistoryLen {
			km.earlyRetries = km.earlyRetries[len(km.earlyRetries)-throttleHistoryLen:]
		}
	}
	if !allowed {
		km.retryDeadline = now.Add(time.Duration(retryAfterMS) * time.Millisecond)
	} else {
		km.retryDeadline = time.Time{}
	}
}

// KeyStats is the per-key analytics snapshot.
type KeyStats struct {
	Key            string  `json:"key"`
	Attempts       int64   `json:"attempts"`
	Allowed        int64   `json:"allowed"`
	Throttled      int64   `json:"throttled"`
	ThrottleRate   float64 `json:"throttle_rate"`
	TokensConsumed int64   `json:"tokens_consumed"`
	EarlyRetries   int     `json:"early_retries"`
}

func (km *keyMetrics) stats(key string) KeyStats {
	ks := KeyStats{
		Key:            key,
		Attempts:       km.attempts,
		Allowed:        km.allowed,
		Throttled:      km.throttled,
		TokensConsumed: km.tokens,
		EarlyRetries:   len(km.earlyRetries),
	}
	if km.attempts > 0 {
		ks.ThrottleRate = float64(km.throttled) / float64(km.attempts)
	}
	return ks
}

// Key returns analytics for a single key; ok is false for unseen keys.
func (m *Metrics) Key(key string) (KeyStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	km, ok := m.keys[key]
	if !ok {
		return KeyStats{}, false
	}
	return km.stats(key), true
}

// AllKeys returns analytics for every seen key, sorted by throttle count.
func (m *Metrics) AllKeys() []KeyStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]KeyStats, 0, len(m.keys))
	for key, km := range m.keys {
		out = append(out, km.stats(key))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Throttled > out[j].Throttled })
	return out
}

// ThrottleAnalytics summarizes throttling behavior across all keys.
type ThrottleAnalytics struct {
	TotalAttempts     int64            `json:"total_attempts"`
	TotalThrottled    int64            `json:"total_throttled"`
	ThrottleRate      float64          `json:"throttle_rate"`
	RetryAfterBuckets map[string]int64 `json:"retry_after_buckets_ms"`
	RetryAfterP50MS   int64            `json:"retry_after_p50_ms"`
	RetryAfterP99MS   int64            `json:"retry_after_p99_ms"`
}

func (m *Metrics) ThrottleAnalytics() ThrottleAnalytics {
	m.mu.Lock()
	defer m.mu.Unlock()

	ta := ThrottleAnalytics{RetryAfterBuckets: make(map[string]int64)}
	var samples []int64

	for _, km := range m.keys {
		ta.TotalAttempts += km.attempts
		ta.TotalThrottled += km.throttled
		for i := 0; i < km.recentLen; i++ {
			ev := km.recent[i]
			samples = append(samples, ev.retryAfterMS)
			ta.RetryAfterBuckets[bucketLabel(ev.retryAfterMS)]++
		}
	}
	if ta.TotalAttempts > 0 {
		ta.ThrottleRate = float64(ta.TotalThrottled) / float64(ta.TotalAttempts)
	}
	if len(samples) > 0 {
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		ta.RetryAfterP50MS = samples[len(samples)*50/100]
		ta.RetryAfterP99MS = samples[min(len(samples)*99/100, len(samples)-1)]
	}
	return ta
}

func bucketLabel(ms int64) string {
	labels := []string{"<=100ms", "<=500ms", "<=1s", "<=5s", "<=30s", "<=60s"}
	for i, bound := range retryAfterBuckets {
		if ms <= bound {
			return labels[i]
		}
	}
	return ">60s"
}

// AbusePattern describes a suspicious per-key usage pattern.
type AbusePattern struct {
	Key     string  `json:"key"`
	Kind    string  `json:"kind"` // "early_retry" or "sustained_throttle"
	Count   int     `json:"count,omitempty"`
	Rate    float64 `json:"rate,omitempty"`
	Details string  `json:"details"`
}

// AbusePatterns scans all keys for abusive behavior: repeated retries before
// the advertised Retry-After, and sustained throttle rates.
func (m *Metrics) AbusePatterns() []AbusePattern {
	now := utils.NowUTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	var patterns []AbusePattern
	for key, km := range m.keys {
		recentEarly := 0
		for _, t := range km.earlyRetries {
			if now.Sub(t) <= earlyRetryWindow {
				recentEarly++
			}
		}
		if recentEarly > earlyRetryThreshold {
			patterns = append(patterns, AbusePattern{
				Key:     key,
				Kind:    "early_retry",
				Count:   recentEarly,
				Details: "client retries before the advertised Retry-After elapses",
			})
		}

		if km.attempts >= sustainedMinAttempts {
			rate := float64(km.throttled) / float64(km.attempts)
			if rate > sustainedThrottleRate {
				patterns = append(patterns, AbusePattern{
					Key:     key,
					Kind:    "sustained_throttle",
					Rate:    rate,
					Details: "majority of requests are throttled; client ignores rate limits",
				})
			}
		}
	}

	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Key < patterns[j].Key })
	return patterns
}
