// Package ratelimit enforces per-key request and token budgets with two
// independent token buckets (requests per minute and tokens per minute).
package ratelimit

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mixaill76/openai-sim/internal/utils"
)

// Limiter applies a dual token bucket per API key. Keys are tracked from
// first sight and never evicted within a process lifetime.
type Limiter struct {
	mu   sync.RWMutex
	keys map[string]*keyState
	tier Tier

	metrics *Metrics
}

type keyState struct {
	mu  sync.Mutex
	rpm *rate.Limiter
	tpm *rate.Limiter
}

// New creates a limiter for the named tier. Explicit rpm/tpm overrides
// replace the tier values when positive.
func New(tierName string, rpmOverride, tpmOverride int) *Limiter {
	tier := TierByName(tierName)
	if rpmOverride > 0 {
		tier.RPM = rpmOverride
	}
	if tpmOverride > 0 {
		tier.TPM = tpmOverride
	}
	return &Limiter{
		keys:    make(map[string]*keyState),
		tier:    tier,
		metrics: NewMetrics(),
	}
}

// Tier returns the effective tier configuration.
func (l *Limiter) Tier() Tier {
	return l.tier
}

// Metrics returns the limiter's analytics recorder.
func (l *Limiter) Metrics() *Metrics {
	return l.metrics
}

func (l *Limiter) stateFor(key string) *keyState {
	l.mu.RLock()
	ks := l.keys[key]
	l.mu.RUnlock()
	if ks != nil {
		return ks
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if ks = l.keys[key]; ks != nil {
		return ks
	}
	ks = &keyState{
		// Refill continuously at limit/60 per second; burst equals the full
		// minute budget so an idle key can spend it at once.
		rpm: rate.NewLimiter(rate.Limit(float64(l.tier.RPM)/60.0), l.tier.RPM),
		tpm: rate.NewLimiter(rate.Limit(float64(l.tier.TPM)/60.0), l.tier.TPM),
	}
	l.keys[key] = ks
	return ks
}

// Result is the outcome of a rate-limit check. Headers are always populated
// regardless of the decision.
type Result struct {
	Allowed          bool
	RetryAfterMillis int64
	Headers          map[string]string
}

// Check debits one request and tokensRequested tokens from the key's buckets
// if both have capacity. On denial nothing is debited and RetryAfterMillis
// reports the shorter wait among the exhausted buckets.
func (l *Limiter) Check(key string, tokensRequested int) Result {
	if tokensRequested < 0 {
		tokensRequested = 0
	}

	ks := l.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	now := utils.NowUTC()

	rpmRes := ks.rpm.ReserveN(now, 1)
	tpmOK := tokensRequested <= ks.tpm.Burst()
	var tpmRes *rate.Reservation
	if tpmOK {
		tpmRes = ks.tpm.ReserveN(now, tokensRequested)
	}

	rpmDelay := rpmRes.DelayFrom(now)
	var tpmDelay time.Duration
	if tpmOK {
		tpmDelay = tpmRes.DelayFrom(now)
	} else {
		// Request exceeds the full minute budget; report the time a full
		// refill would take. The context validator should reject such
		// requests before they get here.
		tpmDelay = time.Duration(float64(time.Second) * float64(ks.tpm.Burst()) / float64(ks.tpm.Limit()))
	}

	if rpmDelay == 0 && tpmOK && tpmDelay == 0 {
		res := Result{Allowed: true, Headers: l.headers(ks, now)}
		l.metrics.recordAttempt(key, true, 0, tokensRequested)
		return res
	}

	// Denied: return both debits.
	rpmRes.CancelAt(now)
	if tpmOK {
		tpmRes.CancelAt(now)
	}

	retryAfter := rpmDelay
	if rpmDelay == 0 || (tpmDelay > 0 && tpmDelay < rpmDelay) {
		retryAfter = tpmDelay
	}
	millis := utils.CeilMillis(retryAfter)

	headers := l.headers(ks, now)
	headers["Retry-After"] = strconv.FormatInt(utils.CeilSeconds(retryAfter), 10)

	l.metrics.recordAttempt(key, false, millis, tokensRequested)
	return Result{Allowed: false, RetryAfterMillis: millis, Headers: headers}
}

// headers builds the X-RateLimit response header set from current bucket
// levels. Must be called with the key's lock held.
func (l *Limiter) headers(ks *keyState, now time.Time) map[string]string {
	remReq := int(ks.rpm.TokensAt(now))
	if remReq < 0 {
		remReq = 0
	}
	remTok := int(ks.tpm.TokensAt(now))
	if remTok < 0 {
		remTok = 0
	}

	return map[string]string{
		"X-RateLimit-Limit-Requests":     strconv.Itoa(l.tier.RPM),
		"X-RateLimit-Limit-Tokens":       strconv.Itoa(l.tier.TPM),
		"X-RateLimit-Remaining-Requests": strconv.Itoa(remReq),
		"X-RateLimit-Remaining-Tokens":   strconv.Itoa(remTok),
		"X-RateLimit-Reset-Requests":     resetDuration(ks.rpm, now),
		"X-RateLimit-Reset-Tokens":       resetDuration(ks.tpm, now),
	}
}

// resetDuration formats the time until a bucket refills to capacity.
func resetDuration(lim *rate.Limiter, now time.Time) string {
	missing := float64(lim.Burst()) - lim.TokensAt(now)
	if missing <= 0 {
		return "0s"
	}
	wait := time.Duration(float64(time.Second) * missing / float64(lim.Limit()))
	return wait.Round(time.Millisecond).String()
}

// KeyCount returns the number of distinct keys seen so far.
func (l *Limiter) KeyCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.keys)
}

// String implements fmt.Stringer for debug logging.
func (l *Limiter) String() string {
	return fmt.Sprintf("ratelimit.Limiter{tier=%s rpm=%d tpm=%d keys=%d}",
		l.tier.Name, l.tier.RPM, l.tier.TPM, l.KeyCount())
}
