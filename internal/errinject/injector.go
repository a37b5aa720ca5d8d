// Package errinject samples synthetic failures so clients can exercise
// their retry paths against realistic error bodies.
package errinject

import (
	"math/rand"
	"net/http"
	"sync"

	"github.com/mixaill76/openai-sim/internal/openai"
)

// Fault is one injectable error kind.
type Fault struct {
	Name    string
	Status  int
	Type    string
	Code    string
	Message string
}

var faultTable = map[string]Fault{
	"internal_error": {
		Name:    "internal_error",
		Status:  http.StatusInternalServerError,
		Type:    "internal_error",
		Code:    "internal_error",
		Message: "The server had an error while processing your request.",
	},
	"bad_gateway": {
		Name:    "bad_gateway",
		Status:  http.StatusBadGateway,
		Type:    "bad_gateway_error",
		Code:    "bad_gateway",
		Message: "The upstream worker returned an invalid response.",
	},
	"service_unavailable": {
		Name:    "service_unavailable",
		Status:  http.StatusServiceUnavailable,
		Type:    "service_unavailable_error",
		Code:    "service_unavailable",
		Message: "The engine is currently overloaded. Please try again later.",
	},
	"gateway_timeout": {
		Name:    "gateway_timeout",
		Status:  http.StatusGatewayTimeout,
		Type:    "timeout_error",
		Code:    "gateway_timeout",
		Message: "Request timed out waiting for an upstream response.",
	},
	"rate_limit_quota": {
		Name:    "rate_limit_quota",
		Status:  http.StatusTooManyRequests,
		Type:    "insufficient_quota",
		Code:    "insufficient_quota",
		Message: "You exceeded your current quota, please check your plan and billing details.",
	},
}

// KnownFault reports whether a fault name is recognized.
func KnownFault(name string) bool {
	_, ok := faultTable[name]
	return ok
}

// Injector samples faults at a configured rate.
type Injector struct {
	rate   float64
	faults []Fault

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds an injector. Unknown type names are ignored; an empty type
// list with a positive rate falls back to internal_error.
func New(rate float64, types []string, seed int64) *Injector {
	var faults []Fault
	for _, name := range types {
		if f, ok := faultTable[name]; ok {
			faults = append(faults, f)
		}
	}
	if len(faults) == 0 {
		faults = []Fault{faultTable["internal_error"]}
	}
	return &Injector{
		rate:   rate,
		faults: faults,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Sample rolls the dice once. Returns a fault and true when this request
// should fail.
func (i *Injector) Sample() (Fault, bool) {
	if i == nil || i.rate <= 0 {
		return Fault{}, false
	}

	i.mu.Lock()
	roll := i.rng.Float64()
	var pick int
	if len(i.faults) > 1 {
		pick = i.rng.Intn(len(i.faults))
	}
	i.mu.Unlock()

	if roll >= i.rate {
		return Fault{}, false
	}
	return i.faults[pick], true
}

// Enabled reports whether any injection can occur.
func (i *Injector) Enabled() bool {
	return i != nil && i.rate > 0
}

// APIError renders the fault as an OpenAI error object.
func (f Fault) APIError() openai.APIError {
	code := f.Code
	return openai.APIError{
		Message: f.Message,
		Type:    f.Type,
		Code:    &code,
	}
}
