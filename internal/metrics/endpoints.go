package metrics

import (
	"sort"
	"sync"
)

// endpointMetrics groups the sliding windows tracked per endpoint.
// Each window has its own lock; the registry lock only guards the map.
type endpointMetrics struct {
	requests  *window // request arrivals
	responses *window // completed responses
	tokens    *window // tokens produced
	errors    *window // error responses
	latency   *window // response latency in seconds
}

func newEndpointMetrics() *endpointMetrics {
	return &endpointMetrics{
		requests:  newWindow(),
		responses: newWindow(),
		tokens:    newWindow(),
		errors:    newWindow(),
		latency:   newWindow(),
	}
}

// Registry tracks throughput and latency for every endpoint.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*endpointMetrics
}

func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*endpointMetrics)}
}

func (r *Registry) forEndpoint(endpoint string) *endpointMetrics {
	r.mu.RLock()
	em := r.endpoints[endpoint]
	r.mu.RUnlock()
	if em != nil {
		return em
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if em = r.endpoints[endpoint]; em != nil {
		return em
	}
	em = newEndpointMetrics()
	r.endpoints[endpoint] = em
	return em
}

// RecordRequest records a request arrival on an endpoint.
func (r *Registry) RecordRequest(endpoint string) {
	r.forEndpoint(endpoint).requests.Record(1)
}

// RecordResponse records a completed response and its latency in seconds.
func (r *Registry) RecordResponse(endpoint string, latencySeconds float64) {
	em := r.forEndpoint(endpoint)
	em.responses.Record(1)
	em.latency.Record(latencySeconds)
}

// RecordTokens records tokens produced by an endpoint.
func (r *Registry) RecordTokens(endpoint string, n int) {
	if n <= 0 {
		return
	}
	r.forEndpoint(endpoint).tokens.Record(float64(n))
}

// RecordError records an error response on an endpoint.
func (r *Registry) RecordError(endpoint string) {
	r.forEndpoint(endpoint).errors.Record(1)
}

// EndpointSnapshot is the exported view of one endpoint's windows.
type EndpointSnapshot struct {
	RequestsPerSecond  float64     `json:"requests_per_second"`
	ResponsesPerSecond float64     `json:"responses_per_second"`
	TokensPerSecond    float64     `json:"tokens_per_second"`
	ErrorsPerSecond    float64     `json:"errors_per_second"`
	Latency            WindowStats `json:"latency_seconds"`
}

// Snapshot returns a point-in-time view of all endpoints, keyed by endpoint
// path, sorted map iteration left to callers.
func (r *Registry) Snapshot() map[string]EndpointSnapshot {
	r.mu.RLock()
	endpoints := make(map[string]*endpointMetrics, len(r.endpoints))
	for k, v := range r.endpoints {
		endpoints[k] = v
	}
	r.mu.RUnlock()

	out := make(map[string]EndpointSnapshot, len(endpoints))
	for name, em := range endpoints {
		out[name] = EndpointSnapshot{
			RequestsPerSecond:  em.requests.Rate(),
			ResponsesPerSecond: em.responses.Rate(),
			TokensPerSecond:    em.tokens.Sum() / windowSize.Seconds(),
			ErrorsPerSecond:    em.errors.Rate(),
			Latency:            em.latency.Stats(),
		}
	}
	return out
}

// Endpoints returns the sorted list of endpoints seen so far.
func (r *Registry) Endpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
