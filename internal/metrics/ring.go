// Package metrics implements the server's multi-dimensional metrics:
// sliding-window throughput and latency, streaming lifecycle tracking,
// per-model attribution and the WebSocket fan-out for dashboards.
package metrics

// ring is a fixed-capacity circular buffer. Appends never allocate after
// construction; once full, new values overwrite the oldest.
type ring[T any] struct {
	buf  []T
	pos  int
	size int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) Append(v T) {
	r.buf[r.pos] = v
	r.pos = (r.pos + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Values returns the ring contents oldest-first.
func (r *ring[T]) Values() []T {
	out := make([]T, 0, r.size)
	if r.size < len(r.buf) {
		out = append(out, r.buf[:r.size]...)
		return out
	}
	out = append(out, r.buf[r.pos:]...)
	out = append(out, r.buf[:r.pos]...)
	return out
}

func (r *ring[T]) Len() int {
	return r.size
}
