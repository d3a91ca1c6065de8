package llmdispatch

import (
	"net/http"
	"sync"
)

// registry owns the per-bucket FIFO queues and rate-limit snapshots.
type registry struct {
	mu        sync.Mutex
	queues    [numBuckets][]*unit
	snapshots [numBuckets]RateLimitSnapshot
	replenish [numBuckets]bool // a window replenish timer is armed
	closed    bool
}

func newRegistry(seed map[Bucket]RateLimitSnapshot) *registry {
	r := &registry{snapshots: defaultSnapshots}
	for b, s := range seed {
		if b < numBuckets {
			r.snapshots[b] = s
		}
	}
	return r
}

// enqueue appends u to its bucket's queue. It returns false once the
// registry is closed.
func (r *registry) enqueue(u *unit) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.queues[u.bucket] = append(r.queues[u.bucket], u)
	return true
}

// release pops as many head units as the bucket's remaining request budget
// allows, decrementing the budget once per popped unit. blocked reports
// that units remain queued with no budget left.
func (r *registry) release(b Bucket) (units []*unit, blocked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.queues[b]
	s := &r.snapshots[b]
	n := 0
	for n < len(q) && s.RemainingRequests > 0 {
		s.RemainingRequests--
		n++
	}
	if n > 0 {
		units = make([]*unit, n)
		copy(units, q[:n])
		clear(q[:n])
		r.queues[b] = q[n:]
	}
	return units, len(r.queues[b]) > 0 && s.RemainingRequests <= 0
}

// armReplenish marks a replenish timer as pending for the bucket. It returns
// false when one is already armed.
func (r *registry) armReplenish(b Bucket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replenish[b] {
		return false
	}
	r.replenish[b] = true
	return true
}

// refill restores the request budget to the bucket's limit once its reset
// window has elapsed.
func (r *registry) refill(b Bucket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replenish[b] = false
	s := &r.snapshots[b]
	if s.LimitRequests > s.RemainingRequests {
		s.RemainingRequests = s.LimitRequests
	}
	if s.RemainingRequests <= 0 {
		s.RemainingRequests = 1
	}
}

// observe overwrites the bucket's snapshot fields present in h.
func (r *registry) observe(b Bucket, h http.Header) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[b].Apply(h)
}

func (r *registry) snapshot(b Bucket) RateLimitSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[b]
}

func (r *registry) set(b Bucket, s RateLimitSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[b] = s
}

func (r *registry) pending(b Bucket) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues[b])
}

// close empties every queue, refuses further units and returns the removed
// units in bucket then FIFO order.
func (r *registry) close() []*unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var out []*unit
	for b := range r.queues {
		out = append(out, r.queues[b]...)
		r.queues[b] = nil
	}
	return out
}
