package llmdispatch

import "sync"

// Ledger aggregates finalized Tokens records per bucket plus a running
// total under BucketAll.
type Ledger struct {
	mu      sync.Mutex
	buckets [numBuckets]Tokens
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	l := &Ledger{}
	for b := range l.buckets {
		l.buckets[b].Bucket = Bucket(b)
	}
	return l
}

// Record adds a finalized record to its bucket and to the aggregate.
func (l *Ledger) Record(t Tokens) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t.Bucket < numBuckets && t.Bucket != BucketAll {
		l.buckets[t.Bucket] = l.buckets[t.Bucket].Add(t)
	}
	l.buckets[BucketAll] = l.buckets[BucketAll].Add(t)
}

// Totals returns the non-empty per-bucket sums. The BucketAll entry is
// always present.
func (l *Ledger) Totals() map[Bucket]Tokens {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[Bucket]Tokens, numBuckets)
	for b, t := range l.buckets {
		if Bucket(b) == BucketAll || t.PromptUnits > 0 || t.CompletionUnits > 0 || t.Cost > 0 {
			out[Bucket(b)] = t
		}
	}
	return out
}

// Total returns the fleet-wide aggregate.
func (l *Ledger) Total() Tokens {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buckets[BucketAll]
}
