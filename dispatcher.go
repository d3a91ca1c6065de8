package llmdispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// DefaultMaxAttempts is the transient failure budget of a request.
const DefaultMaxAttempts = 5

// PromptCounter counts the prompt units of a rendered request.
type PromptCounter func(model string, messages []Message) int64

// Dispatcher multiplexes requests across per-bucket queues under the rate
// limits the service reports.
type Dispatcher struct {
	provider     Provider
	auth         Auth
	defaultModel string
	maxAttempts  int
	newRetry     func() backoff.BackOff
	countPrompt  PromptCounter
	seed         map[Bucket]RateLimitSnapshot
	meter        Meter
	artifacts    ArtifactStore
	logger       *slog.Logger
	now          func() time.Time

	registry *registry
	ledger   *Ledger

	ctx      context.Context
	cancel   context.CancelFunc
	drainMu  sync.Mutex
	rerun    atomic.Bool // a pass was requested while one was running
	inflight sync.WaitGroup
	closed   atomic.Bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAuth sets the credentials sent with every request.
func WithAuth(a Auth) Option {
	return func(d *Dispatcher) { d.auth = a }
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) Option {
	return func(d *Dispatcher) { d.defaultModel = model }
}

// WithMaxAttempts sets the transient failure budget per request.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithRetryBackOff sets the delay policy between transient retries. The
// factory is called once per request. Returning backoff.Stop ends the
// request early with ErrRetryExhausted.
func WithRetryBackOff(factory func() backoff.BackOff) Option {
	return func(d *Dispatcher) { d.newRetry = factory }
}

// WithPromptCounter overrides prompt unit counting.
func WithPromptCounter(c PromptCounter) Option {
	return func(d *Dispatcher) { d.countPrompt = c }
}

// WithRateLimits seeds the initial snapshots of the given buckets. Buckets
// not named keep their compiled-in defaults.
func WithRateLimits(seed map[Bucket]RateLimitSnapshot) Option {
	return func(d *Dispatcher) { d.seed = seed }
}

// WithMeter replaces the default meter, a LogMeter on the dispatcher's
// logger.
func WithMeter(m Meter) Option {
	return func(d *Dispatcher) { d.meter = m }
}

// WithArtifactStore sets where request artifacts are persisted.
func WithArtifactStore(s ArtifactStore) Option {
	return func(d *Dispatcher) { d.artifacts = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithLedger shares a ledger between dispatchers.
func WithLedger(l *Ledger) Option {
	return func(d *Dispatcher) { d.ledger = l }
}

// WithClock sets the time source of transition events.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a Dispatcher sending requests to provider.
func NewDispatcher(provider Provider, opts ...Option) (*Dispatcher, error) {
	if provider == nil {
		return nil, fmt.Errorf("llmdispatch: a provider is required")
	}

	d := &Dispatcher{
		provider:    provider,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}

	// Apply defaults after options.
	if d.newRetry == nil {
		n := uint64(d.maxAttempts - 1)
		d.newRetry = func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, n)
		}
	}
	if d.countPrompt == nil {
		d.countPrompt = defaultPromptCounter
	}
	if d.artifacts == nil {
		d.artifacts = noopArtifactStore{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.meter == nil {
		d.meter = NewLogMeter(d.logger)
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.ledger == nil {
		d.ledger = NewLedger()
	}

	d.registry = newRegistry(d.seed)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Handle identifies a submitted request.
type Handle struct {
	ID     string
	Bucket Bucket
}

// Submit enqueues req and runs a drain pass. If a pass is already running
// Submit does not wait for it; that pass repeats and picks the request up.
// The outcome is delivered to sink; Submit itself never fails. A nil sink
// discards the output.
func (d *Dispatcher) Submit(req Request, sink Sink) Handle {
	u := d.newUnit(req, sink)
	d.submit(u)
	return Handle{ID: u.id, Bucket: u.bucket}
}

func (d *Dispatcher) submit(u *unit) {
	d.transition(u, PhaseQueued, nil)
	if d.closed.Load() || !d.registry.enqueue(u) {
		u.markDispatched()
		d.reject(u, ErrClosed, ClassTransient, nil)
		return
	}
	d.kick()
}

func (d *Dispatcher) newUnit(req Request, sink Sink) *unit {
	if sink == nil {
		sink = SinkFuncs{}
	}
	model := req.Model
	if model == "" {
		model = d.defaultModel
	}
	id := uuid.New().String()
	label := req.Label
	if label == "" {
		label = id[:8]
	}
	b := ResolveBucket(model)

	preq := ProviderRequest{
		Auth:           d.auth,
		Model:          model,
		Messages:       req.Messages(),
		Temperature:    req.Temperature,
		ResponseFormat: req.ResponseFormat,
	}
	submitted := d.now()

	u := &unit{
		id:          id,
		label:       label,
		bucket:      b,
		req:         preq,
		sink:        sink,
		submitted:   submitted,
		maxAttempts: d.maxAttempts,
		retry:       d.newRetry(),
		tokens:      Tokens{Bucket: b},
		dispatched:  make(chan struct{}),
	}
	u.ref = ArtifactRef{
		ID:         id,
		Label:      label,
		Bucket:     b,
		Submitted:  submitted,
		Structured: req.ResponseFormat.Structured(),
		Request:    preq,
	}
	u.tokens.RecordPromptUnits(d.countPrompt(model, preq.Messages))
	return u
}

// Drain releases, for every bucket, as many queued requests as the bucket's
// remaining request budget allows, in FIFO order. Within a bucket a request
// is released only after the previous one has issued its network call.
// Drain passes are serialized. It returns the number of requests released
// by its own pass.
func (d *Dispatcher) Drain() int {
	d.drainMu.Lock()
	n := d.pass()
	d.drainMu.Unlock()
	d.rerunPending()
	return n
}

// kick requests a drain pass without waiting for one in progress.
func (d *Dispatcher) kick() {
	d.rerun.Store(true)
	d.rerunPending()
}

// rerunPending runs the passes requested through kick, unless another
// goroutine holds the drain lock and will run them itself.
func (d *Dispatcher) rerunPending() {
	for d.rerun.Load() && d.drainMu.TryLock() {
		for d.rerun.Swap(false) {
			d.pass()
		}
		d.drainMu.Unlock()
	}
}

// pass is one drain pass. Must be called with drainMu held.
func (d *Dispatcher) pass() int {
	released := 0
	for _, b := range Buckets() {
		units, blocked := d.registry.release(b)
		for _, u := range units {
			d.launch(u)
			released++
		}
		if blocked {
			d.scheduleReplenish(b)
		}
	}
	return released
}

// scheduleReplenish arms a one-shot timer restoring the bucket's request
// budget after its reset window.
func (d *Dispatcher) scheduleReplenish(b Bucket) {
	if d.ctx.Err() != nil || !d.registry.armReplenish(b) {
		return
	}
	wait := d.registry.snapshot(b).RequestsResetWait()
	d.logger.Debug("llmdispatch: bucket blocked, replenish armed",
		"bucket", b.String(),
		"pending", d.registry.pending(b),
		"wait", wait,
	)
	d.after(wait, func() {
		d.registry.refill(b)
		d.kick()
	}, func() {})
}

// Call submits req and blocks until it completes or ctx is done. onChunk,
// if non-nil, receives every text increment. When ctx ends first only
// delivery stops; the request itself runs to completion.
func (d *Dispatcher) Call(ctx context.Context, req Request, onChunk func(text string)) (Result, error) {
	s := newCallSink(onChunk)
	d.Submit(req, s)
	select {
	case out := <-s.done:
		return out.res, out.err
	case <-ctx.Done():
		s.cancelled.Store(true)
		return Result{}, ctx.Err()
	}
}

// StreamCompletion submits req and returns a subscription to its text
// increments.
func (d *Dispatcher) StreamCompletion(req Request) *Subscription {
	s := newSubscription()
	s.stopped = d.ctx.Done()
	u := d.newUnit(req, s)
	s.id = u.id
	d.submit(u)
	return s
}

// Snapshot returns the current rate-limit snapshot of a bucket.
func (d *Dispatcher) Snapshot(b Bucket) RateLimitSnapshot {
	return d.registry.snapshot(b)
}

// SetSnapshot replaces the rate-limit snapshot of a bucket.
func (d *Dispatcher) SetSnapshot(b Bucket, s RateLimitSnapshot) {
	d.registry.set(b, s)
}

// Pending returns the number of queued, unreleased requests of a bucket.
func (d *Dispatcher) Pending(b Bucket) int {
	return d.registry.pending(b)
}

// Totals returns the accounting totals per bucket, including BucketAll.
func (d *Dispatcher) Totals() map[Bucket]Tokens {
	return d.ledger.Totals()
}

// Close rejects every queued or waiting request with ErrClosed, stops
// in-flight network calls and waits for their units to settle.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	queued := d.registry.close()
	d.cancel()

	// No drain pass can launch work past this point.
	d.drainMu.Lock()
	for _, u := range queued {
		d.reject(u, ErrClosed, ClassTransient, nil)
	}
	d.drainMu.Unlock()

	d.inflight.Wait()
	return nil
}
