package llmdispatch

import (
	"io"
	"sync"
	"sync/atomic"
)

// Sink receives the output of one submitted request. OnChunk may be called
// any number of times; exactly one of OnComplete or OnError follows.
type Sink interface {
	OnChunk(text string)
	OnComplete(res Result)
	OnError(err error)
}

// SinkFuncs adapts plain functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	Chunk    func(text string)
	Complete func(res Result)
	Error    func(err error)
}

func (f SinkFuncs) OnChunk(text string) {
	if f.Chunk != nil {
		f.Chunk(text)
	}
}

func (f SinkFuncs) OnComplete(res Result) {
	if f.Complete != nil {
		f.Complete(res)
	}
}

func (f SinkFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

type callOutcome struct {
	res Result
	err error
}

// callSink backs the promise-style Call.
type callSink struct {
	onChunk   func(string)
	cancelled atomic.Bool
	done      chan callOutcome
}

func newCallSink(onChunk func(string)) *callSink {
	return &callSink{onChunk: onChunk, done: make(chan callOutcome, 1)}
}

func (s *callSink) OnChunk(text string) {
	if s.onChunk != nil && !s.cancelled.Load() {
		s.onChunk(text)
	}
}

func (s *callSink) OnComplete(res Result) { s.done <- callOutcome{res: res} }
func (s *callSink) OnError(err error)     { s.done <- callOutcome{err: err} }

// Subscription is a cancellable stream of text increments of one request.
//
// Close stops delivery but not the underlying network read: the request
// runs to completion so accounting and rate-limit learning stay correct.
type Subscription struct {
	id      string
	ch      chan string
	cancel  chan struct{}
	once    sync.Once
	stopped <-chan struct{} // dispatcher shutdown; nil blocks forever

	mu     sync.Mutex
	err    error
	result Result
}

func newSubscription() *Subscription {
	return &Subscription{
		ch:     make(chan string, 16),
		cancel: make(chan struct{}),
	}
}

// ID returns the request id.
func (s *Subscription) ID() string { return s.id }

// Next blocks for the next text increment. It returns io.EOF after the
// stream completed normally, ErrCancelled after Close, or the terminal
// error of the request.
func (s *Subscription) Next() (string, error) {
	select {
	case <-s.cancel:
		return "", ErrCancelled
	default:
	}
	select {
	case text, ok := <-s.ch:
		if ok {
			return text, nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	case <-s.cancel:
		return "", ErrCancelled
	}
}

// Close cancels the subscription. Safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() { close(s.cancel) })
	return nil
}

// Result returns the final result once Next has returned io.EOF.
func (s *Subscription) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// OnChunk buffers text for Next. It gives up when the subscription is
// closed or the dispatcher shuts down, so an unread subscription cannot
// hold its request forever.
func (s *Subscription) OnChunk(text string) {
	select {
	case <-s.cancel:
		return
	case <-s.stopped:
		return
	default:
	}
	select {
	case s.ch <- text:
	case <-s.cancel:
	case <-s.stopped:
	}
}

func (s *Subscription) OnComplete(res Result) {
	s.mu.Lock()
	s.result = res
	s.mu.Unlock()
	close(s.ch)
}

func (s *Subscription) OnError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}
