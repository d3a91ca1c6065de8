package llmdispatch

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// unit is one submitted request moving through the dispatcher.
//
// Fields below the first block are owned by the goroutine executing the
// unit; the registry hands a unit to exactly one such goroutine at a time.
type unit struct {
	id          string
	label       string
	bucket      Bucket
	req         ProviderRequest
	sink        Sink
	ref         ArtifactRef
	submitted   time.Time
	maxAttempts int
	retry       backoff.BackOff

	attempts int // failures counted against maxAttempts
	calls    int // executions, rate-limited ones included
	tokens   Tokens
	text     strings.Builder
	launched bool
	done     bool

	dispatched   chan struct{}
	dispatchOnce sync.Once
}

func (u *unit) markDispatched() {
	u.dispatchOnce.Do(func() { close(u.dispatched) })
}

// launch starts the unit's execution and waits until its network call has
// been issued or the dispatcher is shutting down.
func (d *Dispatcher) launch(u *unit) {
	u.launched = true
	d.inflight.Add(1)
	go d.run(u)
	select {
	case <-u.dispatched:
	case <-d.ctx.Done():
	}
}

// run executes attempts until the unit is terminal or a delayed
// re-execution has been scheduled.
func (d *Dispatcher) run(u *unit) {
	for {
		delay, again, cause := d.attempt(u)
		if !again {
			return
		}
		if delay > 0 {
			d.after(delay, func() { d.run(u) }, func() { d.reject(u, ErrClosed, ClassTransient, cause) })
			return
		}
	}
}

// after runs fn once delay elapses, or cancelled if the dispatcher closes
// first.
func (d *Dispatcher) after(delay time.Duration, fn, cancelled func()) {
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			fn()
		case <-d.ctx.Done():
			cancelled()
		}
	}()
}

// attempt performs one execution. again reports that the unit must run
// again after delay; cause is the failure that led there.
func (d *Dispatcher) attempt(u *unit) (delay time.Duration, again bool, cause error) {
	if d.ctx.Err() != nil {
		u.markDispatched()
		d.reject(u, ErrClosed, ClassTransient, nil)
		return 0, false, nil
	}

	u.calls++
	u.text.Reset()
	d.transition(u, PhaseExecuting, nil)

	u.markDispatched()
	stream, err := d.provider.ChatCompletionStream(d.ctx, u.req)
	if err != nil {
		d.observeFailure(u, err)
		return d.fail(u, err)
	}
	d.observeResponse(u, stream.StatusCode(), stream.Header())

	err = d.consume(u, stream)
	if cerr := stream.Close(); cerr != nil {
		d.logger.Debug("llmdispatch: stream close failed",
			"id", u.id,
			"label", u.label,
			"error", cerr,
		)
	}
	if err != nil {
		d.artifacts.WriteMetadata(u.ref, ResponseMeta{
			Attempt:    u.calls,
			StatusCode: stream.StatusCode(),
			Header:     stream.Header(),
			Error:      err.Error(),
		})
		return d.fail(u, err)
	}

	d.succeed(u)
	return 0, false, nil
}

// fail applies the retry policy of err's class.
func (d *Dispatcher) fail(u *unit, err error) (time.Duration, bool, error) {
	if d.ctx.Err() != nil {
		d.reject(u, ErrClosed, ClassTransient, err)
		return 0, false, err
	}

	switch Classify(err) {
	case ClassClientInvalid:
		u.attempts++
		d.reject(u, err, ClassClientInvalid, nil)
		return 0, false, err

	case ClassRateLimited:
		wait := d.registry.snapshot(u.bucket).ResetWait()
		d.transition(u, PhaseWaitingForReset, err)
		d.logger.Info("llmdispatch: rate limited, waiting for reset",
			"id", u.id,
			"label", u.label,
			"bucket", u.bucket.String(),
			"wait", wait,
		)
		return wait, true, err

	default:
		u.attempts++
		d.transition(u, PhaseFailedRetryable, err)
		next := u.retry.NextBackOff()
		if u.attempts >= u.maxAttempts || next == backoff.Stop {
			d.reject(u, ErrRetryExhausted, ClassRetryExhausted, err)
			return 0, false, err
		}
		return next, true, err
	}
}

func (d *Dispatcher) succeed(u *unit) {
	text := u.text.String()
	u.tokens.FinalizeCost()
	d.artifacts.WriteResult(u.ref, text)
	d.finish(u, PhaseSucceeded, nil)
	u.sink.OnComplete(Result{
		ID:       u.id,
		Text:     text,
		Tokens:   u.tokens,
		Attempts: u.calls,
	})
	d.settle(u)
}

// reject terminates the unit with a *UnitError. cause is the last
// underlying error when err is a budget or lifecycle error.
func (d *Dispatcher) reject(u *unit, err error, class Class, cause error) {
	if u.done {
		return
	}
	ue := &UnitError{
		Err:      err,
		Cause:    cause,
		Class:    class,
		ID:       u.id,
		Label:    u.label,
		Bucket:   u.bucket,
		Attempts: u.calls,
	}
	u.tokens.FinalizeCost()
	d.finish(u, PhaseFailedTerminal, ue)
	u.sink.OnError(ue)
	d.settle(u)
}

// finish records the terminal transition and the unit's accounting.
func (d *Dispatcher) finish(u *unit, phase Phase, err error) {
	u.done = true
	if u.calls > 0 {
		d.ledger.Record(u.tokens)
	}
	d.transition(u, phase, err)
}

// settle releases the unit's in-flight slot and lets queued work proceed.
func (d *Dispatcher) settle(u *unit) {
	if !u.launched {
		return
	}
	d.inflight.Done()
	if d.ctx.Err() == nil {
		d.kick()
	}
}

func (d *Dispatcher) transition(u *unit, phase Phase, err error) {
	now := d.now()
	d.meter.OnTransition(TransitionEvent{
		Time:            now,
		Phase:           phase,
		ID:              u.id,
		Label:           u.label,
		Bucket:          u.bucket,
		Attempt:         u.calls,
		Elapsed:         now.Sub(u.submitted),
		PromptUnits:     u.tokens.PromptUnits,
		CompletionUnits: u.tokens.CompletionUnits,
		Cost:            u.tokens.CurrentCost(),
		Err:             err,
	})
}

func (d *Dispatcher) observeResponse(u *unit, status int, h http.Header) {
	if d.registry.observe(u.bucket, h) {
		d.logger.Debug("llmdispatch: rate limit snapshot updated",
			"bucket", u.bucket.String(),
			"remaining_requests", d.registry.snapshot(u.bucket).RemainingRequests,
		)
	}
	d.artifacts.WriteMetadata(u.ref, ResponseMeta{
		Attempt:    u.calls,
		StatusCode: status,
		Header:     h,
	})
}

func (d *Dispatcher) observeFailure(u *unit, err error) {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		d.artifacts.WriteMetadata(u.ref, ResponseMeta{Attempt: u.calls, Error: err.Error()})
		return
	}
	if pe.Header != nil {
		d.registry.observe(u.bucket, pe.Header)
	}
	d.artifacts.WriteMetadata(u.ref, ResponseMeta{
		Attempt:    u.calls,
		StatusCode: pe.StatusCode,
		Header:     pe.Header,
		Error:      err.Error(),
	})
}
