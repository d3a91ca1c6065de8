package llmdispatch

import (
	"log/slog"
	"time"
)

// Meter observes unit state transitions for monitoring/logging.
// Implementations must be safe for concurrent use.
type Meter interface {
	// OnTransition is called once for every state transition of a unit.
	OnTransition(event TransitionEvent)
}

// Phase names a unit state.
type Phase string

const (
	PhaseQueued          Phase = "queued"
	PhaseExecuting       Phase = "executing"
	PhaseSucceeded       Phase = "succeeded"
	PhaseWaitingForReset Phase = "waiting_for_reset"
	PhaseFailedRetryable Phase = "failed_retryable"
	PhaseFailedTerminal  Phase = "failed_terminal"
)

// Terminal reports whether no transition follows the phase.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailedTerminal
}

// TransitionEvent describes one unit state transition.
type TransitionEvent struct {
	Time            time.Time
	Phase           Phase
	ID              string
	Label           string
	Bucket          Bucket
	Attempt         int
	Elapsed         time.Duration // since submission
	PromptUnits     int64
	CompletionUnits int64
	Cost            float64 // cost so far
	Err             error
}

// LogMeter logs unit transitions using slog. It is the dispatcher's meter
// unless WithMeter replaces it.
type LogMeter struct {
	Logger *slog.Logger
}

var _ Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnTransition(e TransitionEvent) {
	attrs := []any{
		"id", e.ID,
		"label", e.Label,
		"bucket", e.Bucket.String(),
		"phase", string(e.Phase),
		"attempt", e.Attempt,
		"elapsed_ms", e.Elapsed.Milliseconds(),
		"prompt_units", e.PromptUnits,
		"completion_units", e.CompletionUnits,
		"cost", e.Cost,
	}

	switch e.Phase {
	case PhaseFailedTerminal:
		m.Logger.Warn("unit_failed", append(attrs, "error", e.Err)...)
	case PhaseFailedRetryable, PhaseWaitingForReset:
		m.Logger.Info("unit_retry", append(attrs, "error", e.Err)...)
	case PhaseQueued, PhaseExecuting:
		m.Logger.Debug("unit", attrs...)
	default:
		m.Logger.Info("unit", attrs...)
	}
}
