package meter

import ld "github.com/ineyio/llmdispatch"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ ld.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnTransition(ld.TransitionEvent) {}
