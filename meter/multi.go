package meter

import ld "github.com/ineyio/llmdispatch"

// Multi fans every transition out to several meters in order.
type Multi []ld.Meter

var _ ld.Meter = Multi(nil)

// NewMulti builds a Multi, skipping nil meters.
func NewMulti(meters ...ld.Meter) Multi {
	out := make(Multi, 0, len(meters))
	for _, m := range meters {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func (m Multi) OnTransition(e ld.TransitionEvent) {
	for _, inner := range m {
		inner.OnTransition(e)
	}
}
