package llmdispatch

import (
	"errors"
	"io"
)

// consume reads a provider stream to its end, feeding every non-empty text
// increment to the unit's buffer, sink and transcript. A nil return means
// the stream completed; io.EOF is the normal end of stream.
func (d *Dispatcher) consume(u *unit, stream ProviderStream) error {
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		text := chunk.Text()
		if text == "" {
			continue
		}
		u.tokens.RecordCompletionUnit()
		u.text.WriteString(text)
		u.sink.OnChunk(text)
		if len(chunk.Raw) > 0 {
			d.artifacts.AppendChunk(u.ref, chunk.Raw)
		}
	}
}
