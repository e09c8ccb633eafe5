package model

import "context"

// observedStream wraps a Stream, invoking onDelta for every delta before
// passing it through unchanged. Used by callers (the engine's streaming
// processing loop, the render orchestrator) that need to forward deltas to
// an observer while still collecting the completed Response via
// CollectStream.
type observedStream struct {
	inner   Stream
	onDelta func(StreamDelta)
}

// ObserveStream returns a Stream that calls onDelta for each delta Next
// produces, in addition to behaving exactly like stream.
func ObserveStream(stream Stream, onDelta func(StreamDelta)) Stream {
	return &observedStream{inner: stream, onDelta: onDelta}
}

func (s *observedStream) Next(ctx context.Context) bool {
	ok := s.inner.Next(ctx)
	if ok && s.onDelta != nil {
		s.onDelta(s.inner.Delta())
	}
	return ok
}

func (s *observedStream) Delta() StreamDelta { return s.inner.Delta() }
func (s *observedStream) Err() error          { return s.inner.Err() }
func (s *observedStream) Close() error        { return s.inner.Close() }
