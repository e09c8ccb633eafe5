package model

import (
	"context"
	"encoding/json"
)

// syntheticStream replays a completed Response as a single-shot delta
// sequence (text, tool_call+tool_input per call, done). Provider adapters
// that don't yet wire their SDK's native event stream use this to satisfy
// CallStream in terms of Call.
type syntheticStream struct {
	deltas []StreamDelta
	pos    int
}

// NewSyntheticStream adapts a completed Response into a Stream.
func NewSyntheticStream(resp Response) Stream {
	var deltas []StreamDelta
	if resp.Text != "" {
		deltas = append(deltas, StreamDelta{Kind: DeltaText, Text: resp.Text})
	}
	for i, tc := range resp.ToolCalls {
		deltas = append(deltas, StreamDelta{Kind: DeltaToolCall, Index: i, ID: tc.ID, Name: tc.Name})
		if len(tc.Arguments) > 0 {
			raw, _ := json.Marshal(tc.Arguments)
			deltas = append(deltas, StreamDelta{Kind: DeltaToolInput, Index: i, InputDelta: string(raw)})
		}
	}
	deltas = append(deltas, StreamDelta{Kind: DeltaDone, TokenUsage: resp.TokenUsage})
	return &syntheticStream{deltas: deltas}
}

func (s *syntheticStream) Next(_ context.Context) bool {
	if s.pos >= len(s.deltas) {
		return false
	}
	s.pos++
	return true
}

func (s *syntheticStream) Delta() StreamDelta { return s.deltas[s.pos-1] }
func (s *syntheticStream) Err() error         { return nil }
func (s *syntheticStream) Close() error       { return nil }

var _ Stream = (*syntheticStream)(nil)
