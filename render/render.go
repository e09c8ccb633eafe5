// Package render implements the streaming render orchestrator (spec.md
// §4.H): the thin, external-facing layer that drives one turn of a thread
// and emits a fixed-order sequence of progress items to a Sink, suitable
// for relaying over Server-Sent Events.
package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/zcox/eventagent/engine"
	"github.com/zcox/eventagent/eventlog"
	"github.com/zcox/eventagent/model"
	"github.com/zcox/eventagent/projection"
)

// Kind tags an Item's variant. Values match the streaming HTTP interface's
// event names verbatim (spec.md §6).
type Kind string

const (
	KindAgentStart    Kind = "agent_start"
	KindAgentDelta    Kind = "agent_delta"
	KindAgentComplete Kind = "agent_complete"
	KindHTMLStart     Kind = "html_start"
	KindHTMLChunk     Kind = "html_chunk"
	KindResult        Kind = "result"
	KindError         Kind = "error"
)

// Item is one named progress item sent to a Sink. Exactly the fields
// relevant to Kind are populated.
type Item struct {
	Kind Kind

	// Text carries the fragment for KindAgentDelta/KindHTMLChunk, or the
	// message for KindError.
	Text string

	// SessionStatus is set on KindAgentComplete: the projected
	// session_state.status after the agent phase finished.
	SessionStatus projection.Status

	// HTML and DisplayPreferences are set on KindResult.
	HTML               string
	DisplayPreferences string
}

// Sink delivers Items to a caller over a transport (SSE, WebSocket, an
// in-process channel for tests). Implementations must be safe for the
// orchestrator's single-goroutine sequential Send calls; nothing here
// sends concurrently.
type Sink interface {
	// Send publishes one Item. A returned error aborts the orchestrator
	// run; no further items (not even an error Item) are sent afterward.
	Send(ctx context.Context, item Item) error

	// Close releases resources owned by the sink. Idempotent.
	Close(ctx context.Context) error
}

// Request is one turn's input.
type Request struct {
	ThreadID string

	// UserMessage, if non-empty, is appended before the agent phase runs.
	// If empty, the agent_* phase is skipped entirely (per spec.md §4.H)
	// and rendering proceeds directly from the thread's current state.
	UserMessage string

	// PreviousHTML is the caller's last rendered view, passed to the
	// render model call as context for an incremental re-render.
	PreviousHTML string
}

// Orchestrator runs Request against one Engine/render-model pair.
type Orchestrator struct {
	Engine *engine.Engine
	Client eventlog.Client

	// RenderModel generates the HTML view of a completed event stream. It
	// may be the same provider as the conversational model or a distinct,
	// cheaper one; the orchestrator only calls CallStream on it.
	RenderModel model.Client

	// RenderSystemPrompt instructs RenderModel on how to render HTML from
	// the supplied event transcript, previous HTML, and display
	// preferences.
	RenderSystemPrompt string

	Category string
	Version  string
}

// displayPrefsStreamName mirrors tools/builtin's per-thread side-stream
// naming so the orchestrator can project preferences without depending on
// the builtin package (which also depends on tools, an unrelated concern
// for this package).
func displayPrefsStreamName(threadID string) string {
	return "display-prefs:" + threadID
}

// Run executes one turn of req against sink, following the fixed item
// ordering: agent_start, agent_delta*, agent_complete (omitted entirely
// when req.UserMessage is empty), html_start, html_chunk*, result. On any
// error it sends exactly one error Item and returns, without sending
// result.
func (o *Orchestrator) Run(ctx context.Context, sink Sink, req Request) error {
	stream := o.Engine.StreamName(req.ThreadID)

	if strings.TrimSpace(req.UserMessage) != "" {
		if err := o.Engine.AddUserMessage(ctx, stream, req.UserMessage); err != nil {
			return o.fail(ctx, sink, fmt.Errorf("render: add user message: %w", err))
		}
		if err := sink.Send(ctx, Item{Kind: KindAgentStart}); err != nil {
			return err
		}

		var sendErr error
		state, err := o.Engine.ProcessThreadStreaming(ctx, stream, func(delta model.StreamDelta) {
			if sendErr != nil || delta.Kind != model.DeltaText || delta.Text == "" {
				return
			}
			if err := sink.Send(ctx, Item{Kind: KindAgentDelta, Text: delta.Text}); err != nil {
				sendErr = err
			}
		})
		if sendErr != nil {
			return sendErr
		}
		if err != nil {
			return o.fail(ctx, sink, fmt.Errorf("render: process_thread_streaming: %w", err))
		}
		if err := sink.Send(ctx, Item{Kind: KindAgentComplete, SessionStatus: state.Status}); err != nil {
			return err
		}
	}

	evts, err := o.readAll(ctx, stream)
	if err != nil {
		return o.fail(ctx, sink, fmt.Errorf("render: read stream: %w", err))
	}

	prefEvts, err := o.readAll(ctx, displayPrefsStreamName(req.ThreadID))
	if err != nil {
		return o.fail(ctx, sink, fmt.Errorf("render: read display-prefs stream: %w", err))
	}
	prefs, err := projection.DisplayPrefs(prefEvts)
	if err != nil {
		return o.fail(ctx, sink, fmt.Errorf("render: display_prefs: %w", err))
	}

	if err := sink.Send(ctx, Item{Kind: KindHTMLStart}); err != nil {
		return err
	}

	html, err := o.renderHTML(ctx, sink, evts, prefs, req.PreviousHTML)
	if err != nil {
		return o.fail(ctx, sink, fmt.Errorf("render: render_html: %w", err))
	}

	return sink.Send(ctx, Item{Kind: KindResult, HTML: html, DisplayPreferences: prefs})
}

// renderHTML invokes RenderModel.CallStream with a transcript of evts,
// forwarding text deltas as html_chunk Items, and returns the buffered
// full HTML.
func (o *Orchestrator) renderHTML(ctx context.Context, sink Sink, evts []eventlog.Event, prefs, previousHTML string) (string, error) {
	req := model.Request{
		SystemPrompt: o.RenderSystemPrompt,
		Messages: []model.Message{{
			Role: model.RoleUser,
			Text: transcript(evts, prefs, previousHTML),
		}},
	}

	stream, err := o.RenderModel.CallStream(ctx, req)
	if err != nil {
		return "", err
	}

	var sendErr error
	resp, err := model.CollectStream(ctx, model.ObserveStream(stream, func(delta model.StreamDelta) {
		if sendErr != nil || delta.Kind != model.DeltaText || delta.Text == "" {
			return
		}
		if err := sink.Send(ctx, Item{Kind: KindHTMLChunk, Text: delta.Text}); err != nil {
			sendErr = err
		}
	}))
	if sendErr != nil {
		return "", sendErr
	}
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (o *Orchestrator) readAll(ctx context.Context, stream string) ([]eventlog.Event, error) {
	const batchSize = 500
	var all []eventlog.Event
	pos := int64(0)
	for {
		batch, err := o.Client.ReadStream(ctx, stream, pos, batchSize)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < batchSize {
			return all, nil
		}
		pos += int64(len(batch))
	}
}

func (o *Orchestrator) fail(ctx context.Context, sink Sink, err error) error {
	_ = sink.Send(ctx, Item{Kind: KindError, Text: err.Error()})
	return err
}

// transcript builds the single user-turn text handed to the render model:
// every event's type and data, the current display preferences, and any
// previously rendered HTML to re-render incrementally from.
func transcript(evts []eventlog.Event, prefs, previousHTML string) string {
	var b strings.Builder
	b.WriteString("display_preferences: ")
	b.WriteString(prefs)
	b.WriteString("\n\n")
	if previousHTML != "" {
		b.WriteString("previous_html:\n")
		b.WriteString(previousHTML)
		b.WriteString("\n\n")
	}
	b.WriteString("events:\n")
	for _, evt := range evts {
		fmt.Fprintf(&b, "- %s: %s\n", evt.Type, string(evt.Data))
	}
	return b.String()
}
