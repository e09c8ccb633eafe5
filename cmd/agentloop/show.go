package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zcox/eventagent/eventlog"
	"github.com/zcox/eventagent/projection"
)

func showCmd() *cobra.Command {
	var (
		format string
		full   bool
	)

	cmd := &cobra.Command{
		Use:   "show <thread_id>",
		Short: "Show a thread's projected session state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID := args[0]
			if format != "text" && format != "json" {
				return fmt.Errorf("--format must be text or json, got %q", format)
			}

			a, err := newApp(cfgFile, category, version)
			if err != nil {
				return err
			}
			defer a.close()

			stream := eventlog.BuildStreamName(category, version, threadID)
			evts, err := readAllEvents(context.Background(), a.client, stream)
			if err != nil {
				return fmt.Errorf("read stream: %w", err)
			}
			if len(evts) == 0 {
				return fmt.Errorf("thread %q not found", threadID)
			}

			state, err := projection.SessionStateOf(evts)
			if err != nil {
				return fmt.Errorf("session_state: %w", err)
			}

			if format == "json" {
				return printShowJSON(state, evts, full)
			}
			printShowText(state, evts, full)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text|json")
	cmd.Flags().BoolVar(&full, "full", false, "include the full event list, not just the projected state")
	return cmd
}

func printShowText(state projection.SessionState, evts []eventlog.Event, full bool) {
	fmt.Printf("thread_id:     %s\n", state.ThreadID)
	fmt.Printf("status:        %s\n", state.Status)
	fmt.Printf("messages:      %d\n", state.MessageCount)
	fmt.Printf("llm_calls:     %d\n", state.LLMCallCount)
	fmt.Printf("tool_calls:    %d\n", state.ToolCallCount)
	fmt.Printf("errors:        %d\n", state.ErrorCount)
	fmt.Printf("started_at:    %s\n", state.SessionStartTime.Format(timeLayout))
	fmt.Printf("last_activity: %s\n", state.LastActivityTime.Format(timeLayout))
	if state.SessionEndTime != nil {
		fmt.Printf("ended_at:      %s\n", state.SessionEndTime.Format(timeLayout))
	}
	if !full {
		return
	}
	fmt.Println("\nevents:")
	for _, evt := range evts {
		fmt.Printf("  [%d] %s %s\n", evt.StreamPosition, evt.Type, string(evt.Data))
	}
}

type showJSON struct {
	projection.SessionState
	Events []eventlog.Event `json:"events,omitempty"`
}

func printShowJSON(state projection.SessionState, evts []eventlog.Event, full bool) error {
	out := showJSON{SessionState: state}
	if full {
		out.Events = evts
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func readAllEvents(ctx context.Context, client eventlog.Client, stream string) ([]eventlog.Event, error) {
	const batchSize = 500
	var all []eventlog.Event
	pos := int64(0)
	for {
		batch, err := client.ReadStream(ctx, stream, pos, batchSize)
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
