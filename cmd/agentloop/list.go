package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/zcox/eventagent/eventlog"
	"github.com/zcox/eventagent/projection"
)

func listCmd() *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threads in the configured category, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("--format must be text or json, got %q", format)
			}

			a, err := newApp(cfgFile, category, version)
			if err != nil {
				return err
			}
			defer a.close()

			readCategory := category
			if version != "" {
				readCategory = category + ":" + version
			}
			states, err := listThreads(context.Background(), a.client, readCategory, limit)
			if err != nil {
				return fmt.Errorf("list threads: %w", err)
			}

			if format == "json" {
				data, err := json.MarshalIndent(states, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			for _, s := range states {
				fmt.Printf("%-36s  %-10s  msgs=%-3d  llm=%-3d  tools=%-3d  errors=%-3d  last_activity=%s\n",
					s.ThreadID, s.Status, s.MessageCount, s.LLMCallCount, s.ToolCallCount, s.ErrorCount,
					s.LastActivityTime.Format(timeLayout))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of threads to list")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text|json")
	return cmd
}

// listThreads pages the whole category, groups events by stream, projects
// each stream's session_state, and returns at most limit, most-recently-
// active first.
func listThreads(ctx context.Context, client eventlog.Client, category string, limit int) ([]projection.SessionState, error) {
	const batchSize = 500

	byStream := map[string][]eventlog.Event{}
	var order []string

	pos := int64(0)
	for {
		batch, err := client.ReadCategory(ctx, category, pos, batchSize, eventlog.ReadCategoryOptions{})
		if err != nil {
			return nil, err
		}
		for _, evt := range batch {
			if _, seen := byStream[evt.StreamName]; !seen {
				order = append(order, evt.StreamName)
			}
			byStream[evt.StreamName] = append(byStream[evt.StreamName], evt)
			if evt.GlobalPosition >= pos {
				pos = evt.GlobalPosition + 1
			}
		}
		if len(batch) < batchSize {
			break
		}
	}

	states := make([]projection.SessionState, 0, len(order))
	for _, stream := range order {
		state, err := projection.SessionStateOf(byStream[stream])
		if err != nil {
			return nil, fmt.Errorf("session_state for stream %q: %w", stream, err)
		}
		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].LastActivityTime.After(states[j].LastActivityTime)
	})

	if limit > 0 && len(states) > limit {
		states = states[:limit]
	}
	return states, nil
}
