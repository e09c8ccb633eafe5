package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func messageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message <thread_id> <text>",
		Short: "Add a user message to an existing thread, then drive it to termination",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, text := args[0], args[1]

			a, err := newApp(cfgFile, category, version)
			if err != nil {
				return err
			}
			defer a.close()

			eng, err := a.newEngine(threadID)
			if err != nil {
				return err
			}
			stream := eng.StreamName(threadID)
			ctx := context.Background()

			if err := eng.AddUserMessage(ctx, stream, text); err != nil {
				return fmt.Errorf("add user message: %w", err)
			}
			state, err := eng.ProcessThread(ctx, stream)
			if err != nil {
				return fmt.Errorf("process thread: %w", err)
			}

			fmt.Printf("thread_id: %s\nstatus: %s\n", threadID, state.Status)
			return nil
		},
	}
}
