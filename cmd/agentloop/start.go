package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <message>",
		Short: "Start a new session thread with an initial user message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgFile, category, version)
			if err != nil {
				return err
			}
			defer a.close()

			// StartSession needs a thread id before the registry can be
			// bound to it, so build the engine without builtin tools for
			// the id-generating call, then drive the loop with a
			// thread-bound engine.
			bootstrap, err := a.newEngine("")
			if err != nil {
				return err
			}
			ctx := context.Background()
			threadID, err := bootstrap.StartSession(ctx, args[0])
			if err != nil {
				return fmt.Errorf("start session: %w", err)
			}

			eng, err := a.newEngine(threadID)
			if err != nil {
				return err
			}
			state, err := eng.ProcessThread(ctx, eng.StreamName(threadID))
			if err != nil {
				return fmt.Errorf("process thread: %w", err)
			}

			fmt.Printf("thread_id: %s\nstatus: %s\n", threadID, state.Status)
			return nil
		},
	}
}
