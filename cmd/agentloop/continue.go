package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func continueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "continue <thread_id>",
		Short: "Drive an existing thread's processing loop to its next termination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID := args[0]

			a, err := newApp(cfgFile, category, version)
			if err != nil {
				return err
			}
			defer a.close()

			eng, err := a.newEngine(threadID)
			if err != nil {
				return err
			}
			state, err := eng.ProcessThread(context.Background(), eng.StreamName(threadID))
			if err != nil {
				return fmt.Errorf("process thread: %w", err)
			}

			fmt.Printf("thread_id: %s\nstatus: %s\n", threadID, state.Status)
			return nil
		},
	}
}
