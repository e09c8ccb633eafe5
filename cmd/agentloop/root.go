package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	category string
	version  string
)

var rootCmd = &cobra.Command{
	Use:           "agentloop",
	Short:         "agentloop — event-sourced conversational agent runtime CLI",
	SilenceErrors: true,
	SilenceUsage:  true,
	Long: `agentloop drives and inspects event-sourced agent sessions: start a
thread, continue its processing loop, add a message, and inspect its
projected state, all against the event log configured by --config or
the environment.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (env vars always override)")
	rootCmd.PersistentFlags().StringVar(&category, "category", "agent", "event category for session streams")
	rootCmd.PersistentFlags().StringVar(&version, "version", "v0", "stream version suffix (e.g. agent:v0-<thread_id>)")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(continueCmd())
	rootCmd.AddCommand(messageCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(listCmd())
}

// Execute runs the root Cobra command, exiting 1 on any failure per
// spec.md §6.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentloop:", err)
		os.Exit(1)
	}
}
