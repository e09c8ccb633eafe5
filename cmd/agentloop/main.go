// Command agentloop is the CLI collaborator described in spec.md §6: a
// thin wrapper over engine/projection/eventlog exposing session
// management as shell-friendly subcommands.
package main

func main() {
	Execute()
}
