// Package builtin provides the tool registrations every embedder is
// expected to wire in: a pair of display-preference tools that let the
// model adjust how a UI renders events without the embedder needing to
// detect that intent itself.
package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/zcox/eventagent/events"
	"github.com/zcox/eventagent/eventlog"
	"github.com/zcox/eventagent/projection"
	"github.com/zcox/eventagent/tools"
)

// displayPrefsStream names the per-thread side-stream display preferences
// live on.
func displayPrefsStream(threadID string) string {
	return "display-prefs:" + threadID
}

// RegisterDisplayTools registers get_display_preferences and
// set_display_preferences against registry, closing over client and
// threadID the way the originating system's register_display_tools
// closure captures its execution context.
func RegisterDisplayTools(registry *tools.Registry, client eventlog.Client, threadID string) error {
	getTool := tools.Tool{
		Name:             "get_display_preferences",
		Description:      "Get the current display preferences for how events are rendered in the UI",
		ParametersSchema: map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}},
		Function: func(ctx context.Context, _ map[string]any) (any, error) {
			return getDisplayPreferences(ctx, client, threadID)
		},
	}
	if err := registry.Register(getTool); err != nil {
		return err
	}

	setTool := tools.Tool{
		Name: "set_display_preferences",
		Description: "Update how events are displayed in the UI. Use this when the user wants to " +
			"customize the display (e.g. \"show compact view\", \"highlight errors in red\", " +
			"\"reset display\").",
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instruction": map[string]any{
					"type":        "string",
					"description": "The display instruction from the user",
				},
				"merge_with_existing": map[string]any{
					"type":        "boolean",
					"description": "If true, merge with current preferences. If false, replace entirely.",
				},
			},
			"required": []string{"instruction"},
		},
		Function: func(ctx context.Context, arguments map[string]any) (any, error) {
			instruction, _ := arguments["instruction"].(string)
			if instruction == "" {
				return nil, fmt.Errorf("instruction is required")
			}
			merge := true
			if v, ok := arguments["merge_with_existing"].(bool); ok {
				merge = v
			}
			return setDisplayPreferences(ctx, client, threadID, instruction, merge)
		},
	}
	return registry.Register(setTool)
}

func getDisplayPreferences(ctx context.Context, client eventlog.Client, threadID string) (string, error) {
	evts, err := client.ReadStream(ctx, displayPrefsStream(threadID), 0, 1000)
	if err != nil {
		return "", fmt.Errorf("builtin: read display-prefs stream: %w", err)
	}
	return projection.DisplayPrefs(evts)
}

// mergeDisplayPrefs combines a new instruction with the current
// preferences. "default"/"reset" instructions always reset to "default";
// otherwise preferences are concatenated as successive clauses.
func mergeDisplayPrefs(current, instruction string) string {
	switch strings.ToLower(instruction) {
	case "default", "reset":
		return "default"
	}
	if current == "" || current == "default" {
		return instruction
	}
	return current + ". " + instruction
}

func setDisplayPreferences(ctx context.Context, client eventlog.Client, threadID, instruction string, mergeWithExisting bool) (string, error) {
	merged := instruction
	var previous string
	if mergeWithExisting {
		current, err := getDisplayPreferences(ctx, client, threadID)
		if err != nil {
			return "", err
		}
		previous = current
		merged = mergeDisplayPrefs(current, instruction)
	}

	data := events.DisplayPreferenceUpdatedData{
		Instruction:         instruction,
		MergedPreferences:   merged,
		PreviousPreferences: previous,
	}
	if _, err := client.Append(ctx, displayPrefsStream(threadID), string(events.DisplayPreferenceUpdated), data, nil, eventlog.NoExpectedVersion); err != nil {
		return "", fmt.Errorf("builtin: append DisplayPreferenceUpdated: %w", err)
	}

	return fmt.Sprintf("Display preferences updated to: %s", merged), nil
}
