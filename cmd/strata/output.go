package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// emit writes the result for a command: human text on a terminal, a JSON
// document when stdout is piped (the hook boundary reads JSON).
func emit(cmd *cobra.Command, human string, v any) error {
	if isTerminal() {
		fmt.Fprint(cmd.OutOrStdout(), human)
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// isTerminal reports whether stdout is an interactive terminal.
func isTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// parseJSONFlag parses an optional JSON object flag value into a map.
func parseJSONFlag(name, value string) (map[string]any, error) {
	if value == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(value), &m); err != nil {
		return nil, fmt.Errorf("parse --%s: %w", name, err)
	}
	return m, nil
}
