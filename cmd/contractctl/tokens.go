package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"contractflow/api/internal/placeholder"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens <template.html>",
	Short: "List the placeholders of a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read template: %w", err)
		}
		return writeTokens(cmd.OutOrStdout(), string(doc), flagJSON)
	},
}

type tokenSummary struct {
	Name        string `json:"name"`
	Occurrences int    `json:"occurrences"`
	Repeatable  bool   `json:"repeatable"`
}

func summarizeTokens(doc string) []tokenSummary {
	tokens := placeholder.Parse(doc)
	counts := placeholder.Counts(tokens)
	out := make([]tokenSummary, 0, len(counts))
	for _, name := range placeholder.Names(tokens) {
		out = append(out, tokenSummary{Name: name, Occurrences: counts[name], Repeatable: placeholder.IsRepeatable(name)})
	}
	return out
}

func writeTokens(w io.Writer, doc string, asJSON bool) error {
	summary := summarizeTokens(doc)
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	for _, s := range summary {
		kind := "value"
		if s.Repeatable {
			kind = "editable"
		}
		fmt.Fprintf(w, "%-28s %3d  %s\n", s.Name, s.Occurrences, kind)
	}
	return nil
}
