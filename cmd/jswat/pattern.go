package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dshills/jswat/internal/debug/breakpoint"
)

func patternCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pattern <pattern> [class...]",
		Short: "Validate a class pattern and test class names against it",
		Long: `Validate a class pattern and test class names against it.

A pattern is a dot-separated class name with at most one '*' at either
end: com.example.Main, com.example.*, *Test or *.

Examples:
  jswat pattern 'com.example.*'
  jswat pattern com.example.Main com.example.Main 'com.example.Main$Inner'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := breakpoint.ParseReferenceSpec(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			kind := "wildcard"
			if spec.IsExact() {
				kind = "exact"
			}
			fmt.Fprintf(out, "%s %s (%s)\n", color.GreenString("valid"), spec, kind)

			filters := spec.PrepareFilters()
			for i, f := range filters {
				if f == "" {
					filters[i] = "<all classes>"
				}
			}
			fmt.Fprintf(out, "prepare filters: %s\n", strings.Join(filters, ", "))

			if len(args) == 1 {
				return nil
			}
			t := newTable(out, "Class", "Matches", "Nested")
			for _, name := range args[1:] {
				t.AppendRow(table.Row{name, yesNo(spec.Matches(name)), yesNo(spec.MatchesNested(name))})
			}
			t.Render()
			return nil
		},
	}
}
