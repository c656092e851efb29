package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"talk2data/internal/app"
	"talk2data/internal/summary"
)

func newSummaryCmd(state *cliState) *cobra.Command {
	var (
		ref    app.SchemaRef
		enrich bool
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the compact table summary of a schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := state.app.Snapshot(cmd.Context(), ref)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			formatter := summary.NewFormatter(out)
			if err := formatter.Format(snap.Model); err != nil {
				return err
			}

			if !enrich {
				return nil
			}
			if enrichment := summary.Enrichment(snap.Model); enrichment != "" {
				fmt.Fprintln(out)
				_, err = fmt.Fprint(out, enrichment)
			}
			return err
		},
	}

	schemaFlags(cmd, &ref)
	cmd.Flags().BoolVar(&enrich, "enrich", false, "Append KPIs, synonyms, glossary, notes and examples")

	return cmd
}
