package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"talk2data/internal/app"
	"talk2data/internal/joinpath"
)

func newValidateCmd(state *cliState) *cobra.Command {
	var (
		ref    app.SchemaRef
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse a schema and report what it declares",
		Long: `Parse a schema document and report its table, relationship and KPI counts.
Tables that cannot be joined to the anchor are reported as warnings; --strict
turns them into a failure.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := state.app
			snap, err := a.Snapshot(cmd.Context(), ref)
			if err != nil {
				return err
			}
			model := snap.Model

			facts := 0
			for _, table := range model.Tables {
				if table.IsFact() {
					facts++
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "schema: %s\n", model.Name)
			fmt.Fprintf(out, "tables: %d (%d fact, %d dimension)\n", len(model.Tables), facts, len(model.Tables)-facts)
			fmt.Fprintf(out, "relationships: %d\n", len(model.Relationships))
			if model.KPISource != "" {
				fmt.Fprintf(out, "kpis: %d (%s)\n", len(model.KPIs), model.KPISource)
			} else {
				fmt.Fprintln(out, "kpis: 0")
			}
			fmt.Fprintf(out, "fingerprint: %s\n", snap.Fingerprint)

			path, err := snap.Synthesize(model.TableNames(),
				joinpath.WithContext(cmd.Context()),
				joinpath.WithFactPrefixes(a.Config().Schema.FactPrefixes...),
			)
			if err == nil {
				fmt.Fprintf(out, "anchor: %s\n", path.Anchor())
				return nil
			}

			var synthErr *joinpath.SynthesisError
			if !errors.As(err, &synthErr) || !joinpath.IsUnreachableErr(err) {
				return err
			}
			fmt.Fprintf(out, "warning: not connected to the anchor: %s\n", strings.Join(synthErr.Tables, ", "))
			if strict {
				return fmt.Errorf("schema %s has %d disconnected table(s)", model.Name, len(synthErr.Tables))
			}
			return nil
		},
	}

	schemaFlags(cmd, &ref)
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when some tables cannot be joined to the anchor")

	return cmd
}
