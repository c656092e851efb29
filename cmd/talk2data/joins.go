package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"talk2data/internal/app"
	"talk2data/internal/joinpath"
)

type joinsOutput struct {
	Schema  string   `json:"schema"`
	Anchor  string   `json:"anchor"`
	Clauses []string `json:"clauses"`
}

func newJoinsCmd(state *cliState) *cobra.Command {
	var (
		ref        app.SchemaRef
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "joins TABLE...",
		Short: "Print the JOIN clauses connecting the given tables",
		Long: `Synthesize the join path for the given tables. The anchor is the first fact
table among them; every other table is attached through the declared relationships.
Tables may be given as separate arguments or comma separated.`,
		Example: `  talk2data joins --schema schemas/sales.yaml fact_sales dim_store dim_date
  talk2data joins --tenant acme --schema-id sales dim_store,fact_sales --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := state.app
			snap, err := a.Snapshot(cmd.Context(), ref)
			if err != nil {
				return err
			}

			path, err := snap.Synthesize(splitTables(args),
				joinpath.WithContext(cmd.Context()),
				joinpath.WithFactPrefixes(a.Config().Schema.FactPrefixes...),
			)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(joinsOutput{
					Schema:  snap.Model.Name,
					Anchor:  path.Anchor(),
					Clauses: append([]string{}, path.Clauses()...),
				})
			}

			fmt.Fprintf(out, "anchor: %s\n", path.Anchor())
			if sql := path.SQL(); sql != "" {
				fmt.Fprintln(out, sql)
			}
			return nil
		},
	}

	schemaFlags(cmd, &ref)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the join path as JSON")

	return cmd
}

// splitTables accepts both "a b" and "a,b" and drops empty entries.
func splitTables(args []string) []string {
	var tables []string
	for _, arg := range args {
		for _, name := range strings.Split(arg, ",") {
			if name = strings.TrimSpace(name); name != "" {
				tables = append(tables, name)
			}
		}
	}
	return tables
}
