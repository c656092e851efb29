package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(state *cliState) *cobra.Command {
	var (
		tenant     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schema ids in the schema directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := state.app
			if tenant == "" {
				tenant = a.Config().Schema.DefaultTenant
			}

			ids, err := a.Store().List(tenant)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if ids == nil {
					ids = []string{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ids)
			}
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant whose schemas to list (default schema.default_tenant)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as a JSON array")

	return cmd
}
