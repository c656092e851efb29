package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"talk2data/internal/introspection"
	"talk2data/internal/schemamodel"
)

func newIntrospectCmd(state *cliState) *cobra.Command {
	var (
		driver   string
		dsn      string
		database string
		name     string
		output   string
		format   string
		include  []string
		exclude  []string
	)

	cmd := &cobra.Command{
		Use:   "introspect",
		Short: "Generate a schema document from a live database catalog",
		Long: `Read tables, columns, comments and foreign keys from a database catalog and write
a schema document. Every foreign key column pair becomes a LEFT JOIN relationship and
tables are classified as facts by prefix (schema.fact_prefixes).

Connection settings default to the database section of the configuration.`,
		Example: `  talk2data introspect --driver mysql --dsn 'root@tcp(127.0.0.1:4000)/retail' -o schemas/retail.yaml
  talk2data introspect --driver sqlite --database ./star.db --format json
  talk2data introspect --database.driver postgres --database.host db --database.database analytics --include 'fact_*,dim_*'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := state.app
			cfg := a.Config()

			dbCfg := cfg.Database
			if driver != "" {
				dbCfg.Driver = driver
			}
			if dsn != "" {
				dbCfg.DSN = dsn
			}
			if database != "" {
				dbCfg.Database = database
			}
			if len(include) > 0 {
				dbCfg.IncludeTables = include
			}
			if len(exclude) > 0 {
				dbCfg.ExcludeTables = exclude
			}

			outFormat, err := resolveFormat(format, output)
			if err != nil {
				return err
			}
			dialect, err := dbCfg.Dialect()
			if err != nil {
				return err
			}
			connDSN, err := dbCfg.ConnectionDSN()
			if err != nil {
				return err
			}
			schemaName, err := dbCfg.SchemaName()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			connectCtx := ctx
			if dbCfg.ConnectTimeout > 0 {
				var cancel context.CancelFunc
				connectCtx, cancel = context.WithTimeout(ctx, dbCfg.ConnectTimeout)
				defer cancel()
			}

			db, err := introspection.Open(connectCtx, introspection.ConnConfig{
				Dialect: dialect,
				DSN:     connDSN,
				Traced:  cfg.Observability.TracingEnabled,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			spec, err := introspection.Introspect(ctx, db, dialect, schemaName, introspection.Options{
				Name:         name,
				Include:      dbCfg.IncludeTables,
				Exclude:      dbCfg.ExcludeTables,
				FactPrefixes: cfg.Schema.FactPrefixes,
				Logger:       a.Logger(),
			})
			if err != nil {
				return err
			}

			doc, err := spec.Document()
			if err != nil {
				return err
			}
			model, err := schemamodel.Parse(doc, a.ParseOptions()...)
			if err != nil {
				return fmt.Errorf("introspected schema does not parse: %w", err)
			}
			a.Logger().Info("introspected schema",
				slog.String("schema", model.Name),
				slog.Int("tables", len(model.Tables)),
				slog.Int("relationships", len(model.Relationships)),
			)

			var buf bytes.Buffer
			if outFormat == "json" {
				enc := json.NewEncoder(&buf)
				enc.SetIndent("", "  ")
				err = enc.Encode(spec)
			} else {
				err = doc.Encode(&buf)
			}
			if err != nil {
				return fmt.Errorf("failed to encode schema document: %w", err)
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write schema document: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d tables, %d relationships)\n",
				output, len(model.Tables), len(model.Relationships))
			return nil
		},
	}

	cmd.Flags().StringVar(&driver, "driver", "", "Database driver: mysql, postgres or sqlite (default database.driver)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Driver DSN (default database.dsn)")
	cmd.Flags().StringVar(&database, "database", "", "Database name, or the file path for sqlite (default database.database)")
	cmd.Flags().StringVar(&name, "name", "", "Schema name written to the document (default: the database schema name)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&format, "format", "", "Output format: yaml or json (default from the output extension, else yaml)")
	cmd.Flags().StringSliceVar(&include, "include", nil, "Table globs to include (default database.include_tables)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Table globs to skip (default database.exclude_tables)")

	return cmd
}

func resolveFormat(format, output string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		return "yaml", nil
	case "json":
		return "json", nil
	case "":
		if strings.EqualFold(filepath.Ext(output), ".json") {
			return "json", nil
		}
		return "yaml", nil
	}
	return "", fmt.Errorf("unsupported format %q (expected yaml or json)", format)
}
