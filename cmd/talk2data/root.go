package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"talk2data/internal/app"
	"talk2data/internal/config"
	"talk2data/internal/logging"
)

const shutdownTimeout = 5 * time.Second

type buildInfo struct {
	version string
	commit  string
	date    string
}

// cliState carries the App built by the root pre-run hook to the subcommands.
type cliState struct {
	app *app.App
}

func (s *cliState) shutdown() {
	if s.app == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.app.Shutdown(ctx)
}

// execute runs one command line. Providers are shut down even when the command fails.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, info buildInfo) error {
	state := &cliState{}
	defer state.shutdown()

	cmd := newRootCmd(state, info)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(state *cliState, info buildInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "talk2data",
		Short: "Synthesize join paths and schema summaries for NL-to-SQL prompts",
		Long: `talk2data reads star-schema documents, finds the JOIN clauses that connect the
tables a question needs, and renders compact schema summaries for SQL drafting.

Schemas come from a document file (--schema), from the schema directory
(<schema.dir>/<tenant>/<id>.yaml), or from a live database via "introspect".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := setupApp(cmd, info)
			if err != nil {
				return err
			}
			state.app = a
			return nil
		},
	}

	config.DefineFlags(cmd.PersistentFlags())

	cmd.AddCommand(newJoinsCmd(state))
	cmd.AddCommand(newSummaryCmd(state))
	cmd.AddCommand(newValidateCmd(state))
	cmd.AddCommand(newListCmd(state))
	cmd.AddCommand(newIntrospectCmd(state))
	cmd.AddCommand(newWatchCmd(state))
	cmd.AddCommand(newVersionCmd(info))

	return cmd
}

// setupApp loads and validates configuration, then builds the logger and the App.
func setupApp(cmd *cobra.Command, info buildInfo) (*app.App, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = info.version
	}

	bootstrap := logging.NewLogger(logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		bootstrap.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			bootstrap.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return nil, fmt.Errorf("configuration validation failed: %s", validationResult.Error())
	}

	ctx := cmd.Context()
	logger, loggerProvider, err := app.InitLogger(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return nil, err
	}
	a.AttachLoggerProvider(loggerProvider)

	if err := a.Init(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// schemaFlags registers the flags that select a schema.
func schemaFlags(cmd *cobra.Command, ref *app.SchemaRef) {
	cmd.Flags().StringVarP(&ref.File, "schema", "s", "", "Schema document file (JSON or YAML)")
	cmd.Flags().StringVar(&ref.SchemaID, "schema-id", "", "Schema id in the schema directory (default schema.default_id)")
	cmd.Flags().StringVar(&ref.Tenant, "tenant", "", "Tenant owning the schema (default schema.default_tenant)")
	cmd.MarkFlagsMutuallyExclusive("schema", "schema-id")
}
