package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"talk2data/internal/registry"
	"talk2data/internal/schemarefresh"
	"talk2data/internal/schemastore"
)

func newWatchCmd(state *cliState) *cobra.Command {
	var (
		tenant    string
		schemaIDs []string
		once      bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the schema directory and reload schemas whose documents change",
		Long: `Load schemas from the schema directory into the registry and poll their documents.
A document whose tables, columns or relationships changed is republished; a deleted
document is dropped. The poll interval starts at registry.refresh_min_interval and
grows while nothing changes, up to registry.refresh_max_interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := state.app
			cfg := a.Config()
			if tenant == "" {
				tenant = cfg.Schema.DefaultTenant
			}

			if len(schemaIDs) == 0 {
				ids, err := a.Store().List(tenant)
				if err != nil {
					return err
				}
				schemaIDs = ids
			}
			if len(schemaIDs) == 0 {
				return fmt.Errorf("no schemas to watch in %s", a.Store().Root())
			}
			keys := make([]registry.Key, len(schemaIDs))
			for i, id := range schemaIDs {
				keys[i] = registry.NewKey(tenant, id)
			}

			out := &syncWriter{w: cmd.OutOrStdout()}
			refreshCfg := schemarefresh.Config{
				Registry:    a.Registry(),
				Source:      a.Source,
				Keys:        keys,
				Logger:      a.Logger(),
				MinInterval: cfg.Registry.RefreshMinInterval,
				MaxInterval: cfg.Registry.RefreshMaxInterval,
				IsNotFound:  schemastore.IsNotFoundErr,
				OnChange: func(change schemarefresh.Change) {
					printChange(out, change)
				},
			}
			if metrics := a.RefreshMetrics(); metrics != nil {
				refreshCfg.Metrics = metrics
			}

			ctx := cmd.Context()
			manager, err := schemarefresh.NewManager(ctx, refreshCfg)
			if err != nil {
				return err
			}

			if once {
				result, err := manager.RefreshNow(ctx)
				fmt.Fprintf(out, "checked %d schema(s), %d changed\n", result.Checked, len(result.Changes))
				return err
			}

			fmt.Fprintf(out, "watching %d schema(s)\n", len(keys))
			manager.Start(ctx)
			<-ctx.Done()

			waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return manager.Wait(waitCtx)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant whose schemas to watch (default schema.default_tenant)")
	cmd.Flags().StringSliceVar(&schemaIDs, "schema-id", nil, "Schema ids to watch (default: every schema of the tenant)")
	cmd.Flags().BoolVar(&once, "once", false, "Check once and exit instead of polling")

	return cmd
}

func printChange(w io.Writer, change schemarefresh.Change) {
	if change.Removed {
		fmt.Fprintf(w, "removed %s\n", change.Key)
		return
	}
	fingerprint := change.Fingerprint
	if len(fingerprint) > 12 {
		fingerprint = fingerprint[:12]
	}
	fmt.Fprintf(w, "changed %s %s\n", change.Key, fingerprint)
}

// syncWriter serializes writes from the refresh loop and the command goroutine.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
