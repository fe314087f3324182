package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"image-analyzer/internal/pipeline"
	"image-analyzer/internal/store"
)

// openStore resolves the configuration, locks the output directory and
// opens the record store. The returned func releases both.
func (a *app) openStore(ctx context.Context) (*store.Store, func(), error) {
	if err := a.loadConfig(); err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(a.cfg.OutputDir, 0o755); err != nil {
		return nil, nil, startupError(fmt.Errorf("%w: %w", pipeline.ErrOutputUnwritable, err))
	}
	lock, err := pipeline.LockOutput(a.cfg.OutputDir)
	if err != nil {
		return nil, nil, startupError(err)
	}
	st, err := store.Open(ctx, store.Config{
		OutputDir:   a.cfg.OutputDir,
		CatalogPath: a.cfg.CatalogPath,
	}, a.log)
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, startupError(err)
	}
	release := func() {
		if err := st.Close(); err != nil {
			a.log.Warn("Failed to close record store: %v", err)
		}
		if err := lock.Unlock(); err != nil {
			a.log.Warn("Failed to release output lock: %v", err)
		}
	}
	return st, release, nil
}

func newSummarizeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "Rebuild the per-analyzer roll-up files from stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			counts, err := pipeline.GenerateSummaries(cmd.Context(), st, a.cfg.OutputDir, a.log)
			if err != nil {
				return &exitError{code: pipeline.ExitFailures, err: err}
			}
			if len(counts) == 0 {
				fmt.Fprintln(a.stdout, "No analyzer payloads found; nothing to summarize.")
				return nil
			}
			fmt.Fprintln(a.stdout, renderTable("Summaries", []string{"Kind", "Entries"},
				countRows(counts), []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newStatsCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show record counts per status from the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			catalog, ok := st.Catalog()
			if !ok {
				return startupError(errors.New("the catalog is disabled; stats need CATALOG_ENABLED=true"))
			}
			stats, err := catalog.Stats(cmd.Context())
			if err != nil {
				return &exitError{code: pipeline.ExitFailures, err: err}
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			fmt.Fprintln(a.stdout, renderTable("Catalog "+catalog.Path(), []string{"Status", "Records"},
				statusRows(stats), []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newForgetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <fingerprint|file>...",
		Short: "Delete stored records so the next run analyzes those images again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, release, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer release()

			var failed int
			for _, arg := range args {
				fp := arg
				if info, err := os.Stat(arg); err == nil && !info.IsDir() {
					sum, err := a.cfg.Algorithm.File(ctx, arg)
					if err != nil {
						a.log.Error("Cannot fingerprint %s: %v", arg, err)
						failed++
						continue
					}
					fp = sum.Fingerprint
				}

				switch err := st.Delete(ctx, fp); {
				case errors.Is(err, store.ErrNotFound):
					fmt.Fprintf(a.stdout, "%s: no stored record\n", arg)
				case err != nil:
					a.log.Error("Cannot forget %s: %v", arg, err)
					failed++
				default:
					fmt.Fprintf(a.stdout, "%s: forgotten (%s)\n", arg, fp)
				}
			}
			if failed > 0 {
				return &exitError{code: pipeline.ExitFailures}
			}
			return nil
		},
	}
}

func newClearCommand(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored record from the output directory and catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return startupError(errors.New("refusing to clear without --yes"))
			}
			st, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			if err := st.Clear(cmd.Context()); err != nil {
				return &exitError{code: pipeline.ExitFailures, err: err}
			}
			fmt.Fprintf(a.stdout, "Cleared all records in %s\n", a.cfg.OutputDir)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}
