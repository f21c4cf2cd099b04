// Command bridge-sync is the client-side data-transfer agent described in
// spec §1: it drives the sync engine against the mappings configured under
// .bridge/config/mappings. CLI surface and exit codes follow spec §6;
// cobra command wiring is grounded on the pack's cmd/bd CLI
// (Mschirtzinger-jj-beads), the one example repo in the pack that builds a
// cobra command tree with subcommands and typed flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nucleus/bridge-sync/internal/batchwriter"
	"github.com/nucleus/bridge-sync/internal/config"
	"github.com/nucleus/bridge-sync/internal/controlplane"
	"github.com/nucleus/bridge-sync/internal/metrics"
	"github.com/nucleus/bridge-sync/internal/obslog"
	"github.com/nucleus/bridge-sync/internal/runner"
	"github.com/nucleus/bridge-sync/internal/secrets"
	"github.com/nucleus/bridge-sync/internal/statestore"
)

func main() {
	root := &cobra.Command{
		Use:   "bridge-sync",
		Short: "Sync configured mappings from customer sources to the ingestion service",
	}
	root.AddCommand(newSyncCmd())
	root.AddCommand(newStatusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newSyncCmd() *cobra.Command {
	var (
		all        bool
		mappingIDs []string
		dryRun     bool
		force      bool
		sequential bool
		parallel   bool
		workers    int
		batchSize  int
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass over the selected mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(mappingIDs) == 0 {
				return fmt.Errorf("specify --all or at least one --mapping")
			}

			logger := obslog.Root()
			rt := config.LoadRuntime()
			if rt.DryRun {
				dryRun = true
			}
			root := config.ResolveRoot()

			mappings, err := config.LoadMappings(root.MappingsDir, logger)
			if err != nil {
				logger.Errorf("configuration error: %v", err)
				os.Exit(3)
			}
			mappings = filterMappings(mappings, all, mappingIDs)
			if batchSize > 0 {
				for _, m := range mappings {
					m.Transfer.BatchSize = batchSize
				}
			}

			store, err := statestore.Open(root.StatePath, logger)
			if err != nil {
				logger.Errorf("state store error: %v", err)
				os.Exit(3)
			}
			writer, err := batchwriter.NewWriter(root.ScratchDir, logger)
			if err != nil {
				logger.Errorf("scratch dir error: %v", err)
				os.Exit(3)
			}

			cpConfig := controlplane.DefaultConfig(os.Getenv("BRIDGE_CONTROL_PLANE_URL"), os.Getenv("BRIDGE_API_KEY"))
			cpConfig.TokenTimeout = rt.HTTPTimeout
			cp := controlplane.New(cpConfig)
			up := uploaderFor(cp, logger)
			sink := metrics.New()
			r := runner.New(store, writer, up, secrets.EnvResolver{}, sink, logger)

			// Default parallelism is the mapping count capped at 8 (spec
			// §4.1); --sequential forces 1 and --workers always wins outright.
			parallelism := workers
			switch {
			case parallelism > 0:
			case sequential:
				parallelism = 1
			default:
				// --parallel with no explicit --workers asks for the same
				// bounded-concurrency default the Runner already applies.
				parallelism = len(mappings)
				if parallelism > 8 {
					parallelism = 8
				}
				if parallelism < 1 {
					parallelism = 1
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report := r.Run(ctx, mappings, runner.Options{
				Parallelism: parallelism,
				DryRun:      dryRun,
				Force:       force,
				RunID:       newRunID(),
			})

			printReport(report)
			os.Exit(report.ExitCode())
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "run every configured mapping")
	cmd.Flags().StringSliceVar(&mappingIDs, "mapping", nil, "run only the named mapping(s)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "produce artifacts but never upload or commit")
	cmd.Flags().BoolVar(&force, "force", false, "reset the selected mappings' watermark before running")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "run mappings one at a time")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "run mappings concurrently (default worker count: number of mappings, capped at 8)")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size; 0 picks a default based on --sequential/--parallel")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "override every selected mapping's batch_size")

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print per-mapping RunState",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := obslog.Root()
			root := config.ResolveRoot()
			mappings, err := config.LoadMappings(root.MappingsDir, logger)
			if err != nil {
				return err
			}
			store, err := statestore.Open(root.StatePath, logger)
			if err != nil {
				return err
			}
			for _, m := range mappings {
				st := store.Get(m.ID)
				lastSuccess := ""
				if st.LastSuccessAt != nil {
					lastSuccess = st.LastSuccessAt.UTC().Format(time.RFC3339)
				}
				fmt.Printf("%s\twatermark=%q\tlast_success_at=%s\tlast_run=%s\trecords_uploaded_total=%d\tlast_error=%q\n",
					m.ID, st.Watermark.Value, lastSuccess, st.LastRunID, st.RecordsUploadedTotal, st.LastError)
			}
			return nil
		},
	}
}
