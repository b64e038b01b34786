package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/akarpov87/m2mfetch/internal/download"
	"github.com/akarpov87/m2mfetch/internal/m2m"
)

func (a *App) newDownloadCmd() *cobra.Command {
	flags := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "download [lat lon ...] -- <outdir>",
		Short: "Search the catalog and download matching scenes",
		Long: "Search the catalog and download every matching scene into <outdir>.\n\n" +
			"An area of interest is given as lat lon pairs terminated by --;\n" +
			"the output directory follows the terminator. With --dry-run the\n" +
			"command reports scene count and estimated size and submits nothing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			aoiArgs, rest := splitAtDash(cmd, args)
			if len(rest) != 1 {
				return fmt.Errorf("exactly one output directory expected after --: %w",
					m2m.ErrInvalidParameter)
			}
			outdir := rest[0]

			q, err := flags.query(aoiArgs)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			it, err := a.catalog.Search(q)
			if err != nil {
				return err
			}
			var entityIDs []string
			for it.Next(ctx) {
				entityIDs = append(entityIDs, it.Scene().EntityID)
			}
			if err := it.Err(); err != nil {
				return err
			}
			if len(entityIDs) == 0 {
				fmt.Fprintln(a.out, "no scenes match the query")
				return nil
			}

			orch := download.NewOrchestrator(a.session, a.newFetcher(), download.Config{
				Concurrency:  a.cfg.Concurrency,
				BatchSize:    a.cfg.BatchSize,
				PollInitial:  a.cfg.PollInterval.Std(),
				PollCap:      a.cfg.PollCap.Std(),
				PollMaxWait:  a.cfg.PollMaxWait.Std(),
				FetchRetries: a.cfg.FetchRetries,
				OutputDir:    outdir,
			}, a.log)

			if a.dryRun {
				return a.reportEstimate(ctx, orch, q.Dataset, entityIDs)
			}

			if err := a.checkDownloadPermission(ctx); err != nil {
				return err
			}

			manifest, err := orch.Run(ctx, q.Dataset, entityIDs)
			if err != nil {
				return err
			}
			a.printManifest(manifest)
			if a.strict && (len(manifest.Failed) > 0 || len(manifest.Expired) > 0) {
				return fmt.Errorf("%d of %d downloads did not complete",
					len(manifest.Failed)+len(manifest.Expired), manifest.Submitted())
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// splitAtDash separates the positional args into those before and after the
// -- terminator.
func splitAtDash(cmd *cobra.Command, args []string) (before, after []string) {
	if at := cmd.ArgsLenAtDash(); at >= 0 {
		return args[:at], args[at:]
	}
	return nil, args
}

func (a *App) newFetcher() *download.Fetcher {
	var progress download.ProgressFunc
	if a.verbosity >= 1 {
		progress = newProgressPrinter(a.err).update
	}
	return download.NewFetcher(a.transport, afero.NewOsFs(), progress, a.log)
}

// reportEstimate prints scene count and cumulative estimated size without
// submitting anything.
func (a *App) reportEstimate(ctx context.Context, orch *download.Orchestrator, dataset string, entityIDs []string) error {
	options, err := orch.Options(ctx, dataset, entityIDs)
	if err != nil {
		return err
	}
	var total int64
	available := 0
	seen := map[string]bool{}
	for _, opt := range options {
		if !opt.Available || seen[opt.EntityID] {
			continue
		}
		seen[opt.EntityID] = true
		available++
		total += opt.Filesize
	}
	fmt.Fprintf(a.out, "dry run: %d scenes matched, %d downloadable, estimated size %s\n",
		len(entityIDs), available, humanize.Bytes(uint64(total)))
	return nil
}

func (a *App) checkDownloadPermission(ctx context.Context) error {
	perms, err := a.catalog.Permissions(ctx)
	if err != nil {
		return fmt.Errorf("verify permissions: %w", err)
	}
	if !slices.Contains(perms, "download") {
		return fmt.Errorf("account lacks the download permission: %w", m2m.ErrAuth)
	}
	return nil
}

func (a *App) printManifest(m *download.Manifest) {
	for _, r := range m.Succeeded {
		fmt.Fprintf(a.out, "ok\t%s\t%s\n", r.Path, humanize.Bytes(uint64(r.Bytes)))
	}
	for _, r := range m.Failed {
		fmt.Fprintf(a.out, "failed\t%s\t%s\n", r.Request.EntityID, r.Reason)
	}
	for _, r := range m.Expired {
		fmt.Fprintf(a.out, "expired\t%s\t%s\n", r.Request.EntityID, r.Reason)
	}
	for _, id := range m.Unavailable {
		fmt.Fprintf(a.out, "unavailable\t%s\n", id)
	}
	fmt.Fprintf(a.out, "%d succeeded, %d failed, %d expired, %d unavailable\n",
		len(m.Succeeded), len(m.Failed), len(m.Expired), len(m.Unavailable))
}
