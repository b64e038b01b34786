package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/akarpov87/m2mfetch/internal/download"
)

func (a *App) newQueueCmd() *cobra.Command {
	queue := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and clean the remote download queue",
	}

	var label string

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending download requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cleaner := download.NewCleaner(a.session, a.log)
			pending, err := cleaner.ListPending(cmd.Context(), label)
			if err != nil {
				return err
			}
			for _, r := range pending {
				fmt.Fprintf(a.out, "%d\t%s\t%s\t%s\n",
					r.DownloadID, r.EntityID, r.Status, humanize.Bytes(uint64(r.Filesize)))
			}
			fmt.Fprintf(a.out, "%d pending requests\n", len(pending))
			return nil
		},
	}

	clean := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale or completed download requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cleaner := download.NewCleaner(a.session, a.log)
			pending, err := cleaner.ListPending(cmd.Context(), label)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(a.out, "queue is empty")
				return nil
			}
			if a.dryRun {
				fmt.Fprintf(a.out, "dry run: would remove %d requests\n", len(pending))
				return nil
			}
			ids := make([]int64, 0, len(pending))
			for _, r := range pending {
				ids = append(ids, r.DownloadID)
			}
			removed, failed := 0, 0
			for _, out := range cleaner.Remove(cmd.Context(), ids) {
				if out.Err != nil {
					failed++
					continue
				}
				removed++
			}
			fmt.Fprintf(a.out, "%d removed, %d failed\n", removed, failed)
			return nil
		},
	}

	for _, c := range []*cobra.Command{list, clean} {
		c.Flags().StringVar(&label, "label", "", "only requests submitted under this label")
	}
	queue.AddCommand(list, clean)
	return queue
}
