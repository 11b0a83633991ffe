package cmd

import (
	"fmt"
	"strings"
	"time"

	"portalsync/internal/app/client"
	"portalsync/internal/domain/sync"

	"github.com/spf13/cobra"
)

var (
	pullModels   string
	pullLimit    int
	pullSince    string
	pullMaxPages int
	pullReset    bool
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull changes into the local store",
	Long: `pull fetches delta pages until the server reports no more changes. The
cursor of each page is saved, so the next pull resumes where this one
stopped. Checkpoints are kept per model filter.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		opts := client.PullOptions{
			Limit:    pullLimit,
			MaxPages: pullMaxPages,
		}
		for _, m := range strings.Split(pullModels, ",") {
			if m = strings.TrimSpace(m); m != "" {
				opts.Models = append(opts.Models, m)
			}
		}
		if pullSince != "" {
			t, err := time.Parse(time.RFC3339Nano, pullSince)
			if err != nil {
				return fmt.Errorf("--since must be an ISO 8601 timestamp: %w", err)
			}
			opts.Since = t
		}
		if pullReset {
			if err := app.ResetCheckpoint(ctx, opts.Models); err != nil {
				return err
			}
		}

		start := time.Now()
		report, err := app.Pull(ctx, opts)
		if report != nil && report.Pages > 0 && err != nil {
			warnColor.Printf("Stopped after %d pages; progress up to the last page is saved\n", report.Pages)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(report)
		}

		okColor.Printf("Pulled %d changes (%d deletions) in %d pages, %v\n",
			report.Items, report.Deleted, report.Pages, time.Since(start).Round(time.Millisecond))
		if report.HasMore {
			warnColor.Println("More changes are waiting; run pull again")
		}
		return nil
	},
}

func init() {
	pullCmd.Flags().StringVar(&pullModels, "models", "", "comma separated models, e.g. profile,family_info")
	pullCmd.Flags().IntVar(&pullLimit, "limit", sync.DefaultDeltaLimit, "page size")
	pullCmd.Flags().StringVar(&pullSince, "since", "", "restart from this ISO 8601 time instead of the checkpoint")
	pullCmd.Flags().IntVar(&pullMaxPages, "max-pages", 0, "stop after this many pages (0 = all)")
	pullCmd.Flags().BoolVar(&pullReset, "reset", false, "forget the checkpoint and pull everything")
}
