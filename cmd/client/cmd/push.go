package cmd

import (
	"fmt"
	"io"
	"os"

	"portalsync/internal/domain/sync"

	"github.com/spf13/cobra"
)

var pushBulletins bool

var pushCmd = &cobra.Command{
	Use:   "push <file|->",
	Short: "Push a batch file",
	Long: `push validates a JSON batch locally and sends it to the sync service.
A batch without a syncId gets one, so re-running a failed push is safe.
Use --bulletins for bulletin batches.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		kind := sync.KindMutation
		if pushBulletins {
			kind = sync.KindBulletin
		}

		res, err := app.Push(cmd.Context(), r, kind)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}

		if res.Replayed {
			warnColor.Printf("Batch %s was already applied; showing the stored result\n", res.SyncID)
		}
		okColor.Printf("Processed %d, failed %d (syncId %s)\n", res.Processed, res.Failed, res.SyncID)
		for _, e := range res.Errors {
			errColor.Printf("  item %d: %s\n", e.Index, e.Error)
		}
		for _, c := range res.Cascaded {
			fmt.Printf("  cascaded %s/%s: %s\n", c.Model, c.ID, c.Reason)
		}
		return nil
	},
}

func init() {
	pushCmd.Flags().BoolVar(&pushBulletins, "bulletins", false, "send to the bulletin endpoint")
}
