package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the server and show local pull state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		fmt.Printf("Server: %s\n", cfg.BaseURL())
		storage, err := app.CheckConnection(ctx)
		if err != nil {
			errColor.Printf("  unreachable: %v\n", err)
		} else {
			okColor.Printf("  OK (storage: %s)\n", storage)
		}

		live, deleted, err := app.LocalCounts(ctx, "")
		if err != nil {
			return err
		}
		cp, err := app.Checkpoint(ctx, nil)
		if err != nil {
			return err
		}

		fmt.Printf("Local state: %s\n", cfg.DataPath)
		fmt.Printf("  records: %d live, %d deleted\n", live, deleted)
		if cp.Cursor == "" {
			fmt.Println("  full pull: never run")
		} else {
			fmt.Printf("  full pull: last checkpoint %s\n", cp.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}
