package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"portalsync/internal/domain/relay"

	"github.com/spf13/cobra"
)

var (
	submitMember    string
	submitResponses string
	listFormID      string
	listSince       string
	retryLimit      int
)

var submitCmd = &cobra.Command{
	Use:   "submit <formId>",
	Short: "Submit a form for a member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := relay.SubmitRequest{MemberID: submitMember, Responses: map[string]any{}}
		if submitResponses != "" {
			if err := json.Unmarshal([]byte(submitResponses), &req.Responses); err != nil {
				return fmt.Errorf("--responses must be a JSON object: %w", err)
			}
		}

		res, err := app.Submit(cmd.Context(), args[0], req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}

		okColor.Printf("Submission %s stored\n", res.SubmissionID)
		if res.WebhookSynced {
			okColor.Println("  relayed to the communications system")
		} else {
			warnColor.Printf("  not relayed yet: %s\n", res.WebhookError)
		}
		return nil
	},
}

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "List submissions for reconciliation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var since time.Time
		if listSince != "" {
			t, err := time.Parse(time.RFC3339Nano, listSince)
			if err != nil {
				return fmt.Errorf("--since must be an ISO 8601 timestamp: %w", err)
			}
			since = t
		}

		views, err := app.Submissions(cmd.Context(), listFormID, since)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(views)
		}
		if len(views) == 0 {
			fmt.Println("No submissions")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFORM\tMEMBER\tSTATE\tATTEMPTS\tSUBMITTED\tLAST ERROR")
		for _, v := range views {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				v.SubmissionID, v.FormID, v.Submitter.MemberID, v.State, v.SyncAttempts,
				v.SubmittedAt.Local().Format("2006-01-02 15:04"), v.LastSyncError)
		}
		return w.Flush()
	},
}

var ackCmd = &cobra.Command{
	Use:   "ack <submissionId>",
	Short: "Mark a pulled submission as synced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := app.Ack(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(view)
		}
		okColor.Printf("Submission %s is %s\n", view.SubmissionID, view.State)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-deliver failed submissions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		report, err := app.Retry(cmd.Context(), retryLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(report)
		}

		okColor.Printf("Delivered %d of %d\n", report.Delivered, report.Attempted)
		for _, e := range report.Errors {
			errColor.Printf("  %s\n", e)
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitMember, "member", "", "member id")
	submitCmd.Flags().StringVar(&submitResponses, "responses", "", `answers as a JSON object, e.g. '{"size":"M"}'`)
	_ = submitCmd.MarkFlagRequired("member")

	submissionsCmd.Flags().StringVar(&listFormID, "form", "", "only this form")
	submissionsCmd.Flags().StringVar(&listSince, "since", "", "only submissions at or after this ISO 8601 time")

	retryCmd.Flags().IntVar(&retryLimit, "limit", relay.DefaultRetryLimit, "maximum submissions to retry")
}
