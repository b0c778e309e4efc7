package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"nfcom/internal/logger"
	"nfcom/internal/scheduler"
	"nfcom/pkg/models"
)

var retryCmd = &cobra.Command{
	Use:   "retry [document-id...]",
	Short: "Retransmit documents left signed, transmitted or in error",
	Long: `Retry documents that did not reach a final authority answer. Documents
that may already have reached SEFAZ are first looked up by access key, so an
ambiguous timeout never produces a second submission.`,
	Example: `  # Retry two documents
  nfcom retry 41 42

  # Retry up to 200 documents in error
  nfcom retry --status error --limit 200`,
	RunE: runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)

	retryCmd.Flags().String("status", "", "Retry documents in this status (signed, transmitted or error)")
	retryCmd.Flags().Int("limit", 100, "Maximum documents selected by --status")
	retryCmd.Flags().StringP("output", "o", "", "Write the JSON report to a file")
}

func runRetry(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("retry")

	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	outputPath, _ := cmd.Flags().GetString("output")

	if (len(args) == 0) == (status == "") {
		return errors.New("pass document ids or --status, not both")
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(log)
	defer cancel()

	a, err := openApp(ctx, log)
	if err != nil {
		return handlePipelineError(err, log)
	}
	defer a.Close()

	s := a.scheduler(false)
	var report *scheduler.RunReport
	if status != "" {
		report, err = s.RetryStatus(ctx, models.DocumentStatus(status), limit)
	} else {
		report, err = s.Retry(ctx, ids)
	}
	if report == nil {
		return handlePipelineError(err, log)
	}

	printSummary("Retry", report)
	if outputPath != "" {
		if werr := writeJSON(report, outputPath, log); werr != nil {
			return werr
		}
	}
	if err != nil {
		return handlePipelineError(err, log)
	}
	return nil
}
