package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"nfcom/internal/logger"
)

var notifyCmd = &cobra.Command{
	Use:   "notify [document-id...]",
	Short: "Send authorized documents to customers as one notification job",
	Long: `Create one notification job for the given documents and deliver every
item through the RabbitMQ e-mail relay. Items that cannot be delivered are
recorded as failed with their reason; the job completes once every item was
processed.

Required environment variables:
  RABBITMQ_URL - AMQP URL of the relay broker
  NOTIFY_QUEUE - queue consumed by the e-mail relay (default nfcom.notifications)`,
	Example: `  # Notify three documents
  nfcom notify 41 42 43

  # Notify every authorized document issued since March 1st and not yet sent
  nfcom notify --since 2025-03-01`,
	RunE: runNotify,
}

func init() {
	rootCmd.AddCommand(notifyCmd)

	notifyCmd.Flags().String("since", "", "Notify authorized, undelivered documents issued since this date (YYYY-MM-DD)")
	notifyCmd.Flags().Int("limit", 500, "Maximum documents selected by --since")
	notifyCmd.Flags().StringP("output", "o", "", "Write the JSON job to a file")
}

func runNotify(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("notify")

	since, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")
	outputPath, _ := cmd.Flags().GetString("output")

	if (len(args) == 0) == (since == "") {
		return errors.New("pass document ids or --since, not both")
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

	if since != "" {
		from, err := parseDate(since)
		if err != nil {
			return err
		}
		docs, err := a.store.UndeliveredSince(ctx, from, limit)
		if err != nil {
			return handlePipelineError(err, log)
		}
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		log.Info().Int("documents", len(ids)).Str("since", since).Msg("Selected undelivered documents")
	}

	n, err := a.notifier()
	if err != nil {
		return handlePipelineError(err, log)
	}
	job, err := n.Run(ctx, ids)
	if job == nil {
		return handlePipelineError(err, log)
	}

	fmt.Printf("Notification job %s: %d/%d processed, %d sent, %d failed\n",
		job.ID, job.Processed, job.Total, job.Successes, job.Failures)
	for _, it := range job.Items {
		if it.Error != "" {
			fmt.Printf("  document %d: %s\n", it.DocumentID, it.Error)
		}
	}
	if outputPath != "" {
		if werr := writeJSON(job, outputPath, log); werr != nil {
			return werr
		}
	}
	if err != nil {
		return handlePipelineError(err, log)
	}
	return nil
}
