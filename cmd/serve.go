package cmd

import (
	"github.com/spf13/cobra"
	"nfcom/internal/api"
	"nfcom/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the trigger and query API",
	Long: `Expose the pipeline over HTTP on API_ADDR:

  GET  /health
  POST /emissions/run            {"date": "YYYY-MM-DD"}
  POST /documents/retry          {"document_ids": [...]} or {"status": "error"}
  GET  /documents?status=error
  GET  /documents/counts
  POST /notifications/jobs       {"document_ids": [...]}
  GET  /notifications/jobs/:id

Notification jobs run in the background; the server waits for them on
shutdown.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	ctx, cancel := commandContext(log)
	defer cancel()

	a, err := openApp(ctx, log)
	if err != nil {
		return handlePipelineError(err, log)
	}
	defer a.Close()

	n, err := a.notifier()
	if err != nil {
		return handlePipelineError(err, log)
	}
	defer n.Wait()

	srv := api.New(a.scheduler(false), n, a.store)
	if err := srv.Start(ctx, a.cfg.APIAddr); err != nil {
		return handlePipelineError(err, log)
	}
	return nil
}
