package cmd

import (
	"github.com/spf13/cobra"
	"nfcom/internal/logger"
	"nfcom/internal/sheets"
)

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Run one emission pass over the contracts due on a date",
	Long: `Select every active contract whose next emission date is on or before
the run date, emit one NFCom per due cycle and transmit it to SEFAZ.
Authorized documents get their boleto, a Kafka event and an S3 copy when
those integrations are configured.

A contract behind by several cycles advances one cycle per pass.`,
	Example: `  # Emit everything due today
  nfcom emit

  # Emit for a past date and append the result to the Google Sheet
  nfcom emit --date 2025-03-05 --report

  # Build and validate without numbering, signing or transmitting
  nfcom emit --dry-run -o report.json`,
	Args: cobra.NoArgs,
	RunE: runEmit,
}

func init() {
	rootCmd.AddCommand(emitCmd)

	emitCmd.Flags().String("date", "", "Run date, YYYY-MM-DD (default: today)")
	emitCmd.Flags().Bool("dry-run", false, "Build and validate documents without emitting them")
	emitCmd.Flags().Bool("report", false, "Append the run report to GOOGLE_SHEET_URL")
	emitCmd.Flags().StringP("output", "o", "", "Write the JSON run report to a file")
}

func runEmit(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("emit")

	dateFlag, _ := cmd.Flags().GetString("date")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	report, _ := cmd.Flags().GetBool("report")
	outputPath, _ := cmd.Flags().GetString("output")

	runDate, err := parseDate(dateFlag)
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

	if report && a.cfg.GoogleSheetURL == "" {
		return handlePipelineError(errMissingSheet, log)
	}

	log.Info().
		Str("run_date", runDate.Format(dateLayout)).
		Bool("dry_run", dryRun).
		Msg("Starting emission pass")

	result, runErr := a.scheduler(dryRun).Run(ctx, runDate)
	if result == nil {
		return handlePipelineError(runErr, log)
	}

	printSummary("Emission "+runDate.Format(dateLayout), result)
	if outputPath != "" {
		if err := writeJSON(result, outputPath, log); err != nil {
			return err
		}
	}

	if report {
		svc, err := sheets.NewSheetsService(ctx, a.cfg.GoogleSheetURL)
		if err != nil {
			return handlePipelineError(err, log)
		}
		if err := svc.WriteRunReport(ctx, result, a.cfg.GoogleSheetWorksheet); err != nil {
			// the pass already happened; a missing report is not a failed emission
			log.Error().Err(err).Msg("Failed to write run report")
		}
	}

	if runErr != nil {
		return handlePipelineError(runErr, log)
	}
	return nil
}
