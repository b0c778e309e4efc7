package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"nfcom/internal/logger"
	"nfcom/internal/reconciliation"
	"nfcom/internal/sheets"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Settle boletos from the bank credits listed in Google Sheets",
	Long: `Read bank credits from the "Pagamentos" sheet and mark the matching
boletos paid. Credits are matched by nosso número; a credit below the boleto
amount leaves it open and is reported.

Expected columns: A=Data (DD/MM/YYYY), B=Nosso número, C=Valor pago, D=Pagador

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_SHEET_URL - Google Sheets URL containing the Pagamentos sheet`,
	Example: `  # Settle from the default sheet
  nfcom reconcile

  # Read another sheet and keep the full report
  nfcom reconcile --sheet "Pagamentos Março" -o reconcile.json`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().String("sheet", reconciliation.PaymentsSheet, "Sheet holding the bank credits")
	reconcileCmd.Flags().StringP("output", "o", "", "Write the JSON report to a file")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("reconcile")

	sheetName, _ := cmd.Flags().GetString("sheet")
	outputPath, _ := cmd.Flags().GetString("output")

	ctx, cancel := commandContext(log)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.GoogleSheetURL == "" {
		return fmt.Errorf("GOOGLE_SHEET_URL environment variable is required")
	}
	st, err := openStore(cfg)
	if err != nil {
		return handlePipelineError(err, log)
	}
	defer st.Close()

	svc, err := sheets.NewSheetsService(ctx, cfg.GoogleSheetURL)
	if err != nil {
		return handlePipelineError(err, log)
	}
	payments, skipped, err := reconciliation.NewDataReader(svc).ReadPayments(ctx, sheetName)
	if err != nil {
		return handlePipelineError(err, log)
	}

	report, err := reconciliation.NewReconciler(st).Reconcile(ctx, payments)
	if report == nil {
		return handlePipelineError(err, log)
	}
	report.Skipped = skipped

	fmt.Printf("Reconciliation: %d credits, %d rows skipped\n", len(report.Matches), skipped)
	fmt.Printf("  paid         %d (R$ %s)\n", report.Count(reconciliation.OutcomePaid), report.Received().StringFixed(2))
	for _, m := range report.Matches {
		switch m.Outcome {
		case reconciliation.OutcomePaid, reconciliation.OutcomeAlreadyPaid:
			continue
		}
		fmt.Printf("  row %d nosso número %s R$ %s: %s %s\n",
			m.Payment.Row, m.Payment.OurNumber, m.Payment.Amount.StringFixed(2), m.Outcome, m.Detail)
	}
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
