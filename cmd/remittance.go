package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"nfcom/internal/archive"
	"nfcom/internal/logger"
	"nfcom/internal/receivable"
)

var remittanceCmd = &cobra.Command{
	Use:   "remittance",
	Short: "Write the CNAB 240 remittance file of a billing account",
	Long: `Collect every boleto prepared for remittance on the billing account,
write them to one CNAB 240 file in REMITTANCE_DIR and mark them sent. The file
is also uploaded to ARCHIVE_BUCKET when configured. Nothing is written when no
boleto is pending.`,
	Example: `  nfcom remittance --account 3`,
	Args:    cobra.NoArgs,
	RunE:    runRemittance,
}

func init() {
	rootCmd.AddCommand(remittanceCmd)

	remittanceCmd.Flags().Uint("account", 0, "Billing account id")
	_ = remittanceCmd.MarkFlagRequired("account")
}

func runRemittance(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("remittance")

	accountID, _ := cmd.Flags().GetUint("account")

	ctx, cancel := commandContext(log)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return handlePipelineError(err, log)
	}
	a := &app{cfg: cfg, store: st, log: log}
	defer a.Close()

	if cfg.ArchiveBucket != "" {
		a.s3, err = archive.NewS3Client(ctx, cfg.AWSRegion)
		if err != nil {
			return handlePipelineError(err, log)
		}
		a.archive = archive.New(a.s3, cfg.ArchiveBucket, cfg.ArchivePrefix)
	}

	res, err := receivable.NewRemitter(st, cfg.RemittanceDir, a.remittanceArchive()).Generate(ctx, accountID)
	if err != nil {
		return handlePipelineError(err, log)
	}
	if res.Count == 0 {
		fmt.Printf("No boleto pending for account %d\n", accountID)
		return nil
	}
	fmt.Printf("Remittance %s: %d boletos, R$ %s, sequence %d\n  %s\n",
		res.File, res.Count, res.Total.StringFixed(2), res.Sequence, res.Path)
	return nil
}
