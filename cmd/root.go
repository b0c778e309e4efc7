package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"nfcom/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "nfcom",
	Short: "NFCom emission and billing pipeline",
	Long: `nfcom emits the monthly NFCom (modelo 62) of every active service
contract, transmits it to SEFAZ, generates the boleto of authorized documents
and notifies customers in batches.

Each subcommand runs one step of the pipeline and exits; serve exposes the
same steps over HTTP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
