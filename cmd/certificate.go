package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"nfcom/internal/archive"
	"nfcom/internal/logger"
	"nfcom/internal/signer"
)

var certificateCmd = &cobra.Command{
	Use:   "certificate",
	Short: "Manage company A1 certificates",
}

var certificateImportCmd = &cobra.Command{
	Use:   "import [pfx-file]",
	Short: "Encrypt a PKCS#12 certificate and store it for a company",
	Long: `Encrypt the PKCS#12 bundle with CERT_ENCRYPTION_KEY, store it and check that
it opens with the given password. With CERT_BUCKET set the bundle goes to
S3 at CERT_PREFIX<company>.pfx.enc and only the password is kept in the
database.`,
	Example: `  nfcom certificate import empresa.pfx --company 1 --password "$PFX_PASSWORD"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCertificateImport,
}

func init() {
	rootCmd.AddCommand(certificateCmd)
	certificateCmd.AddCommand(certificateImportCmd)

	certificateImportCmd.Flags().Uint("company", 0, "Company id")
	certificateImportCmd.Flags().String("password", "", "PKCS#12 password")
	_ = certificateImportCmd.MarkFlagRequired("company")
}

func runCertificateImport(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("certificate")

	companyID, _ := cmd.Flags().GetUint("company")
	password, _ := cmd.Flags().GetString("password")

	ctx, cancel := commandContext(log)
	defer cancel()

	pfx, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}

	a, err := openApp(ctx, log)
	if err != nil {
		return handlePipelineError(err, log)
	}
	defer a.Close()

	key, err := signer.ParseKey(a.cfg.CertEncryptionKey)
	if err != nil {
		return handlePipelineError(err, log)
	}
	sealed, err := signer.Encrypt(key, pfx)
	if err != nil {
		return handlePipelineError(err, log)
	}

	if a.cfg.CertBucket != "" {
		certs := archive.New(a.s3, a.cfg.CertBucket, "")
		objectKey := fmt.Sprintf("%s%d.pfx.enc", a.cfg.CertPrefix, companyID)
		if err := certs.Put(ctx, objectKey, sealed, "application/octet-stream"); err != nil {
			return handlePipelineError(err, log)
		}
		err = a.store.SetCertificate(ctx, companyID, nil, password)
	} else {
		err = a.store.SetCertificate(ctx, companyID, sealed, password)
	}
	if err != nil {
		return handlePipelineError(err, log)
	}

	creds, err := a.signer.Load(context.WithoutCancel(ctx), companyID)
	if err != nil {
		return handlePipelineError(err, log)
	}
	fmt.Printf("Certificate stored for company %d\n  subject %s\n  valid until %s\n",
		companyID, creds.Leaf.Subject.CommonName, creds.Leaf.NotAfter.Format(dateLayout))
	return nil
}
