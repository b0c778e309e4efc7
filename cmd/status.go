package cmd

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"nfcom/internal/logger"
	"nfcom/internal/store"
	"nfcom/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document counts, list documents by status or query SEFAZ by access key",
	Example: `  # Documents per status
  nfcom status

  # Documents left in error, with their last error
  nfcom status --status error

  # Ask SEFAZ about one access key
  nfcom status --key 43250311222333000181620010000000011000000011`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("status", "", "List documents in this status")
	statusCmd.Flags().Int("limit", 50, "Maximum documents listed")
	statusCmd.Flags().String("key", "", "Query the authority for this access key")
	statusCmd.Flags().Uint("company", 0, "Company whose certificate queries --key, when the document is not stored")
}

func runStatus(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("status")

	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	key, _ := cmd.Flags().GetString("key")
	companyID, _ := cmd.Flags().GetUint("company")

	ctx, cancel := commandContext(log)
	defer cancel()

	a, err := openApp(ctx, log)
	if err != nil {
		return handlePipelineError(err, log)
	}
	defer a.Close()

	switch {
	case key != "":
		if companyID == 0 {
			doc, err := a.store.DocumentByKey(ctx, key)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("access key %s is not stored; pass --company to query it anyway", key)
				}
				return handlePipelineError(err, log)
			}
			companyID = doc.CompanyID
		}
		cert, err := a.signer.TLSCertificate(ctx, companyID)
		if err != nil {
			return handlePipelineError(err, log)
		}
		res, err := a.sefaz.Query(ctx, cert, key)
		if res != nil {
			fmt.Printf("Access key %s\n  cStat     %s (%s)\n  motivo    %s\n  protocolo %s\n",
				key, res.Code, res.Outcome, res.Message, res.Protocol)
		}
		if err != nil {
			return handlePipelineError(err, log)
		}
		return nil

	case status != "":
		st := models.DocumentStatus(status)
		if !st.Valid() {
			return fmt.Errorf("unknown status %q", status)
		}
		docs, err := a.store.DocumentsByStatus(ctx, st, limit)
		if err != nil {
			return handlePipelineError(err, log)
		}
		fmt.Printf("%d %s documents\n", len(docs), st)
		for _, d := range docs {
			reason := d.LastError
			if reason == "" {
				reason = d.AuthorityMessage
			}
			fmt.Printf("  #%d contract %d cycle %s number %d R$ %s attempts %d %s\n",
				d.ID, d.ContractID, d.CycleDate.Format(dateLayout), d.Number,
				d.Total.StringFixed(2), d.Attempts, reason)
		}
		return nil
	}

	counts, err := a.store.CountByStatus(ctx)
	if err != nil {
		return handlePipelineError(err, log)
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("%-12s %d\n", s, counts[models.DocumentStatus(s)])
	}
	return nil
}
