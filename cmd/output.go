package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"nfcom/internal/scheduler"
)

const dateLayout = "2006-01-02"

// writeJSON writes v as indented JSON to outputPath, or to stdout when empty.
func writeJSON(v interface{}, outputPath string, log zerolog.Logger) error {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal output to JSON")
		return fmt.Errorf("failed to create JSON output: %w", err)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, jsonData, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}
		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(jsonData)).
			Msg("Output written to file")
		return nil
	}

	if _, err := os.Stdout.Write(jsonData); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Println()
	return nil
}

// printSummary prints one line per outcome of a report.
func printSummary(title string, report *scheduler.RunReport) {
	fmt.Printf("%s: %d processed\n", title, len(report.Results))
	for _, o := range []scheduler.Outcome{
		scheduler.OutcomeAuthorized, scheduler.OutcomeRejected, scheduler.OutcomeError,
		scheduler.OutcomeInvalid, scheduler.OutcomeCertificate, scheduler.OutcomeFailed,
		scheduler.OutcomeSkipped, scheduler.OutcomeValidated,
	} {
		if n := report.Count(o); n > 0 {
			fmt.Printf("  %-12s %d\n", o, n)
		}
	}
	fmt.Printf("  billed       R$ %s\n", report.Billed().StringFixed(2))
	for _, r := range report.Results {
		switch r.Outcome {
		case scheduler.OutcomeAuthorized, scheduler.OutcomeSkipped, scheduler.OutcomeValidated:
			continue
		}
		fmt.Printf("  contract %d cycle %s: %s %s %s\n",
			r.ContractID, r.CycleDate.Format(dateLayout), r.Outcome, r.Code, r.Message)
	}
}

func parseIDs(args []string) ([]uint, error) {
	ids := make([]uint, 0, len(args))
	for _, a := range args {
		n, err := strconv.ParseUint(a, 10, 64)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid document id %q", a)
		}
		ids = append(ids, uint(n))
	}
	return ids, nil
}

// parseDate reads a YYYY-MM-DD flag value. Empty means today.
func parseDate(value string) (time.Time, error) {
	if value == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return t, nil
}
