package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"nfcom/internal/logger"
)

// PaymentsSheet is the default sheet holding bank credits.
const PaymentsSheet = "Pagamentos"

// RangeReader reads raw cell values, as *sheets.Service does.
type RangeReader interface {
	ReadRange(ctx context.Context, rangeSpec string) ([][]interface{}, error)
}

// DataReader handles reading reconciliation data from Google Sheets
type DataReader struct {
	sheets RangeReader
	log    zerolog.Logger
}

// NewDataReader creates a new data reader for Google Sheets
func NewDataReader(sheets RangeReader) *DataReader {
	return &DataReader{
		sheets: sheets,
		log:    logger.WithComponent("reconciliation-reader"),
	}
}

// ReadPayments reads boleto credits from sheetName. Rows that do not parse
// are skipped and counted.
func (dr *DataReader) ReadPayments(ctx context.Context, sheetName string) ([]Payment, int, error) {
	const op = "ReadPayments"

	dr.log.Info().Str("sheet", sheetName).Msg("Reading payments")

	// Expected columns: A=Data, B=Nosso número, C=Valor pago, D=Pagador
	values, err := dr.sheets.ReadRange(ctx, sheetName+"!A:D")
	if err != nil {
		return nil, 0, fmt.Errorf("%s: failed to read %s sheet: %w", op, sheetName, err)
	}
	if len(values) == 0 {
		return nil, 0, fmt.Errorf("%s: %s sheet is empty", op, sheetName)
	}

	var (
		payments []Payment
		skipped  int
	)
	for i, row := range values[1:] {
		rowNum := i + 2 // header plus 1-based rows

		if len(row) < 3 {
			dr.log.Warn().
				Int("row", rowNum).
				Int("columns", len(row)).
				Msg("Skipping payment row with insufficient columns")
			skipped++
			continue
		}

		payment, err := parsePayment(row, rowNum)
		if err != nil {
			dr.log.Warn().Err(err).Int("row", rowNum).Msg("Failed to parse payment, skipping")
			skipped++
			continue
		}
		payments = append(payments, payment)
	}

	dr.log.Info().
		Int("total_rows", len(values)-1).
		Int("parsed_payments", len(payments)).
		Str("sheet", sheetName).
		Msg("Payments read successfully")

	return payments, skipped, nil
}

func parsePayment(row []interface{}, rowNum int) (Payment, error) {
	const op = "parsePayment"

	dateStr := getString(row, 0)
	date, err := parseDate(dateStr)
	if err != nil {
		return Payment{}, fmt.Errorf("%s: invalid date '%s' in row %d: %w", op, dateStr, rowNum, err)
	}

	ourNumber := digits(getString(row, 1))
	if ourNumber == "" {
		return Payment{}, fmt.Errorf("%s: missing nosso número in row %d", op, rowNum)
	}

	amountStr := getString(row, 2)
	amount, err := parseAmount(amountStr)
	if err != nil {
		return Payment{}, fmt.Errorf("%s: invalid amount '%s' in row %d: %w", op, amountStr, rowNum, err)
	}
	if !amount.IsPositive() {
		return Payment{}, fmt.Errorf("%s: non-positive amount '%s' in row %d", op, amountStr, rowNum)
	}

	return Payment{
		Row:       rowNum,
		Date:      date,
		OurNumber: ourNumber,
		Amount:    amount,
		Payer:     getString(row, 3),
	}, nil
}

// parseDate parses Brazilian dates (DD/MM/YYYY) with an ISO fallback
func parseDate(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("empty date string")
	}
	cleaned := strings.TrimSpace(dateStr)

	formats := []string{
		"02/01/2006",
		"2/1/2006",
		"02/01/06",
		"2006-01-02",
	}
	for _, format := range formats {
		if date, err := time.ParseInLocation(format, cleaned, time.UTC); err == nil {
			return date, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}

// parseAmount parses Brazilian amounts: dot for thousands, comma for decimals
func parseAmount(amountStr string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(amountStr)
	cleaned = strings.ReplaceAll(cleaned, "R$", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "\u00a0", "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	// "1.234,56" and "1234,56" are Brazilian; "1234.56" comes from unformatted cells
	if strings.Contains(cleaned, ",") {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to parse amount: %s (cleaned: %s)", amountStr, cleaned)
	}
	return amount.Round(2), nil
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// getString safely extracts a string value from a row slice
func getString(row []interface{}, index int) string {
	if index >= len(row) || row[index] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", row[index]))
}
