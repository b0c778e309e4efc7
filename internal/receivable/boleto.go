package receivable

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyReal is the currency code of boletos in BRL.
const CurrencyReal = "9"

var factorBase = time.Date(1997, 10, 7, 0, 0, 0, 0, time.UTC)

// DueFactor returns the 4 digit due date factor. Factors restarted at 1000 on
// 2025-02-22 after reaching 9999, and repeat every 9000 days.
func DueFactor(due time.Time) (string, error) {
	due = time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	days := int(due.Sub(factorBase).Hours() / 24)
	if days < 1000 {
		return "", fmt.Errorf("%w: due date %s before the factor range", ErrInvalidBoleto, due.Format("2006-01-02"))
	}
	return fmt.Sprintf("%04d", (days-1000)%9000+1000), nil
}

// BarcodeFields are the inputs of a collection barcode.
type BarcodeFields struct {
	BankCode  string
	Due       time.Time
	Amount    decimal.Decimal
	FreeField string // 25 digits, bank specific
}

// Barcode builds the 44 digit barcode: bank(3) currency(1) DV(1) factor(4)
// amount(10) free field(25).
func Barcode(f BarcodeFields) (string, error) {
	if len(f.BankCode) != 3 || !numeric(f.BankCode) {
		return "", fmt.Errorf("%w: bank code %q", ErrInvalidBoleto, f.BankCode)
	}
	if len(f.FreeField) != 25 || !numeric(f.FreeField) {
		return "", fmt.Errorf("%w: free field %q", ErrInvalidBoleto, f.FreeField)
	}
	factor, err := DueFactor(f.Due)
	if err != nil {
		return "", err
	}
	cents := f.Amount.Round(2).Shift(2)
	if cents.IsNegative() || cents.GreaterThan(decimal.New(9999999999, 0)) {
		return "", fmt.Errorf("%w: amount %s", ErrInvalidBoleto, f.Amount)
	}
	amount := leftPad(cents.StringFixed(0), 10, '0')

	body := f.BankCode + CurrencyReal + factor + amount + f.FreeField
	dv := barcodeDigit(body)
	return body[:4] + strconv.Itoa(dv) + body[4:], nil
}

// DigitableLine converts a barcode into the 47 digit line printed on the slip.
func DigitableLine(barcode string) (string, error) {
	if len(barcode) != 44 || !numeric(barcode) {
		return "", fmt.Errorf("%w: barcode %q", ErrInvalidBoleto, barcode)
	}
	free := barcode[19:]
	f1 := barcode[0:4] + free[0:5]
	f2 := free[5:15]
	f3 := free[15:25]
	return f1 + strconv.Itoa(mod10(f1)) +
		f2 + strconv.Itoa(mod10(f2)) +
		f3 + strconv.Itoa(mod10(f3)) +
		barcode[4:5] + barcode[5:19], nil
}

// BradescoFreeField lays out agency(4) portfolio(2) our number(11) account(7) "0".
func BradescoFreeField(agency, portfolio, ourNumber, account string) (string, error) {
	agency, err := padDigits(agency, 4)
	if err != nil {
		return "", err
	}
	portfolio, err = padDigits(portfolio, 2)
	if err != nil {
		return "", err
	}
	ourNumber, err = padDigits(ourNumber, 11)
	if err != nil {
		return "", err
	}
	account, err = padDigits(account, 7)
	if err != nil {
		return "", err
	}
	return agency + portfolio + ourNumber + account + "0", nil
}

// OurNumberDigit is the modulo 11 (weights 2 to 7) check digit of portfolio
// plus our number. Remainder 1 yields "P".
func OurNumberDigit(portfolio, ourNumber string) string {
	digits := portfolio + ourNumber
	sum, w := 0, 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * w
		if w++; w > 7 {
			w = 2
		}
	}
	switch r := sum % 11; r {
	case 0:
		return "0"
	case 1:
		return "P"
	default:
		return strconv.Itoa(11 - r)
	}
}

// barcodeDigit is modulo 11 with weights 2 to 9; results 0, 10 and 11 become 1.
func barcodeDigit(digits string) int {
	sum, w := 0, 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * w
		if w++; w > 9 {
			w = 2
		}
	}
	dv := 11 - sum%11
	if dv == 0 || dv == 10 || dv == 11 {
		return 1
	}
	return dv
}

// mod10 alternates weights 2 and 1 from the right, summing product digits.
func mod10(digits string) int {
	sum, w := 0, 2
	for i := len(digits) - 1; i >= 0; i-- {
		p := int(digits[i]-'0') * w
		sum += p/10 + p%10
		w = 3 - w
	}
	return (10 - sum%10) % 10
}

func padDigits(s string, width int) (string, error) {
	if !numeric(s) || len(s) > width {
		return "", fmt.Errorf("%w: %q does not fit %d digits", ErrInvalidBoleto, s, width)
	}
	return leftPad(s, width, '0'), nil
}

func leftPad(s string, width int, pad byte) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(string(pad), width-len(s)) + s
}

func numeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
