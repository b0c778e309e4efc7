package receivable

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestDueFactor(t *testing.T) {
	cases := []struct {
		due  time.Time
		want string
	}{
		{day(2000, 7, 3), "1000"},
		{day(2024, 12, 31), "9947"},
		{day(2025, 2, 21), "9999"},
		{day(2025, 2, 22), "1000"},
		{day(2025, 3, 10), "1016"},
	}
	for _, c := range cases {
		got, err := DueFactor(c.due)
		if err != nil || got != c.want {
			t.Fatalf("DueFactor(%s) = %s, %v; want %s", c.due.Format("2006-01-02"), got, err, c.want)
		}
	}
	if _, err := DueFactor(day(1999, 1, 1)); !errors.Is(err, ErrInvalidBoleto) {
		t.Fatalf("expected ErrInvalidBoleto before the factor range, got %v", err)
	}
}

func TestBarcodeAndDigitableLine(t *testing.T) {
	free, err := BradescoFreeField("1234", "09", "1", "12345")
	if err != nil {
		t.Fatalf("BradescoFreeField: %v", err)
	}
	if free != "1234090000000000100123450" {
		t.Fatalf("free field = %s", free)
	}

	barcode, err := Barcode(BarcodeFields{
		BankCode:  "237",
		Due:       day(2025, 3, 10),
		Amount:    decimal.RequireFromString("249.90"),
		FreeField: free,
	})
	if err != nil {
		t.Fatalf("Barcode: %v", err)
	}
	if barcode != "23793101600000249901234090000000000100123450" {
		t.Fatalf("barcode = %s", barcode)
	}

	line, err := DigitableLine(barcode)
	if err != nil {
		t.Fatalf("DigitableLine: %v", err)
	}
	if line != "23791234059000000000101001234507310160000024990" {
		t.Fatalf("digitable line = %s", line)
	}
}

func TestBarcodeRejectsBadInput(t *testing.T) {
	base := BarcodeFields{BankCode: "237", Due: day(2025, 3, 10), Amount: decimal.NewFromInt(10), FreeField: "1234090000000000100123450"}

	bad := []BarcodeFields{base, base, base}
	bad[0].BankCode = "23"
	bad[1].FreeField = "123"
	bad[2].Amount = decimal.NewFromInt(-1)
	for i, f := range bad {
		if _, err := Barcode(f); !errors.Is(err, ErrInvalidBoleto) {
			t.Fatalf("case %d: expected ErrInvalidBoleto, got %v", i, err)
		}
	}
	if _, err := BradescoFreeField("123456", "09", "1", "1"); !errors.Is(err, ErrInvalidBoleto) {
		t.Fatalf("oversized agency accepted: %v", err)
	}
}

func TestCheckDigits(t *testing.T) {
	// worked example from the Bradesco collection manual
	if got := OurNumberDigit("19", "00000000002"); got != "8" {
		t.Fatalf("OurNumberDigit = %s, want 8", got)
	}
	if got := OurNumberDigit("09", "00000000001"); got != "1" {
		t.Fatalf("OurNumberDigit = %s, want 1", got)
	}
	if got := mod10("237912340"); got != 5 {
		t.Fatalf("mod10 = %d, want 5", got)
	}
}
