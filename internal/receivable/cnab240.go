package receivable

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"nfcom/pkg/models"
)

// LineWidth is the fixed width of every CNAB 240 record.
const LineWidth = 240

const (
	layoutFileVersion = "089"
	layoutLotVersion  = "045"
)

// RemittanceItem is one receivable with its payer.
type RemittanceItem struct {
	Receivable models.Receivable
	Payer      models.Client
}

// Remittance is the content of one CNAB 240 file: a single lot of boletos.
type Remittance struct {
	Company   models.Company
	Account   models.BillingAccount
	Sequence  int64 // NSA
	CreatedAt time.Time
	Items     []RemittanceItem
}

// Total sums the nominal amounts written to the P segments. Discounts travel
// in their own field and are not deducted.
func (r Remittance) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range r.Items {
		sum = sum.Add(it.Receivable.Amount)
	}
	return sum
}

// WriteRemittance writes the file header, one lot with a P and Q segment per
// receivable, the lot trailer and the file trailer. Lines end in "\n".
func WriteRemittance(w io.Writer, r Remittance) error {
	lines := []string{fileHeader(r), lotHeader(r)}
	for i, it := range r.Items {
		lines = append(lines, segmentP(r, it, 2*i+1), segmentQ(r, it, 2*i+2))
	}
	lines = append(lines, lotTrailer(r), fileTrailer(r))

	for i, l := range lines {
		if len(l) != LineWidth {
			return fmt.Errorf("WriteRemittance: record %d has %d columns", i+1, len(l))
		}
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return fmt.Errorf("WriteRemittance: %w", err)
		}
	}
	return nil
}

func fileHeader(r Remittance) string {
	a := r.Account
	var l record
	l.digits(3, a.BankCode)
	l.digits(4, "0000")
	l.digits(1, "0")
	l.blank(9)
	l.digits(1, "2") // CNPJ
	l.digits(14, r.Company.CNPJ)
	l.alpha(20, a.Agreement)
	l.digits(5, a.Agency)
	l.alpha(1, a.AgencyDV)
	l.digits(12, a.Account)
	l.alpha(1, a.AccountDV)
	l.blank(1)
	l.alpha(30, r.Company.Name)
	l.alpha(30, bankName(a.BankCode))
	l.blank(10)
	l.digits(1, "1") // remessa
	l.date(r.CreatedAt)
	l.alpha(6, r.CreatedAt.Format("150405"))
	l.num(6, r.Sequence)
	l.digits(3, layoutFileVersion)
	l.num(5, 0)
	l.blank(20)
	l.blank(20)
	l.blank(29)
	return l.String()
}

func lotHeader(r Remittance) string {
	a := r.Account
	var l record
	l.digits(3, a.BankCode)
	l.num(4, 1)
	l.digits(1, "1")
	l.alpha(1, "R")
	l.digits(2, "01") // cobrança
	l.blank(2)
	l.digits(3, layoutLotVersion)
	l.blank(1)
	l.digits(1, "2")
	l.digits(15, r.Company.CNPJ)
	l.alpha(20, a.Agreement)
	l.digits(5, a.Agency)
	l.alpha(1, a.AgencyDV)
	l.digits(12, a.Account)
	l.alpha(1, a.AccountDV)
	l.blank(1)
	l.alpha(30, r.Company.Name)
	l.blank(40)
	l.blank(40)
	l.num(8, r.Sequence)
	l.date(r.CreatedAt)
	l.num(8, 0)
	l.blank(33)
	return l.String()
}

func segmentP(r Remittance, it RemittanceItem, seq int) string {
	a, rec := r.Account, it.Receivable
	var l record
	l.digits(3, a.BankCode)
	l.num(4, 1)
	l.digits(1, "3")
	l.num(5, int64(seq))
	l.alpha(1, "P")
	l.blank(1)
	l.digits(2, "01") // entrada de título
	l.digits(5, a.Agency)
	l.alpha(1, a.AgencyDV)
	l.digits(12, a.Account)
	l.alpha(1, a.AccountDV)
	l.blank(1)
	l.alpha(20, ourNumberField(a.Portfolio, rec.OurNumber))
	l.digits(1, "1") // cobrança simples
	l.digits(1, "1") // com cadastramento
	l.digits(1, "1") // tradicional
	l.digits(1, "2") // cliente emite
	l.digits(1, "2") // cliente distribui
	l.alpha(15, documentNumber(rec))
	l.date(rec.DueDate)
	l.money(15, rec.Amount)
	l.num(5, 0)
	l.blank(1)
	l.digits(2, "04") // duplicata de serviço
	l.alpha(1, "N")
	l.date(rec.IssuedAt)
	if rec.InterestRate.IsPositive() {
		l.digits(1, "2") // taxa mensal
		l.date(rec.DueDate.AddDate(0, 0, 1))
		l.money(15, rec.InterestRate)
	} else {
		l.digits(1, "3") // isento
		l.num(8, 0)
		l.num(15, 0)
	}
	if rec.Discount.IsPositive() {
		l.digits(1, "1") // valor fixo até a data
		l.date(rec.DueDate)
		l.money(15, rec.Discount)
	} else {
		l.digits(1, "0")
		l.num(8, 0)
		l.num(15, 0)
	}
	l.num(15, 0) // IOF
	l.num(15, 0) // abatimento
	l.alpha(25, fmt.Sprint(rec.ID))
	l.digits(1, "3") // não protestar
	l.num(2, 0)
	l.digits(1, "1") // baixar/devolver
	l.digits(3, "060")
	l.digits(2, "09") // real
	l.num(10, 0)
	l.blank(1)
	return l.String()
}

func segmentQ(r Remittance, it RemittanceItem, seq int) string {
	p := it.Payer
	kind := "1"
	if p.IsCompany() {
		kind = "2"
	}
	zip := leftPad(p.ZipCode, 8, '0')

	var l record
	l.digits(3, r.Account.BankCode)
	l.num(4, 1)
	l.digits(1, "3")
	l.num(5, int64(seq))
	l.alpha(1, "Q")
	l.blank(1)
	l.digits(2, "01")
	l.digits(1, kind)
	l.digits(15, p.Document)
	l.alpha(40, p.Name)
	l.alpha(40, strings.TrimSpace(p.Street+" "+p.Number))
	l.alpha(15, p.District)
	l.digits(5, zip[:5])
	l.digits(3, zip[5:])
	l.alpha(15, p.CityName)
	l.alpha(2, p.UF)
	l.digits(1, "0")
	l.num(15, 0)
	l.blank(40)
	l.num(3, 0)
	l.blank(20)
	l.blank(8)
	return l.String()
}

func lotTrailer(r Remittance) string {
	var l record
	l.digits(3, r.Account.BankCode)
	l.num(4, 1)
	l.digits(1, "5")
	l.blank(9)
	l.num(6, int64(2*len(r.Items)+2))
	l.num(6, int64(len(r.Items)))
	l.money(17, r.Total())
	for i := 0; i < 3; i++ {
		l.num(6, 0)
		l.num(17, 0)
	}
	l.blank(8)
	l.blank(117)
	return l.String()
}

func fileTrailer(r Remittance) string {
	var l record
	l.digits(3, r.Account.BankCode)
	l.digits(4, "9999")
	l.digits(1, "9")
	l.blank(9)
	l.num(6, 1)
	l.num(6, int64(2*len(r.Items)+4))
	l.num(6, 0)
	l.blank(205)
	return l.String()
}

func ourNumberField(portfolio, ourNumber string) string {
	portfolio = leftPad(portfolio, 3, '0')
	ourNumber = leftPad(ourNumber, 11, '0')
	return portfolio + ourNumber + OurNumberDigit(portfolio[1:], ourNumber)
}

func documentNumber(r models.Receivable) string {
	if r.DocumentID != nil {
		return fmt.Sprint(*r.DocumentID)
	}
	return fmt.Sprint(r.ID)
}

func bankName(code string) string {
	switch code {
	case "237":
		return "BRADESCO"
	case "001":
		return "BANCO DO BRASIL"
	case "341":
		return "ITAU"
	}
	return ""
}

// record accumulates fixed-width fields.
type record struct {
	b strings.Builder
}

func (l *record) String() string { return l.b.String() }

func (l *record) blank(width int) {
	l.b.WriteString(strings.Repeat(" ", width))
}

// digits writes a numeric field, zero padded on the left and keeping the
// rightmost digits when too long.
func (l *record) digits(width int, s string) {
	var only strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			only.WriteRune(r)
		}
	}
	v := only.String()
	if len(v) > width {
		v = v[len(v)-width:]
	}
	l.b.WriteString(leftPad(v, width, '0'))
}

func (l *record) num(width int, v int64) {
	l.digits(width, fmt.Sprint(v))
}

// money writes an amount with two implied decimals.
func (l *record) money(width int, v decimal.Decimal) {
	l.digits(width, v.Round(2).Shift(2).StringFixed(0))
}

func (l *record) date(t time.Time) {
	l.b.WriteString(t.Format("02012006"))
}

// alpha writes an uppercase ASCII field padded with spaces on the right.
func (l *record) alpha(width int, s string) {
	s = strings.ToUpper(foldAccents.Replace(s))
	var ascii strings.Builder
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			r = ' '
		}
		ascii.WriteRune(r)
	}
	v := ascii.String()
	if len(v) > width {
		v = v[:width]
	}
	l.b.WriteString(v + strings.Repeat(" ", width-len(v)))
}

var foldAccents = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a",
	"é", "e", "ê", "e", "è", "e",
	"í", "i", "î", "i",
	"ó", "o", "ô", "o", "õ", "o", "ö", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
	"Á", "A", "À", "A", "Â", "A", "Ã", "A",
	"É", "E", "Ê", "E",
	"Í", "I",
	"Ó", "O", "Ô", "O", "Õ", "O",
	"Ú", "U", "Ü", "U",
	"Ç", "C",
	"º", "o", "ª", "a",
)
