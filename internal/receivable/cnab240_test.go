package receivable

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"nfcom/pkg/models"
)

func testRemittance(n int) Remittance {
	d := decimal.RequireFromString
	r := Remittance{
		Company:   models.Company{CNPJ: "11222333000181", Name: "Provedor Exemplo Ltda"},
		Account:   models.BillingAccount{BankCode: "237", Agency: "1234", AgencyDV: "5", Account: "0012345", AccountDV: "6", Agreement: "4567890", Portfolio: "09"},
		Sequence:  7,
		CreatedAt: time.Date(2025, 3, 11, 14, 30, 5, 0, time.UTC),
	}
	for i := 0; i < n; i++ {
		r.Items = append(r.Items, RemittanceItem{
			Receivable: models.Receivable{
				ID: uint(i + 1), Amount: d("249.90"), Discount: decimal.Zero, InterestRate: d("1"),
				IssuedAt: day(2025, 3, 5), DueDate: day(2025, 3, 10),
				OurNumber: "00000000001",
			},
			Payer: models.Client{
				Document: "52998224725", Name: "João da Conceição", Street: "Av. Ipiranga", Number: "200",
				District: "Azenha", CityName: "Porto Alegre", UF: "RS", ZipCode: "90160093",
			},
		})
	}
	return r
}

func TestWriteRemittanceShape(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		var buf bytes.Buffer
		if err := WriteRemittance(&buf, testRemittance(n)); err != nil {
			t.Fatalf("WriteRemittance(%d): %v", n, err)
		}
		out := buf.String()
		if strings.Contains(out, "\r") {
			t.Fatal("remittance contains carriage returns")
		}
		if !strings.HasSuffix(out, "\n") {
			t.Fatal("remittance does not end with a newline")
		}

		lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
		if len(lines) != 2*n+4 {
			t.Fatalf("n=%d: %d lines, want %d", n, len(lines), 2*n+4)
		}
		for i, l := range lines {
			if len(l) != LineWidth {
				t.Fatalf("n=%d: line %d has %d columns", n, i+1, len(l))
			}
		}

		// record types in column 8
		want := "01" + strings.Repeat("33", n) + "59"
		var got strings.Builder
		for _, l := range lines {
			got.WriteByte(l[7])
		}
		if got.String() != want {
			t.Fatalf("record types = %s, want %s", got.String(), want)
		}

		lotTrailer, fileTrailer := lines[len(lines)-2], lines[len(lines)-1]
		if lotTrailer[17:23] != pad6(2*n+2) || lotTrailer[23:29] != pad6(n) {
			t.Fatalf("lot trailer counts: %q", lotTrailer[17:29])
		}
		if fileTrailer[17:23] != "000001" || fileTrailer[23:29] != pad6(2*n+4) {
			t.Fatalf("file trailer counts: %q", fileTrailer[17:29])
		}
	}
}

func TestWriteRemittanceFields(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRemittance(&buf, testRemittance(2)); err != nil {
		t.Fatalf("WriteRemittance: %v", err)
	}
	lines := strings.Split(buf.String(), "\n")
	header, p, q, lotTrailer := lines[0], lines[2], lines[3], lines[6]

	checks := []struct {
		name, got, want string
	}{
		{"header bank", header[0:3], "237"},
		{"header cnpj", header[18:32], "11222333000181"},
		{"header date", header[143:151], "11032025"},
		{"header nsa", header[157:163], "000007"},
		{"P sequence", p[8:13], "00001"},
		{"P segment", p[13:14], "P"},
		{"P our number", p[37:57], "009000000000011     "},
		{"P due date", p[77:85], "10032025"},
		{"P amount", p[85:100], "000000000024990"},
		{"P interest date", p[118:126], "11032025"},
		{"Q sequence", q[8:13], "00002"},
		{"Q payer document", q[18:33], "000052998224725"},
		{"Q payer name", strings.TrimSpace(q[33:73]), "JOAO DA CONCEICAO"},
		{"Q zip", q[128:136], "90160093"},
		{"Q uf", q[151:153], "RS"},
		{"lot total", lotTrailer[29:46], "00000000000049980"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
}

func TestWriteRemittanceTotalMatchesSegments(t *testing.T) {
	r := testRemittance(2)
	r.Items[0].Receivable.Discount = decimal.RequireFromString("10.00")

	var buf bytes.Buffer
	if err := WriteRemittance(&buf, r); err != nil {
		t.Fatalf("WriteRemittance: %v", err)
	}
	lines := strings.Split(buf.String(), "\n")
	p1, p2, lotTrailer := lines[2], lines[4], lines[6]

	sum := decimal.Zero
	for _, p := range []string{p1, p2} {
		cents, err := decimal.NewFromString(p[85:100])
		if err != nil {
			t.Fatalf("P amount %q: %v", p[85:100], err)
		}
		sum = sum.Add(cents)
	}
	total, err := decimal.NewFromString(lotTrailer[29:46])
	if err != nil {
		t.Fatalf("lot total %q: %v", lotTrailer[29:46], err)
	}
	if !total.Equal(sum) {
		t.Fatalf("lot total %s does not match P segments %s", total, sum)
	}
	if p1[141:142] != "1" || p1[150:165] != "000000000001000" {
		t.Fatalf("discount not written: %q", p1[141:165])
	}
}

func pad6(n int) string { return fmt.Sprintf("%06d", n) }
