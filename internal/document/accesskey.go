package document

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Model is the fiscal model code of the NFCom.
const Model = "62"

// Emission types (tpEmis).
const (
	EmissionNormal      = 1
	EmissionContingency = 2
)

// KeyFields are the components of the 44 digit access key (chave de acesso).
type KeyFields struct {
	StateCode      int       // cUF
	IssuedAt       time.Time // AAMM
	CNPJ           string
	Series         int   // serie
	Number         int64 // nNF
	EmissionType   int   // tpEmis
	SiteAuthorizer int   // nSiteAutoriz
	NumericCode    string
}

// AccessKey composes cUF AAMM CNPJ mod serie nNF tpEmis nSiteAutoriz cNF cDV.
func AccessKey(f KeyFields) (string, error) {
	switch {
	case f.StateCode < 11 || f.StateCode > 53:
		return "", fmt.Errorf("%w: state code %d", ErrAccessKey, f.StateCode)
	case len(f.CNPJ) != 14 || !digitsOnly(f.CNPJ):
		return "", fmt.Errorf("%w: cnpj %q", ErrAccessKey, f.CNPJ)
	case f.Series < 0 || f.Series > 999:
		return "", fmt.Errorf("%w: series %d", ErrAccessKey, f.Series)
	case f.Number < 1 || f.Number > 999999999:
		return "", fmt.Errorf("%w: number %d", ErrAccessKey, f.Number)
	case f.EmissionType < 1 || f.EmissionType > 9:
		return "", fmt.Errorf("%w: emission type %d", ErrAccessKey, f.EmissionType)
	case f.SiteAuthorizer < 0 || f.SiteAuthorizer > 9:
		return "", fmt.Errorf("%w: site authorizer %d", ErrAccessKey, f.SiteAuthorizer)
	case len(f.NumericCode) != 7 || !digitsOnly(f.NumericCode):
		return "", fmt.Errorf("%w: numeric code %q", ErrAccessKey, f.NumericCode)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%02d", f.StateCode)
	b.WriteString(f.IssuedAt.Format("0601"))
	b.WriteString(f.CNPJ)
	b.WriteString(Model)
	fmt.Fprintf(&b, "%03d%09d%d%d", f.Series, f.Number, f.EmissionType, f.SiteAuthorizer)
	b.WriteString(f.NumericCode)

	base := b.String()
	return base + fmt.Sprint(CheckDigit(base)), nil
}

// CheckDigit is the modulo 11 digit with weights 2..9 applied from the right.
// Remainders 0 and 1 yield 0.
func CheckDigit(digits string) int {
	sum, weight := 0, 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

// ValidAccessKey checks length, digits and check digit of a key.
func ValidAccessKey(key string) bool {
	if len(key) != 44 || !digitsOnly(key) {
		return false
	}
	return CheckDigit(key[:43]) == int(key[43]-'0')
}

// NumericCode derives the 7 digit cNF from the contract cycle so a re-emission of
// the same cycle reproduces the same key. It never equals the document number.
func NumericCode(contractID uint, cycle time.Time, number int64) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d:%s", contractID, cycle.Format("2006-01-02"))
	code := int64(h.Sum32()) % 10000000
	if code == number%10000000 {
		code = (code + 1) % 10000000
	}
	return fmt.Sprintf("%07d", code)
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
