package document

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	classCodePattern = regexp.MustCompile(`^\d{7}$`)
	cfopPattern      = regexp.MustCompile(`^[567]\d{3}$`)
)

var federativeUnits = map[string]bool{
	"AC": true, "AL": true, "AM": true, "AP": true, "BA": true, "CE": true, "DF": true,
	"ES": true, "GO": true, "MA": true, "MG": true, "MS": true, "MT": true, "PA": true,
	"PB": true, "PE": true, "PI": true, "PR": true, "RJ": true, "RN": true, "RO": true,
	"RR": true, "RS": true, "SC": true, "SE": true, "SP": true, "TO": true,
}

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("cnpj", func(fl validator.FieldLevel) bool {
			return IsCNPJValid(fl.Field().String())
		})
		_ = validate.RegisterValidation("cpfcnpj", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			return IsCPFValid(v) || IsCNPJValid(v)
		})
		_ = validate.RegisterValidation("cclass", func(fl validator.FieldLevel) bool {
			return classCodePattern.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("cfop", func(fl validator.FieldLevel) bool {
			return cfopPattern.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("uf", func(fl validator.FieldLevel) bool {
			return federativeUnits[fl.Field().String()]
		})
	})
	return validate
}

type issuerRules struct {
	CNPJ      string `validate:"required,cnpj"`
	IE        string `validate:"required,max=14"`
	Name      string `validate:"required,max=60"`
	UF        string `validate:"required,uf"`
	CityCode  string `validate:"required,len=7,numeric"`
	StateCode int    `validate:"min=11,max=53"`
	Series    int    `validate:"min=0,max=999"`
	TaxRegime int    `validate:"oneof=1 2 3 4"`
}

type recipientRules struct {
	Document string `validate:"required,cpfcnpj"`
	Name     string `validate:"required,max=60"`
	UF       string `validate:"required,uf"`
	CityCode string `validate:"required,len=7,numeric"`
}

type itemRules struct {
	ClassCode   string `validate:"required,cclass"`
	CFOP        string `validate:"required,cfop"`
	Description string `validate:"required,max=120"`
	Unit        int    `validate:"min=1,max=4"`
}

// check runs struct validation and appends failures under prefix.
func check(verr *ValidationError, prefix string, rules interface{}) {
	err := validatorInstance().Struct(rules)
	if err == nil {
		return
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		verr.Add(prefix, nil, err.Error())
		return
	}
	for _, fe := range ve {
		verr.Add(prefix+"."+strings.ToLower(fe.Field()), fe.Value(), describe(fe))
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must have at most " + fe.Param() + " characters"
	case "len":
		return "must have exactly " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param()
	case "numeric":
		return "must contain only digits"
	case "oneof":
		return "must be one of " + fe.Param()
	case "cnpj":
		return "is not a valid CNPJ"
	case "cpfcnpj":
		return "is not a valid CPF or CNPJ"
	case "cclass":
		return "must be a 7 digit service classification code"
	case "cfop":
		return "must be a 4 digit CFOP starting with 5, 6 or 7"
	case "uf":
		return "is not a federative unit"
	}
	return "failed on " + fe.Tag()
}

func requirePositive(verr *ValidationError, field string, v decimal.Decimal) {
	if !v.IsPositive() {
		verr.Add(field, v.String(), "must be positive")
	}
}

func requireNonNegative(verr *ValidationError, field string, v decimal.Decimal) {
	if v.IsNegative() {
		verr.Add(field, v.String(), "must not be negative")
	}
}

// IsCNPJValid checks length and both check digits of a CNPJ.
func IsCNPJValid(cnpj string) bool {
	if len(cnpj) != 14 || !digitsOnly(cnpj) || sameDigits(cnpj) {
		return false
	}
	w1 := []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	w2 := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	return weightedDigit(cnpj[:12], w1) == int(cnpj[12]-'0') &&
		weightedDigit(cnpj[:13], w2) == int(cnpj[13]-'0')
}

// IsCPFValid checks length and both check digits of a CPF.
func IsCPFValid(cpf string) bool {
	if len(cpf) != 11 || !digitsOnly(cpf) || sameDigits(cpf) {
		return false
	}
	w1 := []int{10, 9, 8, 7, 6, 5, 4, 3, 2}
	w2 := []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}
	return weightedDigit(cpf[:9], w1) == int(cpf[9]-'0') &&
		weightedDigit(cpf[:10], w2) == int(cpf[10]-'0')
}

func weightedDigit(base string, weights []int) int {
	sum := 0
	for i := range weights {
		sum += int(base[i]-'0') * weights[i]
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

func sameDigits(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
