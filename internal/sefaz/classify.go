package sefaz

import "strconv"

// Outcome is the classification of an authority status code.
type Outcome int

const (
	OutcomeUnclassified Outcome = iota
	OutcomeAuthorized
	OutcomeRejected
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthorized:
		return "authorized"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTransient:
		return "transient"
	}
	return "unclassified"
}

// Status codes with a fixed meaning.
const (
	CodeAuthorized        = "100" // Autorizado o uso da NFCom
	CodeAuthorizedLate    = "150" // Autorizado fora de prazo
	CodeServiceStopped    = "108" // Serviço paralisado momentaneamente
	CodeServiceStoppedEnd = "109" // Serviço paralisado sem previsão
	CodeKeyNotFound       = "217" // NFCom não consta na base de dados
)

// Classify maps a cStat to an outcome. Unknown codes are unclassified, never authorized.
func Classify(code string) Outcome {
	n, err := strconv.Atoi(code)
	if err != nil || len(code) != 3 {
		return OutcomeUnclassified
	}
	switch {
	case code == CodeAuthorized || code == CodeAuthorizedLate:
		return OutcomeAuthorized
	case code == CodeServiceStopped || code == CodeServiceStoppedEnd:
		return OutcomeTransient
	case n >= 200 && n <= 998:
		return OutcomeRejected
	}
	return OutcomeUnclassified
}
