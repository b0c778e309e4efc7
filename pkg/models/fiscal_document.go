package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentStatus is the closed set of states of a fiscal document. The raw
// authority status code is kept separately in FiscalDocument.AuthorityCode.
type DocumentStatus string

const (
	StatusBuilt       DocumentStatus = "built"
	StatusSigned      DocumentStatus = "signed"
	StatusTransmitted DocumentStatus = "transmitted"
	StatusAuthorized  DocumentStatus = "authorized"
	StatusRejected    DocumentStatus = "rejected"
	StatusCancelled   DocumentStatus = "cancelled"
	StatusError       DocumentStatus = "error"
)

var documentTransitions = map[DocumentStatus][]DocumentStatus{
	StatusBuilt:       {StatusSigned, StatusError},
	StatusSigned:      {StatusTransmitted, StatusAuthorized, StatusRejected, StatusError},
	StatusTransmitted: {StatusAuthorized, StatusRejected, StatusError},
	StatusAuthorized:  {StatusCancelled},
	// explicit retry
	StatusError: {StatusTransmitted, StatusAuthorized, StatusRejected},
}

// CanTransition reports whether a document may move from s to next.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	for _, allowed := range documentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsFinal reports whether no further automatic processing happens.
func (s DocumentStatus) IsFinal() bool {
	return s == StatusAuthorized || s == StatusRejected || s == StatusCancelled
}

// IsRetryable reports whether an explicit retry may re-submit the document.
func (s DocumentStatus) IsRetryable() bool {
	return s == StatusSigned || s == StatusTransmitted || s == StatusError
}

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusBuilt, StatusSigned, StatusTransmitted, StatusAuthorized, StatusRejected, StatusCancelled, StatusError:
		return true
	}
	return false
}

// Environment of the authority endpoints (tpAmb).
const (
	EnvironmentProduction   = 1
	EnvironmentHomologation = 2
)

// DeliveryStatus tracks customer notification of a document.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// FiscalDocument is one NFCom (modelo 62) emitted for a contract cycle.
type FiscalDocument struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CompanyID  uint      `gorm:"not null;uniqueIndex:idx_doc_number" json:"company_id"`
	ContractID uint      `gorm:"not null;uniqueIndex:idx_doc_cycle" json:"contract_id"`
	ClientID   uint      `gorm:"not null;index" json:"client_id"`
	CycleDate  time.Time `gorm:"not null;uniqueIndex:idx_doc_cycle" json:"cycle_date"`

	// Identification
	Series      int    `gorm:"not null;uniqueIndex:idx_doc_number" json:"series"`
	Number      int64  `gorm:"not null;uniqueIndex:idx_doc_number" json:"number"`
	NumericCode string `gorm:"size:7" json:"numeric_code"` // cNF
	AccessKey   string `gorm:"size:44;index" json:"access_key"`
	Environment int    `gorm:"not null" json:"environment"`

	// Parties
	IssuerCNPJ        string `gorm:"size:14;not null" json:"issuer_cnpj"`
	RecipientDocument string `gorm:"size:14;not null" json:"recipient_document"`

	// Dates and amounts
	IssuedAt time.Time            `gorm:"not null" json:"issued_at"`
	DueDate  time.Time            `json:"due_date"`
	Total    decimal.Decimal      `gorm:"type:decimal(12,2);not null" json:"total"`
	Items    []FiscalDocumentItem `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"items"`

	// Authority state
	Status           DocumentStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	AuthorityCode    string         `gorm:"size:8" json:"authority_code,omitempty"` // cStat
	AuthorityMessage string         `gorm:"type:text" json:"authority_message,omitempty"`
	Protocol         string         `gorm:"size:20" json:"protocol,omitempty"` // nProt
	SignedXML        string         `gorm:"type:text" json:"-"`
	Attempts         int            `gorm:"not null" json:"attempts"`
	LastError        string         `gorm:"type:text" json:"last_error,omitempty"`

	// Customer notification
	DeliveryStatus DeliveryStatus `gorm:"type:varchar(16);not null" json:"delivery_status"`
	DeliveryError  string         `gorm:"type:text" json:"delivery_error,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemsTotal sums the item totals.
func (d *FiscalDocument) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range d.Items {
		sum = sum.Add(it.Total)
	}
	return sum
}

// FiscalDocumentItem is a billed line (det) of a fiscal document.
type FiscalDocumentItem struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	DocumentID uint `gorm:"not null;index" json:"document_id"`
	Position   int  `gorm:"not null" json:"position"` // nItem

	Code        string          `gorm:"size:60" json:"code"`
	Description string          `gorm:"size:120;not null" json:"description"`
	ClassCode   string          `gorm:"size:7;not null" json:"class_code"` // cClass
	CFOP        string          `gorm:"size:4;not null" json:"cfop"`
	Unit        int             `gorm:"not null" json:"unit"`
	Quantity    decimal.Decimal `gorm:"type:decimal(12,4);not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Total       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	OneTime     bool            `gorm:"not null" json:"one_time"`

	// Taxes
	ICMSCST       string          `gorm:"size:2" json:"icms_cst"`
	ICMSBase      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"icms_base"`
	ICMSRate      decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"icms_rate"`
	ICMSAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"icms_amount"`
	PISBase       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"pis_base"`
	PISRate       decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"pis_rate"`
	PISAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"pis_amount"`
	COFINSBase    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"cofins_base"`
	COFINSRate    decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"cofins_rate"`
	COFINSAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"cofins_amount"`
	FUSTRate      decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"fust_rate"`
	FUSTAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"fust_amount"`
	FUNTTELRate   decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"funttel_rate"`
	FUNTTELAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"funttel_amount"`
}
