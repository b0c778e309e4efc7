package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Company is the issuing taxpayer (emitente). Catalog data is maintained elsewhere
// and only read by the emission pipeline.
type Company struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Identification
	CNPJ      string `gorm:"size:14;not null;uniqueIndex" json:"cnpj"` // CNPJ do emitente
	IE        string `gorm:"size:14;not null" json:"ie"`               // Inscrição estadual
	Name      string `gorm:"size:60;not null" json:"name"`             // Razão social
	TradeName string `gorm:"size:60" json:"trade_name"`                // Nome fantasia
	TaxRegime int    `gorm:"not null" json:"tax_regime"`               // CRT: 1 Simples Nacional, 3 regime normal

	// Address
	Street   string `gorm:"size:60" json:"street"`
	Number   string `gorm:"size:60" json:"number"`
	District string `gorm:"size:60" json:"district"`
	CityCode string `gorm:"size:7" json:"city_code"` // IBGE cMun
	CityName string `gorm:"size:60" json:"city_name"`
	UF       string `gorm:"size:2" json:"uf"`
	ZipCode  string `gorm:"size:8" json:"zip_code"`

	// Emission settings
	StateCode      int    `gorm:"not null" json:"state_code"`      // cUF (IBGE)
	Series         int    `gorm:"not null" json:"series"`          // Série em uso
	SiteAuthorizer int    `gorm:"not null" json:"site_authorizer"` // nSiteAutoriz
	Email          string `gorm:"size:120" json:"email"`

	// Certificate (A1). The bundle is encrypted at rest; it may instead live in object storage.
	CertificateBundle   []byte `json:"-"`
	CertificatePassword string `gorm:"size:128" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client is the recipient (destinatário / assinante) of the billed service.
type Client struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Document  string `gorm:"size:14;not null;index" json:"document"` // CPF (11) or CNPJ (14)
	Name      string `gorm:"size:60;not null" json:"name"`
	Email     string `gorm:"size:120" json:"email"`
	Phone     string `gorm:"size:20" json:"phone"`
	IE        string `gorm:"size:14" json:"ie"`
	Street    string `gorm:"size:60" json:"street"`
	Number    string `gorm:"size:60" json:"number"`
	District  string `gorm:"size:60" json:"district"`
	CityCode  string `gorm:"size:7" json:"city_code"`
	CityName  string `gorm:"size:60" json:"city_name"`
	UF        string `gorm:"size:2" json:"uf"`
	ZipCode   string `gorm:"size:8" json:"zip_code"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCompany reports whether the client is identified by a CNPJ.
func (c Client) IsCompany() bool {
	return len(c.Document) == 14
}

// Service is a catalog entry describing a billable telecom service and its taxation.
type Service struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Code string `gorm:"size:60;not null" json:"code"` // cProd
	Name string `gorm:"size:120;not null" json:"name"`

	// Fiscal classification
	ClassCode string `gorm:"size:7;not null" json:"class_code"` // cClass
	CFOP      string `gorm:"size:4;not null" json:"cfop"`
	Unit      int    `gorm:"not null" json:"unit"`            // uMed: 1 minuto, 2 MB, 3 GB, 4 UN
	ICMSCST   string `gorm:"size:2;not null" json:"icms_cst"` // CST do ICMS

	// Installation charge classification
	InstallationClassCode string `gorm:"size:7" json:"installation_class_code"`
	InstallationCFOP      string `gorm:"size:4" json:"installation_cfop"`

	// Rates in percent
	ICMSRate    decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"icms_rate"`
	PISRate     decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"pis_rate"`
	COFINSRate  decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"cofins_rate"`
	FUSTRate    decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"fust_rate"`
	FUNTTELRate decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"funttel_rate"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Integration modes of a billing account.
const (
	BankModeREST       = "rest"
	BankModeRemittance = "cnab240"
)

// BillingAccount is the bank collection agreement used to originate boletos.
type BillingAccount struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	CompanyID uint   `gorm:"not null;index" json:"company_id"`
	BankCode  string `gorm:"size:3;not null" json:"bank_code"`
	Agency    string `gorm:"size:5;not null" json:"agency"`
	AgencyDV  string `gorm:"size:1" json:"agency_dv"`
	Account   string `gorm:"size:12;not null" json:"account"`
	AccountDV string `gorm:"size:1" json:"account_dv"`
	Agreement string `gorm:"size:20" json:"agreement"` // Convênio
	Portfolio string `gorm:"size:3" json:"portfolio"`  // Carteira

	InterestRate decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"interest_rate"` // % ao mês
	FineRate     decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"fine_rate"`     // % após vencimento

	Mode          string `gorm:"size:16;not null" json:"mode"` // rest | cnab240
	APIBaseURL    string `gorm:"size:255" json:"api_base_url"`
	TokenURL      string `gorm:"size:255" json:"token_url"`
	ClientID      string `gorm:"size:255" json:"-"`
	ClientSecret  string `gorm:"size:255" json:"-"`
	OurNumberSeq  int64  `gorm:"not null" json:"our_number_seq"`  // último nosso número emitido
	RemittanceSeq int64  `gorm:"not null" json:"remittance_seq"` // último NSA de remessa

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
