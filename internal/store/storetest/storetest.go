// Package storetest opens throwaway SQLite stores and seeds a billable
// contract for tests.
package storetest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"nfcom/internal/store"
	"nfcom/pkg/models"
)

// New returns a migrated in-memory store private to the test.
func New(t *testing.T) *store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	// shared-cache memory databases do not tolerate concurrent writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := store.New(db)
	if err := s.Migrate(store.Config{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return s
}

// Fixture is a seeded company, client, service, billing account and contract.
type Fixture struct {
	Company  models.Company
	Client   models.Client
	Service  models.Service
	Account  models.BillingAccount
	Contract models.ServiceContract
}

// Option adjusts the contract before it is inserted.
type Option func(*models.ServiceContract)

// WithInstallationFee bills a one-time installation fee on the next cycle.
func WithInstallationFee(fee string) Option {
	return func(c *models.ServiceContract) {
		c.InstallationFee = decimal.RequireFromString(fee)
		c.InstallationPaid = false
	}
}

// WithNextEmission sets the billing cursor.
func WithNextEmission(t time.Time) Option {
	return func(c *models.ServiceContract) {
		c.NextEmission = &t
	}
}

// WithoutBillingAccount leaves the contract without a bank account.
func WithoutBillingAccount() Option {
	return func(c *models.ServiceContract) {
		c.BillingAccountID = nil
	}
}

// Cycle is the default first cycle date of seeded contracts.
var Cycle = time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

// Seed inserts a billable contract with unit price 99.90 due on day 10.
// The company has no certificate; signing is faked in tests.
func Seed(t *testing.T, s *store.Store, opts ...Option) *Fixture {
	t.Helper()
	d := decimal.RequireFromString
	db := s.DB()

	f := &Fixture{
		Company: models.Company{
			CNPJ: "11222333000181", IE: "0960012345", Name: "Provedor Exemplo Ltda",
			TaxRegime: 3, Street: "Rua dos Andradas", Number: "1000", District: "Centro",
			CityCode: "4314902", CityName: "Porto Alegre", UF: "RS", ZipCode: "90020000",
			StateCode: 43, Series: 1, SiteAuthorizer: 0, Email: "fiscal@provedor.example",
		},
		Client: models.Client{
			Document: "52998224725", Name: "Maria Souza", Email: "maria@example.com",
			Street: "Av. Ipiranga", Number: "200", District: "Azenha", CityCode: "4314902",
			CityName: "Porto Alegre", UF: "RS", ZipCode: "90160093",
		},
		Service: models.Service{
			Code: "FIBRA300", Name: "Internet Fibra 300 Mbps", ClassCode: "0100101", CFOP: "5307", Unit: 4,
			ICMSCST: "00", InstallationClassCode: "0600401", InstallationCFOP: "5307",
			ICMSRate: d("18"), PISRate: d("0.65"), COFINSRate: d("3"), FUSTRate: d("1"), FUNTTELRate: d("0.5"),
		},
	}
	// catalog rows are shared by every contract seeded into the same store
	if err := db.Where("cnpj = ?", f.Company.CNPJ).FirstOrCreate(&f.Company).Error; err != nil {
		t.Fatalf("seed company: %v", err)
	}
	if err := db.Where("document = ?", f.Client.Document).FirstOrCreate(&f.Client).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}
	if err := db.Where("code = ?", f.Service.Code).FirstOrCreate(&f.Service).Error; err != nil {
		t.Fatalf("seed service: %v", err)
	}

	f.Account = models.BillingAccount{
		CompanyID: f.Company.ID, BankCode: "237", Agency: "1234", AgencyDV: "5", Account: "0012345",
		AccountDV: "6", Agreement: "4567890", Portfolio: "09",
		InterestRate: d("1"), FineRate: d("2"), Mode: models.BankModeRemittance,
	}
	if err := db.Where("company_id = ?", f.Company.ID).FirstOrCreate(&f.Account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}

	next := Cycle
	f.Contract = models.ServiceContract{
		CompanyID: f.Company.ID, ClientID: f.Client.ID, ServiceID: f.Service.ID,
		BillingAccountID: &f.Account.ID,
		UnitPrice:        d("99.90"), Quantity: d("1"), InstallationFee: decimal.Zero, InstallationPaid: true,
		RecurrenceMonths: 1, BillingDay: 5, DueDay: 10,
		StartDate: Cycle, NextEmission: &next,
		Status: models.ContractActive, IsActive: true,
	}
	for _, opt := range opts {
		opt(&f.Contract)
	}
	if err := db.Create(&f.Contract).Error; err != nil {
		t.Fatalf("seed contract: %v", err)
	}
	return f
}
