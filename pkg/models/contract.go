package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractStatus is the commercial lifecycle of a service contract.
type ContractStatus string

const (
	ContractPendingInstallation ContractStatus = "pending_installation"
	ContractActive              ContractStatus = "active"
	ContractSuspended           ContractStatus = "suspended"
	ContractCancelled           ContractStatus = "cancelled"
)

// ServiceContract binds a client to a service at a price and drives recurring emission.
// Contracts are never deleted; NextEmission is the billing cursor.
type ServiceContract struct {
	ID               uint  `gorm:"primaryKey" json:"id"`
	CompanyID        uint  `gorm:"not null;index" json:"company_id"`
	ClientID         uint  `gorm:"not null;index" json:"client_id"`
	ServiceID        uint  `gorm:"not null" json:"service_id"`
	BillingAccountID *uint `json:"billing_account_id"`

	// Pricing
	UnitPrice       decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Quantity        decimal.Decimal  `gorm:"type:decimal(12,4);not null" json:"quantity"`
	ProRataQuantity *decimal.Decimal `gorm:"type:decimal(12,4)" json:"pro_rata_quantity,omitempty"` // explicit pro-ration for the next cycle only

	// One-time installation charge (taxa de instalação)
	InstallationFee  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"installation_fee"`
	InstallationPaid bool            `gorm:"not null" json:"installation_paid"`

	// Schedule
	RecurrenceMonths int        `gorm:"not null" json:"recurrence_months"`
	BillingDay       int        `gorm:"not null" json:"billing_day"`
	DueDay           int        `gorm:"not null" json:"due_day"` // dia de vencimento
	StartDate        time.Time  `json:"start_date"`
	LastEmission     *time.Time `json:"last_emission"`
	NextEmission     *time.Time `gorm:"index" json:"next_emission"`

	Status    ContractStatus `gorm:"type:varchar(32);not null" json:"status"`
	IsActive  bool           `gorm:"not null;index" json:"is_active"`
	LastError string         `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the table name short.
func (ServiceContract) TableName() string { return "contracts" }

// BilledQuantity is the quantity charged for the next cycle.
func (c ServiceContract) BilledQuantity() decimal.Decimal {
	if c.ProRataQuantity != nil {
		return *c.ProRataQuantity
	}
	return c.Quantity
}

// HasPendingInstallation reports whether the installation fee must be billed.
func (c ServiceContract) HasPendingInstallation() bool {
	return c.InstallationFee.IsPositive() && !c.InstallationPaid
}

// IsDue reports whether the contract must be billed on the calendar day of
// runDate. The time of day of the cursor does not matter.
func (c ServiceContract) IsDue(runDate time.Time) bool {
	return c.IsActive && c.NextEmission != nil && c.NextEmission.Before(DayAfter(runDate))
}

// DayAfter returns midnight of the day following t, in t's location.
func DayAfter(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// EmissionCycle marks a (contract, cycle date) pair as emitted. The unique index
// is the idempotency key of the scheduler.
type EmissionCycle struct {
	ID         uint      `gorm:"primaryKey"`
	ContractID uint      `gorm:"not null;uniqueIndex:idx_cycle_contract_date"`
	CycleDate  time.Time `gorm:"not null;uniqueIndex:idx_cycle_contract_date"`
	CreatedAt  time.Time
}

// DocumentSequence holds the last number issued per company and series.
type DocumentSequence struct {
	CompanyID  uint  `gorm:"primaryKey;autoIncrement:false"`
	Series     int   `gorm:"primaryKey;autoIncrement:false"`
	LastNumber int64 `gorm:"not null"`
	UpdatedAt  time.Time
}
