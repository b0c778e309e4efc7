// Package document builds NFCom fiscal documents (modelo 62) from a service contract.
//
// Building is a pure function of its Input: no clock, database or network is
// touched, so the same input always yields the same document. The caller owns
// numbering; the access key and XML are produced once series and number are set.
//
// Amounts use decimal arithmetic. Item totals are quantity times unit price
// rounded half-up to two places, and the document total is the sum of the
// rounded item totals. Taxes are computed per item on the item total.
//
// Pro-ration is never inferred. A partial first cycle is billed only when the
// contract carries an explicit ProRataQuantity.
package document

import (
	"time"

	"github.com/shopspring/decimal"
	"nfcom/internal/calendar"
	"nfcom/pkg/models"
)

// Input is everything the builder reads.
type Input struct {
	Contract models.ServiceContract
	Service  models.Service
	Company  models.Company
	Client   models.Client

	// CycleDate is the billing cursor value being emitted.
	CycleDate time.Time
	// IssuedAt is the emission timestamp (dhEmi).
	IssuedAt time.Time
	// Environment is models.EnvironmentProduction or models.EnvironmentHomologation.
	Environment int
}

var hundred = decimal.NewFromInt(100)

// Build assembles the fiscal document for one contract cycle. It returns a
// *ValidationError when the catalog data cannot produce a valid document.
func Build(in Input) (*models.FiscalDocument, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	items := []models.FiscalDocumentItem{
		buildItem(1, in.Service.Code, in.Service.Name, in.Service.ClassCode, in.Service.CFOP,
			in.Service.Unit, in.Contract.BilledQuantity(), in.Contract.UnitPrice, false, in.Service),
	}
	if in.Contract.HasPendingInstallation() {
		items = append(items, buildItem(2, in.Service.Code+"-INST", "Taxa de instalação - "+in.Service.Name,
			in.Service.InstallationClassCode, installationCFOP(in.Service), 4,
			decimal.NewFromInt(1), in.Contract.InstallationFee, true, in.Service))
	}

	doc := &models.FiscalDocument{
		CompanyID:         in.Company.ID,
		ContractID:        in.Contract.ID,
		ClientID:          in.Client.ID,
		CycleDate:         calendar.Date(in.CycleDate),
		Series:            in.Company.Series,
		Environment:       in.Environment,
		IssuerCNPJ:        in.Company.CNPJ,
		RecipientDocument: in.Client.Document,
		IssuedAt:          in.IssuedAt.UTC(),
		DueDate:           calendar.DueDate(in.IssuedAt.In(localZone), in.Contract.DueDay),
		Items:             items,
		Status:            models.StatusBuilt,
		DeliveryStatus:    models.DeliveryPending,
	}
	doc.Total = doc.ItemsTotal()
	return doc, nil
}

func buildItem(pos int, code, description, classCode, cfop string, unit int,
	qty, price decimal.Decimal, oneTime bool, svc models.Service) models.FiscalDocumentItem {
	total := qty.Mul(price).Round(2)
	icmsBase, icmsRate := total, svc.ICMSRate
	if !icmsTaxed(svc.ICMSCST) {
		icmsBase, icmsRate = decimal.Zero, decimal.Zero
	}
	return models.FiscalDocumentItem{
		Position:      pos,
		Code:          code,
		Description:   description,
		ClassCode:     classCode,
		CFOP:          cfop,
		Unit:          unit,
		Quantity:      qty,
		UnitPrice:     price,
		Total:         total,
		OneTime:       oneTime,
		ICMSCST:       svc.ICMSCST,
		ICMSBase:      icmsBase,
		ICMSRate:      icmsRate,
		ICMSAmount:    taxOf(icmsBase, icmsRate),
		PISBase:       total,
		PISRate:       svc.PISRate,
		PISAmount:     taxOf(total, svc.PISRate),
		COFINSBase:    total,
		COFINSRate:    svc.COFINSRate,
		COFINSAmount:  taxOf(total, svc.COFINSRate),
		FUSTRate:      svc.FUSTRate,
		FUSTAmount:    taxOf(total, svc.FUSTRate),
		FUNTTELRate:   svc.FUNTTELRate,
		FUNTTELAmount: taxOf(total, svc.FUNTTELRate),
	}
}

func taxOf(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred).Round(2)
}

func installationCFOP(svc models.Service) string {
	if svc.InstallationCFOP != "" {
		return svc.InstallationCFOP
	}
	return svc.CFOP
}

func validateInput(in Input) error {
	verr := &ValidationError{ContractID: in.Contract.ID}
	c := in.Contract

	if !c.IsActive || c.Status != models.ContractActive {
		verr.Add("contract.status", c.Status, "contract is not active")
	}
	requirePositive(verr, "contract.unit_price", c.UnitPrice)
	requirePositive(verr, "contract.quantity", c.BilledQuantity())
	requireNonNegative(verr, "contract.installation_fee", c.InstallationFee)
	if c.RecurrenceMonths < 1 {
		verr.Add("contract.recurrence_months", c.RecurrenceMonths, "must be at least 1")
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		verr.Add("contract.due_day", c.DueDay, "must be between 1 and 31")
	}
	if in.Environment != models.EnvironmentProduction && in.Environment != models.EnvironmentHomologation {
		verr.Add("environment", in.Environment, "must be 1 (production) or 2 (homologation)")
	}
	if in.IssuedAt.IsZero() {
		verr.Add("issued_at", nil, "is required")
	}

	check(verr, "issuer", issuerRules{
		CNPJ:      in.Company.CNPJ,
		IE:        in.Company.IE,
		Name:      in.Company.Name,
		UF:        in.Company.UF,
		CityCode:  in.Company.CityCode,
		StateCode: in.Company.StateCode,
		Series:    in.Company.Series,
		TaxRegime: in.Company.TaxRegime,
	})
	check(verr, "recipient", recipientRules{
		Document: in.Client.Document,
		Name:     in.Client.Name,
		UF:       in.Client.UF,
		CityCode: in.Client.CityCode,
	})
	check(verr, "service", itemRules{
		ClassCode:   in.Service.ClassCode,
		CFOP:        in.Service.CFOP,
		Description: in.Service.Name,
		Unit:        in.Service.Unit,
	})
	if c.HasPendingInstallation() {
		check(verr, "installation", itemRules{
			ClassCode:   in.Service.InstallationClassCode,
			CFOP:        installationCFOP(in.Service),
			Description: in.Service.Name,
			Unit:        4,
		})
	}
	rates := []struct {
		field string
		rate  decimal.Decimal
	}{
		{"service.icms_rate", in.Service.ICMSRate},
		{"service.pis_rate", in.Service.PISRate},
		{"service.cofins_rate", in.Service.COFINSRate},
		{"service.fust_rate", in.Service.FUSTRate},
		{"service.funttel_rate", in.Service.FUNTTELRate},
	}
	for _, r := range rates {
		if r.rate.IsNegative() || r.rate.GreaterThan(hundred) {
			verr.Add(r.field, r.rate.String(), "must be between 0 and 100")
		}
	}

	if verr.empty() {
		return nil
	}
	return verr
}
