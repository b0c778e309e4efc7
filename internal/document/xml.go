package document

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"nfcom/internal/calendar"
	"nfcom/pkg/models"
)

const (
	// Namespace of the NFCom layout.
	Namespace = "http://www.portalfiscal.inf.br/nfcom"
	// LayoutVersion is the versao attribute of infNFCom.
	LayoutVersion = "1.00"
	// IDPrefix precedes the access key in the infNFCom Id attribute.
	IDPrefix = "NFCom"

	processVersion = "nfcom-emitter 1.0"
)

// localZone is Brasília time; dhEmi and the key's AAMM are expressed in it.
var localZone = time.FixedZone("BRT", -3*60*60)

// AssignAccessKey fills the numeric code and access key of a numbered document.
func AssignAccessKey(doc *models.FiscalDocument, company models.Company) error {
	if doc.Number == 0 {
		return fmt.Errorf("%w: document has no number", ErrAccessKey)
	}
	code := NumericCode(doc.ContractID, doc.CycleDate, doc.Number)
	key, err := AccessKey(KeyFields{
		StateCode:      company.StateCode,
		IssuedAt:       doc.IssuedAt.In(localZone),
		CNPJ:           company.CNPJ,
		Series:         doc.Series,
		Number:         doc.Number,
		EmissionType:   EmissionNormal,
		SiteAuthorizer: company.SiteAuthorizer,
		NumericCode:    code,
	})
	if err != nil {
		return err
	}
	doc.NumericCode = code
	doc.AccessKey = key
	return nil
}

// ElementID is the Id attribute of infNFCom, referenced by the signature.
func ElementID(accessKey string) string {
	return IDPrefix + accessKey
}

type nfcomXML struct {
	XMLName xml.Name `xml:"NFCom"`
	Xmlns   string   `xml:"xmlns,attr"`
	Inf     infNFCom `xml:"infNFCom"`
}

type infNFCom struct {
	Versao    string       `xml:"versao,attr"`
	ID        string       `xml:"Id,attr"`
	Ide       ideXML       `xml:"ide"`
	Emit      emitXML      `xml:"emit"`
	Dest      destXML      `xml:"dest"`
	Assinante assinanteXML `xml:"assinante"`
	Det       []detXML     `xml:"det"`
	Total     totalXML     `xml:"total"`
	GFat      gFatXML      `xml:"gFat"`
}

type ideXML struct {
	CUF          int    `xml:"cUF"`
	TpAmb        int    `xml:"tpAmb"`
	Mod          string `xml:"mod"`
	Serie        int    `xml:"serie"`
	NNF          int64  `xml:"nNF"`
	CNF          string `xml:"cNF"`
	CDV          string `xml:"cDV"`
	DhEmi        string `xml:"dhEmi"`
	TpEmis       int    `xml:"tpEmis"`
	NSiteAutoriz int    `xml:"nSiteAutoriz"`
	CMunFG       string `xml:"cMunFG"`
	FinNFCom     int    `xml:"finNFCom"`
	TpFat        int    `xml:"tpFat"`
	VerProc      string `xml:"verProc"`
}

type enderXML struct {
	XLgr    string `xml:"xLgr"`
	Nro     string `xml:"nro"`
	XBairro string `xml:"xBairro"`
	CMun    string `xml:"cMun"`
	XMun    string `xml:"xMun"`
	CEP     string `xml:"CEP,omitempty"`
	UF      string `xml:"UF"`
	Fone    string `xml:"fone,omitempty"`
	Email   string `xml:"email,omitempty"`
}

type emitXML struct {
	CNPJ      string   `xml:"CNPJ"`
	IE        string   `xml:"IE"`
	CRT       int      `xml:"CRT"`
	XNome     string   `xml:"xNome"`
	XFant     string   `xml:"xFant,omitempty"`
	EnderEmit enderXML `xml:"enderEmit"`
}

type destXML struct {
	XNome     string   `xml:"xNome"`
	CNPJ      string   `xml:"CNPJ,omitempty"`
	CPF       string   `xml:"CPF,omitempty"`
	IndIEDest int      `xml:"indIEDest"`
	IE        string   `xml:"IE,omitempty"`
	EnderDest enderXML `xml:"enderDest"`
}

type assinanteXML struct {
	ICodAssinante string `xml:"iCodAssinante"`
	TpAssinante   int    `xml:"tpAssinante"`
	TpServUtil    int    `xml:"tpServUtil"`
	NContrato     string `xml:"nContrato"`
	DContratoIni  string `xml:"dContratoIni,omitempty"`
}

type detXML struct {
	NItem   int        `xml:"nItem,attr"`
	Prod    prodXML    `xml:"prod"`
	Imposto impostoXML `xml:"imposto"`
}

type prodXML struct {
	CProd     string `xml:"cProd"`
	XProd     string `xml:"xProd"`
	CClass    string `xml:"cClass"`
	CFOP      string `xml:"CFOP"`
	UMed      int    `xml:"uMed"`
	QFaturada string `xml:"qFaturada"`
	VItem     string `xml:"vItem"`
	VProd     string `xml:"vProd"`
}

type icms00XML struct {
	CST   string `xml:"CST"`
	VBC   string `xml:"vBC"`
	PICMS string `xml:"pICMS"`
	VICMS string `xml:"vICMS"`
}

type icms40XML struct {
	CST string `xml:"CST"`
}

type pisXML struct {
	CST  string `xml:"CST"`
	VBC  string `xml:"vBC"`
	PPIS string `xml:"pPIS"`
	VPIS string `xml:"vPIS"`
}

type cofinsXML struct {
	CST     string `xml:"CST"`
	VBC     string `xml:"vBC"`
	PCOFINS string `xml:"pCOFINS"`
	VCOFINS string `xml:"vCOFINS"`
}

type fustXML struct {
	VBC   string `xml:"vBC"`
	PFUST string `xml:"pFUST"`
	VFUST string `xml:"vFUST"`
}

type funttelXML struct {
	VBC      string `xml:"vBC"`
	PFUNTTEL string `xml:"pFUNTTEL"`
	VFUNTTEL string `xml:"vFUNTTEL"`
}

type impostoXML struct {
	ICMS00  *icms00XML  `xml:"ICMS00,omitempty"`
	ICMS40  *icms40XML  `xml:"ICMS40,omitempty"`
	PIS     pisXML      `xml:"PIS"`
	COFINS  cofinsXML   `xml:"COFINS"`
	FUST    *fustXML    `xml:"FUST,omitempty"`
	FUNTTEL *funttelXML `xml:"FUNTTEL,omitempty"`
}

type icmsTotXML struct {
	VBC        string `xml:"vBC"`
	VICMS      string `xml:"vICMS"`
	VICMSDeson string `xml:"vICMSDeson"`
	VFCP       string `xml:"vFCP"`
}

type retTribXML struct {
	VRetPIS    string `xml:"vRetPIS"`
	VRetCofins string `xml:"vRetCofins"`
	VRetCSLL   string `xml:"vRetCSLL"`
	VIRRF      string `xml:"vIRRF"`
}

type totalXML struct {
	VProd       string     `xml:"vProd"`
	ICMSTot     icmsTotXML `xml:"ICMSTot"`
	VCOFINS     string     `xml:"vCOFINS"`
	VPIS        string     `xml:"vPIS"`
	VFUNTTEL    string     `xml:"vFUNTTEL"`
	VFUST       string     `xml:"vFUST"`
	VRetTribTot retTribXML `xml:"vRetTribTot"`
	VDesc       string     `xml:"vDesc"`
	VOutro      string     `xml:"vOutro"`
	VNF         string     `xml:"vNF"`
}

type gFatXML struct {
	CompetFat string `xml:"CompetFat"`
	DVencFat  string `xml:"dVencFat"`
	CodBarras string `xml:"codBarras,omitempty"`
}

// RenderXML serializes a numbered, keyed document into the unsigned NFCom XML.
func RenderXML(doc *models.FiscalDocument, in Input) ([]byte, error) {
	if !ValidAccessKey(doc.AccessKey) {
		return nil, fmt.Errorf("%w: %q", ErrAccessKey, doc.AccessKey)
	}

	issued := doc.IssuedAt.In(localZone)
	n := nfcomXML{
		Xmlns: Namespace,
		Inf: infNFCom{
			Versao: LayoutVersion,
			ID:     ElementID(doc.AccessKey),
			Ide: ideXML{
				CUF:          in.Company.StateCode,
				TpAmb:        doc.Environment,
				Mod:          Model,
				Serie:        doc.Series,
				NNF:          doc.Number,
				CNF:          doc.NumericCode,
				CDV:          doc.AccessKey[43:],
				DhEmi:        issued.Format("2006-01-02T15:04:05-07:00"),
				TpEmis:       EmissionNormal,
				NSiteAutoriz: in.Company.SiteAuthorizer,
				CMunFG:       in.Company.CityCode,
				VerProc:      processVersion,
			},
			Emit: emitXML{
				CNPJ:  in.Company.CNPJ,
				IE:    in.Company.IE,
				CRT:   in.Company.TaxRegime,
				XNome: in.Company.Name,
				XFant: in.Company.TradeName,
				EnderEmit: enderXML{
					XLgr:    in.Company.Street,
					Nro:     in.Company.Number,
					XBairro: in.Company.District,
					CMun:    in.Company.CityCode,
					XMun:    in.Company.CityName,
					CEP:     in.Company.ZipCode,
					UF:      in.Company.UF,
					Email:   in.Company.Email,
				},
			},
			Dest:      recipient(in.Client),
			Assinante: subscriber(in),
			Total:     totals(doc),
			GFat: gFatXML{
				CompetFat: calendar.Competence(doc.CycleDate),
				DVencFat:  doc.DueDate.Format("2006-01-02"),
			},
		},
	}
	for _, it := range doc.Items {
		n.Inf.Det = append(n.Inf.Det, detail(it))
	}

	out, err := xml.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("RenderXML: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func recipient(c models.Client) destXML {
	d := destXML{
		XNome:     c.Name,
		IndIEDest: 9,
		EnderDest: enderXML{
			XLgr:    c.Street,
			Nro:     c.Number,
			XBairro: c.District,
			CMun:    c.CityCode,
			XMun:    c.CityName,
			CEP:     c.ZipCode,
			UF:      c.UF,
			Fone:    c.Phone,
			Email:   c.Email,
		},
	}
	if c.IsCompany() {
		d.CNPJ = c.Document
		if c.IE != "" {
			d.IndIEDest = 1
			d.IE = c.IE
		}
	} else {
		d.CPF = c.Document
	}
	return d
}

func subscriber(in Input) assinanteXML {
	kind := 3 // residencial / pessoa física
	if in.Client.IsCompany() {
		kind = 1 // comercial
	}
	a := assinanteXML{
		ICodAssinante: strconv.FormatUint(uint64(in.Contract.ClientID), 10),
		TpAssinante:   kind,
		TpServUtil:    4, // provimento de acesso à internet
		NContrato:     strconv.FormatUint(uint64(in.Contract.ID), 10),
	}
	if !in.Contract.StartDate.IsZero() {
		a.DContratoIni = in.Contract.StartDate.Format("2006-01-02")
	}
	return a
}

func detail(it models.FiscalDocumentItem) detXML {
	d := detXML{
		NItem: it.Position,
		Prod: prodXML{
			CProd:     it.Code,
			XProd:     it.Description,
			CClass:    it.ClassCode,
			CFOP:      it.CFOP,
			UMed:      it.Unit,
			QFaturada: it.Quantity.StringFixed(4),
			VItem:     it.UnitPrice.StringFixed(2),
			VProd:     it.Total.StringFixed(2),
		},
		Imposto: impostoXML{
			PIS: pisXML{
				CST: "01", VBC: money(it.PISBase), PPIS: rate(it.PISRate), VPIS: money(it.PISAmount),
			},
			COFINS: cofinsXML{
				CST: "01", VBC: money(it.COFINSBase), PCOFINS: rate(it.COFINSRate), VCOFINS: money(it.COFINSAmount),
			},
		},
	}
	if icmsTaxed(it.ICMSCST) {
		d.Imposto.ICMS00 = &icms00XML{
			CST: "00", VBC: money(it.ICMSBase), PICMS: rate(it.ICMSRate), VICMS: money(it.ICMSAmount),
		}
	} else {
		d.Imposto.ICMS40 = &icms40XML{CST: it.ICMSCST}
	}
	if it.FUSTRate.IsPositive() {
		d.Imposto.FUST = &fustXML{VBC: money(it.Total), PFUST: rate(it.FUSTRate), VFUST: money(it.FUSTAmount)}
	}
	if it.FUNTTELRate.IsPositive() {
		d.Imposto.FUNTTEL = &funttelXML{VBC: money(it.Total), PFUNTTEL: rate(it.FUNTTELRate), VFUNTTEL: money(it.FUNTTELAmount)}
	}
	return d
}

func totals(doc *models.FiscalDocument) totalXML {
	var base, icms, pis, cofins, fust, funttel decimal.Decimal
	for _, it := range doc.Items {
		if icmsTaxed(it.ICMSCST) {
			base = base.Add(it.ICMSBase)
			icms = icms.Add(it.ICMSAmount)
		}
		pis = pis.Add(it.PISAmount)
		cofins = cofins.Add(it.COFINSAmount)
		fust = fust.Add(it.FUSTAmount)
		funttel = funttel.Add(it.FUNTTELAmount)
	}
	zero := money(decimal.Zero)
	return totalXML{
		VProd:    money(doc.Total),
		ICMSTot:  icmsTotXML{VBC: money(base), VICMS: money(icms), VICMSDeson: zero, VFCP: zero},
		VCOFINS:  money(cofins),
		VPIS:     money(pis),
		VFUNTTEL: money(funttel),
		VFUST:    money(fust),
		VRetTribTot: retTribXML{
			VRetPIS: zero, VRetCofins: zero, VRetCSLL: zero, VIRRF: zero,
		},
		VDesc:  zero,
		VOutro: zero,
		VNF:    money(doc.Total),
	}
}

func icmsTaxed(cst string) bool {
	return cst == "" || cst == "00"
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func rate(d decimal.Decimal) string { return d.StringFixed(2) }
