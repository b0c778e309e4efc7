package receivable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"nfcom/internal/logger"
	"nfcom/pkg/models"
)

// RESTGateway registers boletos online through the bank's collection API,
// authenticated with OAuth2 client credentials.
type RESTGateway struct {
	client *http.Client

	mu     sync.Mutex
	tokens map[string]oauth2.TokenSource

	log zerolog.Logger
}

// NewRESTGateway creates an API based gateway. A nil client gets a 30 second timeout.
func NewRESTGateway(client *http.Client) *RESTGateway {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RESTGateway{
		client: client,
		tokens: make(map[string]oauth2.TokenSource),
		log:    logger.WithComponent("bank-rest"),
	}
}

type registrationPayer struct {
	Document string `json:"documento"`
	Name     string `json:"nome"`
	Street   string `json:"logradouro,omitempty"`
	Number   string `json:"numero,omitempty"`
	District string `json:"bairro,omitempty"`
	City     string `json:"cidade,omitempty"`
	UF       string `json:"uf,omitempty"`
	ZipCode  string `json:"cep,omitempty"`
	Email    string `json:"email,omitempty"`
}

type registrationRequest struct {
	Agreement      string            `json:"convenio"`
	Portfolio      string            `json:"carteira"`
	DocumentNumber string            `json:"seu_numero"`
	Amount         string            `json:"valor"`
	Discount       string            `json:"desconto,omitempty"`
	IssueDate      string            `json:"data_emissao"`
	DueDate        string            `json:"data_vencimento"`
	InterestRate   string            `json:"juros_mensal"`
	FineRate       string            `json:"multa"`
	Payer          registrationPayer `json:"pagador"`
}

type registrationResponse struct {
	OurNumber     string `json:"nosso_numero"`
	Barcode       string `json:"codigo_barras"`
	DigitableLine string `json:"linha_digitavel"`
}

// Register implements Gateway.
func (g *RESTGateway) Register(ctx context.Context, account models.BillingAccount, payer models.Client, r *models.Receivable) error {
	const op = "RESTGateway.Register"

	payload, err := json.Marshal(registrationRequest{
		Agreement:      account.Agreement,
		Portfolio:      account.Portfolio,
		DocumentNumber: documentNumber(*r),
		Amount:         r.Payable().StringFixed(2),
		Discount:       r.Discount.StringFixed(2),
		IssueDate:      r.IssuedAt.Format("2006-01-02"),
		DueDate:        r.DueDate.Format("2006-01-02"),
		InterestRate:   r.InterestRate.StringFixed(2),
		FineRate:       r.FineRate.StringFixed(2),
		Payer: registrationPayer{
			Document: payer.Document, Name: payer.Name, Street: payer.Street, Number: payer.Number,
			District: payer.District, City: payer.CityName, UF: payer.UF, ZipCode: payer.ZipCode, Email: payer.Email,
		},
	})
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	url := strings.TrimRight(account.APIBaseURL, "/") + "/boletos"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, g.client), g.tokenSource(account))
	resp, err := client.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	r.RawResponse = string(raw)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out registrationResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.OurNumber == "" || len(out.Barcode) != 44 {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("incomplete registration: %s", raw)}
	}

	r.OurNumber = out.OurNumber
	r.Barcode = out.Barcode
	r.DigitableLine = out.DigitableLine
	if r.DigitableLine == "" {
		if r.DigitableLine, err = DigitableLine(out.Barcode); err != nil {
			return &GatewayError{Op: op, Err: err}
		}
	}
	r.Status = models.ReceivableRegistered
	r.LastError = ""

	g.log.Info().
		Uint("receivable_id", r.ID).
		Str("our_number", r.OurNumber).
		Msg("Boleto registered")
	return nil
}

// tokenSource reuses one cached token source per account credentials.
func (g *RESTGateway) tokenSource(a models.BillingAccount) oauth2.TokenSource {
	key := fmt.Sprintf("%d:%s:%s", a.ID, a.TokenURL, a.ClientID)

	g.mu.Lock()
	defer g.mu.Unlock()
	if ts, ok := g.tokens[key]; ok {
		return ts
	}
	cfg := clientcredentials.Config{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		TokenURL:     a.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// token refreshes must outlive the request that triggered them
	ts := cfg.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, g.client))
	g.tokens[key] = ts
	return ts
}
