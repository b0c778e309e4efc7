// Package sefaz submits signed NFCom documents to the authorizing web service
// and interprets its answers.
//
// The endpoint pair (authorization and status query) is chosen once, from the
// environment flag, when the Transmitter is created. Requests are SOAP 1.2 over
// mutual TLS using the issuing company's certificate. The authorization payload
// is the signed XML, gzip compressed and base64 encoded into nfcomDadosMsg.
//
// Every answer is classified:
//   - cStat 100 or 150: authorized
//   - cStat 108 or 109, HTTP 5xx, network errors and timeouts: transient
//   - cStat 200 to 998: rejected, with the authority's literal reason
//   - anything else: unclassified, never treated as success
package sefaz

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"nfcom/internal/logger"
	"nfcom/pkg/models"
)

const (
	authorizationNS = "http://www.portalfiscal.inf.br/nfcom/wsdl/NFComRecepcao"
	statusNS        = "http://www.portalfiscal.inf.br/nfcom/wsdl/NFComConsulta"
	nfcomNS         = "http://www.portalfiscal.inf.br/nfcom"

	maxResponseBytes = 1 << 20
)

type endpointPair struct {
	authorization string
	status        string
}

var endpoints = map[int]endpointPair{
	models.EnvironmentProduction: {
		authorization: "https://nfcom.svrs.rs.gov.br/WS/NFComRecepcao/NFComRecepcao.asmx",
		status:        "https://nfcom.svrs.rs.gov.br/WS/NFComConsulta/NFComConsulta.asmx",
	},
	models.EnvironmentHomologation: {
		authorization: "https://nfcom-homologacao.svrs.rs.gov.br/WS/NFComRecepcao/NFComRecepcao.asmx",
		status:        "https://nfcom-homologacao.svrs.rs.gov.br/WS/NFComConsulta/NFComConsulta.asmx",
	},
}

// Config holds transmitter settings.
type Config struct {
	// Environment is models.EnvironmentProduction or models.EnvironmentHomologation.
	Environment int

	// AuthorizationURL and StatusURL override the built-in endpoints.
	AuthorizationURL string
	StatusURL        string

	// Timeout bounds each HTTP call. A timeout is a transient failure.
	// Default: 30 seconds.
	Timeout time.Duration
}

// Result is a parsed authority answer.
type Result struct {
	Code       string
	Message    string
	Protocol   string
	AccessKey  string
	ReceivedAt string
	Outcome    Outcome
	Raw        string
}

// Transmitter talks to the authority endpoints of one environment.
type Transmitter struct {
	environment int
	authURL     string
	statusURL   string
	timeout     time.Duration
	newClient   func(cert tls.Certificate, timeout time.Duration) *http.Client
	log         zerolog.Logger
}

// New creates a Transmitter bound to the environment in cfg.
func New(cfg Config) (*Transmitter, error) {
	ep, ok := endpoints[cfg.Environment]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEnvironment, cfg.Environment)
	}
	if cfg.AuthorizationURL != "" {
		ep.authorization = cfg.AuthorizationURL
	}
	if cfg.StatusURL != "" {
		ep.status = cfg.StatusURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Transmitter{
		environment: cfg.Environment,
		authURL:     ep.authorization,
		statusURL:   ep.status,
		timeout:     cfg.Timeout,
		newClient:   mutualTLSClient,
		log:         logger.WithComponent("sefaz"),
	}, nil
}

// Environment returns the environment the transmitter was created for.
func (t *Transmitter) Environment() int {
	return t.environment
}

func mutualTLSClient(cert tls.Certificate, timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}

// Send submits a signed document. It returns the parsed result and, for any
// outcome other than authorized, a *TransientTransportError, *BusinessRejection
// or *UnclassifiedResponse.
func (t *Transmitter) Send(ctx context.Context, cert tls.Certificate, signedXML []byte) (*Result, error) {
	const op = "Send"

	payload, err := compress(signedXML)
	if err != nil {
		return nil, fmt.Errorf("%s: compress: %w", op, err)
	}
	body := envelope(authorizationNS, payload)

	res, err := t.call(ctx, op, cert, t.authURL, body)
	if err != nil {
		return nil, err
	}
	return res, resultError(op, res)
}

// Query asks the authority for the current state of an access key. It returns
// ErrNotFound when the key was never received.
func (t *Transmitter) Query(ctx context.Context, cert tls.Certificate, accessKey string) (*Result, error) {
	const op = "Query"

	var b strings.Builder
	fmt.Fprintf(&b, `<consSitNFCom xmlns="%s" versao="1.00"><tpAmb>%d</tpAmb><xServ>CONSULTAR</xServ><chNFCom>%s</chNFCom></consSitNFCom>`,
		nfcomNS, t.environment, accessKey)
	body := envelope(statusNS, b.String())

	res, err := t.call(ctx, op, cert, t.statusURL, body)
	if err != nil {
		return nil, err
	}
	if res.Code == CodeKeyNotFound {
		return res, ErrNotFound
	}
	return res, resultError(op, res)
}

func (t *Transmitter) call(ctx context.Context, op string, cert tls.Certificate, url, body string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	client := t.newClient(cert, t.timeout)
	defer client.CloseIdleConnections()

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		t.log.Warn().Err(err).Str("op", op).Dur("elapsed", time.Since(started)).Msg("Authority call failed")
		return nil, &TransientTransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransientTransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &TransientTransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(snippet(raw))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &UnclassifiedResponse{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	res, err := parseResponse(raw)
	if err != nil {
		t.log.Error().Err(err).Str("op", op).Str("body", snippet(raw)).Msg("Unparseable authority response")
		return nil, &UnclassifiedResponse{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	t.log.Debug().
		Str("op", op).
		Str("cstat", res.Code).
		Str("outcome", res.Outcome.String()).
		Dur("elapsed", time.Since(started)).
		Msg("Authority answered")
	return res, nil
}

func resultError(op string, res *Result) error {
	switch res.Outcome {
	case OutcomeAuthorized:
		return nil
	case OutcomeTransient:
		return &TransientTransportError{Op: op, Code: res.Code, Err: errors.New(res.Message)}
	case OutcomeRejected:
		return &BusinessRejection{Code: res.Code, Message: res.Message}
	}
	return &UnclassifiedResponse{Code: res.Code, Message: res.Message, StatusCode: http.StatusOK, Body: res.Raw}
}

func compress(data []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func envelope(ns, content string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">` +
		`<soap12:Body><nfcomDadosMsg xmlns="` + ns + `">` + content + `</nfcomDadosMsg></soap12:Body>` +
		`</soap12:Envelope>`
}

type infProt struct {
	AccessKey  string `xml:"chNFCom"`
	ReceivedAt string `xml:"dhRecbto"`
	Protocol   string `xml:"nProt"`
	Code       string `xml:"cStat"`
	Message    string `xml:"xMotivo"`
}

type retNFCom struct {
	Code    string `xml:"cStat"`
	Message string `xml:"xMotivo"`
	Prot    *struct {
		Inf infProt `xml:"infProt"`
	} `xml:"protNFCom"`
}

type responseEnvelope struct {
	Body struct {
		Result struct {
			Authorization *retNFCom `xml:"retNFCom"`
			Status        *retNFCom `xml:"retConsSitNFCom"`
		} `xml:"nfcomResultMsg"`
	} `xml:"Body"`
}

func parseResponse(raw []byte) (*Result, error) {
	var env responseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	ret := env.Body.Result.Authorization
	if ret == nil {
		ret = env.Body.Result.Status
	}
	if ret == nil || ret.Code == "" {
		return nil, errors.New("no cStat in response")
	}

	res := &Result{Code: ret.Code, Message: ret.Message, Raw: string(raw)}
	// the protocol status is the document's own outcome when present
	if ret.Prot != nil && ret.Prot.Inf.Code != "" {
		res.Code = ret.Prot.Inf.Code
		res.Message = ret.Prot.Inf.Message
		res.Protocol = ret.Prot.Inf.Protocol
		res.AccessKey = ret.Prot.Inf.AccessKey
		res.ReceivedAt = ret.Prot.Inf.ReceivedAt
	}
	res.Outcome = Classify(res.Code)
	return res, nil
}

func snippet(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
