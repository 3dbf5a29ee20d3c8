package hardware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"supermarket-pos/backend/internal/domain"
)

const (
	txnTypeCard = 4001
	txnTypeUPI  = 4002
)

// PineLabsTerminal drives a Plutus Smart terminal over its local HTTP API.
type PineLabsTerminal struct {
	baseURL      string
	merchantID   string
	terminalID   string
	merchantName string
	client       *http.Client
}

type TerminalConfig struct {
	Host         string
	Port         string
	MerchantID   string
	TerminalID   string
	MerchantName string
}

func NewPineLabsTerminal(cfg TerminalConfig) *PineLabsTerminal {
	base := strings.TrimRight(cfg.Host, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
		if cfg.Port != "" {
			base += ":" + cfg.Port
		}
	}
	return &PineLabsTerminal{
		baseURL:      base,
		merchantID:   cfg.MerchantID,
		terminalID:   cfg.TerminalID,
		merchantName: cfg.MerchantName,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *PineLabsTerminal) Configured() bool {
	return t != nil && t.baseURL != ""
}

type initiateRequest struct {
	MerchantID      string `json:"MerchantID"`
	TerminalID      string `json:"TerminalID"`
	TransactionType int    `json:"TransactionType"`
	Amount          int64  `json:"Amount"`
	BillingRefNo    string `json:"BillingRefNo"`
	MerchantName    string `json:"MerchantName"`
}

type initiateResponse struct {
	PlutusTransactionReferenceID any    `json:"PlutusTransactionReferenceID"`
	ResponseMessage              string `json:"ResponseMessage"`
}

type statusResponse struct {
	ResponseCode    any    `json:"ResponseCode"`
	ResponseMessage string `json:"ResponseMessage"`
	CardType        string `json:"CardType"`
	ApprovalCode    string `json:"ApprovalCode"`
}

// Initiate pushes an amount to the terminal and returns the provider's
// transaction reference. Amounts are sent in paise.
func (t *PineLabsTerminal) Initiate(ctx context.Context, amount decimal.Decimal, mode domain.PaymentMode, billingRef string) (string, error) {
	if !t.Configured() {
		return "", ErrNotConfigured
	}

	txnType := txnTypeCard
	if mode == domain.PaymentUPI {
		txnType = txnTypeUPI
	}
	body, err := json.Marshal(initiateRequest{
		MerchantID:      t.merchantID,
		TerminalID:      t.terminalID,
		TransactionType: txnType,
		Amount:          amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		BillingRefNo:    billingRef,
		MerchantName:    t.merchantName,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/GetCloudBasedTxn", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp initiateResponse
	if err := t.do(req, &resp); err != nil {
		return "", err
	}
	id := responseCode(resp.PlutusTransactionReferenceID)
	if id == "" || id == "null" {
		return "", fmt.Errorf("terminal returned no transaction reference: %s", resp.ResponseMessage)
	}
	return id, nil
}

// Status polls a transaction. Response code "00" is approved, an empty
// code means the customer has not finished on the terminal yet.
func (t *PineLabsTerminal) Status(ctx context.Context, transactionID string) (domain.TerminalStatus, error) {
	if !t.Configured() {
		return domain.TerminalStatus{}, ErrNotConfigured
	}

	query := url.Values{}
	query.Set("MerchantID", t.merchantID)
	query.Set("TerminalID", t.terminalID)
	endpoint := t.baseURL + "/GetCloudBasedTxn/" + url.PathEscape(transactionID) + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.TerminalStatus{}, err
	}

	var resp statusResponse
	if err := t.do(req, &resp); err != nil {
		return domain.TerminalStatus{}, err
	}

	code := responseCode(resp.ResponseCode)
	status := domain.PaymentFailed
	switch code {
	case "00":
		status = domain.PaymentSuccess
	case "", "null":
		status = domain.PaymentPending
	}

	return domain.TerminalStatus{
		TransactionID: transactionID,
		Status:        status,
		ResponseCode:  code,
		Message:       resp.ResponseMessage,
		CardType:      resp.CardType,
		ApprovalCode:  resp.ApprovalCode,
	}, nil
}

func (t *PineLabsTerminal) do(req *http.Request, dest any) error {
	res, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("terminal unreachable at %s: %w", t.baseURL, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("terminal responded %d", res.StatusCode)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("decode terminal response: %w", err)
	}
	return nil
}

// responseCode flattens fields the terminal sends either as strings or numbers.
func responseCode(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
