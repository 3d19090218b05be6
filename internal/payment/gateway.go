package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-market/internal/resilience"
)

// HTTPGateway charges through a remote payment API. Requests are signed with
// an HMAC over the canonical charge fields and sent through the resilient
// client, so transient gateway errors are retried before surfacing.
type HTTPGateway struct {
	Name      string
	BaseURL   string
	SecretKey string
	Client    resilience.HTTPClient
}

func (g *HTTPGateway) Handle() string { return g.Name }

type chargeBody struct {
	OrderNumber string `json:"orderNumber"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
}

type chargeResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// Charge posts the charge to the remote gateway and normalizes its reply.
func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if g == nil || strings.TrimSpace(g.BaseURL) == "" {
		return ChargeResult{}, errors.New("payment: gateway base url not configured")
	}
	body := chargeBody{
		OrderNumber: req.OrderNumber,
		Amount:      req.Amount.String(),
		Currency:    req.Currency,
		Reference:   req.Reference,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("payment: encode charge: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(g.BaseURL, "/")+"/charges", bytes.NewReader(encoded))
	if err != nil {
		return ChargeResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Signature", g.sign(body))

	resp, err := g.Client.Do(ctx, httpReq)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("payment: gateway call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ChargeResult{}, fmt.Errorf("payment: read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return ChargeResult{}, fmt.Errorf("payment: gateway returned %s", resp.Status)
	}

	var parsed chargeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ChargeResult{}, fmt.Errorf("payment: decode gateway response: %w", err)
	}
	return ChargeResult{
		Reference: parsed.Reference,
		Paid:      strings.EqualFold(parsed.Status, "paid"),
		Message:   parsed.Message,
	}, nil
}

func (g *HTTPGateway) sign(body chargeBody) string {
	key := strings.TrimSpace(g.SecretKey)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write([]byte(body.OrderNumber))
	mac.Write([]byte(body.Amount))
	mac.Write([]byte(body.Currency))
	mac.Write([]byte(body.Reference))
	return hex.EncodeToString(mac.Sum(nil))
}
