package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ErrGatewayUnavailable covers network failures and timeouts talking to the
// gateway. Retryable by the caller; the payment intent stays pending.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

var kobo = decimal.NewFromInt(100)

type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		SecretKey:  secretKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type VerifyResult struct {
	Status  string
	Amount  decimal.Decimal
	Channel string
}

type initializeResponse struct {
	Status  bool             `json:"status"`
	Message string           `json:"message"`
	Data    InitializeResult `json:"data"`
}

type verifyResponse struct {
	Status bool `json:"status"`
	Data   struct {
		Status        string `json:"status"`
		Amount        int64  `json:"amount"`
		Authorization struct {
			Channel string `json:"channel"`
		} `json:"authorization"`
	} `json:"data"`
}

// Initialize opens a transaction with the gateway. The amount is sent in the
// gateway's minor unit (kobo).
func (c *Client) Initialize(ctx context.Context, email string, amount decimal.Decimal, reference, callbackURL string) (*InitializeResult, error) {
	payload := map[string]interface{}{
		"email":        email,
		"amount":       amount.Mul(kobo).Round(0).IntPart(),
		"reference":    reference,
		"callback_url": callbackURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("paystack: encode initialize payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("paystack: build initialize request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var res initializeResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("paystack: decode initialize response: %w", err)
	}
	if !res.Status {
		return nil, fmt.Errorf("paystack: initialize rejected: %s", res.Message)
	}
	return &res.Data, nil
}

// Verify fetches the authoritative transaction state by reference. Only the
// status and amount reported here are trusted, never client-supplied values.
func (c *Client) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, fmt.Errorf("paystack: build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var res verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("paystack: decode verify response: %w", err)
	}

	return &VerifyResult{
		Status:  res.Data.Status,
		Amount:  decimal.NewFromInt(res.Data.Amount).Div(kobo),
		Channel: res.Data.Authorization.Channel,
	}, nil
}

// ValidSignature checks the webhook HMAC-SHA512 signature over the raw body in
// constant time.
func ValidSignature(body []byte, signature, secretKey string) bool {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// PaymentTypeFromChannel maps gateway channels onto the payment types stored
// on a Payment row.
func PaymentTypeFromChannel(channel string) string {
	switch channel {
	case "card":
		return "card"
	case "bank_transfer", "bank":
		return "bank_transfer"
	case "ussd":
		return "ussd"
	case "mobile_money", "mobilemoney":
		return "mobile_money"
	case "qr":
		return "qr"
	default:
		return ""
	}
}
