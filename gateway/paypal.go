package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"storefront/circuitbreaker"

	"go.uber.org/zap"
)

const PayPalStatusCompleted = "COMPLETED"

// PayPalClient implements WalletGateway against the PayPal Orders v2 API.
// OAuth access tokens are fetched with client credentials and cached until
// shortly before expiry.
type PayPalClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	breaker      *circuitbreaker.CircuitBreaker
	logger       *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPalClient(logger *zap.Logger) *PayPalClient {
	return &PayPalClient{
		baseURL:      getEnv("PAYPAL_BASE_URL", "https://api-m.paypal.com"),
		clientID:     os.Getenv("PAYPAL_CLIENT_ID"),
		clientSecret: os.Getenv("PAYPAL_CLIENT_SECRET"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		breaker:      circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
		logger:       logger,
	}
}

type ppAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type ppPurchaseUnit struct {
	Description string   `json:"description,omitempty"`
	CustomID    string   `json:"custom_id"`
	Amount      ppAmount `json:"amount"`
}

type ppOrderRequest struct {
	Intent             string           `json:"intent"`
	PurchaseUnits      []ppPurchaseUnit `json:"purchase_units"`
	ApplicationContext struct {
		ReturnURL string `json:"return_url,omitempty"`
		CancelURL string `json:"cancel_url,omitempty"`
	} `json:"application_context"`
}

type ppLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type ppOrderResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Links  []ppLink `json:"links"`
}

type ppCapture struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Amount   ppAmount `json:"amount"`
	CustomID string   `json:"custom_id"`
}

type ppCaptureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []ppCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type ppTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (p *PayPalClient) CreateOrder(ctx context.Context, req WalletOrderRequest) (*WalletOrder, error) {
	body := ppOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []ppPurchaseUnit{{
			Description: req.Description,
			CustomID:    req.CorrelationToken,
			Amount: ppAmount{
				CurrencyCode: getEnv("PAYPAL_CURRENCY", "USD"),
				Value:        strconv.FormatFloat(req.Amount, 'f', 2, 64),
			},
		}},
	}
	body.ApplicationContext.ReturnURL = req.Callbacks.Success
	body.ApplicationContext.CancelURL = req.Callbacks.Failure

	var resp ppOrderResponse
	err := p.breaker.Execute(ctx, func() error {
		return p.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", body, &resp)
	})
	if err != nil {
		return nil, err
	}

	approveURL := ""
	for _, link := range resp.Links {
		if link.Rel == "approve" {
			approveURL = link.Href
			break
		}
	}

	p.logger.Info("PayPal order created",
		zap.String("order_id", resp.ID),
		zap.String("custom_id", req.CorrelationToken),
	)

	return &WalletOrder{ID: resp.ID, ApproveURL: approveURL}, nil
}

func (p *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	var resp ppCaptureResponse
	err := p.breaker.Execute(ctx, func() error {
		return p.doJSON(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", struct{}{}, &resp)
	})
	if err != nil {
		return nil, err
	}

	result := &CaptureResult{Status: resp.Status}
	if len(resp.PurchaseUnits) > 0 && len(resp.PurchaseUnits[0].Payments.Captures) > 0 {
		capture := resp.PurchaseUnits[0].Payments.Captures[0]
		result.CaptureID = capture.ID
		result.CustomID = capture.CustomID
		if capture.Status != "" {
			result.Status = capture.Status
		}
		if amount, err := strconv.ParseFloat(capture.Amount.Value, 64); err == nil {
			result.Amount = amount
		}
	}

	return result, nil
}

func (p *PayPalClient) token(ctx context.Context) (string, error) {
	if p.clientID == "" || p.clientSecret == "" {
		return "", ErrNotConfigured
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token",
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("paypal token endpoint returned %d: %s", resp.StatusCode, string(detail))
	}

	var tok ppTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode paypal token response: %w", err)
	}

	p.accessToken = tok.AccessToken
	// refresh a minute early so in-flight calls never race expiry
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn-60) * time.Second)

	return p.accessToken, nil
}

func (p *PayPalClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := p.token(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paypal request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("paypal returned %d: %s", resp.StatusCode, string(detail))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode paypal response: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
