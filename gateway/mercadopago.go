package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"storefront/circuitbreaker"

	"go.uber.org/zap"
)

const MercadoPagoStatusApproved = "approved"

// MercadoPagoClient implements CardGateway against the Mercado Pago REST API.
type MercadoPagoClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	breaker     *circuitbreaker.CircuitBreaker
	logger      *zap.Logger
}

func NewMercadoPagoClient(logger *zap.Logger) *MercadoPagoClient {
	return &MercadoPagoClient{
		baseURL:     getEnv("MP_BASE_URL", "https://api.mercadopago.com"),
		accessToken: os.Getenv("MP_ACCESS_TOKEN"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		breaker:     circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
		logger:      logger,
	}
}

type mpPreferenceItem struct {
	Title     string  `json:"title"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type mpBackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type mpPreferenceRequest struct {
	Items             []mpPreferenceItem `json:"items"`
	ExternalReference string             `json:"external_reference"`
	BackURLs          mpBackURLs         `json:"back_urls"`
	AutoReturn        string             `json:"auto_return"`
	NotificationURL   string             `json:"notification_url,omitempty"`
}

type mpPreferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type mpPaymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	TransactionAmount float64     `json:"transaction_amount"`
	ExternalReference string      `json:"external_reference"`
}

func (m *MercadoPagoClient) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	if m.accessToken == "" {
		return nil, ErrNotConfigured
	}

	body := mpPreferenceRequest{
		Items: []mpPreferenceItem{{
			Title:     req.Title,
			Quantity:  1,
			UnitPrice: req.Amount,
		}},
		ExternalReference: req.CorrelationToken,
		BackURLs: mpBackURLs{
			Success: req.Callbacks.Success,
			Failure: req.Callbacks.Failure,
			Pending: req.Callbacks.Pending,
		},
		AutoReturn:      "approved",
		NotificationURL: req.NotificationURL,
	}

	var resp mpPreferenceResponse
	err := m.breaker.Execute(ctx, func() error {
		return m.doJSON(ctx, http.MethodPost, "/checkout/preferences", body, &resp)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Mercado Pago preference created",
		zap.String("preference_id", resp.ID),
		zap.String("external_reference", req.CorrelationToken),
	)

	return &Preference{ID: resp.ID, InitPoint: resp.InitPoint}, nil
}

func (m *MercadoPagoClient) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if m.accessToken == "" {
		return nil, ErrNotConfigured
	}

	var resp mpPaymentResponse
	err := m.breaker.Execute(ctx, func() error {
		return m.doJSON(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &resp)
	})
	if err != nil {
		return nil, err
	}

	return &Payment{
		ID:                resp.ID.String(),
		Status:            resp.Status,
		TransactionAmount: resp.TransactionAmount,
		ExternalReference: resp.ExternalReference,
	}, nil
}

func (m *MercadoPagoClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mercadopago request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mercadopago returned %d: %s", resp.StatusCode, string(detail))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode mercadopago response: %w", err)
	}
	return nil
}
