// Package gateway wraps the external payment processors behind a uniform
// create/verify/capture contract. Verification results returned from here
// are the only trusted source of payment truth; processor notifications
// merely trigger a verify call.
package gateway

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("payment gateway credentials are not configured")

// CallbackURLs are the application routes the processor redirects the buyer
// back to after the hosted payment flow.
type CallbackURLs struct {
	Success string
	Failure string
	Pending string
}

type PreferenceRequest struct {
	Title            string
	Amount           float64
	CorrelationToken string
	Callbacks        CallbackURLs
	NotificationURL  string
}

type Preference struct {
	ID        string
	InitPoint string
}

// Payment is the processor's own record of a charge, fetched server-side.
type Payment struct {
	ID                string
	Status            string
	TransactionAmount float64
	ExternalReference string
}

type WalletOrderRequest struct {
	Description      string
	Amount           float64
	CorrelationToken string
	Callbacks        CallbackURLs
}

type WalletOrder struct {
	ID         string
	ApproveURL string
}

type CaptureResult struct {
	CaptureID string
	Status    string
	Amount    float64
	CustomID  string
}

type CardGateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

type WalletGateway interface {
	CreateOrder(ctx context.Context, req WalletOrderRequest) (*WalletOrder, error)
	CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error)
}
