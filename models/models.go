package models

import "time"

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusApproved OrderStatus = "approved"
	OrderStatusFailed   OrderStatus = "failed"
)

type PaymentProvider string

const (
	ProviderMercadoPago PaymentProvider = "mercadopago"
	ProviderPayPal      PaymentProvider = "paypal"
	ProviderFree        PaymentProvider = "free"
)

// Order is a ledger row: one purchase intent for one product. Rows created
// in the same checkout share a correlation token and transition together.
type Order struct {
	ID               int             `json:"id"`
	UserID           *int            `json:"user_id"`
	ProductID        int             `json:"product_id"`
	Amount           float64         `json:"amount"`
	Status           OrderStatus     `json:"status"`
	CorrelationToken string          `json:"correlation_token"`
	PaymentID        *string         `json:"payment_id"`
	Provider         PaymentProvider `json:"provider"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type Product struct {
	ID           int       `json:"id"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Price        float64   `json:"price"`
	IsFree       bool      `json:"is_free"`
	IsFeatured   bool      `json:"is_featured"`
	IsOutOfStock bool      `json:"is_out_of_stock"`
	SortOrder    int       `json:"sort_order"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateProductRequest struct {
	Slug         string  `json:"slug" binding:"required"`
	Title        string  `json:"title" binding:"required"`
	Description  string  `json:"description"`
	Price        float64 `json:"price" binding:"gte=0"`
	IsFree       bool    `json:"is_free"`
	IsFeatured   bool    `json:"is_featured"`
	IsOutOfStock bool    `json:"is_out_of_stock"`
	SortOrder    int     `json:"sort_order"`
}

type UpdateProductRequest struct {
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	Price        *float64 `json:"price" binding:"omitempty,gte=0"`
	IsFree       *bool    `json:"is_free"`
	IsFeatured   *bool    `json:"is_featured"`
	IsOutOfStock *bool    `json:"is_out_of_stock"`
	SortOrder    *int     `json:"sort_order"`
}

// CheckoutRequest carries product identifiers only. Prices are always
// recomputed server-side; a client-supplied amount has no field to arrive in.
type CheckoutRequest struct {
	ProductIDs []int `json:"product_ids" binding:"required,min=1"`
}

type CheckoutResponse struct {
	RedirectURL      string `json:"redirect_url,omitempty"`
	ProcessorOrderID string `json:"processor_order_id,omitempty"`
	CorrelationToken string `json:"correlation_token"`
}

type CaptureRequest struct {
	OrderID    string `json:"order_id" binding:"required"`
	ProductIDs []int  `json:"product_ids" binding:"required,min=1"`
}

type FreeClaimRequest struct {
	ProductID int `json:"product_id" binding:"required"`
}

type ContentType string

const (
	ContentTypeFile  ContentType = "file"
	ContentTypeVideo ContentType = "video"
	ContentTypeText  ContentType = "text"
)

// ContentItem is one deliverable of a purchased product. URL carries the
// payload for file and video items, Body for text items.
type ContentItem struct {
	ID        int         `json:"id"`
	ProductID int         `json:"product_id"`
	Type      ContentType `json:"type"`
	Title     string      `json:"title"`
	URL       string      `json:"url,omitempty"`
	Body      string      `json:"body,omitempty"`
	Position  int         `json:"position"`
}

type CreateContentItemRequest struct {
	Type     ContentType `json:"type" binding:"required,oneof=file video text"`
	Title    string      `json:"title" binding:"required"`
	URL      string      `json:"url"`
	Body     string      `json:"body"`
	Position int         `json:"position"`
}

type OrderEvent struct {
	EventType        string          `json:"event_type"` // checkout_created, order_approved
	CorrelationToken string          `json:"correlation_token"`
	UserID           *int            `json:"user_id"`
	ProductIDs       []int           `json:"product_ids"`
	Amount           float64         `json:"amount"`
	Provider         PaymentProvider `json:"provider"`
	PaymentID        string          `json:"payment_id,omitempty"`
}
