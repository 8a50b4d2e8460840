package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"

	"storefront/gateway"
	"storefront/kafka"
	"storefront/middleware"
	"storefront/models"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CheckoutHandler is the server-side entry point for purchases. It writes
// pending ledger rows before the external processor is ever contacted, so a
// reconciliation target exists even if the buyer never returns.
type CheckoutHandler struct {
	db       *sql.DB
	card     gateway.CardGateway
	wallet   gateway.WalletGateway
	producer sarama.SyncProducer
	logger   *zap.Logger
	baseURL  string
	topic    string
}

func NewCheckoutHandler(
	db *sql.DB,
	card gateway.CardGateway,
	wallet gateway.WalletGateway,
	producer sarama.SyncProducer,
	logger *zap.Logger,
) *CheckoutHandler {
	return &CheckoutHandler{
		db:       db,
		card:     card,
		wallet:   wallet,
		producer: producer,
		logger:   logger,
		baseURL:  getEnv("APP_BASE_URL", "http://localhost:8080"),
		topic:    getEnv("KAFKA_TOPIC", "order_events"),
	}
}

// resolveCart maps product ids onto current catalog rows. Prices come from
// the database only; the request type has no field for a client price.
func (h *CheckoutHandler) resolveCart(ctx context.Context, productIDs []int) ([]models.Product, float64, error) {
	products := make([]models.Product, 0, len(productIDs))
	total := 0.0
	for _, id := range productIDs {
		var p models.Product
		err := h.db.QueryRowContext(ctx,
			"SELECT id, slug, title, price, is_free FROM products WHERE id = $1", id,
		).Scan(&p.ID, &p.Slug, &p.Title, &p.Price, &p.IsFree)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, 0, fmt.Errorf("product %d not found", id)
			}
			return nil, 0, err
		}
		products = append(products, p)
		total += p.Price
	}
	return products, total, nil
}

func (h *CheckoutHandler) insertPendingOrders(ctx context.Context, userID *int, products []models.Product, token string, provider models.PaymentProvider) error {
	for _, p := range products {
		_, err := h.db.ExecContext(ctx,
			"INSERT INTO orders (user_id, product_id, amount, status, correlation_token, provider) VALUES ($1, $2, $3, $4, $5, $6)",
			userID, p.ID, p.Price, models.OrderStatusPending, token, provider,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order for product %d: %w", p.ID, err)
		}
	}
	return nil
}

func cartDescription(products []models.Product) string {
	if len(products) == 1 {
		return products[0].Title
	}
	return fmt.Sprintf("Order of %d items", len(products))
}

func productIDs(products []models.Product) []int {
	ids := make([]int, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	return ids
}

func (h *CheckoutHandler) beginCheckout(c *gin.Context, provider models.PaymentProvider) (context.Context, []models.Product, float64, string, bool) {
	ctx := c.Request.Context()

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return ctx, nil, 0, "", false
	}

	products, total, err := h.resolveCart(ctx, req.ProductIDs)
	if err != nil {
		h.logger.Warn("Cart resolution failed", zap.Error(err))
		middleware.RecordCheckout(string(provider), "invalid_cart")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cart"})
		return ctx, nil, 0, "", false
	}
	if total <= 0 {
		middleware.RecordCheckout(string(provider), "invalid_cart")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cart contains only free items"})
		return ctx, nil, 0, "", false
	}

	token := uuid.NewString()
	userID := middleware.CallerID(c)

	if err := h.insertPendingOrders(ctx, userID, products, token, provider); err != nil {
		h.logger.Error("Failed to create pending orders", zap.Error(err))
		middleware.RecordCheckout(string(provider), "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return ctx, nil, 0, "", false
	}

	if h.producer != nil {
		event := models.OrderEvent{
			EventType:        "checkout_created",
			CorrelationToken: token,
			UserID:           userID,
			ProductIDs:       productIDs(products),
			Amount:           total,
			Provider:         provider,
		}
		if err := kafka.PublishOrderEvent(ctx, h.producer, h.topic, event, h.logger); err != nil {
			h.logger.Error("Failed to publish checkout_created event", zap.Error(err))
		}
	}

	return ctx, products, total, token, true
}

// CheckoutCard creates pending ledger rows and a Mercado Pago preference,
// returning the hosted-checkout redirect URL.
func (h *CheckoutHandler) CheckoutCard(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CheckoutCard")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	ctx, products, total, token, ok := h.beginCheckout(c, models.ProviderMercadoPago)
	if !ok {
		return
	}

	span.SetAttributes(
		attribute.String("checkout.correlation_token", token),
		attribute.Float64("checkout.total", total),
		attribute.Int("checkout.items", len(products)),
	)

	pref, err := h.card.CreatePreference(ctx, gateway.PreferenceRequest{
		Title:            cartDescription(products),
		Amount:           total,
		CorrelationToken: token,
		Callbacks: gateway.CallbackURLs{
			Success: h.baseURL + "/checkout/success",
			Failure: h.baseURL + "/checkout/failure",
			Pending: h.baseURL + "/checkout/pending",
		},
		NotificationURL: h.baseURL + "/webhooks/card",
	})
	if err != nil {
		span.RecordError(err)
		// Pending rows stay behind as the abandoned-checkout audit trail.
		if errors.Is(err, gateway.ErrNotConfigured) {
			h.logger.Error("Card gateway not configured")
			middleware.RecordCheckout(string(models.ProviderMercadoPago), "config_error")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment gateway not configured"})
			return
		}
		h.logger.Error("Card gateway rejected preference", zap.Error(err), zap.String("correlation_token", token))
		middleware.RecordCheckout(string(models.ProviderMercadoPago), "processor_error")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment processor error"})
		return
	}

	middleware.RecordCheckout(string(models.ProviderMercadoPago), "created")
	h.logger.Info("Card checkout created",
		zap.String("correlation_token", token),
		zap.String("preference_id", pref.ID),
		zap.Float64("total", total),
	)
	c.JSON(http.StatusOK, models.CheckoutResponse{
		RedirectURL:      pref.InitPoint,
		CorrelationToken: token,
	})
}

// CheckoutWallet creates pending ledger rows and a PayPal order. The caller
// completes approval in the processor UI and then invokes the capture route.
func (h *CheckoutHandler) CheckoutWallet(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CheckoutWallet")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	ctx, products, total, token, ok := h.beginCheckout(c, models.ProviderPayPal)
	if !ok {
		return
	}

	span.SetAttributes(
		attribute.String("checkout.correlation_token", token),
		attribute.Float64("checkout.total", total),
	)

	order, err := h.wallet.CreateOrder(ctx, gateway.WalletOrderRequest{
		Description:      cartDescription(products),
		Amount:           total,
		CorrelationToken: token,
		Callbacks: gateway.CallbackURLs{
			Success: h.baseURL + "/checkout/success",
			Failure: h.baseURL + "/checkout/failure",
		},
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gateway.ErrNotConfigured) {
			h.logger.Error("Wallet gateway not configured")
			middleware.RecordCheckout(string(models.ProviderPayPal), "config_error")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment gateway not configured"})
			return
		}
		h.logger.Error("Wallet gateway rejected order", zap.Error(err), zap.String("correlation_token", token))
		middleware.RecordCheckout(string(models.ProviderPayPal), "processor_error")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment processor error"})
		return
	}

	middleware.RecordCheckout(string(models.ProviderPayPal), "created")
	h.logger.Info("Wallet checkout created",
		zap.String("correlation_token", token),
		zap.String("processor_order_id", order.ID),
		zap.Float64("total", total),
	)
	c.JSON(http.StatusOK, models.CheckoutResponse{
		ProcessorOrderID: order.ID,
		CorrelationToken: token,
	})
}

// ClaimFree writes an approved zero-amount order directly. No processor is
// involved; the only gate is an authenticated caller. A repeated claim
// reuses the existing row.
func (h *CheckoutHandler) ClaimFree(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "ClaimFree")
	defer span.End()

	var req models.FreeClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.CallerID(c)
	if userID == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	span.SetAttributes(
		attribute.Int("user.id", *userID),
		attribute.Int("product.id", req.ProductID),
	)

	var price float64
	var isFree bool
	err := h.db.QueryRowContext(ctx,
		"SELECT price, is_free FROM products WHERE id = $1", req.ProductID,
	).Scan(&price, &isFree)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cart"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch product for free claim", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !isFree && price > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Product is not free"})
		return
	}

	// Check-then-insert; a concurrent duplicate approved row is harmless
	// because entitlement is existence-based.
	claimed, err := hasApprovedOrder(ctx, h.db, *userID, req.ProductID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to check existing claim", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if claimed {
		c.JSON(http.StatusOK, gin.H{"status": "already_claimed"})
		return
	}

	token := uuid.NewString()
	_, err = h.db.ExecContext(ctx,
		"INSERT INTO orders (user_id, product_id, amount, status, correlation_token, provider) VALUES ($1, $2, $3, $4, $5, $6)",
		*userID, req.ProductID, 0.0, models.OrderStatusApproved, token, models.ProviderFree,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create free order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if h.producer != nil {
		event := models.OrderEvent{
			EventType:        "order_approved",
			CorrelationToken: token,
			UserID:           userID,
			ProductIDs:       []int{req.ProductID},
			Amount:           0,
			Provider:         models.ProviderFree,
		}
		if err := kafka.PublishOrderEvent(ctx, h.producer, h.topic, event, h.logger); err != nil {
			h.logger.Error("Failed to publish order_approved event", zap.Error(err))
		}
	}

	h.logger.Info("Free product claimed", zap.Int("user_id", *userID), zap.Int("product_id", req.ProductID))
	c.JSON(http.StatusCreated, gin.H{"status": "claimed"})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
