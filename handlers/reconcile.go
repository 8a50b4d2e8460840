package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"storefront/gateway"
	"storefront/kafka"
	"storefront/middleware"
	"storefront/models"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReconcileHandler converts the processors' authoritative payment status into
// ledger transitions. Both entry points re-verify with the processor; the
// incoming request is only a trigger, never proof of payment.
type ReconcileHandler struct {
	db       *sql.DB
	card     gateway.CardGateway
	wallet   gateway.WalletGateway
	producer sarama.SyncProducer
	logger   *zap.Logger
	topic    string
}

func NewReconcileHandler(
	db *sql.DB,
	card gateway.CardGateway,
	wallet gateway.WalletGateway,
	producer sarama.SyncProducer,
	logger *zap.Logger,
) *ReconcileHandler {
	return &ReconcileHandler{
		db:       db,
		card:     card,
		wallet:   wallet,
		producer: producer,
		logger:   logger,
		topic:    getEnv("KAFKA_TOPIC", "order_events"),
	}
}

// approveByToken flips every still-pending row sharing the correlation token
// to approved, stamping the processor transaction id. The status guard makes
// re-delivery a no-op and keeps terminal rows terminal: approved rows are
// never rewritten and failed rows are never resurrected.
func (h *ReconcileHandler) approveByToken(ctx context.Context, token, paymentID string) (int64, error) {
	result, err := h.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, payment_id = $2, updated_at = CURRENT_TIMESTAMP WHERE correlation_token = $3 AND status = $4",
		models.OrderStatusApproved, paymentID, token, models.OrderStatusPending,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (h *ReconcileHandler) publishApproved(ctx context.Context, token, paymentID string, provider models.PaymentProvider, amount float64) {
	if h.producer == nil {
		return
	}
	event := models.OrderEvent{
		EventType:        "order_approved",
		CorrelationToken: token,
		Amount:           amount,
		Provider:         provider,
		PaymentID:        paymentID,
	}
	if err := kafka.PublishOrderEvent(ctx, h.producer, h.topic, event, h.logger); err != nil {
		h.logger.Error("Failed to publish order_approved event", zap.Error(err))
	}
}

// extractPaymentID digs the processor payment id out of the query string or
// the JSON body. The processor has shipped several notification shapes over
// API versions, so every known key is tried before giving up.
func extractPaymentID(c *gin.Context) string {
	for _, key := range []string{"data.id", "id"} {
		if v := c.Query(key); v != "" {
			return v
		}
	}

	var body map[string]interface{}
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		return ""
	}

	asString := func(v interface{}) string {
		switch val := v.(type) {
		case string:
			return val
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64)
		case json.Number:
			return val.String()
		}
		return ""
	}

	for _, key := range []string{"data", "resource"} {
		if nested, ok := body[key].(map[string]interface{}); ok {
			if id := asString(nested["id"]); id != "" {
				return id
			}
		}
	}
	return asString(body["id"])
}

// CardWebhook handles the card processor's asynchronous notification. It
// always answers 200: the processor treats anything else as "retry forever",
// and re-verification already resolves every retryable situation.
func (h *ReconcileHandler) CardWebhook(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CardWebhook")
	defer span.End()

	paymentID := extractPaymentID(c)
	if paymentID == "" {
		span.SetAttributes(attribute.Bool("webhook.payment_id_missing", true))
		h.logger.Warn("Card webhook without payment id, ignoring")
		middleware.RecordReconciliation(string(models.ProviderMercadoPago), "ignored")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	span.SetAttributes(attribute.String("payment.id", paymentID))

	payment, err := h.card.GetPayment(ctx, paymentID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to verify payment with processor",
			zap.String("payment_id", paymentID), zap.Error(err))
		middleware.RecordReconciliation(string(models.ProviderMercadoPago), "verify_error")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	span.SetAttributes(attribute.String("payment.status", payment.Status))

	if payment.Status != gateway.MercadoPagoStatusApproved {
		h.logger.Info("Payment not approved, no ledger change",
			zap.String("payment_id", paymentID), zap.String("status", payment.Status))
		middleware.RecordReconciliation(string(models.ProviderMercadoPago), "noop")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	if payment.ExternalReference == "" {
		// Approved money with no way back to a ledger row. Erroring would
		// only make the processor retry with the same payload.
		h.logger.Error("Approved payment without external reference",
			zap.String("payment_id", paymentID))
		middleware.RecordReconciliation(string(models.ProviderMercadoPago), "anomaly")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	affected, err := h.approveByToken(ctx, payment.ExternalReference, payment.ID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to approve orders",
			zap.String("correlation_token", payment.ExternalReference), zap.Error(err))
		middleware.RecordReconciliation(string(models.ProviderMercadoPago), "error")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	span.SetAttributes(attribute.Int64("orders.approved", affected))

	if affected > 0 {
		middleware.RecordReconciliation(string(models.ProviderMercadoPago), "approved")
		h.logger.Info("Orders approved from card webhook",
			zap.String("correlation_token", payment.ExternalReference),
			zap.String("payment_id", payment.ID),
			zap.Int64("rows", affected),
		)
		h.publishApproved(ctx, payment.ExternalReference, payment.ID, models.ProviderMercadoPago, payment.TransactionAmount)
	} else {
		// Duplicate delivery of an already-handled event.
		middleware.RecordReconciliation(string(models.ProviderMercadoPago), "duplicate")
		h.logger.Info("Webhook re-delivery, orders already approved",
			zap.String("correlation_token", payment.ExternalReference))
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// WalletCapture is the client-driven capture step of the wallet flow. The
// caller waits synchronously, so failures surface as errors here, unlike the
// webhook path. The client's product list is advisory; the correlation token
// returned inside the processor's capture response decides which rows flip.
func (h *ReconcileHandler) WalletCapture(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "WalletCapture")
	defer span.End()

	var req models.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(attribute.String("processor.order_id", req.OrderID))

	capture, err := h.wallet.CaptureOrder(ctx, req.OrderID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Wallet capture failed",
			zap.String("processor_order_id", req.OrderID), zap.Error(err))
		middleware.RecordReconciliation(string(models.ProviderPayPal), "processor_error")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment processor error"})
		return
	}

	span.SetAttributes(attribute.String("capture.status", capture.Status))

	if capture.Status != gateway.PayPalStatusCompleted {
		h.logger.Warn("Wallet capture not completed",
			zap.String("processor_order_id", req.OrderID),
			zap.String("status", capture.Status))
		middleware.RecordReconciliation(string(models.ProviderPayPal), "rejected")
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment not completed"})
		return
	}

	if capture.CustomID == "" {
		h.logger.Error("Completed capture without correlation token",
			zap.String("processor_order_id", req.OrderID),
			zap.String("capture_id", capture.CaptureID))
		middleware.RecordReconciliation(string(models.ProviderPayPal), "anomaly")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Reconciliation failed"})
		return
	}

	// Re-derive the expected total from the catalog and compare against
	// what the processor actually captured. Mismatches are logged for
	// audit; the captured amount is the processor's truth either way.
	expected := 0.0
	for _, id := range req.ProductIDs {
		var price float64
		if err := h.db.QueryRowContext(ctx,
			"SELECT price FROM products WHERE id = $1", id).Scan(&price); err == nil {
			expected += price
		}
	}
	if math.Abs(expected-capture.Amount) > 0.01 {
		h.logger.Warn("Captured amount differs from current catalog total",
			zap.String("correlation_token", capture.CustomID),
			zap.Float64("captured", capture.Amount),
			zap.Float64("expected", expected),
		)
	}

	affected, err := h.approveByToken(ctx, capture.CustomID, capture.CaptureID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to approve orders",
			zap.String("correlation_token", capture.CustomID), zap.Error(err))
		middleware.RecordReconciliation(string(models.ProviderPayPal), "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	span.SetAttributes(attribute.Int64("orders.approved", affected))

	if affected > 0 {
		middleware.RecordReconciliation(string(models.ProviderPayPal), "approved")
		h.logger.Info("Orders approved from wallet capture",
			zap.String("correlation_token", capture.CustomID),
			zap.String("capture_id", capture.CaptureID),
			zap.Int64("rows", affected),
		)
		h.publishApproved(ctx, capture.CustomID, capture.CaptureID, models.ProviderPayPal, capture.Amount)
	} else {
		middleware.RecordReconciliation(string(models.ProviderPayPal), "duplicate")
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "approved",
		"capture_id": capture.CaptureID,
	})
}
