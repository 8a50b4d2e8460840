package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"

	"storefront/middleware"
	"storefront/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// hasApprovedOrder is the entitlement check: at least one approved ledger row
// for the pair. Existence-based, so duplicate approved rows grant nothing
// extra and any number of pending rows grants nothing at all.
func hasApprovedOrder(ctx context.Context, db *sql.DB, userID, productID int) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM orders WHERE user_id = $1 AND product_id = $2 AND status = $3)",
		userID, productID, models.OrderStatusApproved,
	).Scan(&exists)
	return exists, err
}

type EntitlementHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewEntitlementHandler(db *sql.DB, logger *zap.Logger) *EntitlementHandler {
	return &EntitlementHandler{db: db, logger: logger}
}

// HasAccess gates content pages and decides the storefront "buy" vs
// "access" CTA.
func (h *EntitlementHandler) HasAccess(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "HasAccess")
	defer span.End()

	productID, err := strconv.Atoi(c.Param("product_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	userID := middleware.CallerID(c)
	if userID == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	span.SetAttributes(
		attribute.Int("user.id", *userID),
		attribute.Int("product.id", productID),
	)

	hasAccess, err := hasApprovedOrder(ctx, h.db, *userID, productID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to check entitlement", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	span.SetAttributes(attribute.Bool("entitlement.has_access", hasAccess))
	c.JSON(http.StatusOK, gin.H{"has_access": hasAccess})
}

// Library lists the products the caller holds an entitlement for.
func (h *EntitlementHandler) Library(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "Library")
	defer span.End()

	userID := middleware.CallerID(c)
	if userID == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	span.SetAttributes(attribute.Int("user.id", *userID))

	rows, err := h.db.QueryContext(ctx,
		`SELECT DISTINCT p.id, p.slug, p.title, p.description, p.price, p.is_free, p.is_featured, p.is_out_of_stock, p.sort_order, p.created_at, p.updated_at
		 FROM products p
		 JOIN orders o ON o.product_id = p.id
		 WHERE o.user_id = $1 AND o.status = $2
		 ORDER BY p.id`,
		*userID, models.OrderStatusApproved,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch library", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := scanProduct(rows, &p); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan product", zap.Error(err))
			continue
		}
		products = append(products, p)
	}

	span.SetAttributes(attribute.Int("library.count", len(products)))
	c.JSON(http.StatusOK, products)
}
