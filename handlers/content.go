package handlers

import (
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

type ContentHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewContentHandler(db *sql.DB, logger *zap.Logger) *ContentHandler {
	return &ContentHandler{db: db, logger: logger}
}

// GetContent returns a product's deliverables, gated by entitlement.
func (h *ContentHandler) GetContent(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetContent")
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
	if !hasAccess {
		span.SetAttributes(attribute.Bool("entitlement.has_access", false))
		c.JSON(http.StatusForbidden, gin.H{"error": "No access to this product"})
		return
	}

	rows, err := h.db.QueryContext(ctx,
		"SELECT id, product_id, content_type, title, url, body, position FROM product_contents WHERE product_id = $1 ORDER BY position, id",
		productID,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch content", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	items := []models.ContentItem{}
	for rows.Next() {
		var item models.ContentItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Type, &item.Title, &item.URL, &item.Body, &item.Position); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan content item", zap.Error(err))
			continue
		}
		items = append(items, item)
	}

	span.SetAttributes(attribute.Int("content.count", len(items)))
	c.JSON(http.StatusOK, items)
}

func (h *ContentHandler) CreateContentItem(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreateContentItem")
	defer span.End()

	productID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req models.CreateContentItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var item models.ContentItem
	err = h.db.QueryRowContext(ctx,
		"INSERT INTO product_contents (product_id, content_type, title, url, body, position) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, product_id, content_type, title, url, body, position",
		productID, req.Type, req.Title, req.URL, req.Body, req.Position,
	).Scan(&item.ID, &item.ProductID, &item.Type, &item.Title, &item.URL, &item.Body, &item.Position)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create content item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Content item created",
		zap.Int("product_id", productID),
		zap.Int("content_id", item.ID),
		zap.String("type", string(item.Type)),
	)
	c.JSON(http.StatusCreated, item)
}

func (h *ContentHandler) DeleteContentItem(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "DeleteContentItem")
	defer span.End()

	id := c.Param("id")

	result, err := h.db.ExecContext(ctx, "DELETE FROM product_contents WHERE id = $1", id)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to delete content item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Content item not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Content item deleted successfully"})
}
