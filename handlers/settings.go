package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// SettingsHandler is the generic admin key/value store (marketing copy
// overrides, the text-generation system prompt, and similar knobs).
type SettingsHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSettingsHandler(db *sql.DB, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{db: db, logger: logger}
}

type settingValue struct {
	Value string `json:"value"`
}

func (h *SettingsHandler) GetSetting(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetSetting")
	defer span.End()

	key := c.Param("key")

	var value string
	err := h.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Setting not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch setting", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

func (h *SettingsHandler) PutSetting(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "PutSetting")
	defer span.End()

	key := c.Param("key")

	var req settingValue
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, err := h.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = CURRENT_TIMESTAMP",
		key, req.Value,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to store setting", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Setting updated", zap.String("key", key))
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}
