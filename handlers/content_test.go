package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"storefront/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func setupContentTest(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	handler := NewContentHandler(db, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/content/:product_id", setCaller(7), handler.GetContent)

	return mock, router
}

func TestGetContent_EntitledUser(t *testing.T) {
	mock, router := setupContentTest(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(7, 42, string(models.OrderStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	rows := sqlmock.NewRows([]string{"id", "product_id", "content_type", "title", "url", "body", "position"}).
		AddRow(1, 42, "video", "Intro", "https://cdn.test/intro.mp4", "", 0).
		AddRow(2, 42, "text", "Notes", "", "Welcome aboard", 1)

	mock.ExpectQuery("SELECT id, product_id, content_type, title, url, body, position FROM product_contents WHERE product_id = \\$1").
		WithArgs(42).
		WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/content/42", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var items []models.ContentItem
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 content items, got %d", len(items))
	}
	if items[0].Type != models.ContentTypeVideo || items[1].Type != models.ContentTypeText {
		t.Errorf("Unexpected item types: %+v", items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestGetContent_NoEntitlement_Forbidden(t *testing.T) {
	mock, router := setupContentTest(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(7, 42, string(models.OrderStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	req := httptest.NewRequest(http.MethodGet, "/content/42", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Content query must not run without entitlement: %v", err)
	}
}
