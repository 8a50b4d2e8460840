package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"storefront/gateway"
	"storefront/middleware"
	"storefront/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Mock card gateway for testing.
type mockCardGateway struct {
	createPreferenceFunc func(ctx context.Context, req gateway.PreferenceRequest) (*gateway.Preference, error)
	getPaymentFunc       func(ctx context.Context, paymentID string) (*gateway.Payment, error)
	createCalls          []gateway.PreferenceRequest
}

func (m *mockCardGateway) CreatePreference(ctx context.Context, req gateway.PreferenceRequest) (*gateway.Preference, error) {
	m.createCalls = append(m.createCalls, req)
	if m.createPreferenceFunc != nil {
		return m.createPreferenceFunc(ctx, req)
	}
	return &gateway.Preference{ID: "pref-1", InitPoint: "https://processor.test/pay/pref-1"}, nil
}

func (m *mockCardGateway) GetPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	if m.getPaymentFunc != nil {
		return m.getPaymentFunc(ctx, paymentID)
	}
	return nil, errors.New("unexpected GetPayment call")
}

// Mock wallet gateway for testing.
type mockWalletGateway struct {
	createOrderFunc  func(ctx context.Context, req gateway.WalletOrderRequest) (*gateway.WalletOrder, error)
	captureOrderFunc func(ctx context.Context, orderID string) (*gateway.CaptureResult, error)
	createCalls      []gateway.WalletOrderRequest
}

func (m *mockWalletGateway) CreateOrder(ctx context.Context, req gateway.WalletOrderRequest) (*gateway.WalletOrder, error) {
	m.createCalls = append(m.createCalls, req)
	if m.createOrderFunc != nil {
		return m.createOrderFunc(ctx, req)
	}
	return &gateway.WalletOrder{ID: "pp-order-1", ApproveURL: "https://wallet.test/approve/pp-order-1"}, nil
}

func (m *mockWalletGateway) CaptureOrder(ctx context.Context, orderID string) (*gateway.CaptureResult, error) {
	if m.captureOrderFunc != nil {
		return m.captureOrderFunc(ctx, orderID)
	}
	return nil, errors.New("unexpected CaptureOrder call")
}

// Mock Kafka producer for testing.
type mockProducer struct{}

func (m *mockProducer) SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error) {
	return 0, 0, nil
}

func (m *mockProducer) SendMessages(msgs []*sarama.ProducerMessage) error { return nil }

func (m *mockProducer) Close() error { return nil }

func (m *mockProducer) TxnStatus() sarama.ProducerTxnStatusFlag { return sarama.ProducerTxnFlagReady }

func (m *mockProducer) IsTransactional() bool { return false }

func (m *mockProducer) BeginTxn() error { return nil }

func (m *mockProducer) CommitTxn() error { return nil }

func (m *mockProducer) AbortTxn() error { return nil }

func (m *mockProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (m *mockProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func setCaller(userID int) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetCallerID(c, userID)
		c.Next()
	}
}

func setupCheckoutTest(t *testing.T) (*CheckoutHandler, *mockCardGateway, *mockWalletGateway, sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	card := &mockCardGateway{}
	wallet := &mockWalletGateway{}
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	handler := &CheckoutHandler{
		db:       db,
		card:     card,
		wallet:   wallet,
		producer: &mockProducer{},
		logger:   logger,
		baseURL:  "http://localhost:8080",
		topic:    "order_events",
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/checkout/card", handler.CheckoutCard)
	router.POST("/checkout/wallet", handler.CheckoutWallet)
	router.POST("/checkout/free", setCaller(7), handler.ClaimFree)

	return handler, card, wallet, mock, router
}

func expectCartLookup(mock sqlmock.Sqlmock, id int, slug, title string, price float64, isFree bool) {
	rows := sqlmock.NewRows([]string{"id", "slug", "title", "price", "is_free"}).
		AddRow(id, slug, title, price, isFree)
	mock.ExpectQuery("SELECT id, slug, title, price, is_free FROM products WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(rows)
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCheckoutCard_CreatesPendingRowsWithSharedToken(t *testing.T) {
	_, card, _, mock, router := setupCheckoutTest(t)

	expectCartLookup(mock, 1, "guide-a", "Guide A", 10.0, false)
	expectCartLookup(mock, 2, "guide-b", "Guide B", 20.0, false)

	mock.ExpectExec("INSERT INTO orders").
		WithArgs(nil, 1, 10.0, string(models.OrderStatusPending), sqlmock.AnyArg(), string(models.ProviderMercadoPago)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(nil, 2, 20.0, string(models.OrderStatusPending), sqlmock.AnyArg(), string(models.ProviderMercadoPago)).
		WillReturnResult(sqlmock.NewResult(2, 1))

	w := postJSON(router, "/checkout/card", models.CheckoutRequest{ProductIDs: []int{1, 2}})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp models.CheckoutResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.RedirectURL != "https://processor.test/pay/pref-1" {
		t.Errorf("Expected redirect URL, got %q", resp.RedirectURL)
	}
	if resp.CorrelationToken == "" {
		t.Error("Expected a correlation token in the response")
	}

	if len(card.createCalls) != 1 {
		t.Fatalf("Expected 1 gateway call, got %d", len(card.createCalls))
	}
	if got := card.createCalls[0].Amount; got != 30.0 {
		t.Errorf("Expected gateway amount 30.0 (server-side prices), got %f", got)
	}
	if card.createCalls[0].CorrelationToken != resp.CorrelationToken {
		t.Error("Gateway intent must carry the same correlation token returned to the client")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestCheckoutCard_UnknownProduct_NoRowsCreated(t *testing.T) {
	_, card, _, mock, router := setupCheckoutTest(t)

	mock.ExpectQuery("SELECT id, slug, title, price, is_free FROM products WHERE id = \\$1").
		WithArgs(999).
		WillReturnError(sql.ErrNoRows)

	w := postJSON(router, "/checkout/card", models.CheckoutRequest{ProductIDs: []int{999}})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if len(card.createCalls) != 0 {
		t.Error("Gateway must not be contacted for an invalid cart")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestCheckoutCard_FreeOnlyCart_Rejected(t *testing.T) {
	_, card, _, mock, router := setupCheckoutTest(t)

	expectCartLookup(mock, 3, "freebie", "Freebie", 0.0, true)

	w := postJSON(router, "/checkout/card", models.CheckoutRequest{ProductIDs: []int{3}})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if len(card.createCalls) != 0 {
		t.Error("Gateway must not be contacted for a zero-total cart")
	}
}

func TestCheckoutCard_ProcessorRejection_KeepsPendingRows(t *testing.T) {
	_, card, _, mock, router := setupCheckoutTest(t)

	card.createPreferenceFunc = func(ctx context.Context, req gateway.PreferenceRequest) (*gateway.Preference, error) {
		return nil, errors.New("processor says no")
	}

	expectCartLookup(mock, 1, "guide-a", "Guide A", 10.0, false)
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(nil, 1, 10.0, string(models.OrderStatusPending), sqlmock.AnyArg(), string(models.ProviderMercadoPago)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := postJSON(router, "/checkout/card", models.CheckoutRequest{ProductIDs: []int{1}})

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status %d, got %d", http.StatusBadGateway, w.Code)
	}
	// No rollback: the pending insert expectation above must have fired.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Pending rows must be written before the processor call: %v", err)
	}
}

func TestCheckoutWallet_ReturnsProcessorOrderID(t *testing.T) {
	_, _, wallet, mock, router := setupCheckoutTest(t)

	expectCartLookup(mock, 1, "guide-a", "Guide A", 10.0, false)
	expectCartLookup(mock, 2, "guide-b", "Guide B", 20.0, false)
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(nil, 1, 10.0, string(models.OrderStatusPending), sqlmock.AnyArg(), string(models.ProviderPayPal)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(nil, 2, 20.0, string(models.OrderStatusPending), sqlmock.AnyArg(), string(models.ProviderPayPal)).
		WillReturnResult(sqlmock.NewResult(2, 1))

	w := postJSON(router, "/checkout/wallet", models.CheckoutRequest{ProductIDs: []int{1, 2}})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp models.CheckoutResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ProcessorOrderID != "pp-order-1" {
		t.Errorf("Expected processor order id, got %q", resp.ProcessorOrderID)
	}
	if len(wallet.createCalls) != 1 || wallet.createCalls[0].Amount != 30.0 {
		t.Error("Wallet gateway must receive the server-computed total")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestClaimFree_CreatesApprovedZeroAmountRow(t *testing.T) {
	_, _, _, mock, router := setupCheckoutTest(t)

	mock.ExpectQuery("SELECT price, is_free FROM products WHERE id = \\$1").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"price", "is_free"}).AddRow(0.0, true))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(7, 3, string(models.OrderStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(7, 3, 0.0, string(models.OrderStatusApproved), sqlmock.AnyArg(), string(models.ProviderFree)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := postJSON(router, "/checkout/free", models.FreeClaimRequest{ProductID: 3})

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestClaimFree_RepeatedClaim_NoSecondRow(t *testing.T) {
	_, _, _, mock, router := setupCheckoutTest(t)

	mock.ExpectQuery("SELECT price, is_free FROM products WHERE id = \\$1").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"price", "is_free"}).AddRow(0.0, true))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(7, 3, string(models.OrderStatusApproved)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	w := postJSON(router, "/checkout/free", models.FreeClaimRequest{ProductID: 3})

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("No insert may happen on a repeated claim: %v", err)
	}
}

func TestClaimFree_PaidProduct_Rejected(t *testing.T) {
	_, _, _, mock, router := setupCheckoutTest(t)

	mock.ExpectQuery("SELECT price, is_free FROM products WHERE id = \\$1").
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"price", "is_free"}).AddRow(25.0, false))

	w := postJSON(router, "/checkout/free", models.FreeClaimRequest{ProductID: 9})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}
