package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func setupAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(testSecret))
	router.GET("/me", RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": *CallerID(c)})
	})
	router.GET("/admin", RequireAuth(), RequireRole("admin"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.GET("/public", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"anonymous": CallerID(c) == nil})
	})
	return router
}

func doGet(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuth_ValidToken(t *testing.T) {
	router := setupAuthRouter()
	token := signToken(t, jwt.MapClaims{
		"user_id": 7,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	if w := doGet(router, "/me", token); w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
}

func TestAuth_MissingHeaderIsAnonymous(t *testing.T) {
	router := setupAuthRouter()

	if w := doGet(router, "/public", ""); w.Code != http.StatusOK {
		t.Errorf("Anonymous access to public routes must work, got %d", w.Code)
	}
	if w := doGet(router, "/me", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d for anonymous caller, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	router := setupAuthRouter()

	if w := doGet(router, "/me", "not-a-token"); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestRequireRole_AdminOnly(t *testing.T) {
	router := setupAuthRouter()

	userToken := signToken(t, jwt.MapClaims{
		"user_id": 7,
		"role":    "customer",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	if w := doGet(router, "/admin", userToken); w.Code != http.StatusForbidden {
		t.Errorf("Expected status %d for non-admin, got %d", http.StatusForbidden, w.Code)
	}

	adminToken := signToken(t, jwt.MapClaims{
		"user_id": 1,
		"role":    "admin",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	if w := doGet(router, "/admin", adminToken); w.Code != http.StatusOK {
		t.Errorf("Expected status %d for admin, got %d", http.StatusOK, w.Code)
	}
}
