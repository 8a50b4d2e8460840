package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxUserIDKey = "auth_user_id"
	ctxRoleKey   = "auth_role"
)

// Auth resolves the caller identity from a Bearer token minted by the
// external auth service. A missing header leaves the request anonymous;
// a present but invalid token is rejected.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		if userID, ok := claims["user_id"].(float64); ok {
			SetCallerID(c, int(userID))
		}
		if role, ok := claims["role"].(string); ok {
			SetCallerRole(c, role)
		}

		c.Next()
	}
}

// RequireAuth aborts anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ctxUserIDKey); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Next()
	}
}

// RequireRole gates admin surfaces on an explicit role claim rather than
// any identity literal.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := c.Get(ctxRoleKey)
		if !ok || got != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

// SetCallerID attaches a resolved identity to the request context.
func SetCallerID(c *gin.Context, id int) {
	c.Set(ctxUserIDKey, id)
}

// SetCallerRole attaches the caller's role claim to the request context.
func SetCallerRole(c *gin.Context, role string) {
	c.Set(ctxRoleKey, role)
}

// CallerID returns the authenticated user id, or nil for anonymous callers.
func CallerID(c *gin.Context) *int {
	if v, ok := c.Get(ctxUserIDKey); ok {
		if id, ok := v.(int); ok {
			return &id
		}
	}
	return nil
}
