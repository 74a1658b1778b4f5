package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyClaims holds *OperatorClaims on an authenticated request
const ContextKeyClaims = "operator_claims"

// Middleware rejects requests without a valid bearer token
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, ErrUnauthorized.Code, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abort(c, http.StatusUnauthorized, ErrUnauthorized.Code, "invalid authorization header format")
			return
		}

		claims, err := jwtManager.Validate(parts[1])
		if err != nil {
			var authErr AuthError
			if !errors.As(err, &authErr) {
				authErr = ErrInvalidToken
			}
			abort(c, http.StatusUnauthorized, authErr.Code, authErr.Message)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireAdmin must run after Middleware
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil || !claims.IsAdmin() {
			abort(c, http.StatusForbidden, ErrForbidden.Code, "admin access required")
			return
		}
		c.Next()
	}
}

// GetClaims returns the operator of an authenticated request, or nil
func GetClaims(c *gin.Context) *OperatorClaims {
	if v, ok := c.Get(ContextKeyClaims); ok {
		claims, _ := v.(*OperatorClaims)
		return claims
	}
	return nil
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}
