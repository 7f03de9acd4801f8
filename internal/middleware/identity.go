package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// OwnerIDKey is the gin context key holding the authenticated principal.
const OwnerIDKey = "owner_id"

type IdentityConfig struct {
	Secret []byte
	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

// Identity verifies an HS256 bearer token issued by the identity provider
// and stores its subject under OwnerIDKey. Requests without a valid token
// are rejected with 401 before reaching any handler.
func Identity(config IdentityConfig) gin.HandlerFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_token",
				"message": "Authorization header is required",
			})
			return
		}

		tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(tokenStr) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token_format",
				"message": "Authorization header must use Bearer token",
			})
			return
		}

		var claims jwt.RegisteredClaims
		_, err := parser.ParseWithClaims(strings.TrimSpace(tokenStr), &claims, func(*jwt.Token) (interface{}, error) {
			return config.Secret, nil
		})
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "expired_token",
				"message": "Token has expired",
			})
			return
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_issuer",
				"message": "Token issuer is invalid",
			})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": "Token validation failed",
			})
			return
		}

		if strings.TrimSpace(claims.Subject) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_claims",
				"message": "Token has no subject",
			})
			return
		}

		c.Set(OwnerIDKey, claims.Subject)
		c.Next()
	}
}

// OwnerID returns the principal stored by Identity, or "" when absent.
func OwnerID(c *gin.Context) string {
	return c.GetString(OwnerIDKey)
}
