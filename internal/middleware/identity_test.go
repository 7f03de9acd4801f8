package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskboard/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "identity-test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func validClaims(subject string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "taskboard-identity",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func setupIdentityRouter(issuer string) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(middleware.Identity(middleware.IdentityConfig{Secret: []byte(testSecret), Issuer: issuer}))
	router.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"owner": middleware.OwnerID(c)})
	})
	return router
}

func doRequest(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIdentity_ValidToken(t *testing.T) {
	router := setupIdentityRouter("taskboard-identity")
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("alice"))

	w := doRequest(router, "Bearer "+token)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if w.Body.String() != `{"owner":"alice"}` {
		t.Errorf("Expected owner alice in context, got %s", w.Body.String())
	}
}

func TestIdentity_Rejections(t *testing.T) {
	expired := validClaims("alice")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims("alice")
	noExpiry.ExpiresAt = nil

	wrongIssuer := validClaims("alice")
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name   string
		header func(t *testing.T) string
	}{
		{"missing header", func(*testing.T) string { return "" }},
		{"not bearer", func(*testing.T) string { return "Basic dXNlcjpwYXNz" }},
		{"empty bearer", func(*testing.T) string { return "Bearer " }},
		{"garbage token", func(*testing.T) string { return "Bearer not-a-jwt" }},
		{"wrong secret", func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims("alice"))
		}},
		{"wrong algorithm", func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims("alice"))
		}},
		{"expired", func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired)
		}},
		{"no expiry", func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry)
		}},
		{"wrong issuer", func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer)
		}},
		{"no subject", func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(""))
		}},
	}

	router := setupIdentityRouter("taskboard-identity")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, tt.header(t))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
			}
		})
	}
}

func TestIdentity_IssuerOptional(t *testing.T) {
	router := setupIdentityRouter("")
	claims := validClaims("bob")
	claims.Issuer = "anything"

	w := doRequest(router, "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d without issuer check, got %d", http.StatusOK, w.Code)
	}
}
