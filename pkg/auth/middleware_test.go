package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestServiceAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ServiceAuthMiddleware("token123"))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic token123", http.StatusUnauthorized},
		{"extra field", "Bearer token123 x", http.StatusUnauthorized},
		{"wrong token", "Bearer wrong", http.StatusUnauthorized},
		{"valid", "Bearer token123", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequestWithContext(context.Background(), "GET", "/ok", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestValidateServiceToken(t *testing.T) {
	if err := ValidateServiceToken("", "x"); err != ErrMissingServiceToken {
		t.Fatalf("expected ErrMissingServiceToken, got %v", err)
	}
	if err := ValidateServiceToken("x", ""); err != ErrInvalidServiceToken {
		t.Fatalf("an unset expected token must reject everything, got %v", err)
	}
	if err := ValidateServiceToken("x", "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerifyHubSignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	good := SignBody(body, "app-secret")

	cases := []struct {
		name   string
		header string
		want   error
	}{
		{"valid", good, nil},
		{"missing", "", ErrMissingSignature},
		{"no prefix", good[len("sha256="):], ErrInvalidSignature},
		{"not hex", "sha256=zz", ErrInvalidSignature},
		{"other secret", SignBody(body, "other"), ErrInvalidSignature},
		{"other body", SignBody([]byte("{}"), "app-secret"), ErrInvalidSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := VerifyHubSignature(body, tc.header, "app-secret"); err != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
