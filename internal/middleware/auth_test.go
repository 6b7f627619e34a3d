package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/membership-service/internal/auth"
	"github.com/learnhub/membership-service/internal/config"
)

const testSecret = "test-jwt-secret-that-is-32-chars!!"

func newTestVerifier(t *testing.T) *auth.TokenVerifier {
	t.Helper()
	v, err := auth.NewTokenVerifier(config.JWTConfig{Secret: testSecret, Issuer: "membership-test"})
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}
	return v
}

// newAuthRouter echoes the caller identity set by AuthMiddleware
func newAuthRouter(t *testing.T) *gin.Engine {
	t.Helper()
	r := gin.New()
	r.Use(AuthMiddleware(newTestVerifier(t)))
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"caller_id":    c.GetString(CallerIDKey),
			"caller_email": c.GetString(CallerEmailKey),
		})
	})
	return r
}

func doAuthRequest(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	return body
}

// ---------------------------------------------------------------------------
// Rejections
// ---------------------------------------------------------------------------

func TestAuthMiddleware_Rejections(t *testing.T) {
	other, err := auth.NewTokenVerifier(config.JWTConfig{Secret: "another-secret-that-is-32-chars!!!"})
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}
	foreign, err := other.Issue("id-1", "a@x.com", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	expired, err := newTestVerifier(t).Issue("id-1", "a@x.com", -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"basic scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer   "},
		{"garbage token", "Bearer not-a-jwt"},
		{"wrong signing key", "Bearer " + foreign},
		{"expired", "Bearer " + expired},
	}
	r := newAuthRouter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuthRequest(r, tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if kind := decodeBody(t, w)["kind"]; kind != "unauthenticated" {
				t.Errorf("kind = %v, want unauthenticated", kind)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Success
// ---------------------------------------------------------------------------

func TestAuthMiddleware_ValidToken(t *testing.T) {
	token, err := newTestVerifier(t).Issue("identity-42", "owner@acme.com", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	w := doAuthRequest(newAuthRouter(t), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["caller_id"] != "identity-42" {
		t.Errorf("caller_id = %v, want identity-42", body["caller_id"])
	}
	if body["caller_email"] != "owner@acme.com" {
		t.Errorf("caller_email = %v, want owner@acme.com", body["caller_email"])
	}
}
