package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// newRequestIDRouter echoes the context request ID in a separate header
func newRequestIDRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.Header("X-Context-Request-ID", c.GetString(RequestIDKey))
		if Logger(c) == nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func requestWithID(r *gin.Engine, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id != "" {
		req.Header.Set(RequestIDHeader, id)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestIDMiddleware_Inbound(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		reuse   bool
	}{
		{"absent", "", false},
		{"well formed", "lb-7f3a9c", true},
		{"contains space", "abc def", false},
		{"contains newline", "abc\ndef", false},
		{"too long", strings.Repeat("a", maxRequestIDLength+1), false},
	}

	r := newRequestIDRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := requestWithID(r, tt.inbound)
			got := w.Header().Get(RequestIDHeader)
			if got != w.Header().Get("X-Context-Request-ID") {
				t.Errorf("response header %q differs from context value %q", got, w.Header().Get("X-Context-Request-ID"))
			}
			if tt.reuse {
				if got != tt.inbound {
					t.Errorf("request ID = %q, want inbound %q", got, tt.inbound)
				}
				return
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("generated request ID %q is not a UUID: %v", got, err)
			}
		})
	}
}

func TestRequestIDMiddleware_UniquePerRequest(t *testing.T) {
	r := newRequestIDRouter()
	a := requestWithID(r, "").Header().Get(RequestIDHeader)
	b := requestWithID(r, "").Header().Get(RequestIDHeader)
	if a == b {
		t.Errorf("two requests shared request ID %q", a)
	}
}

func TestLogger_OutsideRequest(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if Logger(c) == nil {
		t.Error("Logger() returned nil")
	}
}
