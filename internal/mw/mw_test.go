package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRateLimit(t *testing.T) {
	kl := NewKeyedLimiter(rate.Every(time.Hour), 2, time.Minute)
	r := newEngine(RateLimit(kl))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: got %d, want %d", i, codes[i], want[i])
		}
	}
}

func TestKeyedLimiter_Sweep(t *testing.T) {
	kl := NewKeyedLimiter(rate.Inf, 1, time.Minute)
	kl.Allow("a")
	kl.Allow("b")
	if kl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", kl.Len())
	}
	kl.sweep(time.Now().Add(2 * time.Minute))
	if kl.Len() != 0 {
		t.Errorf("Len() after sweep = %d, want 0", kl.Len())
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name   string
		env    string
		origin string
		want   string
	}{
		{"dev allows any origin", "dev", "http://localhost:5173", "http://localhost:5173"},
		{"prod allows same host", "prod", "https://example.com", "https://example.com"},
		{"prod rejects other host", "prod", "https://evil.example", ""},
		{"prod rejects host as substring", "prod", "https://example.com.evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(CORS(tt.env))
			req := httptest.NewRequest(http.MethodGet, "https://example.com/ping", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	r := newEngine(CORS("dev"))
	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
}
