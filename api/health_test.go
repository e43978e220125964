package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koopa0/recall/internal/log"
)

func TestHealthLiveness(t *testing.T) {
	h := NewHealthHandler(nil, log.NewNop()) // pool not needed for liveness

	w := httptest.NewRecorder()
	h.liveness(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", w.Body.String())
	}
}

func TestHealthReadinessPoolNil(t *testing.T) {
	h := NewHealthHandler(nil, log.NewNop())

	w := httptest.NewRecorder()
	h.readiness(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "database pool not configured") {
		t.Errorf("body = %q", w.Body.String())
	}
}
