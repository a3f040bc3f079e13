package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthRejectsMissingUserID(t *testing.T) {
	handler := Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/recurring", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing header: status = %d, want 401", w.Code)
	}
}

func TestAuthPassesUserIDThrough(t *testing.T) {
	var seen string
	handler := Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/recurring", nil)
	req.Header.Set("X-User-ID", "u1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "u1" {
		t.Errorf("user id in context = %q, want u1", seen)
	}
}

// Mirrors the server wiring: authenticated routes live behind Auth while
// the health check is registered on the outer mux, so probes without an
// X-User-ID header still succeed.
func TestHealthBypassesAuth(t *testing.T) {
	api := http.NewServeMux()
	api.HandleFunc("/api/recurring", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	root := http.NewServeMux()
	root.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	root.Handle("/", Auth(api))

	w := httptest.NewRecorder()
	root.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health without header: status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	root.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/recurring", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("api without header: status = %d, want 401", w.Code)
	}
}
