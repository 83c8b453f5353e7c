package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := CORS("https://photos.example.com, https://admin.example.com")(next)

	tests := []struct {
		name        string
		origin      string
		wantAllowed bool
	}{
		{"listed origin", "https://photos.example.com", true},
		{"second listed origin", "https://admin.example.com", true},
		{"localhost", "http://localhost:5173", true},
		{"loopback without port", "https://127.0.0.1", true},
		{"localhost lookalike", "http://localhost.evil.com", false},
		{"bare host", "localhost:5173", false},
		{"unlisted origin", "https://evil.example.com", false},
		{"no origin", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/items", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, req)

			got := recorder.Header().Get("Access-Control-Allow-Origin")
			if tc.wantAllowed && got != tc.origin {
				t.Errorf("expected origin %q to be allowed, got %q", tc.origin, got)
			}
			if !tc.wantAllowed && got != "" {
				t.Errorf("expected no allow header, got %q", got)
			}
			if recorder.Code != http.StatusTeapot {
				t.Errorf("expected request to reach handler, got %d", recorder.Code)
			}
			if recorder.Header().Get("Vary") != "Origin" {
				t.Errorf("expected Vary: Origin, got %q", recorder.Header().Get("Vary"))
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/items", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected 200 for preflight, got %d", recorder.Code)
	}
	if called {
		t.Error("preflight should not reach the handler")
	}
	if recorder.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected allowed methods on preflight")
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/", nil))

	if recorder.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff header")
	}
	if recorder.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected DENY frame options")
	}
}
