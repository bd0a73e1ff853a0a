package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCanonicalHostRedirect(t *testing.T) {
	tests := []struct {
		name             string
		canonicalHost    string
		requestHost      string
		target           string
		expectRedirect   bool
		expectedLocation string
	}{
		{
			name:             "no port configured, request with port",
			canonicalHost:    "conf.example.com",
			requestHost:      "conf.example.com:9090",
			target:           "/",
			expectRedirect:   true,
			expectedLocation: "https://conf.example.com/",
		},
		{
			name:           "port configured, request with same port",
			canonicalHost:  "conf.example.com:9090",
			requestHost:    "conf.example.com:9090",
			target:         "/",
			expectRedirect: false,
		},
		{
			name:             "port configured, request without port",
			canonicalHost:    "conf.example.com:9090",
			requestHost:      "conf.example.com",
			target:           "/",
			expectRedirect:   true,
			expectedLocation: "https://conf.example.com:9090/",
		},
		{
			name:             "path and query preserved",
			canonicalHost:    "conf.example.com",
			requestHost:      "10.0.0.7:8443",
			target:           "/group/test?lang=en",
			expectRedirect:   true,
			expectedLocation: "https://conf.example.com/group/test?lang=en",
		},
		{
			name:           "redirect disabled",
			canonicalHost:  "",
			requestHost:    "anything:1234",
			target:         "/",
			expectRedirect: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			req.Host = tt.requestHost
			w := httptest.NewRecorder()

			redirected := redirect(tt.canonicalHost, w, req)

			if redirected != tt.expectRedirect {
				t.Errorf("expected redirect %v, got %v", tt.expectRedirect, redirected)
			}

			if tt.expectRedirect {
				resp := w.Result()
				if resp.StatusCode != http.StatusMovedPermanently {
					t.Errorf("expected status 301, got %v", resp.StatusCode)
				}
				loc, err := resp.Location()
				if err != nil {
					t.Errorf("Location header missing: %v", err)
				} else if loc.String() != tt.expectedLocation {
					t.Errorf("expected location %v, got %v", tt.expectedLocation, loc.String())
				}
			}
		})
	}
}

func TestCanonicalHostMiddleware(t *testing.T) {
	var served bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served = true
	})
	h := canonicalHost("conf.example.com", next)

	req := httptest.NewRequest("GET", "/group/test", nil)
	req.Host = "conf.example.com"
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !served {
		t.Error("request for the canonical host was not served")
	}

	served = false
	req = httptest.NewRequest("GET", "/group/test", nil)
	req.Host = "localhost:8443"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if served {
		t.Error("request for another host was served")
	}
	if w.Code != http.StatusMovedPermanently {
		t.Errorf("status = %d, want 301", w.Code)
	}
}
