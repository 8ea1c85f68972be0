package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                  "/",
		"/metrics":                          "/metrics",
		"/topup/initiate":                   "/topup/initiate",
		"/topup/webhook/visa_confirmation":  "/topup/webhook/visa_confirmation",
		"/transactions?user_id=abc":         "/transactions",
		"/v1/accounts/abc":                  "/v1/accounts/:id",
		"/v1/accounts/abc/balance":          "/v1/accounts/:id/balance",
		"/v1/accounts/abc/extra":            "/v1/accounts/abc/extra",
		"/v1/accounts/abc/balance?currency": "/v1/accounts/:id/balance",
		"/health":                           "/health",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

type recordingFlusher struct {
	http.ResponseWriter
	flushed bool
}

func (f *recordingFlusher) Flush() { f.flushed = true }

func TestInstrumentPreservesFlusher(t *testing.T) {
	rec := &recordingFlusher{ResponseWriter: httptest.NewRecorder()}

	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatalf("instrumented writer lost http.Flusher")
		}
		f.Flush()
	}))

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stream", nil))
	if !rec.flushed {
		t.Fatalf("Flush did not reach the underlying writer")
	}
}
