package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPWithOptions(t *testing.T) {
	tests := []struct {
		name        string
		remote      string
		xff         string
		hops        int
		want        string
		wantXFFKept bool
	}{
		{"public peer ignores xff", "203.0.113.9:1000", "1.2.3.4", 1, "203.0.113.9", false},
		{"private peer no hops", "10.0.0.5:1000", "1.2.3.4", 0, "10.0.0.5", false},
		{"private peer one hop", "10.0.0.5:1000", "9.9.9.9, 1.2.3.4", 1, "1.2.3.4", true},
		{"private peer two hops", "10.0.0.5:1000", "9.9.9.9, 1.2.3.4", 2, "9.9.9.9", true},
		{"too few entries fails closed", "10.0.0.5:1000", "1.2.3.4", 3, "10.0.0.5", false},
		{"garbage entry", "10.0.0.5:1000", "not-an-ip", 1, "10.0.0.5", true},
		{"loopback peer", "127.0.0.1:1000", "1.2.3.4", 1, "1.2.3.4", true},
		{"no port", "10.0.0.5", "", 0, "10.0.0.5", false},
		{"empty remote", "", "", 0, "0.0.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			var xffSeen string
			h := ClientIPWithOptions(ClientIPOptions{TrustedHops: tt.hops})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIPFromContext(r.Context())
				xffSeen = r.Header.Get("X-Forwarded-For")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Fatalf("client ip = %q, want %q", got, tt.want)
			}
			if tt.xff != "" && (xffSeen != "") != tt.wantXFFKept {
				t.Fatalf("X-Forwarded-For kept = %v, want %v", xffSeen != "", tt.wantXFFKept)
			}
		})
	}
}
