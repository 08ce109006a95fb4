package debug

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"eventpulse/pkg/logx"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHandler(t *testing.T) {
	t.Parallel()
	status := func() any { return map[string]int{"delivered": 3} }
	cases := []struct {
		name   string
		ping   error
		token  string
		path   string
		header string
		code   int
		body   string
	}{
		{"healthy", nil, "", "/healthz", "", http.StatusOK, "ok"},
		{"store down", errors.New("dial tcp"), "", "/healthz", "", http.StatusServiceUnavailable, "store: dial tcp"},
		{"status json", nil, "", "/status", "", http.StatusOK, `"delivered": 3`},
		{"missing token", nil, "s3cret", "/status", "", http.StatusUnauthorized, "unauthorized"},
		{"bearer token", nil, "s3cret", "/status", "Bearer s3cret", http.StatusOK, "delivered"},
		{"query token", nil, "s3cret", "/healthz?token=s3cret", "", http.StatusOK, "ok"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := New(Config{}, pinger{tc.ping}, status, logx.Nop())
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			s.handler(tc.token).ServeHTTP(rec, req)
			if rec.Code != tc.code || !strings.Contains(rec.Body.String(), tc.body) {
				t.Fatalf("got %d %q, want %d containing %q", rec.Code, rec.Body.String(), tc.code, tc.body)
			}
		})
	}
}

func TestLoopback(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}

func TestServeLifecycle(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, nil, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	var addr string
	for i := 0; i < 200 && addr == ""; i++ {
		addr = s.Addr()
		if addr == "" {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if addr == "" {
		t.Fatal("server never bound")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Enabled() || s.Addr() != "" {
		t.Fatalf("still serving on %q", s.Addr())
	}
}
