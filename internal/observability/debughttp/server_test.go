package debughttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "ward/pkg/logx"
)

func TestCheckBind(t *testing.T) {
	t.Parallel()
	cases := []struct {
		cfg Config
		ok  bool
	}{
		{Config{}, true},
		{Config{Addr: "127.0.0.1:6060"}, true},
		{Config{Addr: "localhost:6060"}, true},
		{Config{Addr: "[::1]:6060"}, true},
		{Config{Addr: ":6060"}, false},
		{Config{Addr: "0.0.0.0:6060"}, false},
		{Config{Addr: "0.0.0.0:6060", Token: "s3cret"}, true},
		{Config{Addr: "10.0.0.5:6060", AllowInsecure: true}, true},
		{Config{Addr: "no-port"}, false},
	}
	for _, tc := range cases {
		if err := CheckBind(tc.cfg); (err == nil) != tc.ok {
			t.Errorf("CheckBind(%+v) = %v", tc.cfg, err)
		}
	}
}

func get(t *testing.T, h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	srv := New(Config{Addr: "127.0.0.1:0"}, logx.Logger{}, func() (any, error) {
		return map[string]int{"processed": 7}, nil
	})
	h := srv.Handler()

	if rr := get(t, h, "/healthz"); rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rr.Code, rr.Body.String())
	}
	rr := get(t, h, "/status")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"processed": 7`) {
		t.Fatalf("status = %d %q", rr.Code, rr.Body.String())
	}
	if rr := get(t, h, "/debug/pprof/"); rr.Code != http.StatusOK {
		t.Fatalf("pprof index = %d", rr.Code)
	}
}

func TestStatusErrors(t *testing.T) {
	t.Parallel()
	h := New(Config{}, logx.Logger{}, func() (any, error) { return nil, errors.New("not started") }).Handler()
	if rr := get(t, h, "/status"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	h = New(Config{}, logx.Logger{}, nil).Handler()
	if rr := get(t, h, "/status"); rr.Code != http.StatusNotFound {
		t.Fatalf("status without source = %d", rr.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, logx.Logger{}, nil).Handler()

	if rr := get(t, h, "/healthz"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", rr.Code)
	}
	if rr := get(t, h, "/healthz?token=wrong"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", rr.Code)
	}
	if rr := get(t, h, "/healthz?token=s3cret"); rr.Code != http.StatusOK {
		t.Fatalf("query token = %d", rr.Code)
	}
	if rr := get(t, h, "/healthz", "Authorization", "Bearer s3cret"); rr.Code != http.StatusOK {
		t.Fatalf("bearer token = %d", rr.Code)
	}
}

func TestServeUntilCancelled(t *testing.T) {
	t.Parallel()
	srv := New(Config{Addr: "127.0.0.1:0"}, logx.Logger{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
