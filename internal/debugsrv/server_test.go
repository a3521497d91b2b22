package debugsrv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	logx "schedform/pkg/logx"
)

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func startServer(t *testing.T, cfg Config, state StateFunc) *Server {
	t.Helper()
	s := New(cfg, state, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestStateAndHealth(t *testing.T) {
	s := startServer(t, Config{Enabled: true, Addr: "127.0.0.1:0"}, func() any {
		return map[string]any{"dirty": true, "pending": []int{4}}
	})
	base := "http://" + s.Addr()

	if code, body := get(t, base+"/healthz", ""); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz = %d %q", code, body)
	}
	code, body := get(t, base+"/state", "")
	if code != http.StatusOK {
		t.Fatalf("state status = %d", code)
	}
	var got struct {
		Dirty   bool  `json:"dirty"`
		Pending []int `json:"pending"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Dirty || len(got.Pending) != 1 || got.Pending[0] != 4 {
		t.Fatalf("state = %+v", got)
	}
}

func TestTokenRequired(t *testing.T) {
	s := startServer(t, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}, nil)
	base := "http://" + s.Addr()

	if code, _ := get(t, base+"/healthz", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", code)
	}
	if code, _ := get(t, base+"/healthz", "s3cret"); code != http.StatusOK {
		t.Fatalf("bearer: status = %d", code)
	}
	if code, _ := get(t, base+"/healthz?token=s3cret", ""); code != http.StatusOK {
		t.Fatalf("query token: status = %d", code)
	}
	if code, _ := get(t, base+"/healthz?token=nope", "s3cret"); code != http.StatusUnauthorized {
		t.Fatalf("wrong query token: status = %d", code)
	}
}

func TestRefusesPublicAddrWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		s.Stop(context.Background())
		t.Fatalf("expected refusal")
	}
}

func TestReconfigureToggles(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	ctx := context.Background()
	if err := s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if s.Addr() == "" {
		t.Fatalf("expected running server")
	}
	if err := s.Reconfigure(ctx, Config{Enabled: false, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("expected stopped server, addr %q", s.Addr())
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"10.0.0.1:6060":  false,
		"bogus":          false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", in, got, want)
		}
	}
}
