// Package debugsrv runs the optional debug HTTP server: a health check,
// a JSON dump of the editing state and the net/http/pprof handlers.
package debugsrv

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	logx "schedform/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

var errInsecure = errors.New("debug server: non-loopback addr requires token or allow_insecure")

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
}

// StateFunc returns the value served as JSON on /state.
type StateFunc func() any

// Server is restartable: Stop followed by Start listens again with the
// current config.
type Server struct {
	log   logx.Logger
	state StateFunc

	// mu is held across listen and shutdown so Start and Stop never
	// interleave.
	mu   sync.Mutex
	cfg  Config
	srv  *http.Server
	addr string
}

func New(cfg Config, state StateFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, state: state, log: log}
}

// Addr returns the bound listen address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure applies cfg, starting, stopping or restarting the listener
// when the effective settings change.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.cfg != cfg
	s.cfg = cfg
	if s.srv != nil && (changed || !cfg.Enabled) {
		s.shutdownLocked(ctx)
	}
	return s.listenLocked()
}

// Start listens on the configured address. It is a no-op when disabled or
// already running.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenLocked()
}

// Stop shuts the server down, waiting for open requests until ctx ends.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownLocked(ctx)
}

func (s *Server) listenLocked() error {
	cfg := s.cfg
	if s.srv != nil || !cfg.Enabled {
		return nil
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		if !cfg.AllowInsecure {
			return errInsecure
		}
		s.log.Warn("debug server exposed without token", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.routes(cfg.Token),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("debug server stopped with error", logx.Err(err))
		}
	}()
	s.srv, s.addr = srv, ln.Addr().String()
	s.log.Info("debug server started", logx.String("addr", s.addr), logx.Bool("token_set", cfg.Token != ""))
	return nil
}

func (s *Server) shutdownLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
	}
	s.srv, s.addr = nil, ""
	s.log.Info("debug server stopped")
}

func (s *Server) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /state", s.serveState)
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	return requireToken(strings.TrimSpace(token), mux)
}

func (s *Server) serveState(w http.ResponseWriter, _ *http.Request) {
	var v any = struct{}{}
	if s.state != nil {
		v = s.state()
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Debug("state encode failed", logx.Err(err))
	}
}

// requireToken guards h with token, read from ?token= or, when the query
// has none, from "Authorization: Bearer". An empty token disables the
// check.
func requireToken(token string, h http.Handler) http.Handler {
	if token == "" {
		return h
	}
	want := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(v)
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
