// Package api exposes the local control surface over HTTP. It is the only
// way UI clients reach the scheduler; handlers translate requests into
// coordinator calls and never touch job state directly.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"hooksched/internal/job"
	"hooksched/internal/scheduler"
	"hooksched/internal/store"
	logx "hooksched/pkg/logx"
)

type Config struct {
	Addr string

	// AllowInsecure permits binding to a non-loopback address. The API has
	// no authentication; anyone who can reach it can post through webhooks.
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	sched *scheduler.Service
	st    store.Store

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, sched *scheduler.Service, st store.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	return &Service{cfg: cfg, sched: sched, st: st, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if !s.cfg.AllowInsecure && !isLoopbackAddr(addr) {
		s.log.Error("api refused to start: non-loopback addr requires allow_insecure",
			logx.String("addr", addr),
		)
		return errors.New("api refused to start: insecure bind")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server exited", logx.Err(err))
		}
	}()

	s.log.Info("api started", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("api stopped")
}

// Addr returns the bound listen address, or "" before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Handler builds the route table. Split out from Start so tests can drive
// it through httptest without a real listener.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/jobs", s.handleCreateJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)
	mux.HandleFunc("POST /api/send", s.handleSend)

	mux.HandleFunc("GET /api/webhooks", s.handleGetWebhooks)
	mux.HandleFunc("PUT /api/webhooks", s.handlePutWebhooks)
	mux.HandleFunc("GET /api/webhooks/last", s.handleGetLastIndex)
	mux.HandleFunc("PUT /api/webhooks/last", s.handlePutLastIndex)

	mux.HandleFunc("GET /api/quickactions", s.handleGetQuickActions)
	mux.HandleFunc("PUT /api/quickactions", s.handlePutQuickActions)
	mux.HandleFunc("POST /api/quickactions/{index}", s.handleFireQuickAction)

	mux.HandleFunc("GET /api/history", s.handleHistory)

	return mux
}

// statusFor maps coordinator errors onto HTTP codes. Everything the client
// can fix is a 4xx; the envelope carries the detail.
func statusFor(err error) int {
	switch {
	case errors.Is(err, job.ErrCapacity):
		return http.StatusConflict
	case errors.Is(err, job.ErrEmptyText):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func isLoopbackAddr(addr string) bool {
	// addr is expected in host:port (host may be empty).
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
