// Package debugsrv serves Prometheus metrics and pprof on a private address.
package debugsrv

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leetbot/internal/runtime/supervisor"
	"leetbot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

type Service struct {
	log      logx.Logger
	addr     string
	gatherer prometheus.Gatherer

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
	sup *supervisor.Supervisor
}

func New(addr string, gatherer prometheus.Gatherer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(addr) == "" {
		addr = DefaultAddr
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Service{log: log, addr: addr, gatherer: gatherer}
}

// Handler exposes /healthz, /metrics and /debug/pprof/.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	return mux
}

// Start listens synchronously so bind errors surface to the caller, then
// serves under a supervisor.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	if !isLoopbackAddr(s.addr) {
		s.log.Warn("debug server bound to a non-loopback address", logx.String("addr", s.addr))
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.ln, s.srv = ln, srv
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		// diagnostics must never take the daemon down
		supervisor.WithCancelOnError(false),
	)
	s.sup.Go("http.serve", func(c context.Context) error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) || c.Err() != nil {
			return nil
		}
		return err
	})
	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address once started.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	_ = sup.Stop(ctx)
	s.log.Info("debug server stopped")
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
