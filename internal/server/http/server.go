package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/rzbill/evstore/internal/runtime"
	"github.com/rzbill/evstore/internal/server/http/controllers"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

// Server is the REST gateway over a Runtime's store.
type Server struct {
	rt              *runtime.Runtime
	srv             *http.Server
	addr            string
	shutdownTimeout time.Duration
	logger          logpkg.Logger
}

// New builds a Server listening on the runtime's configured HTTP address.
func New(rt *runtime.Runtime, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	logger = logger.With(logpkg.Component("http"))
	cfg := rt.Config().Server

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors)
	controllers.NewControllerRegistry(rt, logger).RegisterAllRoutes(r)

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Server{
		rt:              rt,
		srv:             &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second},
		addr:            cfg.HTTPAddr,
		shutdownTimeout: timeout,
		logger:          logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Serve listens on the configured address until ctx is done. It satisfies
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	return s.ListenAndServe(ctx, s.addr)
}

func (s *Server) String() string { return "http-server" }

// ListenAndServe serves on addr and shuts down gracefully when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", addr, err)
	}
	return s.serve(ctx, l)
}

func (s *Server) serve(ctx context.Context, l net.Listener) error {
	s.logger.Info("http server listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(cctx); err != nil {
			s.logger.Warn("http shutdown", logpkg.Err(err))
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close stops the server immediately.
func (s *Server) Close() error { return s.srv.Close() }

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger logpkg.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				logpkg.Str("method", r.Method),
				logpkg.Str("path", r.URL.Path),
				logpkg.Int("status", ww.Status()),
				logpkg.Dur("elapsed", time.Since(start)),
				logpkg.Str("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
