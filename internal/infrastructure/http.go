package infrastructure

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/market-collector/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	opsReadHeaderTimeout = 2 * time.Second
	opsWriteTimeout      = 15 * time.Second
	opsIdleTimeout       = 60 * time.Second
	opsShutdownTimeout   = 10 * time.Second
)

// OpsServer serves health checks, metrics and the collector link controls.
type OpsServer struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

func NewOpsServer(addr string, shutdownTimeout time.Duration, handler http.Handler) *OpsServer {
	if shutdownTimeout <= 0 {
		shutdownTimeout = opsShutdownTimeout
	}

	return &OpsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           withRequestID(withRecovery(withAccessLog(handler))),
			ReadHeaderTimeout: opsReadHeaderTimeout,
			WriteTimeout:      opsWriteTimeout,
			IdleTimeout:       opsIdleTimeout,
		},
		shutdownTimeout: shutdownTimeout,
	}
}

func (s *OpsServer) Start() error {
	logrus.WithField("addr", s.server.Addr).Info("ops http server starting")
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown bounds ctx by the configured shutdown timeout.
func (s *OpsServer) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

func (s *OpsServer) Handler() http.Handler {
	return s.server.Handler
}

// NewOpsMux serves liveness, readiness and prometheus metrics. ready may be nil.
func NewOpsMux(ready func() error) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(err.Error()))
				return
			}
		}
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r)
	})
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logrus.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  recovered,
				}).Error("panic recovered in ops handler")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// withAccessLog logs at debug level; metric scrapes hit it every few seconds.
func withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logrus.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Debug("ops request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
