package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/giantswarm/ctrlloop/internal/controller"
	"github.com/giantswarm/ctrlloop/internal/leaderelection"
	"github.com/giantswarm/ctrlloop/internal/workqueue"
	"github.com/giantswarm/ctrlloop/pkg/logging"
)

// RegisterMetrics registers the queue, controller and leader election
// metrics with the controller-runtime registry. It is safe to call more
// than once.
func RegisterMetrics() {
	workqueue.RegisterMetrics()
	controller.RegisterMetrics()
	leaderelection.RegisterMetrics()
}

// MetricsServer serves /metrics, /healthz and /readyz.
type MetricsServer struct {
	addr    string
	handler http.Handler
}

// NewMetricsServer returns a server for addr. healthz and readyz report
// failure by returning an error.
func NewMetricsServer(addr string, healthz, readyz func() error) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", checkHandler(healthz))
	mux.HandleFunc("/readyz", checkHandler(readyz))
	return &MetricsServer{addr: addr, handler: mux}
}

// Handler returns the HTTP handler of the server.
func (s *MetricsServer) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address until ctx is cancelled.
func (s *MetricsServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	logging.Info("MetricsServer", "Serving metrics and health checks on %s", listener.Addr())

	select {
	case err := <-serveErr:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func checkHandler(check func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
