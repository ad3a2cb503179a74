package launcher

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rony4d/go-subspace/runtime"
)

type health struct {
	Network string `json:"network"`
	Block   uint64 `json:"block"`
}

// newMetricsRouter serves the gathered metrics on /metrics and the chain
// head on /healthz.
func newMetricsRouter(gatherer prometheus.Gatherer, rt *runtime.Runtime) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health{
			Network: rt.Rules().Name,
			Block:   uint64(rt.Block()),
		})
	})
	return r
}

// startMetricsServer listens in the background until the server is shut down.
func startMetricsServer(cfg MetricsConfig, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:           net.JoinHostPort(cfg.Addr, strconv.Itoa(cfg.Port)),
		Handler:        handler,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		logger.Info("Starting metrics server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", srv.Addr, "err", err)
		}
	}()
	return srv
}
