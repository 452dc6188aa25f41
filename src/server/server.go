package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/scheduler"
)

// Handler builds the ops router: liveness, scheduler health and metrics.
// The CRUD/auth surface lives elsewhere; this port is internal only.
func Handler(orchestrator *scheduler.Orchestrator, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		report := orchestrator.Health()

		w.Header().Set("Content-Type", "application/json")
		if report.Overall == scheduler.HealthFailing {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			logger.WithError(err).Error("/health encode error")
		}
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(orchestrator.StatusAll()); err != nil {
			logger.WithError(err).Error("/status encode error")
		}
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

// StartServer serves the ops endpoints and blocks until SIGINT or SIGTERM,
// then shuts down gracefully and returns so the caller can stop the rest
// of the process in order.
func StartServer(port string, orchestrator *scheduler.Orchestrator, registry *prometheus.Registry) {
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: Handler(orchestrator, registry),
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
