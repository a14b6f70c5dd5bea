// Package metrics exposes Prometheus collectors for the acquisition
// pipeline and a small HTTP server for loop-mode processes.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	booksDiscoveredTotal prometheus.Counter
	walkPagesTotal       prometheus.Counter
	booksProcessedTotal  *prometheus.CounterVec
	uploadBytesTotal     prometheus.Counter

	once sync.Once
)

// Init registers the pipeline collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		booksDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_books_discovered_total",
				Help: "Total number of newly discovered book records.",
			},
		)

		walkPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_walk_pages_total",
				Help: "Total number of search result pages processed.",
			},
		)

		booksProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_books_total",
				Help: "Total number of books processed, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		uploadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_upload_bytes_total",
				Help: "Total bytes transmitted by the upload verifier.",
			},
		)
	})
}

// ObserveDiscovered adds newly inserted records to the discovery counter.
func ObserveDiscovered(n int) {
	if n > 0 {
		booksDiscoveredTotal.Add(float64(n))
	}
}

// ObserveWalkPages adds processed search pages to the page counter.
func ObserveWalkPages(n int) {
	if n > 0 {
		walkPagesTotal.Add(float64(n))
	}
}

// ObserveBook counts one finished stage attempt for a book.
func ObserveBook(stage string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	booksProcessedTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveUploadBytes adds transmitted bytes to the upload counter.
func ObserveUploadBytes(n int64) {
	if n > 0 {
		uploadBytesTotal.Add(float64(n))
	}
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs the metrics endpoint until ctx is canceled. Intended for loop
// mode; one-shot commands skip it.
func Serve(ctx context.Context, port int, logger *zap.Logger) {
	r := chi.NewRouter()
	r.Handle("/metrics", Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Metrics server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed", zap.Error(err))
	}
}
