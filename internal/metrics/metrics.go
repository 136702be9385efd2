// Package metrics defines the prometheus collectors of the node and the optional exporter.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	log "github.com/koinos/koinos-log-golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the basic namespace where all metrics are defined under.
	Namespace = "mempool_recon"
)

// NewCounter creates a Counter metrics under the global namespace.
func NewCounter(name, subsystem, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

// NewGauge creates a Gauge metrics under the global namespace.
func NewGauge(name, subsystem, help string, labels []string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

// NewHistogramWithBuckets creates a Histogram metrics with custom buckets.
func NewHistogramWithBuckets(name, subsystem, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
}

var (
	// StoreSize is the number of resident transactions
	StoreSize = NewGauge("transactions", "store", "Number of transactions in the local mempool", nil).WithLabelValues()

	// StoreResets counts new block resets
	StoreResets = NewCounter("resets_total", "store", "Number of mempool resets on new blocks", nil).WithLabelValues()

	// MessagesReceived counts inbound reconciliation messages by kind
	MessagesReceived = NewCounter("messages_received_total", "session", "Reconciliation messages received", []string{"kind"})

	// MessagesSent counts outbound reconciliation messages by kind
	MessagesSent = NewCounter("messages_sent_total", "session", "Reconciliation messages sent", []string{"kind"})

	// DifferenceEstimate observes the odd sketch estimate of each round
	DifferenceEstimate = NewHistogramWithBuckets("difference_estimate", "session",
		"Estimated symmetric difference per reconciliation round", nil,
		prometheus.ExponentialBuckets(1, 2, 12)).WithLabelValues()

	// RecoveredIDs counts short ids recovered from decoded minisketches
	RecoveredIDs = NewCounter("recovered_ids_total", "session", "Short ids recovered by reconciliation", nil).WithLabelValues()

	// DecodeFailures counts minisketch decodes that exceeded capacity
	DecodeFailures = NewCounter("decode_failures_total", "session", "Minisketch decodes that exceeded capacity", nil).WithLabelValues()

	// StaleSketches counts minisketches replaced by a newer one before decoding
	StaleSketches = NewCounter("stale_sketches_total", "session", "Minisketches dropped in favour of a newer one from the same peer", nil).WithLabelValues()

	// ActiveSessions is the number of running peer sessions
	ActiveSessions = NewGauge("active", "session", "Number of running peer sessions", nil).WithLabelValues()

	// Broadcasts counts upstream resubmissions by result
	Broadcasts = NewCounter("broadcasts_total", "upstream", "Transactions resubmitted upstream", []string{"result"})

	// FeedEvents counts ingestion feed deliveries by topic and result
	FeedEvents = NewCounter("events_total", "feed", "Ingestion feed deliveries", []string{"topic", "result"})
)

// StartCollectingMetrics serves /metrics on addr until ctx is done
func StartCollectingMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("Metrics server stopped: %s", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
