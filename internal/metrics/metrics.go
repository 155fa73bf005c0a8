// Package metrics exposes the relay's Prometheus counters. Counters are
// always registered and cheap to increment; Serve only binds an exporter
// when an address is configured.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsSeen counts message events received over Socket Mode.
	EventsSeen = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "listener", Name: "events_seen_total",
		Help: "Message events received over Socket Mode.",
	})

	// EventsDropped counts events discarded before enqueue, by reason.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "listener", Name: "events_dropped_total",
		Help: "Events dropped before enqueue.",
	}, []string{"reason"})

	// ClaimsLost counts events another bot claimed first.
	ClaimsLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "listener", Name: "claims_lost_total",
		Help: "Events lost to another bot's first-come claim.",
	})

	// JobsEnqueued counts jobs appended to the stream, by kind.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "listener", Name: "jobs_enqueued_total",
		Help: "Forwarding jobs appended to the stream.",
	}, []string{"kind"})

	// JobsProcessed counts consumed jobs by kind and outcome.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "worker", Name: "jobs_total",
		Help: "Jobs consumed from the stream, by outcome.",
	}, []string{"kind", "outcome"})

	// APIRetries counts Slack Web API retries, by method.
	APIRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "slack", Name: "retries_total",
		Help: "Slack Web API calls retried after a retryable error.",
	}, []string{"method"})
)

// Serve exposes /metrics on addr until ctx is cancelled. A no-op when addr
// is empty.
func Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()
}
