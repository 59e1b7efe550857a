package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callflight"

var (
	// Registry is a dedicated Prometheus registry for all callflight metrics.
	Registry = prometheus.NewRegistry()

	// RecordedTotal counts entries written into the ring, by event kind.
	RecordedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_total",
			Help:      "Total number of events written into the trace ring",
		},
		[]string{"kind"}, // enter | exit
	)

	// SkippedTotal counts recording calls that degraded to a no-op.
	SkippedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_total",
			Help:      "Total number of recording calls dropped without writing",
		},
		[]string{"reason"}, // disabled | reentrant
	)

	// InitTotal counts store initialization attempts and their outcomes.
	InitTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_init_total",
			Help:      "Total number of trace store initialization attempts",
		},
		[]string{"outcome"}, // ok | error
	)

	// TraceFileBytes reports the size of the mapped trace file.
	TraceFileBytes = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trace_file_bytes",
			Help:      "Size in bytes of the memory-mapped trace file",
		},
	)

	// PackTotal counts pack export/verify operations.
	PackTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pack_total",
			Help:      "Total number of pack operations",
		},
		[]string{"op", "outcome"}, // write|read|verify x ok|error
	)

	// IndexedEventsTotal accumulates events ingested into the trace index.
	IndexedEventsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_events_total",
			Help:      "Cumulative number of events ingested into the trace index",
		},
	)

	// SyscallEventsTotal counts syscalls observed by the kernel probe.
	SyscallEventsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syscall_events_total",
			Help:      "Total number of syscall events observed while recording",
		},
	)
)

// Pre-resolved counters for the recording hot path. Resolving the label
// set on every event would cost a map lookup per call.
var (
	recordedEnter    = RecordedTotal.WithLabelValues("enter")
	recordedExit     = RecordedTotal.WithLabelValues("exit")
	skippedDisabled  = SkippedTotal.WithLabelValues("disabled")
	skippedReentrant = SkippedTotal.WithLabelValues("reentrant")
)

// RecordEnter notes one enter event written into the ring.
func RecordEnter() { recordedEnter.Inc() }

// RecordExit notes one exit event written into the ring.
func RecordExit() { recordedExit.Inc() }

// SkipDisabled notes a recording call dropped because the store is
// unavailable.
func SkipDisabled() { skippedDisabled.Inc() }

// SkipReentrant notes a recording call dropped by the reentrancy guard.
func SkipReentrant() { skippedReentrant.Inc() }

// ObserveInit notes one store initialization attempt.
func ObserveInit(outcome string) {
	InitTotal.WithLabelValues(outcome).Inc()
}

// ObservePack notes one pack operation.
func ObservePack(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	PackTotal.WithLabelValues(op, outcome).Inc()
}

// Serve starts the /metrics HTTP endpoint on the provided address.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Printf("[metrics] Prometheus endpoint listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}

	return err
}
