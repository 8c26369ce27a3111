// Package metrics exports upload engine metrics to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-chunkupload/upload/coordinator"
	promclient "github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace ...
const DefaultNamespace = "gallery_upload"

// Observer implements coordinator.Recorder.
type Observer struct {
	attempts        *promclient.CounterVec
	attemptDuration *promclient.HistogramVec
	uploadedBytes   promclient.Counter
	chunks          promclient.Counter
	inFlight        promclient.Gauge
}

var _ coordinator.Recorder = (*Observer)(nil)

// NewObserver registers the engine metrics on reg (the default registerer when nil).
// Registering twice on the same registry reuses the existing collectors.
func NewObserver(namespace string, reg promclient.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	var err error
	o := &Observer{}
	if o.attempts, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "attempts_total",
		Help:      "Upload attempts by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if o.attemptDuration, err = register(reg, promclient.NewHistogramVec(promclient.HistogramOpts{
		Namespace: namespace,
		Name:      "attempt_duration_seconds",
		Help:      "Duration of upload attempts by result.",
		Buckets:   promclient.ExponentialBuckets(0.05, 2, 12),
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if o.uploadedBytes, err = register(reg, promclient.NewCounter(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Source bytes written to the sink.",
	})); err != nil {
		return nil, err
	}
	if o.chunks, err = register(reg, promclient.NewCounter(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_total",
		Help:      "Chunks written to the sink.",
	})); err != nil {
		return nil, err
	}
	if o.inFlight, err = register(reg, promclient.NewGauge(promclient.GaugeOpts{
		Namespace: namespace,
		Name:      "uploads_in_flight",
		Help:      "Upload tasks currently holding a concurrency slot.",
	})); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C promclient.Collector](reg promclient.Registerer, collector C) (C, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var are promclient.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	var zero C
	return zero, fmt.Errorf("register collector: %w", err)
}

// AttemptFinished ...
func (o *Observer) AttemptFinished(result string, took time.Duration) {
	if o == nil {
		return
	}
	o.attempts.WithLabelValues(result).Inc()
	o.attemptDuration.WithLabelValues(result).Observe(took.Seconds())
}

// BytesUploaded ...
func (o *Observer) BytesUploaded(n int64) {
	if o == nil || n <= 0 {
		return
	}
	o.uploadedBytes.Add(float64(n))
}

// ChunkWritten ...
func (o *Observer) ChunkWritten() {
	if o == nil {
		return
	}
	o.chunks.Inc()
}

// InFlight ...
func (o *Observer) InFlight(delta int) {
	if o == nil {
		return
	}
	o.inFlight.Add(float64(delta))
}
