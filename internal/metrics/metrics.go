// Package metrics exports detector activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"
)

const namespace = "spoofwatch"

// Recorder implements spoofwatch.Recorder over its own registry.
type Recorder struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	replies    *prometheus.CounterVec
	probes     *prometheus.CounterVec
	confidence prometheus.Gauge
}

// New returns a Recorder with every metric registered, plus the Go runtime
// and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_sent_total",
				Help:      "Name-service queries sent.",
			},
			[]string{"protocol"},
		),
		replies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replies_total",
				Help:      "Name-service replies received, by outcome.",
			},
			[]string{"protocol", "outcome"},
		),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "WPAD and SMB probes run, by outcome.",
			},
			[]string{"probe", "outcome"},
		),
		confidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "confidence_level",
			Help:      "Highest spoofing confidence observed (0 FalsePositive to 4 Certain).",
		}),
	}
	r.registry.MustRegister(
		r.requests, r.replies, r.probes, r.confidence,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func outcome(res detection.Result) string {
	if res.Detected {
		return "detected"
	}
	return "rejected"
}

// RequestSent implements spoofwatch.Recorder.
func (r *Recorder) RequestSent(p detection.Protocol) {
	r.requests.WithLabelValues(p.String()).Inc()
}

// Reply implements spoofwatch.Recorder.
func (r *Recorder) Reply(p detection.Protocol, res detection.Result) {
	r.replies.WithLabelValues(p.String(), outcome(res)).Inc()
}

// Probe implements spoofwatch.Recorder.
func (r *Recorder) Probe(res detection.Result) {
	r.probes.WithLabelValues(res.Protocol.String(), outcome(res)).Inc()
}

// Confidence implements spoofwatch.Recorder.
func (r *Recorder) Confidence(c detection.Confidence) {
	r.confidence.Set(float64(c))
}

// Registry returns the registry the metrics are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (r *Recorder) ServeListener(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var _ spoofwatch.Recorder = (*Recorder)(nil)
