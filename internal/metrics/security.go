package metrics

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// SecurityMetrics exposes Prometheus collectors for the authentication-security engine.
// A nil *SecurityMetrics is valid and records nothing.
type SecurityMetrics struct {
	Lockouts            *prometheus.CounterVec
	AdaptiveActivations prometheus.Counter
	SessionsCreated     prometheus.Counter
	SessionsEvicted     prometheus.Counter
	SessionsRejected    *prometheus.CounterVec
	SweepRemoved        *prometheus.CounterVec
}

// Options configures the security metrics.
type Options struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// NewSecurityMetrics constructs the collectors and registers them with the provided registerer.
// Collectors that are already registered are reused.
func NewSecurityMetrics(opts Options) (*SecurityMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "authcore"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	lockouts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "lockouts_total",
		Help:      "Lockouts triggered, partitioned by lockout level.",
	}, []string{"level"}))
	if err != nil {
		return nil, err
	}

	adaptive, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "adaptive_activations_total",
		Help:      "Source addresses switched into adaptive throttling mode.",
	}))
	if err != nil {
		return nil, err
	}

	created, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "created_total",
		Help:      "Sessions created.",
	}))
	if err != nil {
		return nil, err
	}

	evicted, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "evicted_total",
		Help:      "Sessions evicted to enforce the per-user concurrency cap.",
	}))
	if err != nil {
		return nil, err
	}

	rejected, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "rejected_total",
		Help:      "Session validations denied, partitioned by reason.",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}

	sweep, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeps",
		Name:      "removed_total",
		Help:      "Entries removed by periodic sweeps, partitioned by sweep.",
	}, []string{"sweep"}))
	if err != nil {
		return nil, err
	}

	return &SecurityMetrics{
		Lockouts:            lockouts,
		AdaptiveActivations: adaptive,
		SessionsCreated:     created,
		SessionsEvicted:     evicted,
		SessionsRejected:    rejected,
		SweepRemoved:        sweep,
	}, nil
}

// LockoutTriggered records a lockout at the given level.
func (m *SecurityMetrics) LockoutTriggered(level int) {
	if m == nil {
		return
	}
	m.Lockouts.WithLabelValues(strconv.Itoa(level)).Inc()
}

// AdaptiveModeEntered records a source entering adaptive mode.
func (m *SecurityMetrics) AdaptiveModeEntered() {
	if m == nil {
		return
	}
	m.AdaptiveActivations.Inc()
}

// SessionCreated records a new session.
func (m *SecurityMetrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// SessionEvicted records a cap eviction.
func (m *SecurityMetrics) SessionEvicted() {
	if m == nil {
		return
	}
	m.SessionsEvicted.Inc()
}

// SessionRejected records a denied validation.
func (m *SecurityMetrics) SessionRejected(reason string) {
	if m == nil {
		return
	}
	m.SessionsRejected.WithLabelValues(reason).Inc()
}

// Swept records entries removed by a sweep.
func (m *SecurityMetrics) Swept(sweep string, removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.SweepRemoved.WithLabelValues(sweep).Add(float64(removed))
}

// RegisterSizeGauge exposes size as a gauge sampled on every scrape. An
// already registered gauge with the same name is left in place.
func RegisterSizeGauge(reg prometheus.Registerer, namespace, subsystem, name, help string, size func() int) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "authcore"
	}

	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(size()) })

	if err := reg.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return fmt.Errorf("register gauge %s: %w", name, err)
	}
	return nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return nil, fmt.Errorf("register counter: %w", err)
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return nil, fmt.Errorf("register counter vec: %w", err)
	}
	return c, nil
}
