package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics tracks the state machine transitions processed by the node.
type EscrowMetrics struct {
	initialized *prometheus.CounterVec
	redeemed    *prometheus.CounterVec
	reclaimed   *prometheus.CounterVec
	rejected    *prometheus.CounterVec
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			initialized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_initialized_total",
				Help: "Count of escrows created, by asset kind.",
			}, []string{"asset"}),
			redeemed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_redeemed_total",
				Help: "Count of escrows released via the secret path, by asset kind.",
			}, []string{"asset"}),
			reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_reclaimed_total",
				Help: "Count of escrows returned to their sender after expiry, by asset kind.",
			}, []string{"asset"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_rejected_total",
				Help: "Count of rejected escrow transitions, by failure reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			escrowRegistry.initialized,
			escrowRegistry.redeemed,
			escrowRegistry.reclaimed,
			escrowRegistry.rejected,
		)
	})
	return escrowRegistry
}

func (m *EscrowMetrics) ObserveInitialized(asset string) {
	if m == nil || asset == "" {
		return
	}
	m.initialized.WithLabelValues(asset).Inc()
}

func (m *EscrowMetrics) ObserveRedeemed(asset string) {
	if m == nil || asset == "" {
		return
	}
	m.redeemed.WithLabelValues(asset).Inc()
}

func (m *EscrowMetrics) ObserveReclaimed(asset string) {
	if m == nil || asset == "" {
		return
	}
	m.reclaimed.WithLabelValues(asset).Inc()
}

func (m *EscrowMetrics) ObserveRejected(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejected.WithLabelValues(reason).Inc()
}
