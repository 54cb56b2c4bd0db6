package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics tracks operation outcomes and custody totals for the escrow
// service.
type EscrowMetrics struct {
	opsTotal         *prometheus.CounterVec
	externalFailures prometheus.Counter
	listingsOpen     prometheus.Gauge
	custodyBalance   prometheus.Gauge
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the process-wide escrow metrics, registering them on first
// use.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_operations_total",
				Help: "Count of escrow operations by name and result.",
			}, []string{"op", "result"}),
			externalFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_external_transfer_failures_total",
				Help: "Number of asset registry or payout transfers that failed.",
			}),
			listingsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_listings_open",
				Help: "Number of listings currently active.",
			}),
			custodyBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_custody_balance",
				Help: "Total custodial balance across all listings, in the smallest fund unit.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.opsTotal,
			escrowRegistry.externalFailures,
			escrowRegistry.listingsOpen,
			escrowRegistry.custodyBalance,
		)
	})
	return escrowRegistry
}

// ObserveOp records one operation outcome.
func (m *EscrowMetrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.opsTotal.WithLabelValues(op, result).Inc()
}

// ObserveExternalFailure records a failed registry or payout transfer.
func (m *EscrowMetrics) ObserveExternalFailure() {
	if m == nil {
		return
	}
	m.externalFailures.Inc()
}

// AddOpenListings adjusts the open-listing gauge by delta.
func (m *EscrowMetrics) AddOpenListings(delta float64) {
	if m == nil {
		return
	}
	m.listingsOpen.Add(delta)
}

// SetCustodyBalance publishes the total custodial balance. Precision above
// float64 range is lost in the gauge only; the ledger itself stays exact.
func (m *EscrowMetrics) SetCustodyBalance(total *big.Int) {
	if m == nil || total == nil {
		return
	}
	value, _ := new(big.Float).SetInt(total).Float64()
	m.custodyBalance.Set(value)
}
