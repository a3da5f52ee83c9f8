package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts custody operations by operation and status
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_operations_total",
			Help: "Total number of custody operations",
		},
		[]string{"operation", "status"},
	)

	// TransferAmount tracks the amount of value moved per operation
	TransferAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "custody_transfer_amount",
			Help:    "Amount of value moved by custody operations (display units)",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 100, 1000, 10000},
		},
		[]string{"operation"},
	)

	// SignatureRejections counts rejected delegated signatures by reason
	SignatureRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_signature_rejections_total",
			Help: "Total number of rejected delegated signatures",
		},
		[]string{"reason"},
	)

	// RegisteredResolvers tracks the number of live resolver registrations
	RegisteredResolvers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custody_registered_resolvers",
			Help: "Number of live (identity, resolver) registrations",
		},
	)

	// DepositsTotal counts accepted incoming token deposits
	DepositsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "custody_deposits_total",
			Help: "Total number of accepted incoming deposits",
		},
	)

	// CallbackInvocations counts resolver/relay callback invocations by kind and outcome
	CallbackInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_callback_invocations_total",
			Help: "Total number of external callback invocations",
		},
		[]string{"kind", "outcome"},
	)
)
