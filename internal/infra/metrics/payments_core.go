package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		purchasesTotal,
		paymentsRevenueTotal,
		roleUpgradesTotal,
	)
}

var (
	purchasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Purchase transitions by status (pending/paid/failed/canceled).",
		},
		[]string{"status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_revenue_total",
			Help:      "Settled payment value in minor units, labeled by currency.",
		},
		[]string{"currency"},
	)

	roleUpgradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_upgrades_total",
			Help:      "Role upgrades applied on settlement, by resulting role.",
		},
		[]string{"role"},
	)
)

func IncPurchase(status string) {
	purchasesTotal.WithLabelValues(norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncRoleUpgrade(role string) {
	roleUpgradesTotal.WithLabelValues(norm(role)).Inc()
}
