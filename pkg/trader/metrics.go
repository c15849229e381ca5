package trader

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_cycles_total",
			Help: "Decision cycles run, by result",
		},
		[]string{"result"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Order submissions, by side and outcome",
		},
		[]string{"side", "outcome"},
	)

	mtxGates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_gate_rejections_total",
			Help: "Buy attempts stopped at a gate, by gate",
		},
		[]string{"gate"},
	)

	mtxCancels = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_timeout_cancellations_total",
			Help: "Stale buy orders cancelled by the timeout scan",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxCycles, mtxOrders, mtxGates, mtxCancels)
}
