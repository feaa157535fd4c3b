package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(operatorRequestsTotal) }

var operatorRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "operator_requests_total",
		Help: "Tracks attempts to use operator endpoints.",
	},
	[]string{"endpoint", "status"}, // status: 'authorized', 'unauthorized'
)

func IncOperatorRequest(endpoint, status string) {
	operatorRequestsTotal.WithLabelValues(norm(endpoint), norm(status)).Inc()
}
