package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		activationsTotal,
		demotionsTotal,
		storeErrorsTotal,
		codesIssuedTotal,
		licenseRemainingDays,
		licenseState,
	)
}

var (
	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_attempts_total",
			Help: "Activation attempts by result (success/invalid_code/admin_exists/error).",
		},
		[]string{"result"},
	)

	demotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "license_demotions_total",
			Help: "Total number of administrators demoted after trial expiry.",
		},
	)

	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Store write failures that happened after validation passed.",
		},
		[]string{"store", "op"},
	)

	codesIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_codes_issued_total",
			Help: "Activation codes created, labeled by type.",
		},
		[]string{"type"},
	)

	licenseState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "license_state",
			Help: "1 for the current license state, 0 for the others.",
		},
		[]string{"state"},
	)

	licenseRemainingDays = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "license_remaining_days",
			Help: "Whole days left on the current trial license; -1 when permanent, 0 when none or expired.",
		},
	)
)

func IncActivation(result string) {
	activationsTotal.WithLabelValues(norm(result)).Inc()
}

func IncDemotion() {
	demotionsTotal.Inc()
}

func IncStoreError(store, op string) {
	storeErrorsTotal.WithLabelValues(norm(store), norm(op)).Inc()
}

func IncCodesIssued(typ string, n int) {
	codesIssuedTotal.WithLabelValues(norm(typ)).Add(float64(n))
}

func SetLicenseRemainingDays(days int) {
	licenseRemainingDays.Set(float64(days))
}

var licenseStates = []string{"no_admin", "trial_admin", "permanent_admin", "expired_trial"}

func SetLicenseState(state string) {
	state = norm(state)
	for _, st := range licenseStates {
		v := 0.0
		if st == state {
			v = 1
		}
		licenseState.WithLabelValues(st).Set(v)
	}
}
