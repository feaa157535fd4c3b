package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(buildInfo)
}

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A constant metric with labels for version, commit hash and storage driver.",
	},
	[]string{"version", "commit", "storage"},
)

func SetBuildInfo(version, commit, storage string) {
	buildInfo.WithLabelValues(version, commit, norm(storage)).Set(1)
}
