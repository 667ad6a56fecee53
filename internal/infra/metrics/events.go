package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(eventsPublished) }

var eventsPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Domain events handed to the broker, by result (ok/error/dropped).",
	},
	[]string{"result"},
)

func IncEventPublished(result string) {
	eventsPublished.WithLabelValues(norm(result)).Inc()
}
