package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// namespace prefixes every series exported by this service.
const namespace = "gym"

var (
	registerOnce sync.Once
	pending      []prometheus.Collector
)

// register queues collectors from each file's init until MustRegister runs.
func register(cs ...prometheus.Collector) {
	pending = append(pending, cs...)
}

// MustRegister hands the queued collectors to the default registry. Later calls are no-ops.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(pending...)
	})
}

// norm keeps label values stable regardless of caller casing.
func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
