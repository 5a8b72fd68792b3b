package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// All counters are published as a single metric with an `event` label,
// which keeps the in-process registry trivial while staying scrapeable.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP meet_relay_events_total Internal event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE meet_relay_events_total counter")
		escaper := strings.NewReplacer("\\", "\\\\", "\"", "\\\"")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "meet_relay_events_total{event=\"%s\"} %d\n", escaper.Replace(k), snap[k])
		}
	})
}
