package hub

import "fmt"

// renderMetrics hand-renders the Prometheus text exposition format for
// the counters/gauges /stats already aggregates. spec.md §1 scopes
// "Prometheus text rendering" out of the core ("the core exposes the
// counter/gauge values"); no Prometheus client library is wired here
// because rendering this handful of gauges is exactly the sliver spec.md
// draws the core/surface boundary around, not a gap in the dependency
// surface.
func renderMetrics(stats Stats) string {
	out := ""
	out += metricLine("pulsehub_connections", float64(stats.Connections))
	out += metricLine("pulsehub_channels", float64(stats.Channels))
	out += metricLine("pulsehub_uptime_seconds", stats.UptimeSec)
	for name, state := range stats.Breakers {
		out += fmt.Sprintf("pulsehub_breaker_state{name=%q,state=%q} 1\n", name, state)
	}
	return out
}

func metricLine(name string, value float64) string {
	return fmt.Sprintf("%s %g\n", name, value)
}
