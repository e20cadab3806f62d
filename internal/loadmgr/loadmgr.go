// Package loadmgr implements the load manager (spec.md §4.H): admission
// thresholds over connection/channel counts plus advisory backpressure
// queried from the transport's buffered-bytes capability.
package loadmgr

import "sync/atomic"

// Thresholds mirrors config.LoadManagement.
type Thresholds struct {
	MaxConnections        int64
	MaxGlobalChannels     int64
	MaxSubscriptionsPerSocket int
	AdmissionPercent      float64 // default 90
	BackpressureThreshold int     // bytes
}

// Manager tracks live counts against Thresholds.
type Manager struct {
	thresholds Thresholds

	connections atomic.Int64
	channels    atomic.Int64
}

// New constructs a Manager. A zero AdmissionPercent defaults to 90.
func New(t Thresholds) *Manager {
	if t.AdmissionPercent <= 0 {
		t.AdmissionPercent = 90
	}
	return &Manager{thresholds: t}
}

// IncConnections/DecConnections track live connection count; the
// orchestrator calls these on connect/disconnect.
func (m *Manager) IncConnections() { m.connections.Add(1) }
func (m *Manager) DecConnections() { m.connections.Add(-1) }

// IncChannels/DecChannels move the channel counter AtCapacity compares
// with MaxGlobalChannels. The orchestrator calls them once per socket
// subscription, so the counter holds (connection, channel) pairs.
func (m *Manager) IncChannels() { m.channels.Add(1) }
func (m *Manager) DecChannels() { m.channels.Add(-1) }

func ratio(n, max int64) float64 {
	if max <= 0 {
		return 0
	}
	return float64(n) / float64(max)
}

// AtCapacity reports whether connections or channels have crossed the
// admission threshold (spec.md §4.H: "connections/maxConnections ≥
// threshold or channels/maxGlobalChannels ≥ threshold").
func (m *Manager) AtCapacity() bool {
	threshold := m.thresholds.AdmissionPercent / 100
	if ratio(m.connections.Load(), m.thresholds.MaxConnections) >= threshold {
		return true
	}
	if ratio(m.channels.Load(), m.thresholds.MaxGlobalChannels) >= threshold {
		return true
	}
	return false
}

// SubscriptionCapExceeded reports whether currentCount (the socket's
// current subscription count) has reached the per-socket cap,
// independent of the global admission check.
func (m *Manager) SubscriptionCapExceeded(currentCount int) bool {
	if m.thresholds.MaxSubscriptionsPerSocket <= 0 {
		return false
	}
	return currentCount >= m.thresholds.MaxSubscriptionsPerSocket
}

// BufferedSender is the capability backpressure queries need from a
// transport connection.
type BufferedSender interface {
	BufferedBytes() int
}

// ShouldShed reports whether a non-critical frame to conn should be
// dropped because its outbound buffer is over the backpressure
// threshold (advisory only, per spec.md §4.H).
func (m *Manager) ShouldShed(conn BufferedSender) bool {
	if m.thresholds.BackpressureThreshold <= 0 {
		return false
	}
	return conn.BufferedBytes() > m.thresholds.BackpressureThreshold
}

// Stats is a snapshot for /stats.
type Stats struct {
	Connections int64
	Channels    int64
	AtCapacity  bool
}

// Snapshot returns the current counters, for the orchestrator's /stats
// endpoint.
func (m *Manager) Snapshot() Stats {
	return Stats{
		Connections: m.connections.Load(),
		Channels:    m.channels.Load(),
		AtCapacity:  m.AtCapacity(),
	}
}
