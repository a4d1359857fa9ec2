package pool

import (
	"sync"
	"time"
)

// InteractionMonitor tracks a stream of external interaction events (e.g.
// user-visible filesystem activity competing for disk bandwidth) over a
// sliding window and reports whether the pool should back off (spec §4.3
// "interaction_threshold_events_per_sec", "interaction_window_seconds",
// "back_off_duration_seconds"). Disabled monitors (BackOffEnabled=false)
// never report back-off.
type InteractionMonitor struct {
	enabled   bool
	threshold float64
	window    time.Duration

	mu     sync.Mutex
	events []time.Time
}

// NewInteractionMonitor builds a monitor. If enabled is false, ShouldBackOff
// always returns false and RecordInteraction is a no-op.
func NewInteractionMonitor(enabled bool, thresholdEventsPerSec float64, window time.Duration) *InteractionMonitor {
	return &InteractionMonitor{enabled: enabled, threshold: thresholdEventsPerSec, window: window}
}

// RecordInteraction registers one interaction event at the current time.
func (m *InteractionMonitor) RecordInteraction(now time.Time) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, now)
	m.prune(now)
}

// ShouldBackOff reports whether the observed event rate over the trailing
// window exceeds the configured threshold.
func (m *InteractionMonitor) ShouldBackOff() bool {
	if !m.enabled {
		return false
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(now)
	if m.window <= 0 {
		return false
	}
	rate := float64(len(m.events)) / m.window.Seconds()
	return rate > m.threshold
}

// prune drops events older than the window. Caller must hold m.mu.
func (m *InteractionMonitor) prune(now time.Time) {
	cutoff := now.Add(-m.window)
	i := 0
	for i < len(m.events) && m.events[i].Before(cutoff) {
		i++
	}
	m.events = m.events[i:]
}
