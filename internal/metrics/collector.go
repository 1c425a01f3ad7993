package metrics

import (
	"sort"
	"sync"
	"time"
)

// Collector aggregates counters for events handled by the reactor and for
// on-demand rebalances.
type Collector struct {
	mu        sync.RWMutex
	enabled   bool
	started   time.Time
	events    map[string]*EventMetrics
	rebalance RebalanceMetrics
}

// EventMetrics captures counters for one event kind.
type EventMetrics struct {
	Kind         string    `json:"kind" yaml:"kind"`
	Received     uint64    `json:"received" yaml:"received"`
	Acted        uint64    `json:"acted" yaml:"acted"`
	Ignored      uint64    `json:"ignored" yaml:"ignored"`
	ActionErrors uint64    `json:"actionErrors" yaml:"actionErrors"`
	LastReceived time.Time `json:"lastReceived,omitempty" yaml:"lastReceived,omitempty"`
	LastActed    time.Time `json:"lastActed,omitempty" yaml:"lastActed,omitempty"`
	LastErrored  time.Time `json:"lastErrored,omitempty" yaml:"lastErrored,omitempty"`
}

// RebalanceMetrics counts master/slave rebalance requests.
type RebalanceMetrics struct {
	Succeeded uint64    `json:"succeeded" yaml:"succeeded"`
	Failed    uint64    `json:"failed" yaml:"failed"`
	LastError string    `json:"lastError,omitempty" yaml:"lastError,omitempty"`
	Last      time.Time `json:"last,omitempty" yaml:"last,omitempty"`
}

// Totals aggregates counters across all event kinds in a snapshot.
type Totals struct {
	Received     uint64 `json:"received" yaml:"received"`
	Acted        uint64 `json:"acted" yaml:"acted"`
	Ignored      uint64 `json:"ignored" yaml:"ignored"`
	ActionErrors uint64 `json:"actionErrors" yaml:"actionErrors"`
}

// Snapshot is the serializable view of the current metrics state.
type Snapshot struct {
	Enabled   bool             `json:"enabled" yaml:"enabled"`
	Started   time.Time        `json:"started,omitempty" yaml:"started,omitempty"`
	Totals    Totals           `json:"totals" yaml:"totals"`
	Events    []EventMetrics   `json:"events,omitempty" yaml:"events,omitempty"`
	Rebalance RebalanceMetrics `json:"rebalance" yaml:"rebalance"`
}

// NewCollector returns a collector with the provided opt-in state.
func NewCollector(enabled bool) *Collector {
	c := &Collector{}
	c.SetEnabled(enabled)
	return c
}

// Enabled reports whether collection is currently active.
func (c *Collector) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled toggles collection, resetting counters when enabling.
func (c *Collector) SetEnabled(enabled bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	c.rebalance = RebalanceMetrics{}
	if !enabled {
		c.events = nil
		c.started = time.Time{}
		return
	}
	c.started = time.Now()
	c.events = make(map[string]*EventMetrics)
}

// RecordReceived counts an event read from the stream.
func (c *Collector) RecordReceived(kind string) {
	c.updateEvent(kind, func(m *EventMetrics, now time.Time) {
		m.Received++
		m.LastReceived = now
	})
}

// RecordActed counts an event whose policy issued at least one action.
func (c *Collector) RecordActed(kind string) {
	c.updateEvent(kind, func(m *EventMetrics, now time.Time) {
		m.Acted++
		m.LastActed = now
	})
}

// RecordIgnored counts an event that produced no action.
func (c *Collector) RecordIgnored(kind string) {
	c.updateEvent(kind, func(m *EventMetrics, _ time.Time) {
		m.Ignored++
	})
}

// RecordActionError counts a failed query or action while handling an event.
func (c *Collector) RecordActionError(kind string) {
	c.updateEvent(kind, func(m *EventMetrics, now time.Time) {
		m.ActionErrors++
		m.LastErrored = now
	})
}

// RecordRebalance counts one on-demand rebalance and its outcome.
func (c *Collector) RecordRebalance(err error) {
	if c == nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.rebalance.Last = now
	if err != nil {
		c.rebalance.Failed++
		c.rebalance.LastError = err.Error()
		return
	}
	c.rebalance.Succeeded++
}

func (c *Collector) updateEvent(kind string, mutate func(*EventMetrics, time.Time)) {
	if c == nil || mutate == nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if c.events == nil {
		c.events = make(map[string]*EventMetrics)
	}
	m, exists := c.events[kind]
	if !exists {
		m = &EventMetrics{Kind: kind}
		c.events[kind] = m
	}
	mutate(m, now)
}

// Snapshot returns the current counters for serialization or display.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Enabled: c.enabled}
	if !c.enabled {
		return snap
	}
	snap.Started = c.started
	snap.Rebalance = c.rebalance
	if len(c.events) == 0 {
		return snap
	}
	snap.Events = make([]EventMetrics, 0, len(c.events))
	for _, m := range c.events {
		if m == nil {
			continue
		}
		clone := *m
		snap.Events = append(snap.Events, clone)
		snap.Totals.Received += clone.Received
		snap.Totals.Acted += clone.Acted
		snap.Totals.Ignored += clone.Ignored
		snap.Totals.ActionErrors += clone.ActionErrors
	}
	sort.Slice(snap.Events, func(i, j int) bool {
		return snap.Events[i].Kind < snap.Events[j].Kind
	})
	return snap
}
