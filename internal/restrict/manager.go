// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package restrict implements the Restrict / Fallback Manager: per-
// (capability, transport) restriction timers with reason tags. A transport
// is restricted iff any timer is active; the manager notifies the ANE on
// state changes, per §4.7.
package restrict

import (
	"sync"
	"time"

	"grimm.is/qns/internal/events"
	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/metrics"
	"grimm.is/qns/internal/types"
)

// Reason tags the cause of a restriction timer.
type Reason string

const (
	ReasonWifiBackhaulProblem    Reason = "WIFI_BACKHAUL_PROBLEM"
	ReasonRTPLowQuality          Reason = "RTP_LOW_QUALITY"
	ReasonThrottled              Reason = "THROTTLED"
	ReasonInitialConnectionFail  Reason = "INITIAL_CONNECTION_FAIL"
	ReasonImsUnregisteredFallback Reason = "IMS_UNREGISTERED_FALLBACK"
	// ReasonRTTLowQuality is driven by internal/rtt's pro-bing-backed probe
	// scheduler, wired in internal/registry against each RTTPingRule in the
	// active bundle.
	ReasonRTTLowQuality Reason = "RTT_LOW_QUALITY"
)

type restrictionKey struct {
	slot       feeds.SlotID
	capability types.NetCapability
	transport  types.TransportType
	reason     Reason
}

// Manager owns one restriction timer set per slot.
type Manager struct {
	mu     sync.Mutex
	logger *logging.Logger

	timers map[restrictionKey]*time.Timer

	listeners *events.Registrants[func(slot feeds.SlotID, capability types.NetCapability, transport types.TransportType)]
}

// New constructs a Restrict / Fallback Manager.
func New(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		logger:    logger.WithComponent("restrict"),
		timers:    make(map[restrictionKey]*time.Timer),
		listeners: events.NewRegistrants[func(feeds.SlotID, types.NetCapability, types.TransportType)](),
	}
}

// Subscribe registers a sink invoked whenever a (slot, capability,
// transport) restriction state transitions (becomes restricted or becomes
// unrestricted).
func (m *Manager) Subscribe(sink func(feeds.SlotID, types.NetCapability, types.TransportType)) (unregister func()) {
	m.mu.Lock()
	token := m.listeners.Register(sink)
	m.mu.Unlock()
	return func() { m.listeners.Unregister(token) }
}

// Restrict starts (or replaces) a restriction timer for (slot, capability,
// transport, reason), lasting duration. Replacing an existing timer for
// the same key extends/resets it rather than stacking a second one.
func (m *Manager) Restrict(slot feeds.SlotID, capability types.NetCapability, transport types.TransportType, reason Reason, duration time.Duration) {
	key := restrictionKey{slot: slot, capability: capability, transport: transport, reason: reason}

	m.mu.Lock()
	wasRestricted := m.isRestrictedLocked(slot, capability, transport)
	if old, ok := m.timers[key]; ok {
		old.Stop()
	}
	m.timers[key] = time.AfterFunc(duration, func() { m.expire(key) })
	nowRestricted := m.isRestrictedLocked(slot, capability, transport)
	m.mu.Unlock()

	metrics.RestrictionsActive.WithLabelValues(slotLabel(slot), capability.String(), transport.String(), string(reason)).Set(1)

	if !wasRestricted && nowRestricted {
		m.notify(slot, capability, transport)
	}
}

// Clear cancels a specific restriction timer before it would naturally
// expire, e.g. when the condition that caused it resolves early.
func (m *Manager) Clear(slot feeds.SlotID, capability types.NetCapability, transport types.TransportType, reason Reason) {
	key := restrictionKey{slot: slot, capability: capability, transport: transport, reason: reason}

	m.mu.Lock()
	wasRestricted := m.isRestrictedLocked(slot, capability, transport)
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
	nowRestricted := m.isRestrictedLocked(slot, capability, transport)
	m.mu.Unlock()

	metrics.RestrictionsActive.WithLabelValues(slotLabel(slot), capability.String(), transport.String(), string(reason)).Set(0)

	if wasRestricted && !nowRestricted {
		m.notify(slot, capability, transport)
	}
}

func (m *Manager) expire(key restrictionKey) {
	m.mu.Lock()
	if _, ok := m.timers[key]; !ok {
		m.mu.Unlock()
		return
	}
	wasRestricted := m.isRestrictedLocked(key.slot, key.capability, key.transport)
	delete(m.timers, key)
	nowRestricted := m.isRestrictedLocked(key.slot, key.capability, key.transport)
	m.mu.Unlock()

	metrics.RestrictionsActive.WithLabelValues(slotLabel(key.slot), key.capability.String(), key.transport.String(), string(key.reason)).Set(0)

	if wasRestricted && !nowRestricted {
		m.notify(key.slot, key.capability, key.transport)
	}
}

// IsRestricted reports whether any reason currently restricts (slot,
// capability, transport).
func (m *Manager) IsRestricted(slot feeds.SlotID, capability types.NetCapability, transport types.TransportType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRestrictedLocked(slot, capability, transport)
}

func (m *Manager) isRestrictedLocked(slot feeds.SlotID, capability types.NetCapability, transport types.TransportType) bool {
	for key := range m.timers {
		if key.slot == slot && key.capability == capability && key.transport == transport {
			return true
		}
	}
	return false
}

func (m *Manager) notify(slot feeds.SlotID, capability types.NetCapability, transport types.TransportType) {
	for _, sink := range m.listeners.Snapshot() {
		sink(slot, capability, transport)
	}
}

func slotLabel(slot feeds.SlotID) string {
	switch slot {
	case 0:
		return "0"
	case 1:
		return "1"
	default:
		return "n"
	}
}

// Close cancels every timer owned by the manager, for slot shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
}
