// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package qm implements the Cellular and Wifi Quality Monitors: translating
// the evaluator's threshold interest into radio threshold registrations and
// converting threshold-crossing callbacks back into evaluator events, with
// backhaul dwell timers per measurement. Grounded on flywall's
// internal/monitor.Service timer-and-callback shape, generalized from a
// single route-health check into per-(access network, measurement type)
// registration sets.
package qm

import (
	"sync"
	"time"

	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/metrics"
	"grimm.is/qns/internal/types"
)

// registrationKey identifies the radio-level threshold registration a
// measurement type is consolidated into.
type registrationKey struct {
	slot          feeds.SlotID
	accessNetwork types.AccessNetwork
	measurement   types.MeasurementType
}

// interest is one capability's currently-active threshold for a
// registrationKey.
type interest struct {
	capability types.NetCapability
	threshold  types.Threshold
}

// pendingDwell tracks an in-flight backhaul dwell timer for one interest.
type pendingDwell struct {
	timer  *time.Timer
	cancel chan struct{}
}

// Monitor is the shared engine behind both the Cellular and Wifi quality
// monitors: the Wi-Fi-specific capabilities-changed/broadcast-receiver
// plumbing and the Cellular per-measurement-type registration are thin
// wrappers (see wifi.go, cellular.go) around this common threshold-union
// and dwell-timer machinery.
type Monitor struct {
	mu     sync.Mutex
	logger *logging.Logger
	radio  string // metrics label: "cellular" or "wifi"

	// interests maps a registration key to the set of capability
	// registrations currently wanting it.
	interests map[registrationKey]map[types.NetCapability]types.Threshold
	samples   map[registrationKey]types.Measurement
	dwell     map[registrationKey]map[types.NetCapability]*pendingDwell

	onMatch func(slot feeds.SlotID, capability types.NetCapability, accessNetwork types.AccessNetwork, measurement types.MeasurementType, sample types.Measurement)

	// radioRegister/radioUnregister model the platform threshold-registration
	// calls; tests substitute fakes, production wiring substitutes the
	// actual radio-registration feed.
	radioRegister   func(key registrationKey, tightest types.Threshold)
	radioUnregister func(key registrationKey)
}

// New constructs a Monitor. onMatch is invoked (never while holding the
// monitor's lock) whenever a registered interest's threshold currently
// matches, after any configured dwell has elapsed.
func New(radio string, logger *logging.Logger, onMatch func(feeds.SlotID, types.NetCapability, types.AccessNetwork, types.MeasurementType, types.Measurement)) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	m := &Monitor{
		logger:    logger.WithComponent("qm-" + radio),
		radio:     radio,
		interests: make(map[registrationKey]map[types.NetCapability]types.Threshold),
		samples:   make(map[registrationKey]types.Measurement),
		dwell:     make(map[registrationKey]map[types.NetCapability]*pendingDwell),
		onMatch:   onMatch,
	}
	m.radioRegister = func(registrationKey, types.Threshold) {}
	m.radioUnregister = func(registrationKey) {}
	return m
}

// SetRadioHooks overrides the radio registration calls, for production
// wiring or tests that want to observe them.
func (m *Monitor) SetRadioHooks(register func(registrationKey, types.Threshold), unregister func(registrationKey)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if register != nil {
		m.radioRegister = register
	}
	if unregister != nil {
		m.radioUnregister = unregister
	}
}

// UpdateThresholds replaces, atomically, the full set of thresholds a
// capability is interested in for slot. Invariant (i): a capability's prior
// registration is entirely replaced, never merged with itself.
func (m *Monitor) UpdateThresholds(slot feeds.SlotID, capability types.NetCapability, thresholds []types.Threshold) {
	m.mu.Lock()

	// Drop this capability's prior interest from every key it touched.
	for key, byCap := range m.interests {
		if key.slot != slot {
			continue
		}
		if _, ok := byCap[capability]; ok {
			delete(byCap, capability)
			m.cancelDwellLocked(key, capability)
			m.reconcileKeyLocked(key)
		}
	}

	for _, th := range thresholds {
		key := registrationKey{slot: slot, accessNetwork: th.AccessNetwork, measurement: th.Measurement}
		byCap, ok := m.interests[key]
		if !ok {
			byCap = make(map[types.NetCapability]types.Threshold)
			m.interests[key] = byCap
		}
		byCap[capability] = th
		m.reconcileKeyLocked(key)
		metrics.ThresholdRegistrations.WithLabelValues(m.radio, th.Measurement.String()).Inc()
	}

	// Re-evaluate matches against the last known sample for every touched key.
	touched := make([]registrationKey, 0, len(thresholds))
	for _, th := range thresholds {
		touched = append(touched, registrationKey{slot: slot, accessNetwork: th.AccessNetwork, measurement: th.Measurement})
	}
	m.mu.Unlock()

	for _, key := range touched {
		m.mu.Lock()
		sample, have := m.samples[key]
		m.mu.Unlock()
		if have {
			m.onSampleLocked(key, sample)
		}
	}
}

// reconcileKeyLocked registers the tightest threshold across all interested
// capabilities for key with the radio, per invariant (ii): rove-in (>=)
// registers the minimum value (easiest to satisfy first, i.e. loosest bound
// triggers earliest, so the radio is asked for the lowest threshold that
// still covers every capability's tighter requirement); rove-out (<=)
// registers the maximum. If no capability is interested, unregisters.
func (m *Monitor) reconcileKeyLocked(key registrationKey) {
	byCap := m.interests[key]
	if len(byCap) == 0 {
		delete(m.interests, key)
		m.radioUnregister(key)
		return
	}

	var tightest types.Threshold
	first := true
	for _, th := range byCap {
		if first {
			tightest = th
			first = false
			continue
		}
		switch th.Match {
		case types.MatchGreaterEqual:
			if th.Value < tightest.Value {
				tightest = th
			}
		case types.MatchLessEqual:
			if th.Value > tightest.Value {
				tightest = th
			}
		}
	}
	m.radioRegister(key, tightest)
}

// OnSample delivers a new measurement sample for (slot, accessNetwork,
// measurement) and evaluates it against every registered interest,
// notifying only those capabilities whose threshold currently matches, per
// invariant (iii).
func (m *Monitor) OnSample(slot feeds.SlotID, accessNetwork types.AccessNetwork, measurement types.MeasurementType, sample types.Measurement) {
	key := registrationKey{slot: slot, accessNetwork: accessNetwork, measurement: measurement}
	m.mu.Lock()
	m.samples[key] = sample
	m.mu.Unlock()
	m.onSampleLocked(key, sample)
}

func (m *Monitor) onSampleLocked(key registrationKey, sample types.Measurement) {
	m.mu.Lock()
	byCap := m.interests[key]
	type fire struct {
		capability types.NetCapability
	}
	var toFireNow []fire
	var toSchedule []struct {
		capability types.NetCapability
		wait       time.Duration
	}
	var toCancel []types.NetCapability

	for cap, th := range byCap {
		matches := th.Matches(sample)
		_, dwelling := m.dwell[key][cap]
		switch {
		case matches && th.WaitTime <= 0:
			toFireNow = append(toFireNow, fire{cap})
		case matches && th.WaitTime > 0 && !dwelling:
			toSchedule = append(toSchedule, struct {
				capability types.NetCapability
				wait       time.Duration
			}{cap, th.WaitTime})
		case !matches && dwelling:
			toCancel = append(toCancel, cap)
		}
	}
	for _, c := range toCancel {
		m.cancelDwellLocked(key, c)
	}
	for _, s := range toSchedule {
		m.scheduleDwellLocked(key, s.capability, s.wait, sample)
	}
	m.mu.Unlock()

	for _, f := range toFireNow {
		m.fire(key, f.capability, sample)
	}
}

// scheduleDwellLocked starts the backhaul dwell timer for (key, capability).
// Must be called with m.mu held. sample is the measurement that started
// the dwell; if it fires it is reported as-is (the signal is required to
// have continuously matched, so a fresher sample would match identically).
func (m *Monitor) scheduleDwellLocked(key registrationKey, capability types.NetCapability, wait time.Duration, sample types.Measurement) {
	if _, ok := m.dwell[key]; !ok {
		m.dwell[key] = make(map[types.NetCapability]*pendingDwell)
	}
	cancel := make(chan struct{})
	t := time.AfterFunc(wait, func() {
		select {
		case <-cancel:
			return
		default:
		}
		m.mu.Lock()
		delete(m.dwell[key], capability)
		m.mu.Unlock()
		m.fire(key, capability, sample)
	})
	m.dwell[key][capability] = &pendingDwell{timer: t, cancel: cancel}
}

// cancelDwellLocked cancels any in-flight dwell timer for (key, capability).
// Must be called with m.mu held.
func (m *Monitor) cancelDwellLocked(key registrationKey, capability types.NetCapability) {
	byCap, ok := m.dwell[key]
	if !ok {
		return
	}
	p, ok := byCap[capability]
	if !ok {
		return
	}
	close(p.cancel)
	p.timer.Stop()
	delete(byCap, capability)
}

func (m *Monitor) fire(key registrationKey, capability types.NetCapability, sample types.Measurement) {
	if m.onMatch != nil {
		m.onMatch(key.slot, capability, key.accessNetwork, key.measurement, sample)
	}
}

// Close cancels every in-flight dwell timer, for slot shutdown.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, byCap := range m.dwell {
		for cap := range byCap {
			m.cancelDwellLocked(key, cap)
		}
	}
}
