// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ane

import (
	"sync"
	"time"

	"grimm.is/qns/internal/ccm"
	"grimm.is/qns/internal/events"
	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/metrics"
	"grimm.is/qns/internal/qm"
	"grimm.is/qns/internal/types"
)

// capabilityState is the guarding/emission state the stateful Evaluator
// tracks per capability, in addition to the shared tracker inputs.
type capabilityState struct {
	lastOutput     types.QualifiedNetworksInfo
	hasEmitted     bool
	currentAN      types.AccessNetwork
	guard          types.GuardState
	guardTimer     *time.Timer
	registrants    *events.Registrants[func(types.QualifiedNetworksInfo)]
}

// Evaluator is the stateful, event-loop-driven Access Network Evaluator
// for one slot. All mutation happens on its Loop; external callers only
// post events and read via Subscribe callbacks.
type Evaluator struct {
	slot   feeds.SlotID
	loop   *events.Loop
	logger *logging.Logger

	mu     sync.Mutex
	bundle *ccm.Bundle

	cellMonitor *qm.CellularMonitor
	wifiMonitor *qm.WifiMonitor

	callType  types.CallType
	coverage  types.Coverage
	roaming   bool

	cellularAvailable    bool
	vopsSupported        bool
	servingAccessNetwork types.AccessNetwork
	airplaneMode         bool
	isInternational      bool

	iwlanAvailable bool
	isCrossWfc     bool
	wfcEnabled     bool
	wfcMode        types.WfcMode

	wlanRestricted map[types.NetCapability]bool
	wwanRestricted map[types.NetCapability]bool

	samples Samples

	states map[types.NetCapability]*capabilityState
}

// New constructs an Evaluator for a slot, wired to the slot's quality
// monitors. bundle may be nil initially; call SetBundle once CCM has
// loaded.
func New(slot feeds.SlotID, logger *logging.Logger, cellMonitor *qm.CellularMonitor, wifiMonitor *qm.WifiMonitor) *Evaluator {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Evaluator{
		slot:           slot,
		loop:           events.NewLoop(32),
		logger:         logger.WithComponent("ane"),
		cellMonitor:    cellMonitor,
		wifiMonitor:    wifiMonitor,
		wlanRestricted: make(map[types.NetCapability]bool),
		wwanRestricted: make(map[types.NetCapability]bool),
		samples:        make(Samples),
		states:         make(map[types.NetCapability]*capabilityState),
	}
	e.loop.Start()
	return e
}

// Close tears down the evaluator's loop and cancels any running guard
// timers.
func (e *Evaluator) Close() {
	e.loop.PostAndWait(func() {
		for _, st := range e.states {
			if st.guardTimer != nil {
				st.guardTimer.Stop()
			}
		}
	})
	e.loop.Close()
}

func (e *Evaluator) stateFor(cap types.NetCapability) *capabilityState {
	st, ok := e.states[cap]
	if !ok {
		st = &capabilityState{
			currentAN:   types.AccessNetworkUnknown,
			guard:       types.GuardNone,
			registrants: events.NewRegistrants[func(types.QualifiedNetworksInfo)](),
		}
		e.states[cap] = st
	}
	return st
}

// Subscribe registers a sink for a capability's qualified-network
// decisions, delivering the current value synchronously if one exists.
func (e *Evaluator) Subscribe(cap types.NetCapability, sink func(types.QualifiedNetworksInfo)) (unregister func()) {
	var token func()
	e.loop.PostAndWait(func() {
		st := e.stateFor(cap)
		id := st.registrants.Register(sink)
		last := st.lastOutput
		hasEmitted := st.hasEmitted
		token = func() { st.registrants.Unregister(id) }
		if hasEmitted {
			sink(last)
		}
	})
	return token
}

// SetBundle installs a new carrier-config bundle and re-evaluates every
// tracked capability, per the reload contract.
func (e *Evaluator) SetBundle(b *ccm.Bundle) {
	e.loop.Post(func() {
		e.bundle = b
		e.reevaluateAll()
	})
}

// SetCallType updates the current call type (from CST) and re-evaluates.
func (e *Evaluator) SetCallType(ct types.CallType) {
	e.loop.Post(func() {
		e.callType = ct
		e.reevaluateAll()
	})
}

// SetCellularState updates the filtered telephony view (from
// internal/celltracker) and re-evaluates.
func (e *Evaluator) SetCellularState(available bool, coverage types.Coverage, vops bool, servingAN types.AccessNetwork, roaming bool, airplaneMode bool, isInternational bool) {
	e.loop.Post(func() {
		e.cellularAvailable = available
		e.coverage = coverage
		e.vopsSupported = vops
		e.servingAccessNetwork = servingAN
		e.roaming = roaming
		e.airplaneMode = airplaneMode
		e.isInternational = isInternational
		e.reevaluateAll()
	})
}

// SetIwlanAvailability updates INST's per-slot IwlanAvailabilityInfo and
// re-evaluates.
func (e *Evaluator) SetIwlanAvailability(info types.IwlanAvailabilityInfo) {
	e.loop.Post(func() {
		wasAvailable := e.iwlanAvailable
		e.iwlanAvailable = info.Available
		e.isCrossWfc = info.IsCrossWfc
		e.reevaluateAllWithNotify(wasAvailable && !info.Available && info.IsNotifyIwlanDisabled)
	})
}

// SetWfcEnabled updates the IMS Manager's derived Wi-Fi Calling
// enablement (platform, device, carrier and user settings folded
// together) and re-evaluates. It only affects IMS/EIMS candidates.
func (e *Evaluator) SetWfcEnabled(enabled bool) {
	e.loop.Post(func() {
		e.wfcEnabled = enabled
		e.reevaluateAll()
	})
}

// SetWfcMode updates the IMS Manager's resolved Wi-Fi Calling mode (§4.6's
// get_wfc_mode result for the current roaming state) and re-evaluates. It
// only affects the IMS/EIMS preference-mode resolution.
func (e *Evaluator) SetWfcMode(mode types.WfcMode) {
	e.loop.Post(func() {
		e.wfcMode = mode
		e.reevaluateAll()
	})
}

// SetRestriction updates whether a transport is currently restricted for a
// capability (from the Restrict/Fallback Manager) and re-evaluates.
func (e *Evaluator) SetRestriction(cap types.NetCapability, transport types.TransportType, restricted bool) {
	e.loop.Post(func() {
		m := e.wwanRestricted
		if transport == types.TransportWLAN {
			m = e.wlanRestricted
		}
		m[cap] = restricted
		e.reevaluateCapability(cap, false)
	})
}

// OnMeasurement delivers a debounced threshold-crossing sample from a
// quality monitor and re-evaluates every capability (cheap: the evaluation
// itself is a pure function over small candidate sets).
func (e *Evaluator) OnMeasurement(accessNetwork types.AccessNetwork, measurement types.MeasurementType, sample types.Measurement) {
	e.loop.Post(func() {
		if e.samples[accessNetwork] == nil {
			e.samples[accessNetwork] = make(map[types.MeasurementType]types.Measurement)
		}
		e.samples[accessNetwork][measurement] = sample
		e.reevaluateAll()
	})
}

func (e *Evaluator) reevaluateAll() { e.reevaluateAllWithNotify(false) }

func (e *Evaluator) reevaluateAllWithNotify(forceNotifyDisabled bool) {
	for cap := range e.states {
		e.reevaluateCapability(cap, forceNotifyDisabled)
	}
	// Also evaluate capabilities that have never been subscribed to yet but
	// the bundle declares policy for, so the first subscriber gets an
	// immediately-correct value rather than an empty placeholder.
	if e.bundle != nil {
		seen := make(map[types.NetCapability]bool, len(e.states))
		for cap := range e.states {
			seen[cap] = true
		}
		for _, p := range e.bundle.Policies {
			if !seen[p.Capability] {
				seen[p.Capability] = true
				e.reevaluateCapability(p.Capability, forceNotifyDisabled)
			}
		}
	}
}

func (e *Evaluator) reevaluateCapability(cap types.NetCapability, forceNotifyDisabled bool) {
	st := e.stateFor(cap)

	in := Input{
		Capability:           cap,
		Bundle:                e.bundle,
		CallType:              e.callType,
		Coverage:              e.coverage,
		Guard:                 st.guard,
		CellularAvailable:     e.cellularAvailable,
		VopsSupported:         e.vopsSupported,
		ServingAccessNetwork:  e.servingAccessNetwork,
		IwlanAvailable:        e.iwlanAvailable,
		IsCrossWfc:            e.isCrossWfc,
		WfcEnabled:            e.wfcEnabled,
		WfcMode:               e.wfcMode,
		AirplaneMode:          e.airplaneMode,
		IsInternational:       e.isInternational,
		Roaming:               e.roaming,
		Samples:               e.samples,
		CurrentAccessNetwork:  st.currentAN,
		HandoverActive:        st.currentAN != types.AccessNetworkUnknown,
		WlanRestricted:        e.wlanRestricted[cap],
		WwanRestricted:        e.wwanRestricted[cap],
		LastQualified:         st.lastOutput.AccessNetworks,
	}

	result := Evaluate(in)
	e.registerThresholds(cap, result.UnsatisfiedThresholds)

	out := result.Output
	if forceNotifyDisabled && transportGone(st.lastOutput, out, types.AccessNetworkIwlan) {
		out.NotifyIwlanDisabled = true
	}

	changed := !st.hasEmitted || !st.lastOutput.Equal(out)
	if !changed {
		return
	}

	if len(out.AccessNetworks) > 0 {
		newPrimary := out.AccessNetworks[0]
		if newPrimary != st.currentAN {
			e.startGuard(cap, st)
		}
		st.currentAN = newPrimary
	} else {
		st.currentAN = types.AccessNetworkUnknown
	}

	st.lastOutput = out
	st.hasEmitted = true
	metrics.QualifiedNetworkTransitions.WithLabelValues(slotLabel(e.slot), cap.String()).Inc()

	for _, sink := range st.registrants.Snapshot() {
		sink(out)
	}
}

// startGuard begins the post-transition hysteresis timer: the pre-
// condition's Guard field flips to RUNNING, then EXPIRED after the
// bundle's configured (clamped) duration, re-triggering evaluation at each
// transition so a guarding-specific ANSP (if declared) can take effect.
func (e *Evaluator) startGuard(cap types.NetCapability, st *capabilityState) {
	if st.guardTimer != nil {
		st.guardTimer.Stop()
	}
	st.guard = types.GuardRunning
	metrics.GuardingTimersActive.WithLabelValues(slotLabel(e.slot), cap.String()).Set(1)

	duration := e.guardDuration()
	st.guardTimer = time.AfterFunc(duration, func() {
		e.loop.Post(func() {
			st.guard = types.GuardExpired
			metrics.GuardingTimersActive.WithLabelValues(slotLabel(e.slot), cap.String()).Set(0)
			e.reevaluateCapability(cap, false)
		})
	})
}

func (e *Evaluator) guardDuration() time.Duration {
	if e.bundle == nil {
		return time.Second
	}
	return e.bundle.HysteresisTimer(e.coverage, e.callType)
}

// registerThresholds replaces, atomically per radio, the capability's full
// set of unsatisfied thresholds with the quality monitors. UpdateThresholds
// itself is a full-replace call (invariant (i) in §4.4), so every
// currently-unsatisfied threshold for the capability must be passed
// together rather than one call per threshold.
func (e *Evaluator) registerThresholds(cap types.NetCapability, thresholds []types.Threshold) {
	var wifi, cellular []types.Threshold
	for _, th := range thresholds {
		if th.AccessNetwork == types.AccessNetworkIwlan {
			wifi = append(wifi, th)
		} else {
			cellular = append(cellular, th)
		}
	}
	if e.wifiMonitor != nil {
		e.wifiMonitor.UpdateThresholds(e.slot, cap, wifi)
	}
	if e.cellMonitor != nil {
		e.cellMonitor.UpdateThresholds(e.slot, cap, cellular)
	}
}

func transportGone(before, after types.QualifiedNetworksInfo, an types.AccessNetwork) bool {
	hadBefore := containsAN(before.AccessNetworks, an)
	hasAfter := containsAN(after.AccessNetworks, an)
	return hadBefore && !hasAfter
}

func containsAN(list []types.AccessNetwork, an types.AccessNetwork) bool {
	for _, x := range list {
		if x == an {
			return true
		}
	}
	return false
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
