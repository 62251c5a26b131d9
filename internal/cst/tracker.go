// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cst implements the Call Status Tracker: it consumes call-state
// snapshots and SRVCC-completion signals from the telephony feed and
// derives the current CallType on two tracks, normal (IMS) and emergency
// (EIMS), per §4.5.
package cst

import (
	"sync"

	"grimm.is/qns/internal/events"
	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/types"
)

// Update is a single notification to a CST listener: the derived call type
// for that listener's track, plus the sticky emergency-over-IMS flag (only
// ever set on the IMS/normal track).
type Update struct {
	CallType        types.CallType
	EmergencyOverIms bool
}

// Tracker derives per-track call type from the telephony feed's call-state
// snapshots. One Tracker is owned per slot.
type Tracker struct {
	mu     sync.Mutex
	logger *logging.Logger

	calls []types.CallState

	// hasEimsDataConnection / hasImsDataConnection model whether the
	// EIMS/IMS PDN connections are currently up, consulted to decide which
	// track an emergency call is reported on.
	hasEimsDataConnection bool
	hasImsDataConnection  bool

	normalListeners    *events.Registrants[func(Update)]
	emergencyListeners *events.Registrants[func(Update)]

	lastNormal    Update
	lastEmergency Update
}

// New constructs a Call Status Tracker.
func New(logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{
		logger:             logger.WithComponent("cst"),
		normalListeners:    events.NewRegistrants[func(Update)](),
		emergencyListeners: events.NewRegistrants[func(Update)](),
		lastNormal:         Update{CallType: types.CallIdle},
		lastEmergency:      Update{CallType: types.CallIdle},
	}
}

// SubscribeNormal registers a sink for the IMS (normal) track, delivering
// the current value synchronously.
func (t *Tracker) SubscribeNormal(sink func(Update)) (unregister func()) {
	t.mu.Lock()
	token := t.normalListeners.Register(sink)
	last := t.lastNormal
	t.mu.Unlock()
	sink(last)
	return func() { t.normalListeners.Unregister(token) }
}

// SubscribeEmergency registers a sink for the EIMS (emergency) track,
// delivering the current value synchronously.
func (t *Tracker) SubscribeEmergency(sink func(Update)) (unregister func()) {
	t.mu.Lock()
	token := t.emergencyListeners.Register(sink)
	last := t.lastEmergency
	t.mu.Unlock()
	sink(last)
	return func() { t.emergencyListeners.Unregister(token) }
}

// SetDataConnections records whether the EIMS/IMS PDN connections are
// currently up, consulted the next time an emergency call is classified.
func (t *Tracker) SetDataConnections(hasEims, hasIms bool) {
	t.mu.Lock()
	t.hasEimsDataConnection = hasEims
	t.hasImsDataConnection = hasIms
	t.mu.Unlock()
	t.recompute()
}

// OnSnapshot replaces the tracked call list with the telephony feed's
// latest non-disconnected call-state snapshot and re-derives both tracks.
func (t *Tracker) OnSnapshot(snapshot types.CallSnapshot) {
	t.mu.Lock()
	calls := make([]types.CallState, 0, len(snapshot.Calls))
	for _, c := range snapshot.Calls {
		if c.Precise == types.CallStateDisconnected {
			continue
		}
		calls = append(calls, c)
	}
	t.calls = calls
	t.mu.Unlock()
	t.recompute()
}

// OnSrvcc handles SRVCC completion: the call list is cleared and both
// tracks transition to IDLE in a single atomic notification.
func (t *Tracker) OnSrvcc() {
	t.mu.Lock()
	t.calls = nil
	normal := Update{CallType: types.CallIdle}
	emergency := Update{CallType: types.CallIdle}
	normalChanged := t.lastNormal != normal
	emergencyChanged := t.lastEmergency != emergency
	t.lastNormal = normal
	t.lastEmergency = emergency
	normalListeners := t.normalListeners
	emergencyListeners := t.emergencyListeners
	t.mu.Unlock()

	if normalChanged {
		for _, sink := range normalListeners.Snapshot() {
			sink(normal)
		}
	}
	if emergencyChanged {
		for _, sink := range emergencyListeners.Snapshot() {
			sink(emergency)
		}
	}
}

// deriveCallType applies the priority order from §4.5 over the current
// call list, excluding the emergency call itself from the voice/video
// checks (an emergency call that is also classified VOICE/VT media-wise
// is still reported as EMERGENCY, not VOICE/VIDEO).
func deriveCallType(calls []types.CallState) types.CallType {
	for _, c := range calls {
		if c.Service == types.ServiceEmergency {
			return types.CallEmergency
		}
	}
	for _, c := range calls {
		if c.Service == types.ServiceNormal && c.Kind == types.CallKindVoice {
			return types.CallVoice
		}
	}
	for _, c := range calls {
		if c.Service == types.ServiceNormal && c.Kind == types.CallKindVT {
			if c.Precise == types.CallStateAlerting || c.Precise == types.CallStateDialing || c.Precise == types.CallStateIncoming {
				continue
			}
			return types.CallVideo
		}
	}
	return types.CallIdle
}

func (t *Tracker) recompute() {
	t.mu.Lock()

	_, hasEmergency := types.CallSnapshot{Calls: t.calls}.EmergencyCall()
	callType := deriveCallType(t.calls)

	var normal, emergency Update

	if hasEmergency && !t.hasEimsDataConnection && t.hasImsDataConnection {
		// Emergency call riding the IMS data connection rather than a
		// dedicated EIMS connection: report it on the normal/IMS track
		// with the sticky flag, and leave the emergency track idle.
		normal = Update{CallType: types.CallEmergency, EmergencyOverIms: true}
		emergency = Update{CallType: types.CallIdle}
	} else if hasEmergency {
		normal = Update{CallType: deriveNonEmergencyCallType(t.calls)}
		emergency = Update{CallType: types.CallEmergency}
	} else {
		normal = Update{CallType: callType}
		emergency = Update{CallType: types.CallIdle}
	}

	normalChanged := normal != t.lastNormal
	emergencyChanged := emergency != t.lastEmergency
	t.lastNormal = normal
	t.lastEmergency = emergency
	normalListeners := t.normalListeners
	emergencyListeners := t.emergencyListeners
	t.mu.Unlock()

	if normalChanged {
		for _, sink := range normalListeners.Snapshot() {
			sink(normal)
		}
	}
	if emergencyChanged {
		for _, sink := range emergencyListeners.Snapshot() {
			sink(emergency)
		}
	}
}

// deriveNonEmergencyCallType applies steps 2-4 of the priority order,
// for use on the normal track while an emergency call occupies the
// emergency track.
func deriveNonEmergencyCallType(calls []types.CallState) types.CallType {
	for _, c := range calls {
		if c.Service == types.ServiceNormal && c.Kind == types.CallKindVoice {
			return types.CallVoice
		}
	}
	for _, c := range calls {
		if c.Service == types.ServiceNormal && c.Kind == types.CallKindVT {
			if c.Precise == types.CallStateAlerting || c.Precise == types.CallStateDialing || c.Precise == types.CallStateIncoming {
				continue
			}
			return types.CallVideo
		}
	}
	return types.CallIdle
}
