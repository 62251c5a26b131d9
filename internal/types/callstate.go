// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package types

// ServiceType distinguishes a normal call from an emergency call.
type ServiceType int

const (
	ServiceNormal ServiceType = iota
	ServiceEmergency
)

// PreciseCallState mirrors the telephony feed's precise-call-state enum.
// DISCONNECTED states are filtered out before a CallState ever reaches the
// Call Status Tracker's internal list.
type PreciseCallState int

const (
	CallStateDialing PreciseCallState = iota
	CallStateAlerting
	CallStateIncoming
	CallStateActive
	CallStateHolding
	CallStateDisconnected
)

// CallKind is the media kind of a single call leg.
type CallKind int

const (
	CallKindVoice CallKind = iota
	CallKindVT // video telephony
)

// CallState is one entry in the telephony feed's call-state snapshot.
type CallState struct {
	CallID  string
	Service ServiceType
	Kind    CallKind
	Precise PreciseCallState
}

// CallSnapshot is the list of non-disconnected calls at a point in time. At
// most one emergency call may be present.
type CallSnapshot struct {
	Calls []CallState
}

// EmergencyCall returns the snapshot's emergency call, if any.
func (s CallSnapshot) EmergencyCall() (CallState, bool) {
	for _, c := range s.Calls {
		if c.Service == ServiceEmergency {
			return c, true
		}
	}
	return CallState{}, false
}
