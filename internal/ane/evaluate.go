// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ane implements the Access Network Evaluator: the core decision
// algorithm that, given the current policy bundle and tracker state for a
// capability, selects a prioritized list of access networks, per §4.1.
//
// evaluate.go holds the pure, single-pass evaluation function; evaluator.go
// wraps it in the stateful, event-loop-driven component that wires in
// guarding timers, threshold registration with the quality monitors, and
// de-bounced emission to registrants.
package ane

import (
	"grimm.is/qns/internal/ccm"
	"grimm.is/qns/internal/types"
)

// Samples is the current measurement set, keyed by access network then
// measurement type.
type Samples map[types.AccessNetwork]map[types.MeasurementType]types.Measurement

func (s Samples) get(an types.AccessNetwork, m types.MeasurementType) types.Measurement {
	if s == nil {
		return types.UnknownMeasurement
	}
	byMeas, ok := s[an]
	if !ok {
		return types.UnknownMeasurement
	}
	sample, ok := byMeas[m]
	if !ok {
		return types.UnknownMeasurement
	}
	return sample
}

// Input is everything the single-pass evaluation needs for one
// capability. Dwell (backhaul wait-time) is resolved upstream by the
// quality monitors before a measurement reaches here: Samples already
// reflects only debounced values.
type Input struct {
	Capability types.NetCapability
	Bundle     *ccm.Bundle

	CallType types.CallType
	Coverage types.Coverage
	Guard    types.GuardState

	CellularAvailable   bool
	VopsSupported       bool
	ServingAccessNetwork types.AccessNetwork // current serving WWAN RAT, for threshold-less WWAN policies

	IwlanAvailable bool
	IsCrossWfc     bool

	// WfcEnabled is the IMS Manager's derived Wi-Fi Calling enablement
	// (platform override, device resource, carrier and user settings all
	// folded together per §4.6). It only gates IMS/EIMS: non-IMS
	// capabilities are governed purely by RatPreference.
	WfcEnabled bool

	// WfcMode is the IMS Manager's get_wfc_mode(roaming) result, consulted
	// to derive the IMS/EIMS preference mode per §4.1 step 2.
	WfcMode types.WfcMode

	// AirplaneMode and IsInternational are the two service-state signals
	// step 1 needs beyond WfcEnabled: whether the radio is powered down,
	// and whether the registered PLMN is one the carrier has listed as
	// international (which drops IWLAN for IMS/EIMS while WWAN is still
	// allowed).
	AirplaneMode    bool
	IsInternational bool

	Roaming bool

	Samples Samples

	// CurrentAccessNetwork is the transport currently in use for this
	// capability's data connection, or AccessNetworkUnknown if none. Used
	// to decide whether a candidate transition is a handover.
	CurrentAccessNetwork types.AccessNetwork
	HandoverActive       bool

	WlanRestricted bool
	WwanRestricted bool

	LastQualified []types.AccessNetwork
}

// Result is the evaluation outcome: the decision plus the set of
// currently-unsatisfied thresholds the caller should register with the
// quality monitors so a future crossing re-triggers evaluation.
type Result struct {
	Output                types.QualifiedNetworksInfo
	UnsatisfiedThresholds []types.Threshold
}

// dedupeThresholds drops structurally identical repeats, which can arise
// when the same (access network, measurement) pair appears in more than one
// candidate ANSP's threshold groups.
func dedupeThresholds(in []types.Threshold) []types.Threshold {
	type key struct {
		an    types.AccessNetwork
		meas  types.MeasurementType
		value int32
		match types.MatchType
	}
	seen := make(map[key]bool, len(in))
	out := make([]types.Threshold, 0, len(in))
	for _, th := range in {
		k := key{th.AccessNetwork, th.Measurement, th.Value, th.Match}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, th)
	}
	return out
}

// Evaluate runs the seven-step single-pass algorithm from §4.1 over in. It
// never panics on malformed input: a nil Bundle or empty policy set yields
// an empty decision, except that IMS/EIMS keeps its last qualified list
// when there is one.
func Evaluate(in Input) Result {
	if in.Bundle == nil {
		return Result{Output: emptyOrFallback(in)}
	}

	// Step 1: gate by allowance.
	cp := in.Bundle.CapabilityPolicy[in.Capability]
	allowsWWAN, allowsIWLAN := transportAllowance(in, cp)

	// Step 2: resolve pre-condition.
	pre := types.PreCondition{CallType: in.CallType, Pref: resolvePreference(in, cp), Coverage: in.Coverage, Guard: in.Guard}

	// Step 3: select candidate ANSPs.
	candidates := make([]types.AccessNetworkSelectionPolicy, 0)
	for _, p := range in.Bundle.PoliciesFor(in.Capability) {
		if !p.PreCondition.Equal(pre) {
			continue
		}
		if p.Target == types.TransportWWAN && !allowsWWAN {
			continue
		}
		if p.Target == types.TransportWLAN && !allowsIWLAN {
			continue
		}
		candidates = append(candidates, p)
	}

	var unsatisfied []types.Threshold
	type qualifiedCandidate struct {
		policy        types.AccessNetworkSelectionPolicy
		accessNetwork types.AccessNetwork
	}
	var qualified []qualifiedCandidate

	// Step 4: evaluate threshold groups.
	for _, p := range candidates {
		if p.Target == types.TransportWLAN && !in.IwlanAvailable {
			continue
		}
		if p.Target == types.TransportWWAN && !in.CellularAvailable {
			continue
		}

		var matchedGroup *types.ThresholdGroup
		if len(p.ThresholdGroups) == 0 {
			matchedGroup = &types.ThresholdGroup{}
		}
		for gi := range p.ThresholdGroups {
			group := p.ThresholdGroups[gi]
			allMatch := true
			for _, th := range group.Thresholds {
				sample := in.Samples.get(th.AccessNetwork, th.Measurement)
				if !th.Matches(sample) {
					allMatch = false
					unsatisfied = append(unsatisfied, th)
				}
			}
			if allMatch {
				matchedGroup = &group
				break
			}
		}
		if matchedGroup == nil {
			continue
		}
		an := resolveAccessNetwork(p, matchedGroup, in.ServingAccessNetwork)
		qualified = append(qualified, qualifiedCandidate{policy: p, accessNetwork: an})
	}

	// Step 5: cross-cutting constraints.
	filtered := qualified[:0:0]
	for _, qc := range qualified {
		transport := types.TransportOf(qc.accessNetwork)

		// VoPS/MMTEL.
		if in.Capability == types.CapabilityIMS && (in.CallType == types.CallVoice || in.CallType == types.CallVideo) &&
			in.Bundle.RequireMmtelForVoPS && transport == types.TransportWWAN && !in.VopsSupported {
			continue
		}

		// VoLTE roaming.
		if in.Capability.IsIMS() && in.CallType == types.CallVoice && in.Roaming && !in.Bundle.VolteSupportsRoaming && transport == types.TransportWWAN {
			continue
		}

		// Fallback / RTP-RTT restriction, already folded into per-transport
		// restriction flags by the restrict manager.
		if transport == types.TransportWLAN && in.WlanRestricted {
			continue
		}
		if transport == types.TransportWWAN && in.WwanRestricted {
			continue
		}

		filtered = append(filtered, qc)
	}

	// Handover policy: only applies when a data connection is active and
	// the candidate differs from the currently active access network.
	if in.HandoverActive && in.CurrentAccessNetwork != types.AccessNetworkUnknown {
		finalFiltered := filtered[:0:0]
		for _, qc := range filtered {
			if qc.accessNetwork == in.CurrentAccessNetwork {
				finalFiltered = append(finalFiltered, qc)
				continue
			}
			allowed, ruleMatched := handoverDecision(in.Bundle, in.CurrentAccessNetwork, qc.accessNetwork, in.Capability, in.Roaming)
			if !ruleMatched {
				// No rule matched: allow for IMS, deny for others.
				allowed = in.Capability.IsIMS()
			}
			if allowed {
				finalFiltered = append(finalFiltered, qc)
			}
		}
		filtered = finalFiltered
	}

	// Step 6: assemble output.
	var list []types.AccessNetwork
	for _, qc := range filtered {
		list = append(list, qc.accessNetwork)
	}
	var out types.QualifiedNetworksInfo
	if len(list) == 0 && in.Capability.IsIMS() && len(in.LastQualified) > 0 {
		out = types.QualifiedNetworksInfo{AccessNetworks: in.LastQualified, Reason: "fallback-to-last-qualified"}
	} else {
		out = types.QualifiedNetworksInfo{AccessNetworks: list}
	}

	return Result{Output: out, UnsatisfiedThresholds: dedupeThresholds(unsatisfied)}
}

func emptyOrFallback(in Input) types.QualifiedNetworksInfo {
	if in.Capability.IsIMS() && len(in.LastQualified) > 0 {
		return types.QualifiedNetworksInfo{AccessNetworks: in.LastQualified, Reason: "no-policy-fallback"}
	}
	return types.QualifiedNetworksInfo{}
}

// transportAllowance applies the capability's transport-type policy and
// Rat Preference to decide which transports are even permissible.
func transportAllowance(in Input, cp ccm.CapabilityPolicy) (wwan, iwlan bool) {
	wwan, iwlan = cp.TransportType.AllowsWWAN(), cp.TransportType.AllowsIWLAN()
	// Airplane mode takes WWAN away outright, and WLAN too unless the
	// carrier has explicitly allowed Wi-Fi Calling while the radio is
	// powered down, in which case WLAN is the only surviving transport.
	if in.AirplaneMode {
		wwan = false
		if !in.Bundle.AllowWfcInAirplaneMode {
			iwlan = false
		}
	}
	if in.Capability.IsIMS() {
		if !in.WfcEnabled {
			iwlan = false
		}
		// While the registered PLMN is international and WWAN is still
		// allowed, WLAN is dropped so voice stays on the cellular network
		// the device is registered on. When airplane mode has already
		// taken WWAN away, WLAN is not dropped for this reason.
		if in.IsInternational && wwan {
			iwlan = false
		}
		return wwan, iwlan
	}
	switch cp.RatPreference {
	case types.RatPreferenceWifiOnly:
		wwan = false
	case types.RatPreferenceWifiWhenNoCellular:
		if in.CellularAvailable {
			iwlan = false
		}
	}
	return wwan, iwlan
}

// ImsPreferenceMode derives the IMS/EIMS preference mode from the IMS
// Manager's WFC mode, the carrier's home-coverage override, and current
// coverage, per §4.1 step 2. It is exported so callers outside a single
// Evaluate pass (fallback-rule matching against a live IMS event) can
// derive the identical preference mode the evaluator itself would use.
func ImsPreferenceMode(mode types.WfcMode, overrideAtHome bool, coverage types.Coverage) types.PreferenceMode {
	if overrideAtHome && coverage == types.CoverageHome {
		return types.PreferWifi
	}
	switch mode {
	case types.WfcModeCellularPreferred:
		return types.PreferCellular
	case types.WfcModeWifiPreferred:
		return types.PreferWifi
	default: // WfcModeWifiOnly
		return types.PreferWifiOnly
	}
}

// resolvePreference derives the operating PreferenceMode from RatPreference
// and currently observed state, per the Rat Preference definitions in the
// data model.
func resolvePreference(in Input, cp ccm.CapabilityPolicy) types.PreferenceMode {
	if in.Capability.IsIMS() {
		overrideAtHome := in.Bundle != nil && in.Bundle.ImsPreferWifiOverrideAtHome
		return ImsPreferenceMode(in.WfcMode, overrideAtHome, in.Coverage)
	}
	switch cp.RatPreference {
	case types.RatPreferenceWifiOnly:
		return types.PreferWifiOnly
	case types.RatPreferenceWifiWhenNoCellular:
		if in.CellularAvailable {
			return types.PreferCellular
		}
		return types.PreferWifi
	case types.RatPreferenceWifiWhenHomeNotAvailable:
		if in.Coverage == types.CoverageHome {
			return types.PreferCellular
		}
		return types.PreferWifi
	default:
		return types.PreferWifi
	}
}

// resolveAccessNetwork maps a qualified ANSP's transport target to the
// specific access network reported in the output list. A WLAN target is
// always IWLAN; a WWAN target takes the access network named by its
// matched threshold group (thresholds are declared per-access-network, and
// a group is assumed homogeneous), falling back to the currently serving
// cellular RAT when the policy declares no thresholds at all (e.g. an
// "always qualify while registered" WWAN policy).
func resolveAccessNetwork(p types.AccessNetworkSelectionPolicy, matched *types.ThresholdGroup, servingAN types.AccessNetwork) types.AccessNetwork {
	if p.Target == types.TransportWLAN {
		return types.AccessNetworkIwlan
	}
	if matched != nil && len(matched.Thresholds) > 0 {
		return matched.Thresholds[0].AccessNetwork
	}
	return servingAN
}

// handoverDecision consults the bundle's handover rules in declared order;
// the first rule whose source+target+capability+roaming matches decides.
func handoverDecision(b *ccm.Bundle, source, target types.AccessNetwork, cap types.NetCapability, roaming bool) (allowed bool, matched bool) {
	for _, r := range b.HandoverRulesFor(cap) {
		if r.Matches(source, target, cap, roaming) {
			return r.Type == types.HandoverAllowed, true
		}
	}
	return false, false
}
