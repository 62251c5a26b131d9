// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ccm

import (
	"time"

	"grimm.is/qns/internal/types"
)

// Bundle is the fully parsed, typed carrier policy — the merged result of
// asset defaults, carrier overrides and provisioning overrides. It is
// immutable after construction; a reload produces a new Bundle and the
// Manager atomically swaps the reference, per the shared-resource policy.
type Bundle struct {
	MinimumGuarding      time.Duration
	MinimumGuardingLimit time.Duration

	HandoverRules  []types.HandoverRule
	FallbackRules  []types.FallbackRule
	InitialConnectionFailureRules []types.InitialConnectionFailureRule
	RTTPingRules   []types.RTTPingRule
	ThresholdGapRules []types.ThresholdGapRule

	DomesticPLMNs      map[string]bool
	InternationalPLMNs map[string]bool

	BlockIPv6OnlyWifi      bool
	AllowWfcInAirplaneMode bool
	VolteSupportsRoaming   bool
	RequireMmtelForVoPS    bool

	// ImsPreferWifiOverrideAtHome forces the IMS/EIMS preference mode to
	// PreferWifi while on home coverage, regardless of the IMS Manager's
	// WFC mode. Carriers use this to keep VoWifi sticky at home even when
	// the WFC mode would otherwise prefer cellular.
	ImsPreferWifiOverrideAtHome bool

	RTPRestrict       time.Duration
	WifiBackhaulTimer time.Duration

	// HysteresisTimers maps "coverage/callType" -> duration.
	HysteresisTimers map[string]time.Duration

	CapabilityPolicy map[types.NetCapability]CapabilityPolicy

	// Policies is the ANSP set, preserved in declared order: the
	// tie-break for two ANSPs sharing a pre-condition is "first in
	// config order wins", per the design notes' open-question resolution.
	Policies []types.AccessNetworkSelectionPolicy

	// contentHash is computed over the sections that matter for
	// ChangedRegistrants notification: handover rules and threshold data.
	contentHash string
}

// CapabilityPolicy is the per-capability transport-type/Rat-Preference
// pair.
type CapabilityPolicy struct {
	TransportType types.TransportTypePolicy
	RatPreference types.RatPreference
}

// HandoverRulesFor returns the handover rules whose capability set
// contains cap, preserving declared order (first match wins per §4.1).
func (b *Bundle) HandoverRulesFor(cap types.NetCapability) []types.HandoverRule {
	var out []types.HandoverRule
	for _, r := range b.HandoverRules {
		for _, c := range r.Capabilities {
			if c == cap {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// PoliciesFor returns the ANSPs declared for a capability, in config order.
func (b *Bundle) PoliciesFor(cap types.NetCapability) []types.AccessNetworkSelectionPolicy {
	var out []types.AccessNetworkSelectionPolicy
	for _, p := range b.Policies {
		if p.Capability == cap {
			out = append(out, p)
		}
	}
	return out
}

// HysteresisTimer looks up the guarding timer for a (coverage, callType)
// pair, clamped to [MinimumGuarding, MinimumGuardingLimit].
func (b *Bundle) HysteresisTimer(coverage types.Coverage, ct types.CallType) time.Duration {
	key := coverage.String() + "/" + ct.String()
	d, ok := b.HysteresisTimers[key]
	if !ok {
		d = b.MinimumGuarding
	}
	if d < b.MinimumGuarding {
		d = b.MinimumGuarding
	}
	if b.MinimumGuardingLimit > 0 && d > b.MinimumGuardingLimit {
		d = b.MinimumGuardingLimit
	}
	return d
}

// IsDomestic/IsInternational classify a serving PLMN against the
// carrier-configured lists, used to derive Coverage.
func (b *Bundle) IsDomestic(plmn string) bool      { return b.DomesticPLMNs[plmn] }
func (b *Bundle) IsInternational(plmn string) bool { return b.InternationalPLMNs[plmn] }

// ContentHash returns the hash used for same-carrier-id change detection.
func (b *Bundle) ContentHash() string { return b.contentHash }
