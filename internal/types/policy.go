// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package types

// AccessNetworkSelectionPolicy (ANSP) is a single carrier-config-declared
// policy: when the current state matches PreCondition and any of its
// ThresholdGroups matches, Target is a candidate transport for Capability.
type AccessNetworkSelectionPolicy struct {
	Capability      NetCapability
	Target          TransportType
	PreCondition    PreCondition
	ThresholdGroups []ThresholdGroup
}

// HandoverRuleType is ALLOWED or DISALLOWED.
type HandoverRuleType int

const (
	HandoverAllowed HandoverRuleType = iota
	HandoverDisallowed
)

// HandoverRule governs transitions between transports. At least one of
// Source/Target must contain IWLAN; AccessNetworkUnknown is never a valid
// member of either set.
type HandoverRule struct {
	Source       []AccessNetwork
	Target       []AccessNetwork
	Capabilities []NetCapability
	Type         HandoverRuleType
	RoamingOnly  bool
}

func containsAN(list []AccessNetwork, an AccessNetwork) bool {
	for _, x := range list {
		if x == an {
			return true
		}
	}
	return false
}

func containsCap(list []NetCapability, c NetCapability) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

// Matches reports whether this rule governs the given transition.
func (r HandoverRule) Matches(source, target AccessNetwork, cap NetCapability, roaming bool) bool {
	if r.RoamingOnly && !roaming {
		return false
	}
	if !containsAN(r.Source, source) || !containsAN(r.Target, target) {
		return false
	}
	return containsCap(r.Capabilities, cap)
}

// Valid enforces the handover rule invariant from the data model: IWLAN
// must appear in source or target, and UNKNOWN is never allowed in either.
func (r HandoverRule) Valid() bool {
	if containsAN(r.Source, AccessNetworkUnknown) || containsAN(r.Target, AccessNetworkUnknown) {
		return false
	}
	return containsAN(r.Source, AccessNetworkIwlan) || containsAN(r.Target, AccessNetworkIwlan)
}

// FallbackRule disqualifies WLAN for BackoffMs after an IMS failure whose
// reason code is in Causes (or a causeRange), under the given preference
// mode filter (empty means "any mode").
type FallbackRule struct {
	Causes     []int
	CauseRanges []CauseRange
	BackoffMs  int
	Preference *PreferenceMode // nil == any
}

// CauseRange is an inclusive a~b range in the fallback rule grammar.
type CauseRange struct {
	Low, High int
}

// Matches reports whether the given IMS failure reason code and current
// preference mode trigger this fallback rule.
func (f FallbackRule) Matches(reason int, pref PreferenceMode) bool {
	if f.Preference != nil && *f.Preference != pref {
		return false
	}
	for _, c := range f.Causes {
		if c == reason {
			return true
		}
	}
	for _, r := range f.CauseRanges {
		if reason >= r.Low && reason <= r.High {
			return true
		}
	}
	return false
}

// InitialConnectionFailureRule is the "<capability>:<retry>:<timer>:<guard>:<max>"
// grammar controlling the initial-connection-failure fallback.
type InitialConnectionFailureRule struct {
	Capability         NetCapability
	RetryCount         int
	RetryTimerMs       int
	FallbackGuardMs    int
	MaxFallbackCount   int
}

// RTTPingRule is the "<server>,<count>,<interval_ms>,<packet_size>,<rtt_ms_criterion>,<rtt_check_interval_ms>,<hyst_fallback_timer_ms>"
// grammar used to probe RTT over the current transport.
type RTTPingRule struct {
	Server              string
	Count               int
	IntervalMs          int
	PacketSize          int
	RTTCriterionMs      int
	RTTCheckIntervalMs  int
	HystFallbackTimerMs int
}

// QualifiedNetworksInfo is the ANE's output, delivered to every registered
// sink. AccessNetworks is ordered most-preferred first.
type QualifiedNetworksInfo struct {
	AccessNetworks      []AccessNetwork
	NotifyIwlanDisabled bool
	// Reason is debug/metrics-only context for why the decision changed; it
	// carries no semantic weight and must never be compared for equality.
	Reason string
}

// Equal compares two decisions after canonicalizing (de-duplicating) each
// list; order is preserved and significant, since the first entry is the
// preferred access network and a pure re-ordering is itself a real decision
// change (see DESIGN.md for why this resolves the spec's open question in
// favor of order-sensitive comparison rather than a full sort).
func (q QualifiedNetworksInfo) Equal(o QualifiedNetworksInfo) bool {
	a := CanonicalizeAccessNetworks(q.AccessNetworks)
	b := CanonicalizeAccessNetworks(o.AccessNetworks)
	if len(a) != len(b) || q.NotifyIwlanDisabled != o.NotifyIwlanDisabled {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CanonicalizeAccessNetworks de-duplicates a list of access networks while
// preserving declared preference order (first-preferred stays first),
// resolving the ambiguity the design notes call out around
// equalsLastNotifiedQualifiedNetwork.
func CanonicalizeAccessNetworks(list []AccessNetwork) []AccessNetwork {
	seen := make(map[AccessNetwork]bool, len(list))
	out := make([]AccessNetwork, 0, len(list))
	for _, an := range list {
		if !seen[an] {
			seen[an] = true
			out = append(out, an)
		}
	}
	return out
}
