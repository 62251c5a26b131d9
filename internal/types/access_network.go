// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package types holds the shared data model for the qualified-networks
// core: access networks, capabilities, call types, coverage, thresholds,
// policies and the rule types parsed out of carrier config. Nothing in
// this package depends on any other qns package, so it is safe for every
// component to import.
package types

// AccessNetwork is the tagged variant of radio access technologies the
// evaluator can choose between.
type AccessNetwork int

const (
	AccessNetworkUnknown AccessNetwork = iota
	AccessNetworkEutran                // LTE
	AccessNetworkNgran                 // NR / 5G
	AccessNetworkUtran                 // UMTS
	AccessNetworkGeran                 // GSM
	AccessNetworkIwlan                 // Wi-Fi as cellular access
)

func (a AccessNetwork) String() string {
	switch a {
	case AccessNetworkEutran:
		return "EUTRAN"
	case AccessNetworkNgran:
		return "NGRAN"
	case AccessNetworkUtran:
		return "UTRAN"
	case AccessNetworkGeran:
		return "GERAN"
	case AccessNetworkIwlan:
		return "IWLAN"
	default:
		return "UNKNOWN"
	}
}

// ParseAccessNetwork parses the lower-case carrier-config spelling used in
// handover and threshold-gap rule grammars.
func ParseAccessNetwork(s string) AccessNetwork {
	switch s {
	case "eutran":
		return AccessNetworkEutran
	case "ngran":
		return AccessNetworkNgran
	case "utran":
		return AccessNetworkUtran
	case "geran":
		return AccessNetworkGeran
	case "iwlan":
		return AccessNetworkIwlan
	default:
		return AccessNetworkUnknown
	}
}

// TransportType is derived from AccessNetwork: IWLAN is WLAN, everything
// else is WWAN.
type TransportType int

const (
	TransportWWAN TransportType = iota
	TransportWLAN
)

func (t TransportType) String() string {
	if t == TransportWLAN {
		return "WLAN"
	}
	return "WWAN"
}

// TransportOf derives the transport type for an access network.
func TransportOf(an AccessNetwork) TransportType {
	if an == AccessNetworkIwlan {
		return TransportWLAN
	}
	return TransportWWAN
}

// TransportTypePolicy is the per-capability "which transports are this
// capability allowed to use at all" key from the carrier config grammar
// (WWAN=0, IWLAN=1, BOTH=2).
type TransportTypePolicy int

const (
	TransportPolicyWWAN TransportTypePolicy = 0
	TransportPolicyIWLAN TransportTypePolicy = 1
	TransportPolicyBoth TransportTypePolicy = 2
)

// AllowsWWAN and AllowsIWLAN report whether the policy admits a transport.
func (p TransportTypePolicy) AllowsWWAN() bool  { return p == TransportPolicyWWAN || p == TransportPolicyBoth }
func (p TransportTypePolicy) AllowsIWLAN() bool { return p == TransportPolicyIWLAN || p == TransportPolicyBoth }
