// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ccm

// bundleFile is the HCL-decoded shape of a carrier config bundle, using
// hashicorp/hcl/v2 + hclsimple the same way flywall's own config package
// decodes its firewall policy file (internal/config/hcl.go). Grammar
// strings (handover_rule, fallback_rule, ...) are decoded as plain string
// attributes here and handed to the dedicated parsers in grammar.go, which
// discard malformed entries without aborting the rest of the load.
type bundleFile struct {
	MinimumGuardingMs      int `hcl:"minimum_guarding_ms,optional"`
	MinimumGuardingLimitMs int `hcl:"minimum_guarding_limit_ms,optional"`

	HandoverRules                  []string `hcl:"handover_rule,optional"`
	FallbackRules                  []string `hcl:"fallback_rule,optional"`
	InitialConnectionFailureRules  []string `hcl:"initial_connection_failure_rule,optional"`
	RTTPingRules                   []string `hcl:"rtt_ping_rule,optional"`
	ThresholdGapRules              []string `hcl:"threshold_gap_rule,optional"`

	DomesticPLMNs       []string `hcl:"domestic_plmn,optional"`
	InternationalPLMNs  []string `hcl:"international_plmn,optional"`

	BlockIPv6OnlyWifi       bool `hcl:"block_ipv6_only_wifi,optional"`
	AllowWfcInAirplaneMode  bool `hcl:"allow_wfc_in_airplane_mode,optional"`
	VolteSupportsRoaming    bool `hcl:"volte_supports_roaming,optional"`
	RequireMmtelForVoPS     bool `hcl:"require_mmtel_for_vops,optional"`
	ImsPreferWifiOverrideAtHome bool `hcl:"ims_prefer_wifi_override_at_home,optional"`

	RTPRestrictMs          int `hcl:"rtp_restrict_ms,optional"`
	WifiBackhaulTimerMs    int `hcl:"wifi_backhaul_timer_ms,optional"`

	HysteresisTimers []HysteresisTimerBlock `hcl:"hysteresis_timer,block"`
	CapabilityPolicy []CapabilityPolicyBlock `hcl:"capability_policy,block"`
	Policies         []ANSPBlock            `hcl:"ansp,block"`
}

// HysteresisTimerBlock configures the guarding timer for one (coverage,
// call type) pair.
type HysteresisTimerBlock struct {
	Coverage string `hcl:"coverage,label"`
	CallType string `hcl:"call_type,label"`
	Ms       int    `hcl:"ms"`
}

// CapabilityPolicyBlock configures the transport-type and Rat-Preference
// keys for one capability.
type CapabilityPolicyBlock struct {
	Capability    string `hcl:"capability,label"`
	TransportType int    `hcl:"transport_type,optional"`
	RatPreference int    `hcl:"rat_preference,optional"`
}

// ThresholdAttr is a single threshold within an ANSP's threshold_group
// block: "<access_network>:<measurement>:<ge|le>:<value>:<wait_ms>".
type ANSPBlock struct {
	Capability  string   `hcl:"capability,label"`
	Target      string   `hcl:"target,label"`
	CallType    string   `hcl:"call_type,optional"`
	Preference  string   `hcl:"preference,optional"`
	Coverage    string   `hcl:"coverage,optional"`
	Guard       string   `hcl:"guard,optional"`
	// ThresholdGroups is a list of threshold-group strings; each string is
	// a semicolon-separated list of "<an>:<meas>:<ge|le>:<value>:<wait_ms>"
	// entries that must all match for the group to match.
	ThresholdGroups []string `hcl:"threshold_group,optional"`
}
