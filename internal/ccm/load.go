// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ccm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/qnserrors"
	"grimm.is/qns/internal/types"
)

// LoadOptions bundles the three layers merged into a Bundle: asset
// defaults, a carrier override, and a provisioning override, all HCL
// documents. Carrier and Provisioning may be nil/empty.
type LoadOptions struct {
	AssetDefault     []byte
	CarrierOverride  []byte
	Provisioning     types.ProvisioningInfo
	Logger           *logging.Logger
}

// Load parses and merges a carrier config bundle. Malformed grammar
// entries are rejected individually (logged and dropped); the remainder of
// the bundle still loads, per the error-handling design's "permanent
// configuration error" semantics.
func Load(opts LoadOptions) (*Bundle, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("ccm")

	merged, err := mergeHCL(opts.AssetDefault, opts.CarrierOverride)
	if err != nil {
		return nil, qnserrors.Wrap(err, qnserrors.KindValidation, "ccm: failed to decode carrier config bundle")
	}

	b := &Bundle{
		MinimumGuarding:      durMs(merged.MinimumGuardingMs),
		MinimumGuardingLimit: durMs(merged.MinimumGuardingLimitMs),
		DomesticPLMNs:        toSet(merged.DomesticPLMNs),
		InternationalPLMNs:   toSet(merged.InternationalPLMNs),
		BlockIPv6OnlyWifi:      merged.BlockIPv6OnlyWifi,
		AllowWfcInAirplaneMode: merged.AllowWfcInAirplaneMode,
		VolteSupportsRoaming:   merged.VolteSupportsRoaming,
		RequireMmtelForVoPS:    merged.RequireMmtelForVoPS,
		ImsPreferWifiOverrideAtHome: merged.ImsPreferWifiOverrideAtHome,
		RTPRestrict:            durMs(merged.RTPRestrictMs),
		WifiBackhaulTimer:      durMs(merged.WifiBackhaulTimerMs),
		HysteresisTimers:       make(map[string]time.Duration),
		CapabilityPolicy:       make(map[types.NetCapability]CapabilityPolicy),
	}
	if b.MinimumGuarding == 0 {
		b.MinimumGuarding = 1 * time.Second
	}

	for _, h := range merged.HysteresisTimers {
		key := strings.ToUpper(h.Coverage) + "/" + strings.ToUpper(h.CallType)
		b.HysteresisTimers[key] = durMs(h.Ms)
	}

	for _, cp := range merged.CapabilityPolicy {
		cap, ok := types.ParseCapability(cp.Capability)
		if !ok {
			logger.Warn("dropping capability_policy block: unknown capability", "capability", cp.Capability)
			continue
		}
		b.CapabilityPolicy[cap] = CapabilityPolicy{
			TransportType: types.TransportTypePolicy(cp.TransportType),
			RatPreference: types.RatPreference(cp.RatPreference),
		}
	}

	for _, raw := range merged.HandoverRules {
		rule, err := ParseHandoverRule(raw)
		if err != nil {
			logger.Warn("dropping malformed handover rule", "rule", raw, "error", err)
			continue
		}
		b.HandoverRules = append(b.HandoverRules, rule)
	}
	for _, raw := range merged.FallbackRules {
		rule, err := ParseFallbackRule(raw)
		if err != nil {
			logger.Warn("dropping malformed fallback rule", "rule", raw, "error", err)
			continue
		}
		b.FallbackRules = append(b.FallbackRules, rule)
	}
	for _, raw := range merged.InitialConnectionFailureRules {
		rule, err := ParseInitialConnectionFailureRule(raw)
		if err != nil {
			logger.Warn("dropping malformed initial-connection-failure rule", "rule", raw, "error", err)
			continue
		}
		b.InitialConnectionFailureRules = append(b.InitialConnectionFailureRules, rule)
	}
	for _, raw := range merged.RTTPingRules {
		rule, err := ParseRTTPingRule(raw)
		if err != nil {
			logger.Warn("dropping malformed rtt ping rule", "rule", raw, "error", err)
			continue
		}
		b.RTTPingRules = append(b.RTTPingRules, rule)
	}
	for _, raw := range merged.ThresholdGapRules {
		rule, err := ParseThresholdGapRule(raw)
		if err != nil {
			logger.Warn("dropping malformed threshold-gap rule", "rule", raw, "error", err)
			continue
		}
		b.ThresholdGapRules = append(b.ThresholdGapRules, rule)
	}

	for _, ab := range merged.Policies {
		policy, err := convertANSP(ab)
		if err != nil {
			logger.Warn("dropping malformed ansp block", "capability", ab.Capability, "target", ab.Target, "error", err)
			continue
		}
		b.Policies = append(b.Policies, policy)
	}

	applyProvisioning(b, opts.Provisioning)
	b.contentHash = hashBundle(b)
	return b, nil
}

func mergeHCL(assetDefault, carrierOverride []byte) (*bundleFile, error) {
	var base bundleFile
	if len(assetDefault) > 0 {
		if err := hclsimple.Decode("asset-default.hcl", assetDefault, nil, &base); err != nil {
			return nil, fmt.Errorf("asset defaults: %w", err)
		}
	}
	if len(carrierOverride) == 0 {
		return &base, nil
	}
	var override bundleFile
	if err := hclsimple.Decode("carrier-override.hcl", carrierOverride, nil, &override); err != nil {
		return nil, fmt.Errorf("carrier override: %w", err)
	}
	return mergeBundleFiles(base, override), nil
}

// mergeBundleFiles layers override on top of base: scalar fields are
// replaced when the override sets a non-zero value; list/block fields are
// appended (carrier overrides add to, not replace, asset-default rules).
func mergeBundleFiles(base, override bundleFile) *bundleFile {
	out := base
	if override.MinimumGuardingMs != 0 {
		out.MinimumGuardingMs = override.MinimumGuardingMs
	}
	if override.MinimumGuardingLimitMs != 0 {
		out.MinimumGuardingLimitMs = override.MinimumGuardingLimitMs
	}
	out.HandoverRules = append(out.HandoverRules, override.HandoverRules...)
	out.FallbackRules = append(out.FallbackRules, override.FallbackRules...)
	out.InitialConnectionFailureRules = append(out.InitialConnectionFailureRules, override.InitialConnectionFailureRules...)
	out.RTTPingRules = append(out.RTTPingRules, override.RTTPingRules...)
	out.ThresholdGapRules = append(out.ThresholdGapRules, override.ThresholdGapRules...)
	out.DomesticPLMNs = append(out.DomesticPLMNs, override.DomesticPLMNs...)
	out.InternationalPLMNs = append(out.InternationalPLMNs, override.InternationalPLMNs...)
	if override.BlockIPv6OnlyWifi {
		out.BlockIPv6OnlyWifi = true
	}
	if override.AllowWfcInAirplaneMode {
		out.AllowWfcInAirplaneMode = true
	}
	if override.VolteSupportsRoaming {
		out.VolteSupportsRoaming = true
	}
	if override.RequireMmtelForVoPS {
		out.RequireMmtelForVoPS = true
	}
	if override.ImsPreferWifiOverrideAtHome {
		out.ImsPreferWifiOverrideAtHome = true
	}
	if override.RTPRestrictMs != 0 {
		out.RTPRestrictMs = override.RTPRestrictMs
	}
	if override.WifiBackhaulTimerMs != 0 {
		out.WifiBackhaulTimerMs = override.WifiBackhaulTimerMs
	}
	out.HysteresisTimers = append(out.HysteresisTimers, override.HysteresisTimers...)
	out.CapabilityPolicy = append(out.CapabilityPolicy, override.CapabilityPolicy...)
	out.Policies = append(out.Policies, override.Policies...)
	return &out
}

func convertANSP(ab ANSPBlock) (types.AccessNetworkSelectionPolicy, error) {
	cap, ok := types.ParseCapability(ab.Capability)
	if !ok {
		return types.AccessNetworkSelectionPolicy{}, qnserrors.Errorf(qnserrors.KindValidation, "unknown capability %q", ab.Capability)
	}
	var target types.TransportType
	switch strings.ToLower(ab.Target) {
	case "wlan", "iwlan":
		target = types.TransportWLAN
	case "wwan":
		target = types.TransportWWAN
	default:
		return types.AccessNetworkSelectionPolicy{}, qnserrors.Errorf(qnserrors.KindValidation, "unknown target transport %q", ab.Target)
	}

	pre := types.PreCondition{
		CallType: parseCallType(ab.CallType),
		Pref:     parsePreference(ab.Preference),
		Coverage: parseCoverage(ab.Coverage),
		Guard:    parseGuard(ab.Guard),
	}

	var groups []types.ThresholdGroup
	for _, g := range ab.ThresholdGroups {
		group, err := parseThresholdGroup(g)
		if err != nil {
			return types.AccessNetworkSelectionPolicy{}, err
		}
		groups = append(groups, group)
	}

	return types.AccessNetworkSelectionPolicy{
		Capability:      cap,
		Target:          target,
		PreCondition:    pre,
		ThresholdGroups: groups,
	}, nil
}

// parseThresholdGroup parses a semicolon-separated list of
// "<an>:<meas>:<ge|le>:<value>:<wait_ms>" entries.
func parseThresholdGroup(s string) (types.ThresholdGroup, error) {
	var group types.ThresholdGroup
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		if len(fields) != 5 {
			return types.ThresholdGroup{}, qnserrors.Errorf(qnserrors.KindValidation, "threshold entry %q: expected 5 colon-separated fields", entry)
		}
		an := types.ParseAccessNetwork(strings.ToLower(fields[0]))
		if an == types.AccessNetworkUnknown {
			return types.ThresholdGroup{}, qnserrors.Errorf(qnserrors.KindValidation, "threshold entry %q: unknown access network", entry)
		}
		meas, ok := parseMeasurementType(fields[1])
		if !ok {
			return types.ThresholdGroup{}, qnserrors.Errorf(qnserrors.KindValidation, "threshold entry %q: unknown measurement type", entry)
		}
		var match types.MatchType
		switch strings.ToLower(fields[2]) {
		case "ge":
			match = types.MatchGreaterEqual
		case "le":
			match = types.MatchLessEqual
		default:
			return types.ThresholdGroup{}, qnserrors.Errorf(qnserrors.KindValidation, "threshold entry %q: match must be ge or le", entry)
		}
		valInts, err := atoiAll(fields[3:5])
		if err != nil {
			return types.ThresholdGroup{}, err
		}
		group.Thresholds = append(group.Thresholds, ThresholdWithWait(an, meas, int32(valInts[0]), match, valInts[1]))
	}
	return group, nil
}

func parseCallType(s string) types.CallType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VOICE":
		return types.CallVoice
	case "VIDEO":
		return types.CallVideo
	case "EMERGENCY":
		return types.CallEmergency
	default:
		return types.CallIdle
	}
}

func parsePreference(s string) types.PreferenceMode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CELL_PREF":
		return types.PreferCellular
	case "WIFI_ONLY":
		return types.PreferWifiOnly
	default:
		return types.PreferWifi
	}
}

func parseCoverage(s string) types.Coverage {
	if strings.EqualFold(strings.TrimSpace(s), "ROAM") {
		return types.CoverageRoam
	}
	return types.CoverageHome
}

func parseGuard(s string) types.GuardState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RUNNING":
		return types.GuardRunning
	case "EXPIRED":
		return types.GuardExpired
	default:
		return types.GuardNone
	}
}

func toSet(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, s := range list {
		m[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	return m
}

func durMs(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// applyProvisioning mutates thresholds/timers in place, per §4.2. Each LTE
// threshold key present (1, 2, 3) sets the value of every EUTRAN RSRP
// threshold in every ANSP, whatever its capability, so when several are
// present 3 wins over 2 over 1; Wi-Fi thresholds A and B likewise set every
// IWLAN RSSI threshold, B winning over A. No bad/worst/good or good/bad
// distinction is made between thresholds. The ePDG timers are stored under
// the HysteresisTimers keys "EPDG/LTE" and "EPDG/WIFI", which
// Bundle.HysteresisTimer does not read, so they do not change any guarding
// duration.
func applyProvisioning(b *Bundle, prov types.ProvisioningInfo) {
	if ltrsrp, ok := prov.Get(types.ProvLteThreshold1); ok {
		overrideThresholdValue(b, types.AccessNetworkEutran, types.MeasurementRSRP, int32(ltrsrp))
	}
	if worst, ok := prov.Get(types.ProvLteThreshold2); ok {
		overrideThresholdValue(b, types.AccessNetworkEutran, types.MeasurementRSRP, int32(worst))
	}
	if good, ok := prov.Get(types.ProvLteThreshold3); ok {
		overrideThresholdValue(b, types.AccessNetworkEutran, types.MeasurementRSRP, int32(good))
	}
	if goodRssi, ok := prov.Get(types.ProvWifiThresholdA); ok {
		overrideThresholdValue(b, types.AccessNetworkIwlan, types.MeasurementRSSI, int32(goodRssi))
	}
	if badRssi, ok := prov.Get(types.ProvWifiThresholdB); ok {
		overrideThresholdValue(b, types.AccessNetworkIwlan, types.MeasurementRSSI, int32(badRssi))
	}
	if lteEpdg, ok := prov.Get(types.ProvLteEpdgTimerSec); ok {
		b.HysteresisTimers["EPDG/LTE"] = time.Duration(lteEpdg) * time.Second
	}
	if wifiEpdg, ok := prov.Get(types.ProvWifiEpdgTimerSec); ok {
		b.HysteresisTimers["EPDG/WIFI"] = time.Duration(wifiEpdg) * time.Second
	}
}

// overrideThresholdValue replaces the value of every threshold matching
// (an, meas) across every ANSP's threshold groups. Provisioning overrides a
// single representative slot at a time (bad/worst/good), so later calls in
// applyProvisioning legitimately win over earlier ones for the same
// (an, meas) pair when the carrier only declared one threshold of that kind.
func overrideThresholdValue(b *Bundle, an types.AccessNetwork, meas types.MeasurementType, value int32) {
	for pi := range b.Policies {
		for gi := range b.Policies[pi].ThresholdGroups {
			for ti := range b.Policies[pi].ThresholdGroups[gi].Thresholds {
				th := &b.Policies[pi].ThresholdGroups[gi].Thresholds[ti]
				if th.AccessNetwork == an && th.Measurement == meas {
					th.Value = value
				}
			}
		}
	}
}

// hashBundle computes the content hash used for ChangedRegistrants
// detection, covering only the sections whose change should trigger
// re-evaluation: handover rules and thresholds (ANSP set), per §4.2.
func hashBundle(b *Bundle) string {
	var sb strings.Builder
	rules := append([]types.HandoverRule{}, b.HandoverRules...)
	sort.Slice(rules, func(i, j int) bool { return fmt.Sprint(rules[i]) < fmt.Sprint(rules[j]) })
	for _, r := range rules {
		fmt.Fprintf(&sb, "HO:%v\n", r)
	}
	policies := append([]types.AccessNetworkSelectionPolicy{}, b.Policies...)
	for _, p := range policies {
		fmt.Fprintf(&sb, "ANSP:%v\n", p)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
