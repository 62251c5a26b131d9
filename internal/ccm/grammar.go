// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ccm

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"grimm.is/qns/internal/qnserrors"
	"grimm.is/qns/internal/types"
)

// ParseHandoverRule parses a single handover-rule string:
//
//	source=<an>[|<an>...], target=<an>[|<an>...], type=allowed|disallowed,
//	capabilities=<cap>[|<cap>...], roaming=true|false
func ParseHandoverRule(s string) (types.HandoverRule, error) {
	kv, err := parseKV(s)
	if err != nil {
		return types.HandoverRule{}, qnserrors.Attr(err, "rule", s)
	}

	var rule types.HandoverRule
	for _, an := range splitPipe(kv["source"]) {
		parsed := types.ParseAccessNetwork(an)
		if parsed == types.AccessNetworkUnknown {
			return types.HandoverRule{}, qnserrors.Errorf(qnserrors.KindValidation, "handover rule: unknown source access network %q", an)
		}
		rule.Source = append(rule.Source, parsed)
	}
	for _, an := range splitPipe(kv["target"]) {
		parsed := types.ParseAccessNetwork(an)
		if parsed == types.AccessNetworkUnknown {
			return types.HandoverRule{}, qnserrors.Errorf(qnserrors.KindValidation, "handover rule: unknown target access network %q", an)
		}
		rule.Target = append(rule.Target, parsed)
	}
	switch strings.ToLower(kv["type"]) {
	case "allowed":
		rule.Type = types.HandoverAllowed
	case "disallowed":
		rule.Type = types.HandoverDisallowed
	default:
		return types.HandoverRule{}, qnserrors.Errorf(qnserrors.KindValidation, "handover rule: unknown type %q", kv["type"])
	}
	for _, c := range splitPipe(kv["capabilities"]) {
		parsed, ok := types.ParseCapability(c)
		if !ok {
			return types.HandoverRule{}, qnserrors.Errorf(qnserrors.KindValidation, "handover rule: unknown capability %q", c)
		}
		rule.Capabilities = append(rule.Capabilities, parsed)
	}
	if v, ok := kv["roaming"]; ok {
		rule.RoamingOnly = strings.EqualFold(v, "true")
	}

	if !rule.Valid() {
		return types.HandoverRule{}, qnserrors.Errorf(qnserrors.KindValidation, "handover rule: IWLAN must appear in source or target, and UNKNOWN is not allowed: %q", s)
	}
	return rule, nil
}

// ParseFallbackRule parses a single fallback-rule string:
//
//	cause=<code>[|<code>|<a>~<b>...], time=<ms>[, preference=cell|wifi]
func ParseFallbackRule(s string) (types.FallbackRule, error) {
	kv, err := parseKV(s)
	if err != nil {
		return types.FallbackRule{}, qnserrors.Attr(err, "rule", s)
	}

	var rule types.FallbackRule
	for _, tok := range splitPipe(kv["cause"]) {
		if strings.Contains(tok, "~") {
			parts := strings.SplitN(tok, "~", 2)
			low, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
			high, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err1 != nil || err2 != nil {
				return types.FallbackRule{}, qnserrors.Errorf(qnserrors.KindValidation, "fallback rule: bad cause range %q", tok)
			}
			rule.CauseRanges = append(rule.CauseRanges, types.CauseRange{Low: low, High: high})
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			return types.FallbackRule{}, qnserrors.Errorf(qnserrors.KindValidation, "fallback rule: bad cause code %q", tok)
		}
		rule.Causes = append(rule.Causes, n)
	}
	ms, err := strconv.Atoi(strings.TrimSpace(kv["time"]))
	if err != nil {
		return types.FallbackRule{}, qnserrors.Errorf(qnserrors.KindValidation, "fallback rule: bad time %q", kv["time"])
	}
	rule.BackoffMs = ms
	if pref, ok := kv["preference"]; ok {
		switch strings.ToLower(strings.TrimSpace(pref)) {
		case "cell":
			p := types.PreferCellular
			rule.Preference = &p
		case "wifi":
			p := types.PreferWifi
			rule.Preference = &p
		default:
			return types.FallbackRule{}, qnserrors.Errorf(qnserrors.KindValidation, "fallback rule: bad preference %q", pref)
		}
	}
	return rule, nil
}

// ParseInitialConnectionFailureRule parses:
//
//	<capability>:<retry_count>:<retry_timer_ms>:<fallback_guard_timer_ms>:<max_fallback_count>
func ParseInitialConnectionFailureRule(s string) (types.InitialConnectionFailureRule, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 5 {
		return types.InitialConnectionFailureRule{}, qnserrors.Errorf(qnserrors.KindValidation, "initial-connection-failure rule: expected 5 colon-separated fields, got %d in %q", len(parts), s)
	}
	cap, ok := types.ParseCapability(strings.TrimSpace(parts[0]))
	if !ok {
		return types.InitialConnectionFailureRule{}, qnserrors.Errorf(qnserrors.KindValidation, "initial-connection-failure rule: unknown capability %q", parts[0])
	}
	ints, err := atoiAll(parts[1:])
	if err != nil {
		return types.InitialConnectionFailureRule{}, qnserrors.Attr(err, "rule", s)
	}
	return types.InitialConnectionFailureRule{
		Capability:       cap,
		RetryCount:       ints[0],
		RetryTimerMs:     ints[1],
		FallbackGuardMs:  ints[2],
		MaxFallbackCount: ints[3],
	}, nil
}

// ParseRTTPingRule parses:
//
//	<server>,<count>,<interval_ms>,<packet_size>,<rtt_ms_criterion>,<rtt_check_interval_ms>,<hyst_fallback_timer_ms>
func ParseRTTPingRule(s string) (types.RTTPingRule, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 7 {
		return types.RTTPingRule{}, qnserrors.Errorf(qnserrors.KindValidation, "rtt ping rule: expected 7 comma-separated fields, got %d in %q", len(parts), s)
	}
	ints, err := atoiAll(parts[1:])
	if err != nil {
		return types.RTTPingRule{}, qnserrors.Attr(err, "rule", s)
	}
	return types.RTTPingRule{
		Server:              strings.TrimSpace(parts[0]),
		Count:               ints[0],
		IntervalMs:          ints[1],
		PacketSize:          ints[2],
		RTTCriterionMs:      ints[3],
		RTTCheckIntervalMs:  ints[4],
		HystFallbackTimerMs: ints[5],
	}, nil
}

// ParseThresholdGapRule parses "<access_network>:<meas_type>:<signed_gap>".
func ParseThresholdGapRule(s string) (types.ThresholdGapRule, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return types.ThresholdGapRule{}, qnserrors.Errorf(qnserrors.KindValidation, "threshold-gap rule: expected 3 colon-separated fields in %q", s)
	}
	an := types.ParseAccessNetwork(strings.ToLower(strings.TrimSpace(parts[0])))
	if an == types.AccessNetworkUnknown {
		return types.ThresholdGapRule{}, qnserrors.Errorf(qnserrors.KindValidation, "threshold-gap rule: unknown access network %q", parts[0])
	}
	meas, ok := parseMeasurementType(parts[1])
	if !ok {
		return types.ThresholdGapRule{}, qnserrors.Errorf(qnserrors.KindValidation, "threshold-gap rule: unknown measurement type %q", parts[1])
	}
	gap, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return types.ThresholdGapRule{}, qnserrors.Errorf(qnserrors.KindValidation, "threshold-gap rule: bad gap %q", parts[2])
	}
	return types.ThresholdGapRule{AccessNetwork: an, Measurement: meas, Gap: int32(gap)}, nil
}

func parseMeasurementType(s string) (types.MeasurementType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RSRP":
		return types.MeasurementRSRP, true
	case "RSRQ":
		return types.MeasurementRSRQ, true
	case "RSSNR":
		return types.MeasurementRSSNR, true
	case "SSRSRP":
		return types.MeasurementSSRSRP, true
	case "SSRSRQ":
		return types.MeasurementSSRSRQ, true
	case "SSSINR":
		return types.MeasurementSSSINR, true
	case "RSCP":
		return types.MeasurementRSCP, true
	case "RSSI":
		return types.MeasurementRSSI, true
	case "ECNO":
		return types.MeasurementECNO, true
	default:
		return 0, false
	}
}

// ThresholdWithWait builds a types.Threshold from parsed fields, converting
// a millisecond wait time into a time.Duration.
func ThresholdWithWait(an types.AccessNetwork, meas types.MeasurementType, value int32, match types.MatchType, waitMs int) types.Threshold {
	return types.Threshold{
		AccessNetwork: an,
		Measurement:   meas,
		Value:         value,
		Match:         match,
		WaitTime:      time.Duration(waitMs) * time.Millisecond,
	}
}

func atoiAll(fields []string) ([]int, error) {
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, qnserrors.Errorf(qnserrors.KindValidation, "bad integer field %q: %v", f, err)
		}
		out[i] = n
	}
	return out, nil
}

func splitPipe(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(p)))
	}
	return out
}

// parseKV parses the lower-case, comma-separated key=value grammar shared
// by the handover and fallback rule strings.
func parseKV(s string) (map[string]string, error) {
	kv := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.Index(part, "=")
		if eq < 0 {
			return nil, qnserrors.Errorf(qnserrors.KindValidation, "malformed key=value segment %q in %q", part, s)
		}
		kv[strings.TrimSpace(part[:eq])] = strings.TrimSpace(part[eq+1:])
	}
	if len(kv) == 0 {
		return nil, fmt.Errorf("empty rule string")
	}
	return kv, nil
}
