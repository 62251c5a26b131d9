// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ane

import (
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/qns/internal/ccm"
	"grimm.is/qns/internal/types"
)

func basicBundle() *ccm.Bundle {
	return &ccm.Bundle{
		MinimumGuarding: 0,
		CapabilityPolicy: map[types.NetCapability]ccm.CapabilityPolicy{
			types.CapabilityIMS: {TransportType: types.TransportPolicyBoth},
		},
		Policies: []types.AccessNetworkSelectionPolicy{
			{
				Capability: types.CapabilityIMS,
				Target:     types.TransportWLAN,
				ThresholdGroups: []types.ThresholdGroup{{Thresholds: []types.Threshold{
					{AccessNetwork: types.AccessNetworkIwlan, Measurement: types.MeasurementRSSI, Value: -70, Match: types.MatchGreaterEqual},
				}}},
			},
			{
				Capability: types.CapabilityIMS,
				Target:     types.TransportWWAN,
				ThresholdGroups: []types.ThresholdGroup{{Thresholds: []types.Threshold{
					{AccessNetwork: types.AccessNetworkEutran, Measurement: types.MeasurementRSRP, Value: -100, Match: types.MatchGreaterEqual},
				}}},
			},
		},
	}
}

func TestEvaluate_NilBundleYieldsEmptyDecision(t *testing.T) {
	result := Evaluate(Input{Capability: types.CapabilityMMS})
	require.Empty(t, result.Output.AccessNetworks)
}

func TestEvaluate_NilBundleFallsBackToLastQualifiedForIMS(t *testing.T) {
	result := Evaluate(Input{
		Capability:    types.CapabilityIMS,
		LastQualified: []types.AccessNetwork{types.AccessNetworkEutran},
	})
	require.Equal(t, []types.AccessNetwork{types.AccessNetworkEutran}, result.Output.AccessNetworks)
}

func TestEvaluate_QualifiesWlanWhenThresholdMetAndIwlanAvailable(t *testing.T) {
	b := basicBundle()
	in := Input{
		Capability:        types.CapabilityIMS,
		Bundle:            b,
		IwlanAvailable:    true,
		WfcEnabled:        true,
		WfcMode:           types.WfcModeWifiPreferred,
		CellularAvailable: true,
		Samples: Samples{
			types.AccessNetworkIwlan: {types.MeasurementRSSI: {Value: -60, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.Contains(t, result.Output.AccessNetworks, types.AccessNetworkIwlan)
}

func TestEvaluate_UnsatisfiedThresholdsReturnedForRegistration(t *testing.T) {
	b := basicBundle()
	in := Input{
		Capability:        types.CapabilityIMS,
		Bundle:            b,
		IwlanAvailable:    true,
		WfcEnabled:        true,
		WfcMode:           types.WfcModeWifiPreferred,
		CellularAvailable: true,
		Samples: Samples{
			types.AccessNetworkIwlan: {types.MeasurementRSSI: {Value: -90, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.NotEmpty(t, result.UnsatisfiedThresholds)
	require.Equal(t, types.AccessNetworkIwlan, result.UnsatisfiedThresholds[0].AccessNetwork)
}

func TestEvaluate_WlanDisqualifiedWhenIwlanUnavailable(t *testing.T) {
	b := basicBundle()
	in := Input{
		Capability:        types.CapabilityIMS,
		Bundle:            b,
		IwlanAvailable:    false,
		WfcMode:           types.WfcModeWifiPreferred,
		CellularAvailable: true,
		Samples: Samples{
			types.AccessNetworkIwlan: {types.MeasurementRSSI: {Value: -50, Valid: true}},
			types.AccessNetworkEutran: {types.MeasurementRSRP: {Value: -90, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.NotContains(t, result.Output.AccessNetworks, types.AccessNetworkIwlan)
	require.Contains(t, result.Output.AccessNetworks, types.AccessNetworkEutran)
}

func TestEvaluate_VopsRequiredForMmtelBlocksWwanVoiceCall(t *testing.T) {
	b := basicBundle()
	b.RequireMmtelForVoPS = true
	in := Input{
		Capability:        types.CapabilityIMS,
		Bundle:            b,
		CallType:          types.CallVoice,
		IwlanAvailable:    false,
		WfcMode:           types.WfcModeWifiPreferred,
		CellularAvailable: true,
		VopsSupported:     false,
		Samples: Samples{
			types.AccessNetworkEutran: {types.MeasurementRSRP: {Value: -90, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.NotContains(t, result.Output.AccessNetworks, types.AccessNetworkEutran)
}

func TestEvaluate_VolteRoamingDisallowedBlocksWwan(t *testing.T) {
	b := basicBundle()
	b.VolteSupportsRoaming = false
	in := Input{
		Capability:        types.CapabilityIMS,
		Bundle:            b,
		CallType:          types.CallVoice,
		Roaming:           true,
		IwlanAvailable:    false,
		WfcMode:           types.WfcModeWifiPreferred,
		CellularAvailable: true,
		Samples: Samples{
			types.AccessNetworkEutran: {types.MeasurementRSRP: {Value: -90, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.NotContains(t, result.Output.AccessNetworks, types.AccessNetworkEutran)
}

func TestEvaluate_RestrictedTransportExcluded(t *testing.T) {
	b := basicBundle()
	in := Input{
		Capability:        types.CapabilityIMS,
		Bundle:            b,
		IwlanAvailable:    true,
		WfcMode:           types.WfcModeWifiPreferred,
		CellularAvailable: true,
		WlanRestricted:    true,
		Samples: Samples{
			types.AccessNetworkIwlan: {types.MeasurementRSSI: {Value: -50, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.NotContains(t, result.Output.AccessNetworks, types.AccessNetworkIwlan)
}

func TestEvaluate_HandoverFirstMatchWins(t *testing.T) {
	b := basicBundle()
	b.HandoverRules = []types.HandoverRule{
		{
			Source:       []types.AccessNetwork{types.AccessNetworkEutran},
			Target:       []types.AccessNetwork{types.AccessNetworkIwlan},
			Capabilities: []types.NetCapability{types.CapabilityIMS},
			Type:         types.HandoverDisallowed,
		},
		{
			Source:       []types.AccessNetwork{types.AccessNetworkEutran},
			Target:       []types.AccessNetwork{types.AccessNetworkIwlan},
			Capabilities: []types.NetCapability{types.CapabilityIMS},
			Type:         types.HandoverAllowed,
		},
	}
	in := Input{
		Capability:           types.CapabilityIMS,
		Bundle:               b,
		IwlanAvailable:       true,
		WfcEnabled:           true,
		WfcMode:              types.WfcModeWifiPreferred,
		CellularAvailable:    true,
		CurrentAccessNetwork: types.AccessNetworkEutran,
		HandoverActive:       true,
		Samples: Samples{
			types.AccessNetworkIwlan: {types.MeasurementRSSI: {Value: -50, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.NotContains(t, result.Output.AccessNetworks, types.AccessNetworkIwlan)
}

func TestEvaluate_HandoverAllowedWhenFirstRuleMatches(t *testing.T) {
	b := basicBundle()
	b.HandoverRules = []types.HandoverRule{
		{
			Source:       []types.AccessNetwork{types.AccessNetworkEutran},
			Target:       []types.AccessNetwork{types.AccessNetworkIwlan},
			Capabilities: []types.NetCapability{types.CapabilityIMS},
			Type:         types.HandoverAllowed,
		},
	}
	in := Input{
		Capability:           types.CapabilityIMS,
		Bundle:               b,
		IwlanAvailable:       true,
		WfcEnabled:           true,
		WfcMode:              types.WfcModeWifiPreferred,
		CellularAvailable:    true,
		CurrentAccessNetwork: types.AccessNetworkEutran,
		HandoverActive:       true,
		Samples: Samples{
			types.AccessNetworkIwlan: {types.MeasurementRSSI: {Value: -50, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.Contains(t, result.Output.AccessNetworks, types.AccessNetworkIwlan)
}

func TestEvaluate_NoHandoverRuleDeniesNonIMS(t *testing.T) {
	b := &ccm.Bundle{
		CapabilityPolicy: map[types.NetCapability]ccm.CapabilityPolicy{
			types.CapabilityMMS: {TransportType: types.TransportPolicyBoth},
		},
		Policies: []types.AccessNetworkSelectionPolicy{
			{
				Capability: types.CapabilityMMS,
				Target:     types.TransportWLAN,
			},
		},
	}
	in := Input{
		Capability:           types.CapabilityMMS,
		Bundle:               b,
		IwlanAvailable:       true,
		CellularAvailable:    true,
		CurrentAccessNetwork: types.AccessNetworkEutran,
		HandoverActive:       true,
	}
	result := Evaluate(in)
	require.Empty(t, result.Output.AccessNetworks)
}

func TestEvaluate_NoHandoverRuleAllowsIMSFallback(t *testing.T) {
	b := &ccm.Bundle{
		CapabilityPolicy: map[types.NetCapability]ccm.CapabilityPolicy{
			types.CapabilityIMS: {TransportType: types.TransportPolicyBoth},
		},
		Policies: []types.AccessNetworkSelectionPolicy{
			{
				Capability: types.CapabilityIMS,
				Target:     types.TransportWLAN,
			},
		},
	}
	in := Input{
		Capability:           types.CapabilityIMS,
		Bundle:               b,
		IwlanAvailable:       true,
		WfcEnabled:           true,
		WfcMode:              types.WfcModeWifiPreferred,
		CellularAvailable:    true,
		CurrentAccessNetwork: types.AccessNetworkEutran,
		HandoverActive:       true,
	}
	result := Evaluate(in)
	require.Contains(t, result.Output.AccessNetworks, types.AccessNetworkIwlan)
}

func TestEvaluate_WifiOnlyRatPreferenceBlocksWwanForNonIMS(t *testing.T) {
	b := &ccm.Bundle{
		CapabilityPolicy: map[types.NetCapability]ccm.CapabilityPolicy{
			types.CapabilityMMS: {TransportType: types.TransportPolicyBoth, RatPreference: types.RatPreferenceWifiOnly},
		},
		Policies: []types.AccessNetworkSelectionPolicy{
			{Capability: types.CapabilityMMS, Target: types.TransportWWAN},
		},
	}
	in := Input{
		Capability:        types.CapabilityMMS,
		Bundle:            b,
		CellularAvailable: true,
	}
	result := Evaluate(in)
	require.Empty(t, result.Output.AccessNetworks)
}

func TestEvaluate_AirplaneModeBlocksWwanAndIwlanWithoutCarrierOverride(t *testing.T) {
	b := basicBundle()
	in := Input{
		Capability:        types.CapabilityIMS,
		Bundle:            b,
		IwlanAvailable:    true,
		WfcEnabled:        true,
		WfcMode:           types.WfcModeWifiPreferred,
		CellularAvailable: true,
		AirplaneMode:      true,
		Samples: Samples{
			types.AccessNetworkIwlan: {types.MeasurementRSSI: {Value: -50, Valid: true}},
			types.AccessNetworkEutran: {types.MeasurementRSRP: {Value: -90, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.Empty(t, result.Output.AccessNetworks)
}

func TestEvaluate_AirplaneModeAllowsIwlanWhenCarrierAllowsWfc(t *testing.T) {
	b := basicBundle()
	b.AllowWfcInAirplaneMode = true
	in := Input{
		Capability:        types.CapabilityIMS,
		Bundle:            b,
		IwlanAvailable:    true,
		WfcEnabled:        true,
		WfcMode:           types.WfcModeWifiPreferred,
		CellularAvailable: true,
		AirplaneMode:      true,
		Samples: Samples{
			types.AccessNetworkIwlan: {types.MeasurementRSSI: {Value: -50, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.Contains(t, result.Output.AccessNetworks, types.AccessNetworkIwlan)
}

func TestEvaluate_InternationalRoamingBlocksIwlanWhenWwanAvailable(t *testing.T) {
	b := basicBundle()
	in := Input{
		Capability:        types.CapabilityIMS,
		Bundle:            b,
		IwlanAvailable:    true,
		WfcEnabled:        true,
		WfcMode:           types.WfcModeWifiPreferred,
		CellularAvailable: true,
		IsInternational:   true,
		Samples: Samples{
			types.AccessNetworkIwlan: {types.MeasurementRSSI: {Value: -50, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.NotContains(t, result.Output.AccessNetworks, types.AccessNetworkIwlan)
}

func TestEvaluate_WfcModeCellularPreferredMismatchesDefaultAnsps(t *testing.T) {
	b := basicBundle()
	in := Input{
		Capability:        types.CapabilityIMS,
		Bundle:            b,
		IwlanAvailable:    true,
		WfcEnabled:        true,
		WfcMode:           types.WfcModeCellularPreferred,
		CellularAvailable: true,
		Samples: Samples{
			types.AccessNetworkIwlan: {types.MeasurementRSSI: {Value: -50, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.Empty(t, result.Output.AccessNetworks)
}

func TestEvaluate_OverrideAtHomeForcesPreferWifiRegardlessOfWfcMode(t *testing.T) {
	b := basicBundle()
	b.ImsPreferWifiOverrideAtHome = true
	in := Input{
		Capability:        types.CapabilityIMS,
		Bundle:            b,
		Coverage:          types.CoverageHome,
		IwlanAvailable:    true,
		WfcEnabled:        true,
		WfcMode:           types.WfcModeCellularPreferred,
		CellularAvailable: true,
		Samples: Samples{
			types.AccessNetworkIwlan: {types.MeasurementRSSI: {Value: -50, Valid: true}},
		},
	}
	result := Evaluate(in)
	require.Contains(t, result.Output.AccessNetworks, types.AccessNetworkIwlan)
}

func TestEvaluate_PreConditionMismatchExcludesCandidate(t *testing.T) {
	b := &ccm.Bundle{
		CapabilityPolicy: map[types.NetCapability]ccm.CapabilityPolicy{
			types.CapabilityIMS: {TransportType: types.TransportPolicyBoth},
		},
		Policies: []types.AccessNetworkSelectionPolicy{
			{
				Capability:   types.CapabilityIMS,
				Target:       types.TransportWWAN,
				PreCondition: types.PreCondition{CallType: types.CallVoice},
			},
		},
	}
	in := Input{
		Capability:        types.CapabilityIMS,
		Bundle:            b,
		CallType:          types.CallIdle,
		CellularAvailable: true,
	}
	result := Evaluate(in)
	require.Empty(t, result.Output.AccessNetworks)
}
