// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ane

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/qns/internal/ccm"
	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/qm"
	"grimm.is/qns/internal/types"
)

func roveInBundle() *ccm.Bundle {
	return &ccm.Bundle{
		MinimumGuarding: 10 * time.Millisecond,
		CapabilityPolicy: map[types.NetCapability]ccm.CapabilityPolicy{
			types.CapabilityIMS: {TransportType: types.TransportPolicyBoth},
		},
		Policies: []types.AccessNetworkSelectionPolicy{
			{
				Capability: types.CapabilityIMS,
				Target:     types.TransportWLAN,
				ThresholdGroups: []types.ThresholdGroup{{Thresholds: []types.Threshold{
					{AccessNetwork: types.AccessNetworkIwlan, Measurement: types.MeasurementRSSI, Value: -70, Match: types.MatchGreaterEqual, WaitTime: 20 * time.Millisecond},
				}}},
			},
			{
				Capability: types.CapabilityIMS,
				Target:     types.TransportWWAN,
				ThresholdGroups: []types.ThresholdGroup{{Thresholds: []types.Threshold{
					{AccessNetwork: types.AccessNetworkEutran, Measurement: types.MeasurementRSRP, Value: -110, Match: types.MatchGreaterEqual},
				}}},
			},
		},
	}
}

func collect(e *Evaluator, cap types.NetCapability) (*[]types.QualifiedNetworksInfo, func()) {
	var mu sync.Mutex
	var got []types.QualifiedNetworksInfo
	unregister := e.Subscribe(cap, func(info types.QualifiedNetworksInfo) {
		mu.Lock()
		got = append(got, info)
		mu.Unlock()
	})
	return &got, unregister
}

func TestEvaluator_SubscribeDeliversCurrentValueSynchronously(t *testing.T) {
	e := New(0, nil, nil, nil)
	defer e.Close()
	e.SetBundle(roveInBundle())
	e.SetCellularState(true, types.CoverageHome, true, types.AccessNetworkEutran, false, false, false)
	e.SetWfcMode(types.WfcModeWifiPreferred)
	e.SetIwlanAvailability(types.IwlanAvailabilityInfo{Available: false})
	e.OnMeasurement(types.AccessNetworkEutran, types.MeasurementRSRP, types.Measurement{Value: -90, Valid: true})

	var last types.QualifiedNetworksInfo
	e.Subscribe(types.CapabilityIMS, func(info types.QualifiedNetworksInfo) { last = info })
	require.Contains(t, last.AccessNetworks, types.AccessNetworkEutran)
}

func TestEvaluator_ThresholdCrossingTriggersReevaluation(t *testing.T) {
	e := New(0, nil, nil, nil)
	defer e.Close()
	e.SetBundle(roveInBundle())
	e.SetCellularState(true, types.CoverageHome, true, types.AccessNetworkEutran, false, false, false)
	e.SetWfcEnabled(true)
	e.SetWfcMode(types.WfcModeWifiPreferred)
	e.SetIwlanAvailability(types.IwlanAvailabilityInfo{Available: true})

	got, _ := collect(e, types.CapabilityIMS)

	e.OnMeasurement(types.AccessNetworkIwlan, types.MeasurementRSSI, types.Measurement{Value: -60, Valid: true})
	e.loop.PostAndWait(func() {})

	last := (*got)[len(*got)-1]
	require.Contains(t, last.AccessNetworks, types.AccessNetworkIwlan)
}

func TestEvaluator_NotifyIwlanDisabledOnForcedTransition(t *testing.T) {
	e := New(0, nil, nil, nil)
	defer e.Close()
	e.SetBundle(roveInBundle())
	e.SetCellularState(true, types.CoverageHome, true, types.AccessNetworkEutran, false, false, false)
	e.SetWfcEnabled(true)
	e.SetWfcMode(types.WfcModeWifiPreferred)
	e.SetIwlanAvailability(types.IwlanAvailabilityInfo{Available: true})
	e.OnMeasurement(types.AccessNetworkIwlan, types.MeasurementRSSI, types.Measurement{Value: -60, Valid: true})

	got, _ := collect(e, types.CapabilityIMS)
	e.SetIwlanAvailability(types.IwlanAvailabilityInfo{Available: false, IsNotifyIwlanDisabled: true})
	e.loop.PostAndWait(func() {})

	require.NotEmpty(t, *got)
	last := (*got)[len(*got)-1]
	require.True(t, last.NotifyIwlanDisabled)
}

func TestEvaluator_RestrictionSuppressesTransport(t *testing.T) {
	e := New(0, nil, nil, nil)
	defer e.Close()
	e.SetBundle(roveInBundle())
	e.SetCellularState(true, types.CoverageHome, true, types.AccessNetworkEutran, false, false, false)
	e.SetWfcEnabled(true)
	e.SetWfcMode(types.WfcModeWifiPreferred)
	e.SetIwlanAvailability(types.IwlanAvailabilityInfo{Available: true})
	e.OnMeasurement(types.AccessNetworkIwlan, types.MeasurementRSSI, types.Measurement{Value: -60, Valid: true})

	got, _ := collect(e, types.CapabilityIMS)
	e.SetRestriction(types.CapabilityIMS, types.TransportWLAN, true)
	e.loop.PostAndWait(func() {})

	require.NotEmpty(t, *got)
	last := (*got)[len(*got)-1]
	require.NotContains(t, last.AccessNetworks, types.AccessNetworkIwlan)
}

func TestEvaluator_ThresholdRegistrationRoundTripsThroughQualityMonitor(t *testing.T) {
	var e *Evaluator
	wm := qm.NewWifiMonitor(nil, func(slot feeds.SlotID, cap types.NetCapability, an types.AccessNetwork, meas types.MeasurementType, sample types.Measurement) {
		e.OnMeasurement(an, meas, sample)
	})
	e = New(0, nil, nil, wm)
	defer e.Close()
	e.SetBundle(roveInBundle())
	e.SetCellularState(true, types.CoverageHome, true, types.AccessNetworkEutran, false, false, false)
	e.SetWfcEnabled(true)
	e.SetWfcMode(types.WfcModeWifiPreferred)
	e.SetIwlanAvailability(types.IwlanAvailabilityInfo{Available: true})

	got, _ := collect(e, types.CapabilityIMS)

	// Drives the sample through the quality monitor itself, rather than
	// calling OnMeasurement directly, to exercise the threshold
	// registration the evaluator performed against wm. roveInBundle's WLAN
	// threshold carries a 20ms backhaul dwell, so the match is only
	// reported to the evaluator after that dwell elapses.
	wm.OnRSSI(0, -60)

	require.Eventually(t, func() bool {
		n := len(*got)
		if n == 0 {
			return false
		}
		last := (*got)[n-1]
		for _, an := range last.AccessNetworks {
			if an == types.AccessNetworkIwlan {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
