// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package qm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/types"
)

func TestMonitor_FiresImmediatelyWithNoWaitTime(t *testing.T) {
	var mu sync.Mutex
	var fired []types.NetCapability
	m := New("cellular", nil, func(_ feeds.SlotID, cap types.NetCapability, _ types.AccessNetwork, _ types.MeasurementType, _ types.Measurement) {
		mu.Lock()
		fired = append(fired, cap)
		mu.Unlock()
	})

	m.UpdateThresholds(0, types.CapabilityIMS, []types.Threshold{
		{AccessNetwork: types.AccessNetworkEutran, Measurement: types.MeasurementRSRP, Value: -100, Match: types.MatchGreaterEqual},
	})
	m.OnSample(0, types.AccessNetworkEutran, types.MeasurementRSRP, types.Measurement{Value: -90, Valid: true})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []types.NetCapability{types.CapabilityIMS}, fired)
}

func TestMonitor_BackhaulDwellDelaysNotification(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	m := New("cellular", nil, func(feeds.SlotID, types.NetCapability, types.AccessNetwork, types.MeasurementType, types.Measurement) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	m.UpdateThresholds(0, types.CapabilityIMS, []types.Threshold{
		{AccessNetwork: types.AccessNetworkEutran, Measurement: types.MeasurementRSRP, Value: -100, Match: types.MatchGreaterEqual, WaitTime: 30 * time.Millisecond},
	})
	m.OnSample(0, types.AccessNetworkEutran, types.MeasurementRSRP, types.Measurement{Value: -90, Valid: true})

	mu.Lock()
	require.Equal(t, 0, fired)
	mu.Unlock()

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, fired)
}

func TestMonitor_DwellCancelledIfSignalLeavesRangeBeforeTimerFires(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	m := New("cellular", nil, func(feeds.SlotID, types.NetCapability, types.AccessNetwork, types.MeasurementType, types.Measurement) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	m.UpdateThresholds(0, types.CapabilityIMS, []types.Threshold{
		{AccessNetwork: types.AccessNetworkEutran, Measurement: types.MeasurementRSRP, Value: -100, Match: types.MatchGreaterEqual, WaitTime: 40 * time.Millisecond},
	})
	m.OnSample(0, types.AccessNetworkEutran, types.MeasurementRSRP, types.Measurement{Value: -90, Valid: true})
	time.Sleep(10 * time.Millisecond)
	// Signal leaves the matching range before the dwell timer fires.
	m.OnSample(0, types.AccessNetworkEutran, types.MeasurementRSRP, types.Measurement{Value: -110, Valid: true})

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, fired)
}

func TestMonitor_TightestRegistrationAcrossCapabilities(t *testing.T) {
	m := New("cellular", nil, nil)
	var registered types.Threshold
	m.SetRadioHooks(func(_ registrationKey, tightest types.Threshold) {
		registered = tightest
	}, nil)

	m.UpdateThresholds(0, types.CapabilityIMS, []types.Threshold{
		{AccessNetwork: types.AccessNetworkEutran, Measurement: types.MeasurementRSRP, Value: -95, Match: types.MatchGreaterEqual},
	})
	m.UpdateThresholds(0, types.CapabilityMMS, []types.Threshold{
		{AccessNetwork: types.AccessNetworkEutran, Measurement: types.MeasurementRSRP, Value: -110, Match: types.MatchGreaterEqual},
	})

	// Rove-in (>=) registers the min value across interested capabilities.
	require.Equal(t, int32(-110), registered.Value)
}

func TestMonitor_OnlyMatchingInterestsNotified(t *testing.T) {
	var mu sync.Mutex
	var fired []types.NetCapability
	m := New("cellular", nil, func(_ feeds.SlotID, cap types.NetCapability, _ types.AccessNetwork, _ types.MeasurementType, _ types.Measurement) {
		mu.Lock()
		fired = append(fired, cap)
		mu.Unlock()
	})

	m.UpdateThresholds(0, types.CapabilityIMS, []types.Threshold{
		{AccessNetwork: types.AccessNetworkEutran, Measurement: types.MeasurementRSRP, Value: -90, Match: types.MatchGreaterEqual},
	})
	m.UpdateThresholds(0, types.CapabilityMMS, []types.Threshold{
		{AccessNetwork: types.AccessNetworkEutran, Measurement: types.MeasurementRSRP, Value: -110, Match: types.MatchGreaterEqual},
	})

	m.OnSample(0, types.AccessNetworkEutran, types.MeasurementRSRP, types.Measurement{Value: -100, Valid: true})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []types.NetCapability{types.CapabilityMMS}, fired)
}

func TestMonitor_ReplacingThresholdsUnregistersStaleKey(t *testing.T) {
	m := New("cellular", nil, nil)
	var unregisteredKeys []registrationKey
	m.SetRadioHooks(nil, func(key registrationKey) {
		unregisteredKeys = append(unregisteredKeys, key)
	})

	m.UpdateThresholds(0, types.CapabilityIMS, []types.Threshold{
		{AccessNetwork: types.AccessNetworkEutran, Measurement: types.MeasurementRSRP, Value: -95, Match: types.MatchGreaterEqual},
	})
	m.UpdateThresholds(0, types.CapabilityIMS, []types.Threshold{
		{AccessNetwork: types.AccessNetworkIwlan, Measurement: types.MeasurementRSSI, Value: -65, Match: types.MatchGreaterEqual},
	})

	require.Contains(t, unregisteredKeys, registrationKey{slot: 0, accessNetwork: types.AccessNetworkEutran, measurement: types.MeasurementRSRP})
}
