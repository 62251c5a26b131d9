// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/feeds/fake"
	"grimm.is/qns/internal/qim"
	"grimm.is/qns/internal/types"
)

const testBundle = `
minimum_guarding_ms = 10

capability_policy "ims" {
  transport_type = 2
  rat_preference = 0
}

ansp "ims" "wlan" {
  threshold_group = ["IWLAN:RSSI:ge:-70:5"]
}

ansp "ims" "wwan" {
  threshold_group = ["EUTRAN:RSRP:ge:-110:0"]
}
`

func collectDecisions(q *QnsComponents, slot feeds.SlotID, cap types.NetCapability) (*[]types.QualifiedNetworksInfo, func()) {
	var mu sync.Mutex
	var got []types.QualifiedNetworksInfo
	unregister := q.Evaluator(slot).Subscribe(cap, func(info types.QualifiedNetworksInfo) {
		mu.Lock()
		got = append(got, info)
		mu.Unlock()
	})
	return &got, unregister
}

func TestRegisterSlot_WiresFeedsIntoEvaluator(t *testing.T) {
	telephony := fake.NewTelephony()
	connectivity := fake.NewConnectivity()
	wifi := fake.NewWifi()
	ims := fake.NewIms()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q, err := NewQnsComponents(ctx, Config{Telephony: telephony, Connectivity: connectivity, Wifi: wifi})
	require.NoError(t, err)
	defer q.Close()

	err = q.RegisterSlot(ctx, feeds.SlotID(0), SlotFeeds{
		Ims:           ims,
		IsDefaultData: true,
		AssetDefault:  []byte(testBundle),
	})
	require.NoError(t, err)
	require.NotNil(t, q.Evaluator(feeds.SlotID(0)))

	q.SetWfcSettings(feeds.SlotID(0), qim.WfcSettings{PlatformOverride: true, ProvisionedOnDevice: true, CarrierDefaultEnabled: true, ModeHome: types.WfcModeWifiPreferred})

	got, _ := collectDecisions(q, feeds.SlotID(0), types.CapabilityIMS)

	telephony.PushInfo(feeds.TelephonyInfo{
		CellularAvailable: true,
		Coverage:          types.CoverageHome,
		VopsSupported:     true,
		VoiceNetworkType:  types.AccessNetworkEutran,
		DataNetworkType:   types.AccessNetworkIwlan,
	})
	ims.Push(feeds.ImsEvent{ServiceAvailable: true, Registration: feeds.ImsRegistered})

	require.Eventually(t, func() bool { return len(*got) > 0 }, time.Second, 5*time.Millisecond)

	connectivity.Push(feeds.ConnectivityEvent{Available: true, IsWifi: true, LinkProtocol: types.LinkProtocolIPv4})
	wifi.PushRSSI(-60)

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

func TestRegisterSlot_WithoutWfcEnabledNeverQualifiesIwlanForIms(t *testing.T) {
	telephony := fake.NewTelephony()
	connectivity := fake.NewConnectivity()
	wifi := fake.NewWifi()
	ims := fake.NewIms()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q, err := NewQnsComponents(ctx, Config{Telephony: telephony, Connectivity: connectivity, Wifi: wifi})
	require.NoError(t, err)
	defer q.Close()

	err = q.RegisterSlot(ctx, feeds.SlotID(0), SlotFeeds{
		Ims:           ims,
		IsDefaultData: true,
		AssetDefault:  []byte(testBundle),
	})
	require.NoError(t, err)

	got, _ := collectDecisions(q, feeds.SlotID(0), types.CapabilityIMS)

	telephony.PushInfo(feeds.TelephonyInfo{
		CellularAvailable: true,
		Coverage:          types.CoverageHome,
		VopsSupported:     true,
		VoiceNetworkType:  types.AccessNetworkEutran,
	})
	ims.Push(feeds.ImsEvent{ServiceAvailable: true, Registration: feeds.ImsRegistered})
	connectivity.Push(feeds.ConnectivityEvent{Available: true, IsWifi: true, LinkProtocol: types.LinkProtocolIPv4})
	wifi.PushRSSI(-60)

	require.Eventually(t, func() bool { return len(*got) > 0 }, time.Second, 5*time.Millisecond)

	last := (*got)[len(*got)-1]
	require.NotContains(t, last.AccessNetworks, types.AccessNetworkIwlan)
}

func TestUnregisterSlot_TearsDownEvaluator(t *testing.T) {
	telephony := fake.NewTelephony()
	ims := fake.NewIms()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q, err := NewQnsComponents(ctx, Config{Telephony: telephony})
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.RegisterSlot(ctx, feeds.SlotID(0), SlotFeeds{Ims: ims, AssetDefault: []byte(testBundle)}))
	require.NotNil(t, q.Evaluator(feeds.SlotID(0)))

	q.UnregisterSlot(feeds.SlotID(0))
	require.Nil(t, q.Evaluator(feeds.SlotID(0)))
}

func TestRegisterSlot_RejectsDuplicateSlot(t *testing.T) {
	ims := fake.NewIms()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q, err := NewQnsComponents(ctx, Config{})
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.RegisterSlot(ctx, feeds.SlotID(0), SlotFeeds{Ims: ims, AssetDefault: []byte(testBundle)}))
	err = q.RegisterSlot(ctx, feeds.SlotID(0), SlotFeeds{Ims: fake.NewIms(), AssetDefault: []byte(testBundle)})
	require.Error(t, err)
}
