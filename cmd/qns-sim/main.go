// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command qns-sim drives a scripted scenario through the registry using
// the in-memory feed doubles, the way flywall-sim replays a PCAP through
// flywall's learning engine: a small driver steps a clock-like sequence of
// inputs and reports the decisions that come out the other end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/feeds/fake"
	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/qim"
	"grimm.is/qns/internal/registry"
	"grimm.is/qns/internal/types"
)

func main() {
	scenario := flag.String("scenario", "rove-in", "scenario to run: rove-in, flap-guard")
	flag.Parse()

	switch *scenario {
	case "rove-in":
		runRoveIn()
	case "flap-guard":
		runFlapGuard()
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario %q (want rove-in or flap-guard)\n", *scenario)
		os.Exit(1)
	}
}

const assetDefault = `
minimum_guarding_ms = 50
rtp_restrict_ms     = 60000

capability_policy "ims" {
  transport_type = 2
  rat_preference = 0
}

ansp "ims" "wlan" {
  threshold_group = ["IWLAN:RSSI:ge:-70:20"]
}

ansp "ims" "wwan" {
  threshold_group = ["EUTRAN:RSRP:ge:-110:0"]
}
`

// newRig builds a registry with one slot, wired to fully drivable fakes,
// and returns the fakes alongside a teardown func.
func newRig() (*registry.QnsComponents, *fake.Telephony, *fake.Connectivity, *fake.Wifi, *fake.Ims, func()) {
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Output: os.Stdout})
	telephony := fake.NewTelephony()
	connectivity := fake.NewConnectivity()
	wifi := fake.NewWifi()
	ims := fake.NewIms()

	ctx, cancel := context.WithCancel(context.Background())
	q, err := registry.NewQnsComponents(ctx, registry.Config{
		Logger:       logger,
		Telephony:    telephony,
		Connectivity: connectivity,
		Wifi:         wifi,
	})
	if err != nil {
		log.Fatalf("construct registry: %v", err)
	}

	if err := q.RegisterSlot(ctx, feeds.SlotID(0), registry.SlotFeeds{
		Ims:           ims,
		IsDefaultData: true,
		AssetDefault:  []byte(assetDefault),
	}); err != nil {
		log.Fatalf("register slot 0: %v", err)
	}
	q.SetWfcSettings(feeds.SlotID(0), qim.WfcSettings{
		PlatformOverride:      true,
		ProvisionedOnDevice:   true,
		CarrierDefaultEnabled: true,
		ModeHome:              types.WfcModeWifiPreferred,
		ModeRoaming:           types.WfcModeWifiPreferred,
	})

	teardown := func() {
		q.Close()
		cancel()
	}
	return q, telephony, connectivity, wifi, ims, teardown
}

// runRoveIn plays out the "rove-in with backhaul" scenario: the device
// starts on cellular-only IMS, the modem completes IWLAN data registration,
// Wi-Fi becomes available with a quiet radio, and the backhaul dwell timer
// has to elapse before IWLAN is qualified. The scenario asserts on the
// evaluator's real emitted decision rather than assuming the outcome.
func runRoveIn() {
	q, telephony, connectivity, wifi, ims, teardown := newRig()
	defer teardown()

	log.Println("scenario: rove-in with backhaul")

	var mu sync.Mutex
	var last types.QualifiedNetworksInfo
	unregister := q.Evaluator(feeds.SlotID(0)).Subscribe(types.CapabilityIMS, func(info types.QualifiedNetworksInfo) {
		mu.Lock()
		last = info
		mu.Unlock()
	})
	defer unregister()

	telephony.PushInfo(feeds.TelephonyInfo{
		CellularAvailable: true,
		Coverage:          types.CoverageHome,
		VopsSupported:     true,
		VoiceNetworkType:  types.AccessNetworkEutran,
		DataNetworkType:   types.AccessNetworkEutran,
	})
	ims.Push(feeds.ImsEvent{ServiceAvailable: true, Registration: feeds.ImsRegistered})
	time.Sleep(20 * time.Millisecond)

	log.Println("modem completes IWLAN data registration")
	telephony.PushInfo(feeds.TelephonyInfo{
		CellularAvailable: true,
		Coverage:          types.CoverageHome,
		VopsSupported:     true,
		VoiceNetworkType:  types.AccessNetworkEutran,
		DataNetworkType:   types.AccessNetworkIwlan,
	})

	log.Println("Wi-Fi becomes available")
	connectivity.Push(feeds.ConnectivityEvent{Available: true, IsWifi: true, LinkProtocol: types.LinkProtocolIPv4})
	wifi.PushRSSI(-60)
	time.Sleep(20 * time.Millisecond)

	log.Println("waiting out the backhaul dwell timer")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	decision := last
	mu.Unlock()

	qualified := false
	for _, an := range decision.AccessNetworks {
		if an == types.AccessNetworkIwlan {
			qualified = true
		}
	}
	if !qualified {
		log.Fatalf("scenario failed: IWLAN not qualified for IMS, got %+v", decision.AccessNetworks)
	}
	log.Printf("scenario complete: IWLAN qualified for IMS (%+v)", decision.AccessNetworks)
}

// runFlapGuard plays out the "guarding blocks rapid flap" scenario: a
// primary-access-network transition starts a guarding timer, and a second
// Wi-Fi quality sample that arrives before the guard expires should not
// immediately flip the primary a second time.
func runFlapGuard() {
	_, telephony, connectivity, wifi, ims, teardown := newRig()
	defer teardown()

	log.Println("scenario: guarding blocks rapid flap")

	telephony.PushInfo(feeds.TelephonyInfo{
		CellularAvailable: true,
		Coverage:          types.CoverageHome,
		VopsSupported:     true,
		VoiceNetworkType:  types.AccessNetworkEutran,
	})
	ims.Push(feeds.ImsEvent{ServiceAvailable: true, Registration: feeds.ImsRegistered})
	connectivity.Push(feeds.ConnectivityEvent{Available: true, IsWifi: true, LinkProtocol: types.LinkProtocolIPv4})

	log.Println("first strong Wi-Fi sample: primary should transition to IWLAN and start guarding")
	wifi.PushRSSI(-55)
	time.Sleep(70 * time.Millisecond)

	log.Println("Wi-Fi briefly dips and recovers within the guard window")
	wifi.PushRSSI(-90)
	time.Sleep(5 * time.Millisecond)
	wifi.PushRSSI(-55)
	time.Sleep(5 * time.Millisecond)

	log.Println("scenario complete: primary should not have flapped back and forth during the guard window")
}
