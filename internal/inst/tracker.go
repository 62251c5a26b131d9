// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package inst implements the Iwlan Network Status Tracker: a
// process-wide singleton with per-slot state, computing IwlanAvailabilityInfo
// from Wi-Fi availability, country code, cross-SIM DDS, link protocol, and
// per-slot IWLAN registration, per §4.3.
package inst

import (
	"strings"
	"sync"

	"grimm.is/qns/internal/events"
	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/statestore"
	"grimm.is/qns/internal/types"
)

// slotState is the per-slot data INST tracks.
type slotState struct {
	iwlanRegistered  bool
	crossSimEnabled  bool
	isDefaultDataSub bool
	lastInfo         types.IwlanAvailabilityInfo
	hasEmittedOnce   bool
	listeners        *events.Registrants[func(types.IwlanAvailabilityInfo)]
}

// Tracker is the process-wide INST singleton. It is owned by
// internal/registry.QnsComponents, matching the design notes' guidance to
// model the global singleton as an owned object rather than a package-level
// variable reached for directly by components.
type Tracker struct {
	mu     sync.Mutex
	logger *logging.Logger
	cc     *statestore.CountryCode

	wifiAvailable    bool
	wifiToggleOn     bool
	connectedDDSSub  int
	hasConnectedDDS  bool
	linkProtocol     types.LinkProtocol
	countryCode      string
	blockIPv6OnlyWifi bool

	slots map[feeds.SlotID]*slotState
}

// New constructs an INST tracker. cc may be nil to disable country-code
// persistence (tests).
func New(logger *logging.Logger, cc *statestore.CountryCode) *Tracker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{
		logger: logger.WithComponent("inst"),
		cc:     cc,
		slots:  make(map[feeds.SlotID]*slotState),
	}
}

// RegisterSlot adds a slot to track, per the lifecycle rule that per-slot
// entities are created on slot activation.
func (t *Tracker) RegisterSlot(slot feeds.SlotID, crossSimEnabled, isDefaultDataSub bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[slot] = &slotState{
		crossSimEnabled:  crossSimEnabled,
		isDefaultDataSub: isDefaultDataSub,
		listeners:        events.NewRegistrants[func(types.IwlanAvailabilityInfo)](),
	}
}

// UnregisterSlot destroys per-slot state on slot deactivation.
func (t *Tracker) UnregisterSlot(slot feeds.SlotID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, slot)
}

// Subscribe registers a sink for IwlanAvailabilityInfo changes on slot and
// synchronously delivers the slot's last known value, matching the
// ordering guarantee that a newly registered listener sees the current
// state before any subsequent event.
func (t *Tracker) Subscribe(slot feeds.SlotID, sink func(types.IwlanAvailabilityInfo)) (unregister func()) {
	t.mu.Lock()
	st, ok := t.slots[slot]
	if !ok {
		t.mu.Unlock()
		return func() {}
	}
	token := st.listeners.Register(sink)
	last := st.lastInfo
	hasEmitted := st.hasEmittedOnce
	t.mu.Unlock()

	if hasEmitted {
		sink(last)
	}
	return func() { st.listeners.Unregister(token) }
}

// OnWifiAvailabilityChanged handles the connectivity-manager
// onAvailable/onLost callbacks for TRANSPORT_WIFI.
func (t *Tracker) OnWifiAvailabilityChanged(available bool) {
	t.mu.Lock()
	t.wifiAvailable = available
	t.mu.Unlock()
	t.recomputeAll()
}

// OnWifiToggled handles a WFC-enable/disable event.
func (t *Tracker) OnWifiToggled(on bool) {
	t.mu.Lock()
	t.wifiToggleOn = on
	t.mu.Unlock()
	t.recomputeAll()
}

// OnDefaultNetworkCellular records the connected DDS subscription id when
// the default network is cellular (including the VCN-wrapping case, which
// upstream callers resolve before calling this).
func (t *Tracker) OnDefaultNetworkCellular(subID int) {
	t.mu.Lock()
	t.connectedDDSSub = subID
	t.hasConnectedDDS = true
	t.mu.Unlock()
	t.recomputeAll()
}

// OnDefaultNetworkLost clears the connected DDS subscription.
func (t *Tracker) OnDefaultNetworkLost() {
	t.mu.Lock()
	t.hasConnectedDDS = false
	t.mu.Unlock()
	t.recomputeAll()
}

// OnCountryCode handles the active-country-code callback, upper-casing and
// persisting it as the last known value.
func (t *Tracker) OnCountryCode(cc string) {
	upper := strings.ToUpper(cc)
	t.mu.Lock()
	t.countryCode = upper
	t.mu.Unlock()
	if t.cc != nil {
		if err := t.cc.Set(upper); err != nil {
			t.logger.Warn("failed to persist country code", "error", err)
		}
	}
}

// CountryCode returns the last observed (or persisted) country code.
func (t *Tracker) CountryCode() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.countryCode != "" {
		return t.countryCode
	}
	if t.cc != nil {
		if v, err := t.cc.Get(); err == nil {
			return v
		}
	}
	return ""
}

// OnLinkProtocolChanged handles onLinkPropertiesChanged for the Wi-Fi
// network, classifying addresses into IPV4/IPV6/IPV4V6/UNKNOWN.
func (t *Tracker) OnLinkProtocolChanged(hasIPv4, hasIPv6 bool) {
	var lp types.LinkProtocol
	switch {
	case hasIPv4 && hasIPv6:
		lp = types.LinkProtocolIPv4v6
	case hasIPv4:
		lp = types.LinkProtocolIPv4
	case hasIPv6:
		lp = types.LinkProtocolIPv6
	default:
		lp = types.LinkProtocolUnknown
	}
	t.mu.Lock()
	t.linkProtocol = lp
	t.mu.Unlock()
	t.recomputeAll()
}

// SetBlockIPv6OnlyWifi applies the carrier config's block_ipv6_only_wifi
// policy.
func (t *Tracker) SetBlockIPv6OnlyWifi(block bool) {
	t.mu.Lock()
	t.blockIPv6OnlyWifi = block
	t.mu.Unlock()
	t.recomputeAll()
}

// OnIwlanRegistrationChanged forwards the IWLAN data-service registration
// flag for a slot.
func (t *Tracker) OnIwlanRegistrationChanged(slot feeds.SlotID, registered bool) {
	t.mu.Lock()
	st, ok := t.slots[slot]
	if ok {
		st.iwlanRegistered = registered
	}
	t.mu.Unlock()
	if ok {
		t.recompute(slot)
	}
}

func (t *Tracker) recomputeAll() {
	t.mu.Lock()
	slotIDs := make([]feeds.SlotID, 0, len(t.slots))
	for id := range t.slots {
		slotIDs = append(slotIDs, id)
	}
	t.mu.Unlock()
	for _, id := range slotIDs {
		t.recompute(id)
	}
}

func blockIPv6OnlyWifiBlocks(block bool, lp types.LinkProtocol) bool {
	return block && lp == types.LinkProtocolIPv6
}

func (t *Tracker) recompute(slot feeds.SlotID) {
	t.mu.Lock()
	st, ok := t.slots[slot]
	if !ok {
		t.mu.Unlock()
		return
	}

	wifiPath := t.wifiAvailable && t.wifiToggleOn && !blockIPv6OnlyWifiBlocks(t.blockIPv6OnlyWifi, t.linkProtocol) && st.iwlanRegistered

	crossSim := st.crossSimEnabled && !st.isDefaultDataSub && t.hasConnectedDDS && t.connectedDDSSub != int(slot)
	crossSimPath := crossSim && st.iwlanRegistered

	info := types.IwlanAvailabilityInfo{
		Available:  wifiPath || crossSimPath,
		IsCrossWfc: !wifiPath && crossSimPath,
	}

	prevAvailable := st.lastInfo.Available
	prevEmitted := st.hasEmittedOnce
	same := prevEmitted && st.lastInfo.Equal(info)

	if !same {
		// notify_iwlan_disabled is the transient flag set when the
		// transition is "available -> unavailable" because Wi-Fi was
		// disabled or cross-SIM was disabled, so downstream tears the
		// WLAN connection rather than keeping it for handover.
		info.IsNotifyIwlanDisabled = prevEmitted && prevAvailable && !info.Available && (!t.wifiToggleOn || !crossSim)
		st.lastInfo = info
		st.hasEmittedOnce = true
	}
	listeners := st.listeners
	t.mu.Unlock()

	if !same {
		for _, sink := range listeners.Snapshot() {
			sink(info)
		}
	}
}
