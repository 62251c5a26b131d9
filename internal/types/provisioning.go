// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package types

// ProvisioningKey is the closed set of provisioning items the core reacts
// to; any key outside this set is not a qns concern.
type ProvisioningKey int

const (
	ProvLteThreshold1 ProvisioningKey = iota // bad RSRP
	ProvLteThreshold2                        // worst RSRP
	ProvLteThreshold3                        // good RSRP
	ProvWifiThresholdA                       // good RSSI
	ProvWifiThresholdB                       // bad RSSI
	ProvLteEpdgTimerSec
	ProvWifiEpdgTimerSec
	ProvWfcRoamingEnabled
)

// ProvisioningInfo is a mapping from ProvisioningKey to its current value;
// presence in the map means the item has been explicitly provisioned and
// should override the corresponding carrier-config default.
type ProvisioningInfo struct {
	Values map[ProvisioningKey]int
}

// Get returns the provisioned value and whether it is present.
func (p ProvisioningInfo) Get(key ProvisioningKey) (int, bool) {
	if p.Values == nil {
		return 0, false
	}
	v, ok := p.Values[key]
	return v, ok
}

// IwlanAvailabilityInfo is INST's per-slot output. Equality (see Equal)
// compares Available and IsCrossWfc only.
type IwlanAvailabilityInfo struct {
	Available             bool
	IsCrossWfc             bool
	IsNotifyIwlanDisabled  bool
}

// Equal reports structural equality over Available and IsCrossWfc;
// IsNotifyIwlanDisabled is a transient flag on the transition itself and is
// excluded from the "did anything change" comparison per §4.3.
func (i IwlanAvailabilityInfo) Equal(o IwlanAvailabilityInfo) bool {
	return i.Available == o.Available && i.IsCrossWfc == o.IsCrossWfc
}

// LinkProtocol classifies the IP protocol(s) available on the Wi-Fi link.
type LinkProtocol int

const (
	LinkProtocolUnknown LinkProtocol = iota
	LinkProtocolIPv4
	LinkProtocolIPv6
	LinkProtocolIPv4v6
)

// WfcMode is the resolved Wi-Fi Calling mode for a given roaming state.
type WfcMode int

const (
	WfcModeWifiOnly WfcMode = iota
	WfcModeCellularPreferred
	WfcModeWifiPreferred
)
