// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package feeds declares the narrow collaborator interfaces the core
// requires of external platform plumbing (telephony, connectivity, Wi-Fi,
// IMS, carrier-config, provisioning, and an out-of-band alternative event
// source). Production implementations of these interfaces — Android
// service binding, radio telemetry, carrier-config bundle loading — are
// explicitly out of scope for this repo; see internal/feeds/fake for the
// in-memory test doubles used by unit tests and cmd/qns-sim.
package feeds

import (
	"context"

	"grimm.is/qns/internal/types"
)

// SlotID identifies a subscription slot on a multi-SIM device.
type SlotID int

// TelephonyInfo is the per-slot telephony state the ANE consumes.
type TelephonyInfo struct {
	CellularAvailable bool
	Coverage          types.Coverage
	RegisteredPLMN    string
	RoamingType       string
	DataNetworkType   types.AccessNetwork
	VoiceNetworkType  types.AccessNetwork
	VopsSupported     bool
	EmcBarred         bool
	EmfBarred         bool
	// AirplaneModeOn mirrors the service state's radio-power flag. It is
	// reported per-slot the way ServiceState surfaces it, even though the
	// underlying toggle is device-wide.
	AirplaneModeOn bool
}

// TelephonyFeed is the upstream source of per-slot telephony state,
// precise-call-state snapshots, and SRVCC completion signals.
type TelephonyFeed interface {
	Subscribe(ctx context.Context, slot SlotID, onInfo func(TelephonyInfo), onCallState func(types.CallSnapshot), onSrvcc func()) (unsubscribe func(), err error)
}

// ConnectivityEvent mirrors the default-network callback surface.
type ConnectivityEvent struct {
	Available        bool
	IsWifi            bool
	IsCellular        bool
	CellularSubID     int
	LinkProtocol      types.LinkProtocol
	BlockedForProfile bool
}

// ConnectivityFeed is the upstream default-network callback source.
type ConnectivityFeed interface {
	Subscribe(ctx context.Context, onChange func(ConnectivityEvent)) (unsubscribe func(), err error)
}

// WifiFeed delivers the active-country-code callback and RSSI-change
// broadcasts.
type WifiFeed interface {
	Subscribe(ctx context.Context, onCountryCode func(string), onRSSI func(rssi int32)) (unsubscribe func(), err error)
}

// ImsRegistrationState mirrors the IMS feed's registration callback.
type ImsRegistrationState int

const (
	ImsUnregistered ImsRegistrationState = iota
	ImsRegistered
	ImsTechChangeFailed
)

// ImsEvent is a single IMS feed notification.
type ImsEvent struct {
	ServiceAvailable bool
	Registration     ImsRegistrationState
	OverWlan         bool
	FailureReason    int
}

// ImsFeed is the upstream IMS service/registration/MMTEL-feature source.
type ImsFeed interface {
	Subscribe(ctx context.Context, onEvent func(ImsEvent)) (unsubscribe func(), err error)
	// MmtelFeatureState performs the one blocking query the design allows,
	// bounded by ctx (callers should apply the 2s timeout).
	MmtelFeatureState(ctx context.Context) (available bool, err error)
}

// CarrierConfigFeed delivers the raw per-sub bundle, the asset-default
// bundle, and carrier-id/sub-id change events.
type CarrierConfigFeed interface {
	Subscribe(ctx context.Context, onCarrierIDChange func(carrierID string, assetDefault, carrierOverride []byte), onSameCarrierUpdate func(carrierOverride []byte)) (unsubscribe func(), err error)
}

// ProvisioningFeed delivers provisioning-item-changed events for the
// closed key set in types.ProvisioningKey.
type ProvisioningFeed interface {
	Subscribe(ctx context.Context, onChange func(types.ProvisioningInfo)) (unsubscribe func(), err error)
}

// AltEvent is an out-of-band, optional notification.
type AltEvent struct {
	RTPLowQuality           bool
	EmergencyPreferredHint  *types.AccessNetwork
	TryWfcConnection        bool
}

// AltEventFeed is the optional alternative event source.
type AltEventFeed interface {
	Subscribe(ctx context.Context, onEvent func(AltEvent)) (unsubscribe func(), err error)
}
