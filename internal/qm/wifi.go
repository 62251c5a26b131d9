// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package qm

import (
	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/types"
)

// WifiMonitor is the process-wide Wi-Fi quality monitor singleton. Its
// radio-registration hook is a capabilities-changed callback scoped to a
// signal-strength threshold; OnRSSI is its fallback path, fed from a
// broadcast receiver for RSSI changes when the capabilities callback isn't
// available on a given platform build.
type WifiMonitor struct {
	*Monitor
}

// NewWifiMonitor constructs the Wi-Fi quality monitor.
func NewWifiMonitor(logger *logging.Logger, onMatch func(feeds.SlotID, types.NetCapability, types.AccessNetwork, types.MeasurementType, types.Measurement)) *WifiMonitor {
	return &WifiMonitor{Monitor: New("wifi", logger, onMatch)}
}

// OnRSSI delivers an RSSI sample for slot from the broadcast-receiver
// fallback path.
func (w *WifiMonitor) OnRSSI(slot feeds.SlotID, rssi int32) {
	w.OnSample(slot, types.AccessNetworkIwlan, types.MeasurementRSSI, types.Measurement{Value: rssi, Valid: true})
}

// OnCapabilitiesChanged delivers an RSSI sample from the capabilities-
// changed callback path (the platform's preferred signal source when
// available).
func (w *WifiMonitor) OnCapabilitiesChanged(slot feeds.SlotID, rssi int32) {
	w.OnSample(slot, types.AccessNetworkIwlan, types.MeasurementRSSI, types.Measurement{Value: rssi, Valid: true})
}
