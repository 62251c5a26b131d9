// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package qm

import (
	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/types"
)

// CellularMonitor is the per-slot cellular quality monitor. Unlike
// WifiMonitor (a process-wide singleton), one CellularMonitor is owned per
// slot, matching the lifecycle rule that per-slot entities are created on
// slot activation.
type CellularMonitor struct {
	*Monitor
}

// NewCellularMonitor constructs the cellular quality monitor for a slot.
func NewCellularMonitor(logger *logging.Logger, onMatch func(feeds.SlotID, types.NetCapability, types.AccessNetwork, types.MeasurementType, types.Measurement)) *CellularMonitor {
	return &CellularMonitor{Monitor: New("cellular", logger, onMatch)}
}

// OnSignalStrength delivers a measurement sample from the per-measurement-
// type, per-access-network signal-threshold callback.
func (c *CellularMonitor) OnSignalStrength(slot feeds.SlotID, accessNetwork types.AccessNetwork, measurement types.MeasurementType, value int32) {
	c.OnSample(slot, accessNetwork, measurement, types.Measurement{Value: value, Valid: true})
}
