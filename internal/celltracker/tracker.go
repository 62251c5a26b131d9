// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package celltracker implements the Cellular Network Status Tracker: it
// forwards filtered telephony state (VoPS, service-state, coverage) from
// the telephony feed to the evaluator, de-duplicating repeated
// notifications of identical state.
package celltracker

import (
	"sync"

	"grimm.is/qns/internal/ccm"
	"grimm.is/qns/internal/events"
	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/types"
)

// State is the filtered telephony view the evaluator consumes.
type State struct {
	CellularAvailable bool
	Coverage          types.Coverage
	VopsSupported     bool
	DataNetworkType   types.AccessNetwork
	VoiceNetworkType  types.AccessNetwork
	EmcBarred         bool
	EmfBarred         bool
	AirplaneModeOn    bool
	IsInternational   bool
}

func (s State) equal(o State) bool { return s == o }

// Tracker derives Coverage from the raw telephony info's serving PLMN and
// roaming type against the carrier config's domestic/international PLMN
// lists, and forwards a de-duplicated State to subscribers. One Tracker is
// owned per slot.
type Tracker struct {
	mu      sync.Mutex
	logger  *logging.Logger
	bundle  *ccm.Bundle
	last    State
	hasLast bool

	listeners *events.Registrants[func(State)]
}

// New constructs a Cellular Network Status Tracker. bundle supplies the
// domestic-PLMN list used to derive Coverage; it may be swapped via
// SetBundle on carrier-config reload.
func New(logger *logging.Logger, bundle *ccm.Bundle) *Tracker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{
		logger:    logger.WithComponent("celltracker"),
		bundle:    bundle,
		listeners: events.NewRegistrants[func(State)](),
	}
}

// SetBundle swaps the carrier-config bundle used for coverage derivation,
// called on carrier-id change and same-carrier content update.
func (t *Tracker) SetBundle(bundle *ccm.Bundle) {
	t.mu.Lock()
	t.bundle = bundle
	t.mu.Unlock()
}

// Subscribe registers a sink, delivering the current value synchronously
// if one has been computed yet.
func (t *Tracker) Subscribe(sink func(State)) (unregister func()) {
	t.mu.Lock()
	token := t.listeners.Register(sink)
	last := t.last
	hasLast := t.hasLast
	t.mu.Unlock()
	if hasLast {
		sink(last)
	}
	return func() { t.listeners.Unregister(token) }
}

// OnTelephonyInfo derives Coverage from info and forwards the resulting
// State if it differs from the last notified one.
func (t *Tracker) OnTelephonyInfo(info feeds.TelephonyInfo) {
	t.mu.Lock()
	coverage := types.CoverageRoam
	isDomestic := t.bundle != nil && t.bundle.IsDomestic(info.RegisteredPLMN)
	if isDomestic || info.RoamingType == "" {
		coverage = types.CoverageHome
	}
	isInternational := t.bundle != nil && t.bundle.IsInternational(info.RegisteredPLMN)

	next := State{
		CellularAvailable: info.CellularAvailable,
		Coverage:          coverage,
		VopsSupported:     info.VopsSupported,
		DataNetworkType:   info.DataNetworkType,
		VoiceNetworkType:  info.VoiceNetworkType,
		EmcBarred:         info.EmcBarred,
		EmfBarred:         info.EmfBarred,
		AirplaneModeOn:    info.AirplaneModeOn,
		IsInternational:   isInternational,
	}
	same := t.hasLast && t.last.equal(next)
	t.last = next
	t.hasLast = true
	listeners := t.listeners
	t.mu.Unlock()

	if !same {
		for _, sink := range listeners.Snapshot() {
			sink(next)
		}
	}
}
