// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package qim implements the IMS Manager: a read-only view of IMS service
// availability, per-transport registration state, and derived Wi-Fi
// Calling configuration, per §4.6.
package qim

import (
	"context"
	"sync"
	"time"

	"grimm.is/qns/internal/events"
	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/qnserrors"
	"grimm.is/qns/internal/types"
)

// mmtelQueryTimeout bounds the one blocking call this component makes, per
// the design notes' guidance to bound any query crossing into platform
// telephony state. A var, not a const, so tests can shrink it.
var mmtelQueryTimeout = 2 * time.Second

// RegistrationState is the cached per-transport IMS registration state.
type RegistrationState struct {
	State  feeds.ImsRegistrationState
	Reason int
}

// WfcSettings is the carrier/user/platform input the WFC derivation reads.
// Production wiring populates this from carrier config, device resources,
// and user settings; tests construct it directly.
type WfcSettings struct {
	PlatformOverride        bool
	DeviceResourceAllows     bool
	CarrierAllows            bool
	GbaValid                 bool
	UserEnabled              *bool // nil = use CarrierDefaultEnabled
	UserRoamingEnabled       *bool // nil = use CarrierDefaultRoamingEnabled
	CarrierDefaultEnabled    bool
	CarrierDefaultRoaming    bool
	VolteOverridesProvision  bool
	ProvisionedOnDevice      bool
	PlatformCrossSimEnabled  bool
	ModeHome                 types.WfcMode
	ModeRoaming              types.WfcMode
}

// Manager exposes the IMS Manager's read-only view. One Manager is owned
// per slot.
type Manager struct {
	mu     sync.Mutex
	logger *logging.Logger
	feed   feeds.ImsFeed

	serviceAvailable bool
	registration     map[bool]RegistrationState // keyed by overWlan
	settings         WfcSettings

	listeners *events.Registrants[func()]
}

// New constructs an IMS Manager. feed may be nil if MmtelFeatureState will
// never be queried (e.g. in unit tests driving events directly).
func New(logger *logging.Logger, feed feeds.ImsFeed) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		logger:       logger.WithComponent("qim"),
		feed:         feed,
		registration: make(map[bool]RegistrationState),
		listeners:    events.NewRegistrants[func()](),
	}
}

// Subscribe registers a sink invoked whenever any observable state changes.
// The sink is not passed a value; callers re-read the accessor methods,
// matching the "read-only view" shape of the component.
func (m *Manager) Subscribe(sink func()) (unregister func()) {
	m.mu.Lock()
	token := m.listeners.Register(sink)
	m.mu.Unlock()
	return func() { m.listeners.Unregister(token) }
}

// OnEvent applies an IMS feed event.
func (m *Manager) OnEvent(ev feeds.ImsEvent) {
	m.mu.Lock()
	m.serviceAvailable = ev.ServiceAvailable
	m.registration[ev.OverWlan] = RegistrationState{State: ev.Registration, Reason: ev.FailureReason}
	listeners := m.listeners
	m.mu.Unlock()
	for _, sink := range listeners.Snapshot() {
		sink()
	}
}

// SetWfcSettings replaces the WFC derivation inputs.
func (m *Manager) SetWfcSettings(s WfcSettings) {
	m.mu.Lock()
	m.settings = s
	listeners := m.listeners
	m.mu.Unlock()
	for _, sink := range listeners.Snapshot() {
		sink()
	}
}

// ServiceAvailable reports IMS service availability.
func (m *Manager) ServiceAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serviceAvailable
}

// RegistrationState returns the cached registration state for the given
// transport (overWlan selects the WLAN vs WWAN registration).
func (m *Manager) RegistrationState(overWlan bool) RegistrationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registration[overWlan]
}

// IsWfcEnabledByPlatform implements is_wfc_enabled_by_platform.
func (m *Manager) IsWfcEnabledByPlatform() bool {
	m.mu.Lock()
	s := m.settings
	m.mu.Unlock()
	return s.PlatformOverride || (s.DeviceResourceAllows && s.CarrierAllows && s.GbaValid)
}

// IsWfcEnabledByUser implements is_wfc_enabled_by_user, falling back to the
// carrier default when the user has not made an explicit choice.
func (m *Manager) IsWfcEnabledByUser() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings.UserEnabled != nil {
		return *m.settings.UserEnabled
	}
	return m.settings.CarrierDefaultEnabled
}

// IsWfcRoamingEnabledByUser implements is_wfc_roaming_enabled_by_user.
func (m *Manager) IsWfcRoamingEnabledByUser() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings.UserRoamingEnabled != nil {
		return *m.settings.UserRoamingEnabled
	}
	return m.settings.CarrierDefaultRoaming
}

// IsWfcProvisionedOnDevice implements is_wfc_provisioned_on_device,
// honoring the VoLTE-overrides-WFC-provisioning carrier config bit.
func (m *Manager) IsWfcProvisionedOnDevice() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings.VolteOverridesProvision {
		return true
	}
	return m.settings.ProvisionedOnDevice
}

// IsCrossSimCallingEnabled implements is_cross_sim_calling_enabled.
func (m *Manager) IsCrossSimCallingEnabled() bool {
	return m.IsWfcEnabledByUser() && m.settings.crossSimPlatformEnabled() && m.IsWfcProvisionedOnDevice()
}

func (s WfcSettings) crossSimPlatformEnabled() bool { return s.PlatformCrossSimEnabled }

// GetWfcMode implements get_wfc_mode(roaming).
func (m *Manager) GetWfcMode(roaming bool) types.WfcMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if roaming {
		return m.settings.ModeRoaming
	}
	return m.settings.ModeHome
}

// WfcEnabled folds the individual derivations together into the single
// enablement signal the Access Network Evaluator gates IMS's IWLAN
// allowance on: platform and user enablement, provisioning, and (when
// roaming) the separate roaming-enabled user setting.
func (m *Manager) WfcEnabled(roaming bool) bool {
	if !m.IsWfcEnabledByPlatform() || !m.IsWfcEnabledByUser() || !m.IsWfcProvisionedOnDevice() {
		return false
	}
	if roaming {
		return m.IsWfcRoamingEnabledByUser()
	}
	return true
}

// QueryMmtelFeatureState performs the one blocking query the design
// allows, bounded by a 2s timeout. A context deadline or cancellation is
// surfaced as KindServiceDown (IMS stack not answering in time); any other
// feed error is wrapped with KindInternal. An absent feed is
// KindNotSupported.
func (m *Manager) QueryMmtelFeatureState(ctx context.Context) (bool, error) {
	if m.feed == nil {
		return false, qnserrors.New(qnserrors.KindNotSupported, "qim: no IMS feed configured")
	}
	ctx, cancel := context.WithTimeout(ctx, mmtelQueryTimeout)
	defer cancel()

	type result struct {
		available bool
		err       error
	}
	ch := make(chan result, 1)
	go func() {
		available, err := m.feed.MmtelFeatureState(ctx)
		ch <- result{available, err}
	}()

	select {
	case <-ctx.Done():
		return false, qnserrors.Wrap(ctx.Err(), qnserrors.KindServiceDown, "qim: MMTEL feature-state query timed out")
	case r := <-ch:
		if r.err != nil {
			return false, qnserrors.Wrap(r.err, qnserrors.KindInternal, "qim: MMTEL feature-state query failed")
		}
		return r.available, nil
	}
}
