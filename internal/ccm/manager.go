// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ccm

import (
	"sync"
	"sync/atomic"

	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/qnserrors"
	"grimm.is/qns/internal/types"
)

// Manager owns the current Bundle for one slot and notifies registrants on
// reload, per §4.2: a carrier-id change notifies LoadedRegistrants
// unconditionally; a same-carrier-id update only notifies ChangedRegistrants
// when the content hash (handover rules / thresholds) actually differs.
type Manager struct {
	logger *logging.Logger

	mu          sync.Mutex // guards the swap only, per the shared-resource policy
	bundle      atomic.Pointer[Bundle]
	carrierID   string
	assetBytes  []byte
	carrierBytes []byte
	provisioning types.ProvisioningInfo

	loadedRegistrants  *callbackList
	changedRegistrants *callbackList
}

// NewManager constructs an empty Manager; call Reload to load an initial
// bundle.
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		logger:             logger.WithComponent("ccm"),
		loadedRegistrants:  newCallbackList(),
		changedRegistrants: newCallbackList(),
	}
}

// Current returns the currently loaded Bundle, or nil if none has loaded
// yet.
func (m *Manager) Current() *Bundle {
	return m.bundle.Load()
}

// OnLoaded registers a callback invoked whenever the carrier-id changes and
// policy is fully reloaded.
func (m *Manager) OnLoaded(fn func(*Bundle)) (unregister func()) {
	return m.loadedRegistrants.add(fn)
}

// OnChanged registers a callback invoked when a same-carrier-id update
// changes handover rules or thresholds.
func (m *Manager) OnChanged(fn func(*Bundle)) (unregister func()) {
	return m.changedRegistrants.add(fn)
}

// ReloadCarrier loads a brand-new carrier-id's config. All policy is
// reloaded and LoadedRegistrants are notified unconditionally.
func (m *Manager) ReloadCarrier(carrierID string, assetDefault, carrierOverride []byte) error {
	b, err := Load(LoadOptions{AssetDefault: assetDefault, CarrierOverride: carrierOverride, Provisioning: m.provisioning, Logger: m.logger})
	if err != nil {
		return qnserrors.Wrap(err, qnserrors.KindValidation, "ccm: carrier reload failed")
	}

	m.mu.Lock()
	m.carrierID = carrierID
	m.assetBytes = assetDefault
	m.carrierBytes = carrierOverride
	m.bundle.Store(b)
	m.mu.Unlock()

	m.loadedRegistrants.fire(b)
	return nil
}

// UpdateSameCarrier reloads policy for the same carrier-id (e.g. a
// carrier-config broadcast with an updated override). ChangedRegistrants
// only fire if the content hash differs from the prior bundle.
func (m *Manager) UpdateSameCarrier(carrierOverride []byte) error {
	prev := m.bundle.Load()
	b, err := Load(LoadOptions{AssetDefault: m.assetBytes, CarrierOverride: carrierOverride, Provisioning: m.provisioning, Logger: m.logger})
	if err != nil {
		return qnserrors.Wrap(err, qnserrors.KindValidation, "ccm: same-carrier update failed")
	}

	m.mu.Lock()
	m.carrierBytes = carrierOverride
	m.bundle.Store(b)
	m.mu.Unlock()

	if prev == nil || prev.ContentHash() != b.ContentHash() {
		m.changedRegistrants.fire(b)
	}
	return nil
}

// UpdateProvisioning re-applies provisioning overrides on top of the
// current carrier config without losing the carrier-id, firing
// ChangedRegistrants if the result differs.
func (m *Manager) UpdateProvisioning(prov types.ProvisioningInfo) error {
	m.provisioning = prov
	prev := m.bundle.Load()
	b, err := Load(LoadOptions{AssetDefault: m.assetBytes, CarrierOverride: m.carrierBytes, Provisioning: prov, Logger: m.logger})
	if err != nil {
		return qnserrors.Wrap(err, qnserrors.KindValidation, "ccm: provisioning update failed")
	}
	m.mu.Lock()
	m.bundle.Store(b)
	m.mu.Unlock()

	if prev == nil || prev.ContentHash() != b.ContentHash() {
		m.changedRegistrants.fire(b)
	}
	return nil
}

// callbackList is a tiny concurrent list of Bundle-consuming callbacks,
// mirroring events.Registrants but specialized to avoid an import cycle
// with the generic package's uuid-token model (ccm callbacks are
// process-internal wiring, not external sinks).
type callbackList struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(*Bundle)
}

func newCallbackList() *callbackList { return &callbackList{fns: make(map[int]func(*Bundle))} }

func (c *callbackList) add(fn func(*Bundle)) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	c.fns[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.fns, id)
		c.mu.Unlock()
	}
}

func (c *callbackList) fire(b *Bundle) {
	c.mu.Lock()
	snapshot := make([]func(*Bundle), 0, len(c.fns))
	for _, fn := range c.fns {
		snapshot = append(snapshot, fn)
	}
	c.mu.Unlock()
	for _, fn := range snapshot {
		fn(b)
	}
}
