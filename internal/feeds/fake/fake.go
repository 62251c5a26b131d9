// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package fake provides in-memory feed implementations for tests and
// cmd/qns-sim. Each fake lets the caller drive the feed directly rather
// than waiting on a real platform source.
package fake

import (
	"context"
	"sync"

	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/types"
)

// Telephony is a drivable feeds.TelephonyFeed.
type Telephony struct {
	mu          sync.Mutex
	onInfo      func(feeds.TelephonyInfo)
	onCallState func(types.CallSnapshot)
	onSrvcc     func()
}

func NewTelephony() *Telephony { return &Telephony{} }

func (t *Telephony) Subscribe(_ context.Context, _ feeds.SlotID, onInfo func(feeds.TelephonyInfo), onCallState func(types.CallSnapshot), onSrvcc func()) (func(), error) {
	t.mu.Lock()
	t.onInfo, t.onCallState, t.onSrvcc = onInfo, onCallState, onSrvcc
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.onInfo, t.onCallState, t.onSrvcc = nil, nil, nil
		t.mu.Unlock()
	}, nil
}

// PushInfo drives a telephony info update into the subscriber.
func (t *Telephony) PushInfo(info feeds.TelephonyInfo) {
	t.mu.Lock()
	cb := t.onInfo
	t.mu.Unlock()
	if cb != nil {
		cb(info)
	}
}

// PushCallState drives a call-state snapshot into the subscriber.
func (t *Telephony) PushCallState(s types.CallSnapshot) {
	t.mu.Lock()
	cb := t.onCallState
	t.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// PushSrvcc drives an SRVCC completion signal.
func (t *Telephony) PushSrvcc() {
	t.mu.Lock()
	cb := t.onSrvcc
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Connectivity is a drivable feeds.ConnectivityFeed.
type Connectivity struct {
	mu       sync.Mutex
	onChange func(feeds.ConnectivityEvent)
}

func NewConnectivity() *Connectivity { return &Connectivity{} }

func (c *Connectivity) Subscribe(_ context.Context, onChange func(feeds.ConnectivityEvent)) (func(), error) {
	c.mu.Lock()
	c.onChange = onChange
	c.mu.Unlock()
	return func() { c.mu.Lock(); c.onChange = nil; c.mu.Unlock() }, nil
}

func (c *Connectivity) Push(ev feeds.ConnectivityEvent) {
	c.mu.Lock()
	cb := c.onChange
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// Wifi is a drivable feeds.WifiFeed.
type Wifi struct {
	mu            sync.Mutex
	onCountryCode func(string)
	onRSSI        func(int32)
}

func NewWifi() *Wifi { return &Wifi{} }

func (w *Wifi) Subscribe(_ context.Context, onCountryCode func(string), onRSSI func(int32)) (func(), error) {
	w.mu.Lock()
	w.onCountryCode, w.onRSSI = onCountryCode, onRSSI
	w.mu.Unlock()
	return func() { w.mu.Lock(); w.onCountryCode, w.onRSSI = nil, nil; w.mu.Unlock() }, nil
}

func (w *Wifi) PushCountryCode(cc string) {
	w.mu.Lock()
	cb := w.onCountryCode
	w.mu.Unlock()
	if cb != nil {
		cb(cc)
	}
}

func (w *Wifi) PushRSSI(rssi int32) {
	w.mu.Lock()
	cb := w.onRSSI
	w.mu.Unlock()
	if cb != nil {
		cb(rssi)
	}
}

// Ims is a drivable feeds.ImsFeed.
type Ims struct {
	mu           sync.Mutex
	onEvent      func(feeds.ImsEvent)
	mmtelAvail   bool
}

func NewIms() *Ims { return &Ims{} }

func (i *Ims) Subscribe(_ context.Context, onEvent func(feeds.ImsEvent)) (func(), error) {
	i.mu.Lock()
	i.onEvent = onEvent
	i.mu.Unlock()
	return func() { i.mu.Lock(); i.onEvent = nil; i.mu.Unlock() }, nil
}

func (i *Ims) MmtelFeatureState(_ context.Context) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mmtelAvail, nil
}

func (i *Ims) SetMmtelAvailable(v bool) {
	i.mu.Lock()
	i.mmtelAvail = v
	i.mu.Unlock()
}

func (i *Ims) Push(ev feeds.ImsEvent) {
	i.mu.Lock()
	cb := i.onEvent
	i.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// Provisioning is a drivable feeds.ProvisioningFeed.
type Provisioning struct {
	mu       sync.Mutex
	onChange func(types.ProvisioningInfo)
}

func NewProvisioning() *Provisioning { return &Provisioning{} }

func (p *Provisioning) Subscribe(_ context.Context, onChange func(types.ProvisioningInfo)) (func(), error) {
	p.mu.Lock()
	p.onChange = onChange
	p.mu.Unlock()
	return func() { p.mu.Lock(); p.onChange = nil; p.mu.Unlock() }, nil
}

func (p *Provisioning) Push(info types.ProvisioningInfo) {
	p.mu.Lock()
	cb := p.onChange
	p.mu.Unlock()
	if cb != nil {
		cb(info)
	}
}

// AltEvents is a drivable feeds.AltEventFeed.
type AltEvents struct {
	mu      sync.Mutex
	onEvent func(feeds.AltEvent)
}

func NewAltEvents() *AltEvents { return &AltEvents{} }

func (a *AltEvents) Subscribe(_ context.Context, onEvent func(feeds.AltEvent)) (func(), error) {
	a.mu.Lock()
	a.onEvent = onEvent
	a.mu.Unlock()
	return func() { a.mu.Lock(); a.onEvent = nil; a.mu.Unlock() }, nil
}

func (a *AltEvents) Push(ev feeds.AltEvent) {
	a.mu.Lock()
	cb := a.onEvent
	a.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// CarrierConfig is a drivable feeds.CarrierConfigFeed.
type CarrierConfig struct {
	mu                  sync.Mutex
	onCarrierIDChange   func(carrierID string, assetDefault, carrierOverride []byte)
	onSameCarrierUpdate func(carrierOverride []byte)
}

func NewCarrierConfig() *CarrierConfig { return &CarrierConfig{} }

func (c *CarrierConfig) Subscribe(_ context.Context, onCarrierIDChange func(string, []byte, []byte), onSameCarrierUpdate func([]byte)) (func(), error) {
	c.mu.Lock()
	c.onCarrierIDChange = onCarrierIDChange
	c.onSameCarrierUpdate = onSameCarrierUpdate
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.onCarrierIDChange, c.onSameCarrierUpdate = nil, nil
		c.mu.Unlock()
	}, nil
}

// PushCarrierIDChange drives a new carrier-id load.
func (c *CarrierConfig) PushCarrierIDChange(carrierID string, assetDefault, carrierOverride []byte) {
	c.mu.Lock()
	cb := c.onCarrierIDChange
	c.mu.Unlock()
	if cb != nil {
		cb(carrierID, assetDefault, carrierOverride)
	}
}

// PushSameCarrierUpdate drives a same-carrier-id override update.
func (c *CarrierConfig) PushSameCarrierUpdate(carrierOverride []byte) {
	c.mu.Lock()
	cb := c.onSameCarrierUpdate
	c.mu.Unlock()
	if cb != nil {
		cb(carrierOverride)
	}
}
