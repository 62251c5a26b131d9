// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package registry assembles the process-wide and per-slot components into
// one running system: the Iwlan Network Status Tracker and Wi-Fi Quality
// Monitor singletons, and, per active slot, a Carrier Config Manager,
// Cellular Network Status Tracker, Call Status Tracker, IMS Manager,
// Cellular Quality Monitor and Access Network Evaluator, wired together the
// way §4 describes each component's inputs and outputs.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/qns/internal/ane"
	"grimm.is/qns/internal/ccm"
	"grimm.is/qns/internal/celltracker"
	"grimm.is/qns/internal/cst"
	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/inst"
	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/qim"
	"grimm.is/qns/internal/qm"
	"grimm.is/qns/internal/qnserrors"
	"grimm.is/qns/internal/restrict"
	"grimm.is/qns/internal/rtt"
	"grimm.is/qns/internal/statestore"
	"grimm.is/qns/internal/types"
)

// altEventRestrictDuration is the restriction window applied when an
// alternative-event feed reports RTP low quality over Wi-Fi, mirroring the
// fixed windows the carrier-config fallback-rule grammar declares for the
// other restriction reasons.
const altEventRestrictDuration = 60 * time.Second

// SlotFeeds bundles the per-slot feed implementations a slot is activated
// with. Telephony, Connectivity and Wifi are process-wide and supplied
// once to NewQnsComponents instead.
type SlotFeeds struct {
	CarrierConfig   feeds.CarrierConfigFeed
	Provisioning    feeds.ProvisioningFeed
	Ims             feeds.ImsFeed
	AltEvents       feeds.AltEventFeed
	CrossSimEnabled bool
	IsDefaultData   bool
	AssetDefault    []byte
}

// Slot is the live set of per-slot components, wired together and kept
// running until UnregisterSlot tears it down.
type Slot struct {
	id feeds.SlotID

	ccmMgr       *ccm.Manager
	cellTracker  *celltracker.Tracker
	cstTracker   *cst.Tracker
	qimMgr       *qim.Manager
	cellMonitor  *qm.CellularMonitor
	evaluator    *ane.Evaluator
	rttScheduler *rtt.Scheduler

	// roaming mirrors the last Cellular Network Status Tracker coverage
	// notification, consulted when the IMS Manager's WFC settings change
	// so the roaming-specific user setting applies.
	roaming atomic.Bool

	unsubTelephony func()
	unsubCarrier   func()
	unsubProv      func()
	unsubIms       func()
	unsubAlt       func()

	// internalUnsubs collects the unregister funcs from Subscribe calls
	// against process-wide singletons (INST, the Restrict/Fallback
	// Manager) that outlive this slot unless explicitly unregistered.
	internalUnsubs []func()
}

// QnsComponents is the process-wide registry: it owns the singletons (INST,
// the Wi-Fi Quality Monitor, the Restrict/Fallback Manager) and the
// lifecycle of every active slot's components.
type QnsComponents struct {
	logger *logging.Logger

	telephony feeds.TelephonyFeed

	inst        *inst.Tracker
	wifiMonitor *qm.WifiMonitor
	restrictMgr *restrict.Manager

	mu    sync.Mutex
	slots map[feeds.SlotID]*Slot
}

// Config supplies the process-wide feed implementations. Telephony,
// Connectivity and Wifi may each be nil, in which case that feed is not
// subscribed; CountryCodePath is optional (empty disables country-code
// persistence across restarts).
type Config struct {
	Logger          *logging.Logger
	Telephony       feeds.TelephonyFeed
	Connectivity    feeds.ConnectivityFeed
	Wifi            feeds.WifiFeed
	CountryCodePath string
}

// NewQnsComponents constructs the registry and starts its process-wide
// singletons and feed subscriptions. ctx governs the lifetime of the
// process-wide feed subscriptions; cancel it to tear them down, then call
// Close to tear down any remaining slots.
func NewQnsComponents(ctx context.Context, cfg Config) (*QnsComponents, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	var cc *statestore.CountryCode
	if cfg.CountryCodePath != "" {
		cc = statestore.NewCountryCode(cfg.CountryCodePath)
	}

	q := &QnsComponents{
		logger:      logger.WithComponent("registry"),
		telephony:   cfg.Telephony,
		inst:        inst.New(logger, cc),
		restrictMgr: restrict.New(logger),
		slots:       make(map[feeds.SlotID]*Slot),
	}
	q.wifiMonitor = qm.NewWifiMonitor(logger, q.deliverMeasurement)

	if cfg.Connectivity != nil {
		unsub, err := cfg.Connectivity.Subscribe(ctx, q.onConnectivity)
		if err != nil {
			return nil, qnserrors.Wrap(err, qnserrors.KindServiceDown, "registry: connectivity feed subscribe failed")
		}
		go func() { <-ctx.Done(); unsub() }()
	}
	if cfg.Wifi != nil {
		unsub, err := cfg.Wifi.Subscribe(ctx, q.inst.OnCountryCode, q.onWifiRSSI)
		if err != nil {
			return nil, qnserrors.Wrap(err, qnserrors.KindServiceDown, "registry: wifi feed subscribe failed")
		}
		go func() { <-ctx.Done(); unsub() }()
	}

	return q, nil
}

func (q *QnsComponents) onConnectivity(ev feeds.ConnectivityEvent) {
	if ev.IsWifi {
		q.inst.OnWifiAvailabilityChanged(ev.Available)
		q.inst.OnLinkProtocolChanged(
			ev.LinkProtocol == types.LinkProtocolIPv4 || ev.LinkProtocol == types.LinkProtocolIPv4v6,
			ev.LinkProtocol == types.LinkProtocolIPv6 || ev.LinkProtocol == types.LinkProtocolIPv4v6,
		)
		return
	}
	if ev.IsCellular && ev.Available {
		q.inst.OnDefaultNetworkCellular(ev.CellularSubID)
		return
	}
	if !ev.Available {
		q.inst.OnDefaultNetworkLost()
	}
}

// onWifiRSSI fans an RSSI sample out to every active slot's quality
// monitor registration, since the underlying radio is shared across slots
// but threshold interest is tracked per slot.
func (q *QnsComponents) onWifiRSSI(rssi int32) {
	q.mu.Lock()
	ids := make([]feeds.SlotID, 0, len(q.slots))
	for id := range q.slots {
		ids = append(ids, id)
	}
	q.mu.Unlock()
	for _, id := range ids {
		q.wifiMonitor.OnRSSI(id, rssi)
	}
}

// deliverMeasurement is the Wi-Fi Quality Monitor's onMatch hook, routing a
// debounced threshold crossing to the originating slot's evaluator.
func (q *QnsComponents) deliverMeasurement(slot feeds.SlotID, _ types.NetCapability, an types.AccessNetwork, meas types.MeasurementType, sample types.Measurement) {
	q.mu.Lock()
	s, ok := q.slots[slot]
	q.mu.Unlock()
	if !ok {
		return
	}
	s.evaluator.OnMeasurement(an, meas, sample)
}

// matchFallbackRule consults the active bundle's fallback rules against an
// IMS event's failure reason and the slot's currently-resolved IMS
// preference mode, restricting WLAN for IMS on a match, per §4.1 step 5.
func (q *QnsComponents) matchFallbackRule(slot feeds.SlotID, s *Slot, ev feeds.ImsEvent) {
	b := s.ccmMgr.Current()
	if b == nil {
		return
	}
	roaming := s.roaming.Load()
	coverage := types.CoverageHome
	if roaming {
		coverage = types.CoverageRoam
	}
	pref := ane.ImsPreferenceMode(s.qimMgr.GetWfcMode(roaming), b.ImsPreferWifiOverrideAtHome, coverage)
	for _, rule := range b.FallbackRules {
		if !rule.Matches(ev.FailureReason, pref) {
			continue
		}
		q.restrictMgr.Restrict(slot, types.CapabilityIMS, types.TransportWLAN, restrict.ReasonImsUnregisteredFallback, time.Duration(rule.BackoffMs)*time.Millisecond)
		return
	}
}

// restartRTTScheduler stops any running RTT probe loops and starts a fresh
// one from b's RTTPingRules, feeding probe results into the Restrict/
// Fallback Manager under ReasonRTTLowQuality. Called on every bundle
// (re)load so a carrier-config reload picks up the new rule set.
func (q *QnsComponents) restartRTTScheduler(slot feeds.SlotID, s *Slot, b *ccm.Bundle) {
	s.rttScheduler.Stop()
	if len(b.RTTPingRules) == 0 {
		return
	}
	s.rttScheduler.Start(b.RTTPingRules, func(rule types.RTTPingRule, res rtt.Result) {
		if res.MeetsCriterion {
			q.restrictMgr.Clear(slot, types.CapabilityIMS, types.TransportWLAN, restrict.ReasonRTTLowQuality)
			return
		}
		q.restrictMgr.Restrict(slot, types.CapabilityIMS, types.TransportWLAN, restrict.ReasonRTTLowQuality, time.Duration(rule.HystFallbackTimerMs)*time.Millisecond)
	})
}

// RegisterSlot activates a slot: it constructs the slot's components and
// concurrently subscribes every per-slot feed, rolling back whatever
// already subscribed if any one subscription fails. Concurrent startup
// mirrors how each Subscribe call crosses into its own platform service
// binding and should not serialize behind the others.
func (q *QnsComponents) RegisterSlot(ctx context.Context, slot feeds.SlotID, sf SlotFeeds) error {
	q.mu.Lock()
	_, exists := q.slots[slot]
	q.mu.Unlock()
	if exists {
		return qnserrors.Errorf(qnserrors.KindValidation, "registry: slot %d already registered", slot)
	}

	q.inst.RegisterSlot(slot, sf.CrossSimEnabled, sf.IsDefaultData)

	s := &Slot{
		id:         slot,
		ccmMgr:     ccm.NewManager(q.logger),
		cstTracker: cst.New(q.logger),
		qimMgr:     qim.New(q.logger, sf.Ims),
	}
	s.cellTracker = celltracker.New(q.logger, nil)
	s.cellMonitor = qm.NewCellularMonitor(q.logger, func(_ feeds.SlotID, _ types.NetCapability, an types.AccessNetwork, meas types.MeasurementType, sample types.Measurement) {
		s.evaluator.OnMeasurement(an, meas, sample)
	})
	s.evaluator = ane.New(slot, q.logger, s.cellMonitor, q.wifiMonitor)
	s.rttScheduler = rtt.NewScheduler(q.logger)

	if sf.AssetDefault != nil {
		if err := s.ccmMgr.ReloadCarrier("", sf.AssetDefault, nil); err != nil {
			q.inst.UnregisterSlot(slot)
			return qnserrors.Wrap(err, qnserrors.KindValidation, "registry: initial carrier config load failed")
		}
	}

	s.ccmMgr.OnLoaded(func(b *ccm.Bundle) {
		s.cellTracker.SetBundle(b)
		s.evaluator.SetBundle(b)
		q.restartRTTScheduler(slot, s, b)
	})
	s.ccmMgr.OnChanged(func(b *ccm.Bundle) {
		s.cellTracker.SetBundle(b)
		s.evaluator.SetBundle(b)
		q.restartRTTScheduler(slot, s, b)
	})
	if b := s.ccmMgr.Current(); b != nil {
		s.cellTracker.SetBundle(b)
		s.evaluator.SetBundle(b)
		q.restartRTTScheduler(slot, s, b)
	}

	s.cellTracker.Subscribe(func(state celltracker.State) {
		roaming := state.Coverage == types.CoverageRoam
		s.roaming.Store(roaming)
		s.evaluator.SetCellularState(state.CellularAvailable, state.Coverage, state.VopsSupported, state.VoiceNetworkType, roaming, state.AirplaneModeOn, state.IsInternational)
	})
	s.cstTracker.SubscribeNormal(func(u cst.Update) { s.evaluator.SetCallType(u.CallType) })
	s.cstTracker.SubscribeEmergency(func(u cst.Update) {
		if u.CallType == types.CallEmergency {
			s.evaluator.SetCallType(u.CallType)
		}
	})
	s.internalUnsubs = append(s.internalUnsubs,
		q.inst.Subscribe(slot, func(info types.IwlanAvailabilityInfo) { s.evaluator.SetIwlanAvailability(info) }),
		q.restrictMgr.Subscribe(func(restrictedSlot feeds.SlotID, cap types.NetCapability, transport types.TransportType) {
			if restrictedSlot != slot {
				return
			}
			s.evaluator.SetRestriction(cap, transport, q.restrictMgr.IsRestricted(slot, cap, transport))
		}),
		s.qimMgr.Subscribe(func() {
			roaming := s.roaming.Load()
			s.evaluator.SetWfcEnabled(s.qimMgr.WfcEnabled(roaming))
			s.evaluator.SetWfcMode(s.qimMgr.GetWfcMode(roaming))
			q.inst.OnWifiToggled(s.qimMgr.WfcEnabled(roaming))
		}),
	)

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	if q.telephony != nil {
		g.Go(func() error {
			unsub, err := q.telephony.Subscribe(gctx, slot, func(info feeds.TelephonyInfo) {
				s.cellTracker.OnTelephonyInfo(info)
				q.inst.OnIwlanRegistrationChanged(slot, info.DataNetworkType == types.AccessNetworkIwlan)
			}, s.cstTracker.OnSnapshot, s.cstTracker.OnSrvcc)
			if err != nil {
				return fmt.Errorf("telephony subscribe: %w", err)
			}
			mu.Lock()
			s.unsubTelephony = unsub
			mu.Unlock()
			return nil
		})
	}
	if sf.CarrierConfig != nil {
		g.Go(func() error {
			unsub, err := sf.CarrierConfig.Subscribe(gctx,
				func(carrierID string, assetDefault, carrierOverride []byte) {
					if err := s.ccmMgr.ReloadCarrier(carrierID, assetDefault, carrierOverride); err != nil {
						q.logger.Warn("carrier reload failed", "slot", slot, "error", err)
					}
				},
				func(carrierOverride []byte) {
					if err := s.ccmMgr.UpdateSameCarrier(carrierOverride); err != nil {
						q.logger.Warn("same-carrier update failed", "slot", slot, "error", err)
					}
				})
			if err != nil {
				return fmt.Errorf("carrier config subscribe: %w", err)
			}
			mu.Lock()
			s.unsubCarrier = unsub
			mu.Unlock()
			return nil
		})
	}
	if sf.Provisioning != nil {
		g.Go(func() error {
			unsub, err := sf.Provisioning.Subscribe(gctx, func(prov types.ProvisioningInfo) {
				if err := s.ccmMgr.UpdateProvisioning(prov); err != nil {
					q.logger.Warn("provisioning update failed", "slot", slot, "error", err)
				}
			})
			if err != nil {
				return fmt.Errorf("provisioning subscribe: %w", err)
			}
			mu.Lock()
			s.unsubProv = unsub
			mu.Unlock()
			return nil
		})
	}
	if sf.Ims != nil {
		g.Go(func() error {
			unsub, err := sf.Ims.Subscribe(gctx, func(ev feeds.ImsEvent) {
				s.qimMgr.OnEvent(ev)
				q.matchFallbackRule(slot, s, ev)
			})
			if err != nil {
				return fmt.Errorf("ims subscribe: %w", err)
			}
			mu.Lock()
			s.unsubIms = unsub
			mu.Unlock()
			return nil
		})
	}
	if sf.AltEvents != nil {
		g.Go(func() error {
			unsub, err := sf.AltEvents.Subscribe(gctx, func(ev feeds.AltEvent) {
				if ev.RTPLowQuality {
					q.restrictMgr.Restrict(slot, types.CapabilityIMS, types.TransportWLAN, restrict.ReasonRTPLowQuality, altEventRestrictDuration)
				}
			})
			if err != nil {
				return fmt.Errorf("alt events subscribe: %w", err)
			}
			mu.Lock()
			s.unsubAlt = unsub
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.unsubscribeAll()
		s.rttScheduler.Stop()
		s.evaluator.Close()
		s.cellMonitor.Close()
		q.inst.UnregisterSlot(slot)
		return qnserrors.Wrap(err, qnserrors.KindServiceDown, "registry: slot activation failed")
	}

	q.mu.Lock()
	q.slots[slot] = s
	q.mu.Unlock()
	return nil
}

func (s *Slot) unsubscribeAll() {
	for _, unsub := range []func(){s.unsubTelephony, s.unsubCarrier, s.unsubProv, s.unsubIms, s.unsubAlt} {
		if unsub != nil {
			unsub()
		}
	}
	for _, unsub := range s.internalUnsubs {
		if unsub != nil {
			unsub()
		}
	}
}

// UnregisterSlot deactivates a slot, unsubscribing its feeds and tearing
// down its components.
func (q *QnsComponents) UnregisterSlot(slot feeds.SlotID) {
	q.mu.Lock()
	s, ok := q.slots[slot]
	if ok {
		delete(q.slots, slot)
	}
	q.mu.Unlock()
	if !ok {
		return
	}

	s.unsubscribeAll()
	s.rttScheduler.Stop()
	s.evaluator.Close()
	s.cellMonitor.Close()
	q.inst.UnregisterSlot(slot)
}

// Evaluator returns the evaluator for an active slot, or nil if the slot
// isn't registered. Callers use this to Subscribe to a capability's
// qualified-network decisions.
func (q *QnsComponents) Evaluator(slot feeds.SlotID) *ane.Evaluator {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[slot]
	if !ok {
		return nil
	}
	return s.evaluator
}

// Restrict exposes the process-wide Restrict/Fallback Manager so cmd-level
// wiring (e.g. an RTT prober driving a restriction on probe failure) can
// reach it without threading it through every caller.
func (q *QnsComponents) Restrict() *restrict.Manager { return q.restrictMgr }

// Inst exposes the process-wide Iwlan Network Status Tracker so cmd-level
// wiring and tests can drive production-path signals (Wi-Fi toggled, IWLAN
// registration changed) without threading it through every caller.
func (q *QnsComponents) Inst() *inst.Tracker { return q.inst }

// SetWfcSettings updates an active slot's Wi-Fi Calling derivation inputs
// (platform override, device/carrier/GBA state, user and carrier-default
// enablement). It is a no-op if the slot isn't registered. Production
// wiring would call this from carrier-config and settings-provider
// callbacks; cmd/qns-sim calls it directly to script a scenario.
func (q *QnsComponents) SetWfcSettings(slot feeds.SlotID, s qim.WfcSettings) {
	q.mu.Lock()
	sl, ok := q.slots[slot]
	q.mu.Unlock()
	if !ok {
		return
	}
	sl.qimMgr.SetWfcSettings(s)
}

// Close tears down every registered slot and the process-wide singletons.
func (q *QnsComponents) Close() {
	q.mu.Lock()
	ids := make([]feeds.SlotID, 0, len(q.slots))
	for id := range q.slots {
		ids = append(ids, id)
	}
	q.mu.Unlock()
	for _, id := range ids {
		q.UnregisterSlot(id)
	}
	q.wifiMonitor.Close()
	q.restrictMgr.Close()
}
