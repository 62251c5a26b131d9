// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package restrict

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/types"
)

func TestManager_RestrictedWhileTimerActive(t *testing.T) {
	m := New(nil)
	m.Restrict(0, types.CapabilityIMS, types.TransportWLAN, ReasonRTPLowQuality, 50*time.Millisecond)
	require.True(t, m.IsRestricted(0, types.CapabilityIMS, types.TransportWLAN))

	time.Sleep(90 * time.Millisecond)
	require.False(t, m.IsRestricted(0, types.CapabilityIMS, types.TransportWLAN))
}

func TestManager_MultipleReasonsKeepRestrictedUntilAllClear(t *testing.T) {
	m := New(nil)
	m.Restrict(0, types.CapabilityIMS, types.TransportWLAN, ReasonRTPLowQuality, time.Hour)
	m.Restrict(0, types.CapabilityIMS, types.TransportWLAN, ReasonWifiBackhaulProblem, time.Hour)

	m.Clear(0, types.CapabilityIMS, types.TransportWLAN, ReasonRTPLowQuality)
	require.True(t, m.IsRestricted(0, types.CapabilityIMS, types.TransportWLAN))

	m.Clear(0, types.CapabilityIMS, types.TransportWLAN, ReasonWifiBackhaulProblem)
	require.False(t, m.IsRestricted(0, types.CapabilityIMS, types.TransportWLAN))
}

func TestManager_NotifiesOnlyOnStateTransition(t *testing.T) {
	m := New(nil)
	var mu sync.Mutex
	count := 0
	m.Subscribe(func(feeds.SlotID, types.NetCapability, types.TransportType) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	m.Restrict(0, types.CapabilityMMS, types.TransportWLAN, ReasonThrottled, time.Hour)
	m.Restrict(0, types.CapabilityMMS, types.TransportWLAN, ReasonImsUnregisteredFallback, time.Hour)

	mu.Lock()
	defer mu.Unlock()
	// Second Restrict adds a reason but the transport was already
	// restricted, so no second notification fires.
	require.Equal(t, 1, count)
}

func TestManager_RestrictReplacesSameReasonTimer(t *testing.T) {
	m := New(nil)
	m.Restrict(0, types.CapabilityCBS, types.TransportWWAN, ReasonInitialConnectionFail, 20*time.Millisecond)
	m.Restrict(0, types.CapabilityCBS, types.TransportWWAN, ReasonInitialConnectionFail, time.Hour)

	time.Sleep(40 * time.Millisecond)
	require.True(t, m.IsRestricted(0, types.CapabilityCBS, types.TransportWWAN))
}
