// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package qim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/qnserrors"
	"grimm.is/qns/internal/types"
)

func TestManager_WfcEnabledByPlatform(t *testing.T) {
	m := New(nil, nil)
	m.SetWfcSettings(WfcSettings{DeviceResourceAllows: true, CarrierAllows: true, GbaValid: true})
	require.True(t, m.IsWfcEnabledByPlatform())

	m.SetWfcSettings(WfcSettings{DeviceResourceAllows: true, CarrierAllows: false, GbaValid: true})
	require.False(t, m.IsWfcEnabledByPlatform())

	m.SetWfcSettings(WfcSettings{PlatformOverride: true})
	require.True(t, m.IsWfcEnabledByPlatform())
}

func TestManager_WfcEnabledByUserFallsBackToCarrierDefault(t *testing.T) {
	m := New(nil, nil)
	m.SetWfcSettings(WfcSettings{CarrierDefaultEnabled: true})
	require.True(t, m.IsWfcEnabledByUser())

	on := true
	m.SetWfcSettings(WfcSettings{CarrierDefaultEnabled: false, UserEnabled: &on})
	require.True(t, m.IsWfcEnabledByUser())
}

func TestManager_CrossSimCallingRequiresAllThree(t *testing.T) {
	m := New(nil, nil)
	m.SetWfcSettings(WfcSettings{
		CarrierDefaultEnabled:   true,
		PlatformCrossSimEnabled: true,
		ProvisionedOnDevice:     true,
	})
	require.True(t, m.IsCrossSimCallingEnabled())

	m.SetWfcSettings(WfcSettings{
		CarrierDefaultEnabled:   true,
		PlatformCrossSimEnabled: false,
		ProvisionedOnDevice:     true,
	})
	require.False(t, m.IsCrossSimCallingEnabled())
}

func TestManager_GetWfcModeByRoaming(t *testing.T) {
	m := New(nil, nil)
	m.SetWfcSettings(WfcSettings{ModeHome: types.WfcModeWifiPreferred, ModeRoaming: types.WfcModeCellularPreferred})
	require.Equal(t, types.WfcModeWifiPreferred, m.GetWfcMode(false))
	require.Equal(t, types.WfcModeCellularPreferred, m.GetWfcMode(true))
}

func TestManager_RegistrationStateCachedAndSynchronous(t *testing.T) {
	m := New(nil, nil)
	m.OnEvent(feeds.ImsEvent{ServiceAvailable: true, Registration: feeds.ImsRegistered, OverWlan: true})

	require.True(t, m.ServiceAvailable())
	require.Equal(t, feeds.ImsRegistered, m.RegistrationState(true).State)
}

type fakeImsFeed struct {
	available bool
	err       error
	delay     time.Duration
}

func (f *fakeImsFeed) Subscribe(ctx context.Context, onEvent func(feeds.ImsEvent)) (func(), error) {
	return func() {}, nil
}

func (f *fakeImsFeed) MmtelFeatureState(ctx context.Context) (bool, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return f.available, f.err
}

func TestManager_MmtelQuerySucceeds(t *testing.T) {
	m := New(nil, &fakeImsFeed{available: true})
	ok, err := m.QueryMmtelFeatureState(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestManager_MmtelQueryTimesOutAsServiceDown(t *testing.T) {
	orig := mmtelQueryTimeout
	mmtelQueryTimeout = 20 * time.Millisecond
	defer func() { mmtelQueryTimeout = orig }()

	m := New(nil, &fakeImsFeed{delay: time.Second})
	_, err := m.QueryMmtelFeatureState(context.Background())
	require.Error(t, err)
	require.Equal(t, qnserrors.KindServiceDown, qnserrors.GetKind(err))
}

func TestManager_MmtelQueryNoFeedIsNotSupported(t *testing.T) {
	m := New(nil, nil)
	_, err := m.QueryMmtelFeatureState(context.Background())
	require.Equal(t, qnserrors.KindNotSupported, qnserrors.GetKind(err))
}

func TestManager_MmtelQueryWrapsFeedError(t *testing.T) {
	m := New(nil, &fakeImsFeed{err: errors.New("boom")})
	_, err := m.QueryMmtelFeatureState(context.Background())
	require.Equal(t, qnserrors.KindInternal, qnserrors.GetKind(err))
}
