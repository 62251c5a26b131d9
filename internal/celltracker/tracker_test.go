// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package celltracker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/qns/internal/ccm"
	"grimm.is/qns/internal/feeds"
	"grimm.is/qns/internal/types"
)

const asset = `domestic_plmn = ["310260"]`

func TestTracker_DomesticPlmnIsHomeCoverage(t *testing.T) {
	b, err := ccm.Load(ccm.LoadOptions{AssetDefault: []byte(asset)})
	require.NoError(t, err)

	tr := New(nil, b)
	var last State
	tr.Subscribe(func(s State) { last = s })

	tr.OnTelephonyInfo(feeds.TelephonyInfo{CellularAvailable: true, RegisteredPLMN: "310260", RoamingType: "roaming"})
	require.Equal(t, types.CoverageHome, last.Coverage)
}

func TestTracker_NonDomesticPlmnIsRoamCoverage(t *testing.T) {
	b, err := ccm.Load(ccm.LoadOptions{AssetDefault: []byte(asset)})
	require.NoError(t, err)

	tr := New(nil, b)
	var last State
	tr.Subscribe(func(s State) { last = s })

	tr.OnTelephonyInfo(feeds.TelephonyInfo{CellularAvailable: true, RegisteredPLMN: "999999", RoamingType: "roaming"})
	require.Equal(t, types.CoverageRoam, last.Coverage)
}

func TestTracker_NoEmitWhenStateUnchanged(t *testing.T) {
	b, err := ccm.Load(ccm.LoadOptions{AssetDefault: []byte(asset)})
	require.NoError(t, err)

	tr := New(nil, b)
	count := 0
	tr.Subscribe(func(State) { count++ })

	info := feeds.TelephonyInfo{CellularAvailable: true, RegisteredPLMN: "310260"}
	tr.OnTelephonyInfo(info)
	before := count
	tr.OnTelephonyInfo(info)
	require.Equal(t, before, count)
}
