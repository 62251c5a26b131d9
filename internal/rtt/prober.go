// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rtt probes the RTT ping rule grammar from the carrier config
// ("<server>,<count>,<interval_ms>,<packet_size>,<rtt_ms_criterion>,...")
// against a configured server, adapted from flywall's
// internal/monitor.Service route-health pinger: same
// github.com/prometheus-community/pro-bing dependency, the same
// single-ping/check-statistics shape, generalized to loop Count times and
// report whether the average RTT beats the configured criterion.
package rtt

import (
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"grimm.is/qns/internal/types"
)

// Result is a single probe outcome.
type Result struct {
	AvgRTT      time.Duration
	PacketsLost bool
	MeetsCriterion bool
}

// CheckFunc is the pluggable ping implementation, overridable in tests the
// same way flywall's monitor package exposes CheckPingFunc as a package
// variable.
var CheckFunc = func(server string, count, intervalMs, packetSize int) (time.Duration, error) {
	pinger, err := probing.NewPinger(server)
	if err != nil {
		return 0, fmt.Errorf("rtt: create pinger: %w", err)
	}
	pinger.Count = count
	if pinger.Count <= 0 {
		pinger.Count = 1
	}
	pinger.Interval = time.Duration(intervalMs) * time.Millisecond
	pinger.Size = packetSize
	pinger.Timeout = time.Duration(count+1) * pinger.Interval
	if pinger.Timeout <= 0 {
		pinger.Timeout = 2 * time.Second
	}
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return 0, fmt.Errorf("rtt: run pinger: %w", err)
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("rtt: 100%% packet loss to %s", server)
	}
	return stats.AvgRtt, nil
}

// Probe runs rule's configured ping parameters once and reports whether
// the measured RTT meets rule's criterion.
func Probe(rule types.RTTPingRule) Result {
	avg, err := CheckFunc(rule.Server, rule.Count, rule.IntervalMs, rule.PacketSize)
	if err != nil {
		return Result{PacketsLost: true}
	}
	criterion := time.Duration(rule.RTTCriterionMs) * time.Millisecond
	return Result{AvgRTT: avg, MeetsCriterion: avg <= criterion}
}
