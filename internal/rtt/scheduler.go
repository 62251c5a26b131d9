// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rtt

import (
	"sync"
	"time"

	"grimm.is/qns/internal/logging"
	"grimm.is/qns/internal/types"
)

// Scheduler runs one ticker-driven probe loop per configured RTT ping rule,
// the way flywall's internal/monitor.Service runs one goroutine per route:
// an initial probe, then a ticker at the rule's check interval, until Stop
// closes the shared stop channel and waits for every goroutine to exit.
type Scheduler struct {
	logger *logging.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler constructs an RTT probe scheduler.
func NewScheduler(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{logger: logger.WithComponent("rtt")}
}

// Start begins one probe loop per rule, delivering every result to onResult.
// Calling Start while already running is a no-op: callers stop the previous
// run (on bundle reload) before starting the next.
func (s *Scheduler) Start(rules []types.RTTPingRule, onResult func(rule types.RTTPingRule, res Result)) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.running = true
	stopCh := s.stopCh
	s.mu.Unlock()

	for _, rule := range rules {
		s.wg.Add(1)
		go s.probeLoop(rule, onResult, stopCh)
	}
}

// Stop halts every running probe loop and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) probeLoop(rule types.RTTPingRule, onResult func(rule types.RTTPingRule, res Result), stopCh chan struct{}) {
	defer s.wg.Done()

	check := func() {
		res := Probe(rule)
		if onResult != nil {
			onResult(rule, res)
		}
	}
	check()

	interval := time.Duration(rule.RTTCheckIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			check()
		case <-stopCh:
			return
		}
	}
}
