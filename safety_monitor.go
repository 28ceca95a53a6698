//  Copyright (c) 2014 Couchbase, Inc.
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the
//  License. You may obtain a copy of the License at
//    http://www.apache.org/licenses/LICENSE-2.0
//  Unless required by applicable law or agreed to in writing,
//  software distributed under the License is distributed on an "AS
//  IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
//  express or implied. See the License for the specific language
//  governing permissions and limitations under the License.

package vbmap

import (
	"sync"

	"github.com/couchbase/clog"
)

// SafetyMonitor recomputes ClusterSafety on each Kick or KickSync (it
// does not watch the bucket config or the live-node set for changes
// itself), caching the latest report for cheap
// reads by the diagnostics surface (C6, spec.md §4.6). It follows the
// same kick-channel worker loop the teacher's planner uses: callers
// never block the computation, they just nudge it and, optionally,
// wait synchronously for one pass to finish.
type SafetyMonitor struct {
	store    *BucketStore
	liveness func() NodeSet // returns the currently live node set

	workCh chan *workReq

	m      sync.RWMutex
	latest ClusterSafetyReport
}

// NewSafetyMonitor returns a SafetyMonitor that reads bucket configs
// from store and live nodes from liveness.
func NewSafetyMonitor(store *BucketStore, liveness func() NodeSet) *SafetyMonitor {
	return &SafetyMonitor{
		store:    store,
		liveness: liveness,
		workCh:   make(chan *workReq),
	}
}

// Report returns the most recently computed ClusterSafetyReport. It
// never blocks on a recomputation; call Kick first if you need the
// latest config/liveness reflected.
func (sm *SafetyMonitor) Report() ClusterSafetyReport {
	sm.m.RLock()
	defer sm.m.RUnlock()
	return sm.latest
}

// Kick asks the monitor to recompute, without waiting for it to
// finish.
func (sm *SafetyMonitor) Kick(msg string) {
	go func() {
		_ = syncWorkReq(sm.workCh, workKick, msg, nil)
	}()
}

// KickSync asks the monitor to recompute and waits for that pass to
// complete.
func (sm *SafetyMonitor) KickSync(msg string) error {
	return syncWorkReq(sm.workCh, workKick, msg, nil)
}

// Run processes work requests until stopCh closes, recomputing the
// safety report on every kick. Subscribers to config or liveness
// changes should call Kick/KickSync; Run itself doesn't poll.
func (sm *SafetyMonitor) Run(stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return

		case req, ok := <-sm.workCh:
			if !ok {
				return
			}
			err := sm.runOnce()
			if req.resCh != nil {
				req.resCh <- err
			}
		}
	}
}

func (sm *SafetyMonitor) runOnce() error {
	buckets, err := sm.store.GetBuckets()
	if err != nil {
		clog.Printf("safety_monitor: runOnce, GetBuckets, err: %v", err)
		return err
	}

	live := sm.liveness()
	report := ClusterSafety(buckets, live)

	sm.m.Lock()
	sm.latest = report
	sm.m.Unlock()

	if report.Overall >= SafetyFailoverNeeded {
		clog.Printf("safety_monitor: runOnce, overall: %s, soft_nodes_needed: %v",
			report.Overall, report.SoftNodesNeeded)
	}

	return nil
}
