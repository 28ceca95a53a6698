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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchbase/clog"
)

// ReplicationController toggles a bucket's inbound replication,
// consumed by phase (a) of the rebalance sequence. This core never
// implements replication itself (spec.md §1 non-goals).
type ReplicationController interface {
	DisableInboundReplication(bucket string) error
}

// Janitor sanity-cleans stale per-bucket state left over from a prior
// rebalance or crash, consumed by phase (c).
type Janitor interface {
	Clean(bucket string) error
}

// ClusterMembership ejects nodes from, and synchronizes config
// replication across, cluster membership — the two whole-cluster
// operations bracketing a rebalance (spec.md §4.7, opening and
// closing steps).
type ClusterMembership interface {
	EjectNodes(nodes []Node) error
	SyncConfigReplication() error
}

// OrchestratorProgress receives the per-node fractional-progress
// dictionary pushed during phase (e), keyed by node and ranging
// [0, 1].
type OrchestratorProgress interface {
	Report(nodeProgress map[Node]float64)
}

// ProgressTracker is the in-process OrchestratorProgress implementation
// backing the /api/rebalance/progress diagnostics endpoint: it caches
// the latest per-node fractional-progress dictionary a driver reports,
// following the same mutex-guarded-cache shape as SafetyMonitor's
// latest-report cache, minus the kick-channel worker loop since
// reporting here is already a plain synchronous call from driveMoves.
type ProgressTracker struct {
	m        sync.RWMutex
	progress map[Node]float64
}

// NewProgressTracker returns an empty ProgressTracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{}
}

// Report implements OrchestratorProgress, replacing the cached
// dictionary wholesale with the one just reported.
func (pt *ProgressTracker) Report(nodeProgress map[Node]float64) {
	pt.m.Lock()
	pt.progress = nodeProgress
	pt.m.Unlock()
}

// Snapshot returns a copy of the latest reported progress dictionary,
// safe for concurrent reads from the diagnostics surface.
func (pt *ProgressTracker) Snapshot() map[Node]float64 {
	pt.m.RLock()
	defer pt.m.RUnlock()
	out := make(map[Node]float64, len(pt.progress))
	for n, f := range pt.progress {
		out[n] = f
	}
	return out
}

// RebalanceDriver drives one full cluster rebalance across every
// bucket the config store knows about (C7, spec.md §4.7). It is not
// reentrant: the surrounding orchestrator (out of scope for this
// core) must guarantee at most one driver instance runs at a time
// (spec.md §5).
type RebalanceDriver struct {
	Store       *BucketStore
	Engine      EngineReadiness
	Mover       Mover
	Replication ReplicationController
	Janitor     Janitor
	Membership  ClusterMembership
	Progress    OrchestratorProgress
	Stats       *DriverStats

	// SelfNode is this driver's own node, ejected last of all when it
	// appears among the nodes being removed (spec.md §4.7, final
	// paragraph).
	SelfNode Node

	PollAttempts int
	PollInterval time.Duration
}

// NewRebalanceDriver returns a RebalanceDriver with the spec's default
// engine-readiness polling parameters.
func NewRebalanceDriver(store *BucketStore, engine EngineReadiness, mover Mover,
	replication ReplicationController, janitor Janitor, membership ClusterMembership,
	progress OrchestratorProgress, self Node) *RebalanceDriver {
	return &RebalanceDriver{
		Store:        store,
		Engine:       engine,
		Mover:        mover,
		Replication:  replication,
		Janitor:      janitor,
		Membership:   membership,
		Progress:     progress,
		Stats:        NewDriverStats(),
		SelfNode:     self,
		PollAttempts: DefaultReadinessPollAttempts,
		PollInterval: DefaultReadinessPollInterval,
	}
}

// Run performs a full rebalance to the target membership described by
// keepNodes/ejectNodes/failedNodes, honoring cooperative cancellation
// via stopCh (spec.md §5).
func (d *RebalanceDriver) Run(stopCh chan struct{}, keepNodes, ejectNodes, failedNodes []Node) error {
	return d.Stats.TimeRebalance(func() error {
		return d.run(stopCh, keepNodes, ejectNodes, failedNodes)
	})
}

func (d *RebalanceDriver) run(stopCh chan struct{}, keepNodes, ejectNodes, failedNodes []Node) (err error) {
	failedSet := NewNodeSet(failedNodes...)

	// 1. Eject failed_nodes from cluster membership first, except
	// self, deferred to last.
	failedExceptSelf := excludeNode(failedNodes, d.SelfNode)
	if len(failedExceptSelf) > 0 {
		if err := d.Membership.EjectNodes(failedExceptSelf); err != nil {
			return fmt.Errorf("vbmap: RebalanceDriver.Run, eject failed_nodes, err: %w", err)
		}
	}

	defer func() {
		if err != nil {
			// On any other failure during rebalance: if this node is
			// itself among failed_nodes, eject self as a best-effort
			// final step.
			if failedSet.Contains(d.SelfNode) {
				if ejErr := d.Membership.EjectNodes([]Node{d.SelfNode}); ejErr != nil {
					clog.Printf("rebalance: Run, best-effort self-eject failed, err: %v", ejErr)
				}
			}
		}
	}()

	buckets, err := d.Store.GetBuckets()
	if err != nil {
		return fmt.Errorf("vbmap: RebalanceDriver.Run, GetBuckets, err: %w", err)
	}

	numBuckets := len(buckets)
	for i, b := range buckets {
		if err := cancellationCheck(stopCh); err != nil {
			return err
		}

		if b.Type != BucketTypeMembase {
			// 2. For each memcached bucket: set servers := keep_nodes
			// and continue.
			if serr := d.Store.SetServers(b.Name, keepNodes); serr != nil {
				return fmt.Errorf("vbmap: RebalanceDriver.Run, SetServers memcached, bucket: %s, err: %w", b.Name, serr)
			}
			continue
		}

		if err := d.runBucket(stopCh, b, i, numBuckets, keepNodes, ejectNodes); err != nil {
			// On cancellation or any other failure during rebalance: run
			// fixup to repair any ⊥ replica slots a mid-bucket commit may
			// have left behind, then propagate the original error as-is.
			if ferr := d.fixup(b.Name, keepNodes, ejectNodes); ferr != nil {
				clog.Printf("rebalance: runBucket failed and fixup also failed, bucket: %s, err: %v, fixupErr: %v",
					b.Name, err, ferr)
			}
			return err
		}
	}

	// After all buckets complete: synchronize config replication, then
	// eject eject_nodes ∪ failed_nodes from cluster membership (self
	// last).
	if err := d.Membership.SyncConfigReplication(); err != nil {
		return fmt.Errorf("vbmap: RebalanceDriver.Run, SyncConfigReplication, err: %w", err)
	}

	toEject := NewNodeSet(ejectNodes...).Union(failedSet)
	if err := d.ejectSelfLast(toEject); err != nil {
		return fmt.Errorf("vbmap: RebalanceDriver.Run, final eject, err: %w", err)
	}

	return nil
}

// runBucket performs phases (a)-(k) of spec.md §4.7 for one membase
// bucket. On cancellation or failure it returns the error without
// running fixup; run calls fixup for the bucket afterwards.
func (d *RebalanceDriver) runBucket(stopCh chan struct{}, b *BucketConfig, i, numBuckets int, keepNodes, ejectNodes []Node) error {
	// a. Disable inbound replication for the bucket.
	if err := d.Replication.DisableInboundReplication(b.Name); err != nil {
		return fmt.Errorf("vbmap: runBucket, DisableInboundReplication, bucket: %s, err: %w", b.Name, err)
	}

	// b. Set servers := keep_nodes ∪ eject_nodes and wait for engine
	// readiness on each of those nodes.
	waitFor := NewNodeSet(keepNodes...).Union(NewNodeSet(ejectNodes...))
	if err := d.Store.SetServers(b.Name, waitFor.Slice()); err != nil {
		return fmt.Errorf("vbmap: runBucket, SetServers, bucket: %s, err: %w", b.Name, err)
	}
	if err := d.waitForEngineReadiness(stopCh, b.Name, waitFor.Slice()); err != nil {
		return err
	}

	// c. Invoke the janitor to sanity-clean any stale state.
	if err := d.Janitor.Clean(b.Name); err != nil {
		return fmt.Errorf("vbmap: runBucket, Janitor.Clean, bucket: %s, err: %w", b.Name, err)
	}

	b, err := d.Store.GetBucket(b.Name)
	if err != nil {
		return fmt.Errorf("vbmap: runBucket, GetBucket, bucket: %s, err: %w", b.Name, err)
	}
	currentMap := b.Map

	// d. Compute master_moves against the current map using turn-0
	// histograms over keep_nodes.
	masterHist := NewHistogram(keepNodes)
	for _, chain := range currentMap {
		masterHist.Inc(chain[0])
	}
	masterMoves := MasterMoves(currentMap, NewNodeSet(ejectNodes...), masterHist)

	// e. Hand the move list to the mover.
	if len(masterMoves) > 0 {
		if err := d.driveMoves(stopCh, b.Name, masterMoves, i, numBuckets); err != nil {
			return err
		}
	}

	// f. On successful mover completion, rewrite the map.
	currentMap = applyMasterMoves(currentMap, masterMoves)
	if err := d.Store.SetMap(b.Name, currentMap); err != nil {
		return fmt.Errorf("vbmap: runBucket, SetMap after master moves, bucket: %s, err: %w", b.Name, err)
	}

	// g. Cancellation check.
	if err := cancellationCheck(stopCh); err != nil {
		return err
	}

	// h. Recompute histograms, balance turn 1, move data.
	if currentMap.ChainLength() > 1 {
		turn1Hist := Histograms(currentMap, keepNodes)[1]
		turn1Moves := BalanceNodes(currentMap, turn1Hist, 1)
		if len(turn1Moves) > 0 {
			if err := d.driveMoves(stopCh, b.Name, turn1Moves, i, numBuckets); err != nil {
				return err
			}
		}
		currentMap = ApplyMoves(currentMap, turn1Moves)
		if err := d.Store.SetMap(b.Name, currentMap); err != nil {
			return fmt.Errorf("vbmap: runBucket, SetMap after turn-1 balance, bucket: %s, err: %w", b.Name, err)
		}
	}

	// i. Run new_replicas against eject_nodes; commit the resulting map.
	currentMap = NewReplicas(currentMap, NewNodeSet(ejectNodes...), Histograms(currentMap, keepNodes))
	if err := d.Store.SetMap(b.Name, currentMap); err != nil {
		return fmt.Errorf("vbmap: runBucket, SetMap after replica repair, bucket: %s, err: %w", b.Name, err)
	}

	// j. For I = 2 .. ChainLength-1: balance_nodes at turn I (pure map
	// update, no data movement), then new_replicas again.
	for turn := 2; turn < currentMap.ChainLength(); turn++ {
		if err := cancellationCheck(stopCh); err != nil {
			return err
		}
		turnHist := Histograms(currentMap, keepNodes)[turn]
		moves := BalanceNodes(currentMap, turnHist, turn)
		currentMap = ApplyMoves(currentMap, moves)
		currentMap = NewReplicas(currentMap, NewNodeSet(ejectNodes...), Histograms(currentMap, keepNodes))
		if err := d.Store.SetMap(b.Name, currentMap); err != nil {
			return fmt.Errorf("vbmap: runBucket, SetMap turn %d, bucket: %s, err: %w", turn, b.Name, err)
		}
	}

	// k. Commit final servers := keep_nodes (the final map was already
	// committed above). No separate config push is made here.
	if err := d.Store.SetServers(b.Name, keepNodes); err != nil {
		return fmt.Errorf("vbmap: runBucket, final SetServers, bucket: %s, err: %w", b.Name, err)
	}

	// l. Cancellation check at the final boundary.
	return cancellationCheck(stopCh)
}

// driveMoves hands moves to the configured Mover and translates its
// progress events into an orchestrator progress dictionary. That
// dictionary has a single entry, keyed by SelfNode, whose value is
// (i + fraction of this batch completed) / numBuckets; no per-node
// breakdown is reported. A stopped mover yields ErrStopped and any
// other mover error a *MoverError; fixup is left to run.
func (d *RebalanceDriver) driveMoves(stopCh chan struct{}, bucket string, moves []Move, i, numBuckets int) error {
	return d.Stats.TimeMove(func() error {
		transfer := func(moveStopCh chan struct{}, v int, node Node, state string) error {
			return d.waitForEngineReadinessOne(moveStopCh, bucket, node)
		}

		progressCh, err := d.Mover.Start(stopCh, moves, transfer)
		if err != nil {
			return fmt.Errorf("vbmap: driveMoves, Mover.Start, bucket: %s, err: %w", bucket, err)
		}

		var final MoveProgress
		for p := range progressCh {
			final = p
			if d.Progress != nil && p.TotalMoves > 0 {
				frac := float64(p.CompletedMoves) / float64(p.TotalMoves)
				overall := (float64(i) + frac) / float64(numBuckets)
				d.Progress.Report(map[Node]float64{d.SelfNode: overall})
			}
		}

		for _, e := range final.Errs {
			if e == ErrStopped {
				return ErrStopped
			}
		}
		if len(final.Errs) > 0 {
			return &MoverError{Bucket: bucket, Reason: final.Errs[0]}
		}
		return nil
	})
}

// waitForEngineReadiness polls every node in nodes until each reports
// readiness for bucket, aborting with ErrWaitForEngineFailed after
// PollAttempts rounds (spec.md §4.7b).
func (d *RebalanceDriver) waitForEngineReadiness(stopCh chan struct{}, bucket string, nodes []Node) error {
	for _, n := range nodes {
		if err := d.waitForEngineReadinessOne(stopCh, bucket, n); err != nil {
			return err
		}
	}
	return nil
}

func (d *RebalanceDriver) waitForEngineReadinessOne(stopCh chan struct{}, bucket string, node Node) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := PollUntilReady(stopCh, d.PollAttempts, d.PollInterval, func() (bool, error) {
		d.Stats.TotEngineReadyPoll++
		ready, err := d.Engine.Ready(ctx, node, bucket)
		if err != nil {
			return false, err
		}
		return ready, nil
	})
	if err == ErrWaitForEngineFailed {
		d.Stats.TotEngineReadyFailed++
	}
	return err
}

// fixup implements the cancellation/failure recovery path of spec.md
// §4.7: compute new_replicas(current_map, eject_nodes,
// histograms(current_map, keep_nodes)), commit it, and set servers :=
// keep_nodes ∪ eject_nodes, guaranteeing no stray ⊥ replicas remain
// anywhere a node is available to fill them.
func (d *RebalanceDriver) fixup(bucket string, keepNodes, ejectNodes []Node) error {
	b, err := d.Store.GetBucket(bucket)
	if err != nil {
		return fmt.Errorf("vbmap: fixup, GetBucket, bucket: %s, err: %w", bucket, err)
	}
	if b.Map == nil {
		return nil
	}

	repaired := NewReplicas(b.Map, NewNodeSet(ejectNodes...), Histograms(b.Map, keepNodes))
	if err := d.Store.SetMap(bucket, repaired); err != nil {
		return fmt.Errorf("vbmap: fixup, SetMap, bucket: %s, err: %w", bucket, err)
	}

	servers := NewNodeSet(keepNodes...).Union(NewNodeSet(ejectNodes...))
	if err := d.Store.SetServers(bucket, servers.Slice()); err != nil {
		return fmt.Errorf("vbmap: fixup, SetServers, bucket: %s, err: %w", bucket, err)
	}
	return nil
}

func (d *RebalanceDriver) ejectSelfLast(nodes NodeSet) error {
	others := make([]Node, 0, len(nodes))
	ejectSelf := false
	for n := range nodes {
		if n == d.SelfNode {
			ejectSelf = true
			continue
		}
		others = append(others, n)
	}
	if len(others) > 0 {
		if err := d.Membership.EjectNodes(others); err != nil {
			return err
		}
	}
	if ejectSelf {
		return d.Membership.EjectNodes([]Node{d.SelfNode})
	}
	return nil
}

// cancellationCheck is the non-blocking stop-signal poll used at
// every phase boundary marked in spec.md §4.7.
func cancellationCheck(stopCh chan struct{}) error {
	select {
	case <-stopCh:
		return ErrStopped
	default:
		return nil
	}
}

func excludeNode(nodes []Node, self Node) []Node {
	return RemoveNodes(nodes, NewNodeSet(self))
}

// applyMasterMoves rewrites the map after a successful master-move
// round: for every moved vbucket the master becomes the new node and
// all replica slots are cleared to Undefined; unmoved chains are
// untouched (spec.md §4.7f).
func applyMasterMoves(m VBucketMap, moves []Move) VBucketMap {
	out := m.Clone()
	for _, mv := range moves {
		chain := out[mv.VBucket]
		newChain := make(Chain, len(chain))
		newChain[0] = mv.New
		for i := 1; i < len(chain); i++ {
			newChain[i] = Undefined
		}
		out[mv.VBucket] = newChain
	}
	return out
}
