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
	"fmt"
	"strconv"

	"github.com/couchbaselabs/blance"
)

// MoveProgress is a snapshot of an in-flight Mover's status, suitable
// for surfacing over the diagnostics endpoint.
type MoveProgress struct {
	TotalMoves     int
	CompletedMoves int
	Errs           []error
}

// TransferFunc performs the actual data transfer implied by handing
// vbucket v to node in the given state ("master" or "replica"),
// returning once the cluster has accepted the handoff. This core
// never implements data transfer itself (spec.md §1 non-goals); a
// caller supplies this hook backed by the cluster's own replication
// machinery.
type TransferFunc func(stopCh chan struct{}, v int, node Node, state string) error

// Mover drives a committed plan of Moves to completion, one turn at a
// time, honoring cooperative cancellation (spec.md §5).
type Mover interface {
	// Start begins orchestrating moves and returns a channel of
	// progress snapshots, closed when the move set finishes (with or
	// without error; callers determine completion via the final
	// snapshot's Errs).
	Start(stopCh chan struct{}, moves []Move, transfer TransferFunc) (<-chan MoveProgress, error)
}

// BlanceMover implements Mover atop github.com/couchbaselabs/blance,
// the teacher's own move-orchestration library, reusing its
// concurrency-limited partition-state-machine driver instead of
// hand-rolling one.
type BlanceMover struct {
	// MaxConcurrentMovesPerNode bounds how many in-flight moves a
	// single node may participate in at once, passed through to
	// blance's orchestrator options.
	MaxConcurrentMovesPerNode int
}

// NewBlanceMover returns a BlanceMover with the teacher's usual
// per-node concurrency of 1, matching the conservative, one-move-at-
// a-time default cbgt's own rebalance orchestration uses.
func NewBlanceMover() *BlanceMover {
	return &BlanceMover{MaxConcurrentMovesPerNode: 1}
}

var partitionModel = blance.PartitionModel{
	"master": &blance.PartitionModelState{
		Priority: 0,
	},
	"replica": &blance.PartitionModelState{
		Priority: 1,
	},
}

// buildPartitionMaps converts a VBucketMap into blance's begin/end
// partition maps bracketing a single move: the "beg" map reflects
// node assignments before the move, the "end" map after.
func buildPartitionMaps(before, after VBucketMap) (blance.PartitionMap, blance.PartitionMap) {
	beg := blance.PartitionMap{}
	end := blance.PartitionMap{}
	for v := range before {
		name := strconv.Itoa(v)
		beg[name] = &blance.Partition{
			Name:         name,
			NodesByState: chainToNodesByState(before[v]),
		}
		end[name] = &blance.Partition{
			Name:         name,
			NodesByState: chainToNodesByState(after[v]),
		}
	}
	return beg, end
}

func chainToNodesByState(c Chain) map[string][]string {
	out := map[string][]string{"master": nil, "replica": nil}
	for turn, n := range c {
		if n == Undefined {
			continue
		}
		if turn == 0 {
			out["master"] = append(out["master"], string(n))
		} else {
			out["replica"] = append(out["replica"], string(n))
		}
	}
	return out
}

// Start implements Mover by assembling a single before/after
// VBucketMap pair from moves (moves are always generated against one
// coherent starting map, per spec.md §4.7) and handing it to
// blance.OrchestrateMoves, with assignPartitionFunc invoking the
// caller's TransferFunc.
func (bm *BlanceMover) Start(stopCh chan struct{}, moves []Move, transfer TransferFunc) (<-chan MoveProgress, error) {
	if len(moves) == 0 {
		out := make(chan MoveProgress, 1)
		out <- MoveProgress{}
		close(out)
		return out, nil
	}

	before, after := movesBeforeAfter(moves)
	begMap, endMap := buildPartitionMaps(before, after)

	assignPartitionFunc := func(stopCh2 chan struct{}, partition, node, state, op string) error {
		v, err := strconv.Atoi(partition)
		if err != nil {
			return fmt.Errorf("vbmap: BlanceMover assign, bad partition: %q, err: %w", partition, err)
		}
		return transfer(stopCh2, v, Node(node), state)
	}

	nodesAll := planNodesAll(moves)

	o, err := blance.OrchestrateMoves(
		partitionModel,
		blance.OrchestratorOptions{
			MaxConcurrentPartitionMovesPerNode: bm.MaxConcurrentMovesPerNode,
		},
		nodesAll,
		begMap,
		endMap,
		assignPartitionFunc,
		blance.LowestWeightPartitionMoveForNode)
	if err != nil {
		return nil, fmt.Errorf("vbmap: BlanceMover.Start, err: %w", err)
	}

	out := make(chan MoveProgress)
	go func() {
		defer close(out)

		total := len(moves)
		numProgress := 0
		var lastErrs []error

	loop:
		for {
			select {
			case <-stopCh:
				o.Stop()
				lastErrs = []error{ErrStopped}
				break loop

			case progress, ok := <-o.ProgressCh():
				if !ok {
					break loop
				}
				numProgress++
				if len(progress.Errors) > 0 {
					lastErrs = progress.Errors
				}
				out <- MoveProgress{TotalMoves: total, CompletedMoves: numProgress, Errs: progress.Errors}
			}
		}

		o.Stop()
		out <- MoveProgress{TotalMoves: total, CompletedMoves: total, Errs: lastErrs}
	}()

	return out, nil
}

// planNodesAll collects the distinct node names participating in
// moves, the "nodesAll" universe blance.OrchestrateMoves needs to
// reason about partition placement.
func planNodesAll(moves []Move) []string {
	seen := map[string]bool{}
	var all []string
	add := func(n Node) {
		if n == Undefined || seen[string(n)] {
			return
		}
		seen[string(n)] = true
		all = append(all, string(n))
	}
	for _, mv := range moves {
		add(mv.Old)
		add(mv.New)
	}
	return all
}

// SimpleMover is a dependency-free Mover that runs moves one at a
// time, in order, calling transfer synchronously for each. It backs
// unit tests and the CLI's offline dry-run mode, where pulling in
// blance's concurrency machinery buys nothing.
type SimpleMover struct{}

// Start implements Mover.
func (SimpleMover) Start(stopCh chan struct{}, moves []Move, transfer TransferFunc) (<-chan MoveProgress, error) {
	out := make(chan MoveProgress)
	go func() {
		defer close(out)
		total := len(moves)
		for i, mv := range moves {
			select {
			case <-stopCh:
				out <- MoveProgress{TotalMoves: total, CompletedMoves: i, Errs: []error{ErrStopped}}
				return
			default:
			}

			state := "master"
			if mv.Turn != 0 {
				state = "replica"
			}
			if err := transfer(stopCh, mv.VBucket, mv.New, state); err != nil {
				out <- MoveProgress{TotalMoves: total, CompletedMoves: i, Errs: []error{err}}
				return
			}
			out <- MoveProgress{TotalMoves: total, CompletedMoves: i + 1}
		}
	}()
	return out, nil
}

// movesBeforeAfter reconstructs the before/after VBucketMap implied
// by a flat move list, assuming every move's Old/New reflect the same
// chain turn across a single rebalance round (spec.md §3, Move).
func movesBeforeAfter(moves []Move) (VBucketMap, VBucketMap) {
	maxV := 0
	for _, mv := range moves {
		if mv.VBucket > maxV {
			maxV = mv.VBucket
		}
	}
	before := make(VBucketMap, maxV+1)
	after := make(VBucketMap, maxV+1)
	for _, mv := range moves {
		for len(before[mv.VBucket]) <= mv.Turn {
			before[mv.VBucket] = append(before[mv.VBucket], Undefined)
			after[mv.VBucket] = append(after[mv.VBucket], Undefined)
		}
		before[mv.VBucket][mv.Turn] = mv.Old
		after[mv.VBucket][mv.Turn] = mv.New
	}
	return before, after
}
