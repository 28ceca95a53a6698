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

// DefaultBalanceGap is the balancer's stopping rule: iteration stops
// once max-min on a turn's histogram is no greater than this gap.
// spec.md §9 calls this out as a hard-coded parameter (observed: 1).
const DefaultBalanceGap = 1

// MasterMoves picks a new master for every vbucket whose master is
// Undefined or is a member of evacuateSet, using the least-utilized
// node from histogram turn 0 (ties broken by first-encountered
// order). The forbidden set for master picks is always empty. The
// histogram passed in is mutated in place as picks are made, so
// later picks in the same call see the revised counts. C3.
func MasterMoves(m VBucketMap, evacuateSet NodeSet, hist *Histogram) []Move {
	var moves []Move
	for v, chain := range m {
		master := chain[0]
		if master != Undefined && !evacuateSet.Contains(master) {
			continue
		}
		newNode, _, found := hist.MinExcluding(nil)
		if !found {
			continue
		}
		moves = append(moves, Move{VBucket: v, Turn: 0, Old: master, New: newNode})
		hist.Dec(master)
		hist.Inc(newNode)
	}
	return moves
}

// balanceEntry is one (vbucket, current-node, forbidden-set) working
// record for BalanceNodes.
type balanceEntry struct {
	vbucket   int
	node      Node
	forbidden NodeSet
}

// BalanceNodes iteratively relieves imbalance in a single chain turn:
// while the turn's histogram has max-min > gap, it moves one vbucket
// from the most-loaded node to the least-loaded node that isn't
// already present earlier in that vbucket's chain, repeating until no
// further move is possible. C3.
func BalanceNodes(m VBucketMap, hist *Histogram, turn int) []Move {
	return balanceNodesWithGap(m, hist, turn, DefaultBalanceGap)
}

func balanceNodesWithGap(m VBucketMap, hist *Histogram, turn, gap int) []Move {
	entries := make([]*balanceEntry, 0, len(m))
	for v, chain := range m {
		entries = append(entries, &balanceEntry{
			vbucket:   v,
			node:      chain[turn],
			forbidden: chainForbiddenSet(chain, turn),
		})
	}

	var moves []Move
	for {
		hi, hiCount := hist.Max()
		lo, loCount := hist.Min()
		if hi == Undefined || lo == Undefined || hiCount-loCount <= gap {
			break
		}

		idx := -1
		for i, e := range entries {
			if e.node == hi && !e.forbidden.Contains(lo) {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}

		e := entries[idx]
		moves = append(moves, Move{VBucket: e.vbucket, Turn: turn, Old: hi, New: lo})
		e.node = lo
		hist.Dec(hi)
		hist.Inc(lo)
	}
	return moves
}
