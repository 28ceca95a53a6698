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

// NewReplicas fills Undefined replica slots and replaces occurrences
// of ejected (or within-chain duplicate) nodes in replica positions,
// walking each chain's replicas left to right and avoiding placing a
// node more than once per chain. The master slot is never touched.
// histograms must have one entry per chain turn, recomputed from the
// current map; they are updated in place as picks are made. C4.
func NewReplicas(m VBucketMap, ejectSet NodeSet, histograms []*Histogram) VBucketMap {
	out := m.Clone()

	for v, chain := range out {
		original := m[v]
		master := chain[0]
		placed := NodeSet{}

		for turn := 1; turn < len(chain); turn++ {
			hist := histograms[turn]
			slot := chain[turn]

			switch {
			case slot == Undefined:
				avoid := placed.Union(NewNodeSet(master)).Union(ejectSet)
				pick, _, ok := hist.MinExcluding(avoid)
				if ok {
					chain[turn] = pick
					hist.Inc(pick)
					placed[pick] = true
				}

			case placed.Contains(slot) || ejectSet.Contains(slot):
				avoid := NewNodeSet(original...).Union(ejectSet).Union(placed)
				pick, _, ok := hist.MinExcluding(avoid)
				hist.Dec(slot)
				if ok {
					chain[turn] = pick
					hist.Inc(pick)
					placed[pick] = true
				} else {
					chain[turn] = Undefined
				}

			default:
				placed[slot] = true
			}
		}
	}

	return out
}
