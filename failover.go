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

// FailoverResult reports the outcome of a Failover transform.
type FailoverResult struct {
	Map            VBucketMap
	LostVBuckets   []int // vbucket ids with no live copy after failover.
	LostCount      int
	LostPercentage float64
}

// Failover replaces every occurrence of a failed node with Undefined,
// then rotates each chain's leading run of Undefined slots to the
// tail, so the first surviving replica (if any) becomes the new
// master. Chains that remain entirely Undefined, or whose leading run
// spans the whole chain, have lost all live copies of that vbucket's
// data; the caller is expected to log the count and percentage, the
// transform itself never fails. Post-condition: no node in failedSet
// appears anywhere in the result. C5.
func Failover(m VBucketMap, failedSet NodeSet) FailoverResult {
	out := m.Clone()

	for v, chain := range out {
		for i, n := range chain {
			if failedSet.Contains(n) {
				chain[i] = Undefined
			}
		}
		out[v] = rotateLeadingUndefined(chain)
	}

	var lost []int
	for v, chain := range out {
		if len(chain) == 0 || chain[0] == Undefined {
			lost = append(lost, v)
		}
	}

	pct := 0.0
	if len(out) > 0 {
		pct = 100 * float64(len(lost)) / float64(len(out))
	}

	return FailoverResult{
		Map:            out,
		LostVBuckets:   lost,
		LostCount:      len(lost),
		LostPercentage: pct,
	}
}

// rotateLeadingUndefined shifts chain left past its leading run of
// Undefined slots, wrapping them to the tail in their original order.
// A chain that is entirely Undefined is returned unchanged.
func rotateLeadingUndefined(chain Chain) Chain {
	i := 0
	for i < len(chain) && chain[i] == Undefined {
		i++
	}
	if i == 0 || i == len(chain) {
		return chain
	}
	out := make(Chain, 0, len(chain))
	out = append(out, chain[i:]...)
	out = append(out, chain[:i]...)
	return out
}
