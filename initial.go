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

import "fmt"

// GenerateInitialMap computes the first vbucket map for a fresh
// bucket: a round-robin assignment over servers, NumReplicas+1 nodes
// wide per chain, advancing the starting offset by one server per
// vbucket. Chains are padded with Undefined when there aren't enough
// servers to fill every slot. C2.
func GenerateInitialMap(numReplicas, numVBuckets int, servers []Node) (VBucketMap, error) {
	if numVBuckets < 0 {
		return nil, fmt.Errorf("vbmap: GenerateInitialMap, negative numVBuckets: %d",
			numVBuckets)
	}

	chainLen := numReplicas + 1
	n := len(servers)

	m := make(VBucketMap, numVBuckets)
	for v := 0; v < numVBuckets; v++ {
		chain := make(Chain, chainLen)
		for slot := 0; slot < chainLen; slot++ {
			if n == 0 || slot >= n {
				chain[slot] = Undefined
				continue
			}
			chain[slot] = servers[(v+slot)%n]
		}
		m[v] = chain
	}
	return m, nil
}
