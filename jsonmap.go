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

// JSONVBucketMap is the admin-surface wire representation of a
// vbucket map (spec.md §6): each integer in VBucketMap is an index
// into ServerList, or -1 for Undefined.
type JSONVBucketMap struct {
	HashAlgorithm string   `json:"hashAlgorithm"`
	NumReplicas   int      `json:"numReplicas"`
	UUID          string   `json:"uuid,omitempty"`
	ServerList    []string `json:"serverList"`
	VBucketMap    [][]int  `json:"vBucketMap"`
}

// ToJSONMap converts a VBucketMap plus its bucket's servers list and
// MapUUID into the admin-surface wire representation. serverList is
// the sorted union of servers and every node appearing in any chain.
func ToJSONMap(m VBucketMap, numReplicas int, servers []Node, uuid string) JSONVBucketMap {
	all := NewNodeSet(servers...)
	for _, chain := range m {
		for _, n := range chain {
			if n != Undefined {
				all[n] = true
			}
		}
	}
	ordered := all.Slice()

	index := make(map[Node]int, len(ordered))
	serverList := make([]string, len(ordered))
	for i, n := range ordered {
		index[n] = i
		serverList[i] = string(n)
	}

	vmap := make([][]int, len(m))
	for v, chain := range m {
		row := make([]int, len(chain))
		for slot, n := range chain {
			if n == Undefined {
				row[slot] = -1
			} else {
				row[slot] = index[n]
			}
		}
		vmap[v] = row
	}

	return JSONVBucketMap{
		HashAlgorithm: "CRC",
		NumReplicas:   numReplicas,
		UUID:          uuid,
		ServerList:    serverList,
		VBucketMap:    vmap,
	}
}

// FromJSONMap converts the admin-surface wire representation back
// into a VBucketMap.
func FromJSONMap(j JSONVBucketMap) VBucketMap {
	m := make(VBucketMap, len(j.VBucketMap))
	for v, row := range j.VBucketMap {
		chain := make(Chain, len(row))
		for slot, idx := range row {
			if idx < 0 || idx >= len(j.ServerList) {
				chain[slot] = Undefined
			} else {
				chain[slot] = Node(j.ServerList[idx])
			}
		}
		m[v] = chain
	}
	return m
}
