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

// Package vbmap implements the vbucket layout planner and rebalancer
// for a sharded, replicated key-value cluster: initial placement,
// balancing, replica repair, failover promotion, and safety
// classification of vbucket maps.
package vbmap

import "sort"

// Node identifies a cluster node, either by UUID or by a "host:port"
// string, matching whatever identity scheme the bucket's servers list
// uses.
type Node string

// Undefined is the sentinel for an unassigned chain slot (⊥).
const Undefined Node = ""

// Chain is the ordered sequence of nodes serving one vbucket: slot 0
// is the master, slots 1..NumReplicas are replicas in priority order.
type Chain []Node

// Clone returns a copy of the chain.
func (c Chain) Clone() Chain {
	out := make(Chain, len(c))
	copy(out, c)
	return out
}

// VBucketMap is an ordered sequence of chains, one per vbucket,
// indexed by vbucket id.
type VBucketMap []Chain

// Clone returns a deep copy of the map.
func (m VBucketMap) Clone() VBucketMap {
	out := make(VBucketMap, len(m))
	for i, c := range m {
		out[i] = c.Clone()
	}
	return out
}

// ChainLength returns NumReplicas+1, or 0 for an empty map.
func (m VBucketMap) ChainLength() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// NodeSet is a set of nodes.
type NodeSet map[Node]bool

// NewNodeSet builds a NodeSet from a slice of nodes.
func NewNodeSet(nodes ...Node) NodeSet {
	s := make(NodeSet, len(nodes))
	for _, n := range nodes {
		if n != Undefined {
			s[n] = true
		}
	}
	return s
}

// Contains reports whether n is a member of the set.
func (s NodeSet) Contains(n Node) bool {
	return n != Undefined && s[n]
}

// Union returns a new set containing every member of s and other.
func (s NodeSet) Union(other NodeSet) NodeSet {
	out := make(NodeSet, len(s)+len(other))
	for n := range s {
		out[n] = true
	}
	for n := range other {
		out[n] = true
	}
	return out
}

// Slice returns the set's members in sorted order, useful for
// deterministic iteration in logs and tests.
func (s NodeSet) Slice() []Node {
	out := make([]Node, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BucketType is a closed enum of the bucket kinds a cluster config may
// hold. Only BucketTypeMembase buckets carry a vbucket map.
type BucketType int

const (
	BucketTypeMembase BucketType = iota
	BucketTypeMemcached
)

func (t BucketType) String() string {
	switch t {
	case BucketTypeMembase:
		return "membase"
	case BucketTypeMemcached:
		return "memcached"
	default:
		return "unknown"
	}
}

// BucketConfig is a record of one bucket's configuration, as held by
// the cluster config store (spec.md §3).
type BucketConfig struct {
	Name        string
	Type        BucketType
	NumReplicas int
	NumVBuckets int
	Servers     []Node // Nodes currently bound to this bucket.
	Map         VBucketMap // Nil before first placement.
	MapUUID     string     // Regenerated on every Map commit; lets clients detect a stale cached map.
	RAMQuota    int64
	ProxyPort   int
}

// Move is a single-slot reassignment: for vbucket V, at the turn
// carried alongside (or turn 0 for master moves), replace Old with
// New.
type Move struct {
	VBucket int
	Turn    int
	Old     Node
	New     Node
}

// RebalanceProgress is the per-node fractional progress dictionary
// pushed to the orchestrator during a rebalance.
type RebalanceProgress map[Node]float64
