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

// DefaultUnbalanceGap is the threshold used by Unbalanced: a turn is
// considered unbalanced once its max-min vbucket count on any node
// exceeds this gap. spec.md §9 calls this out as a hard-coded
// parameter (observed: 2).
const DefaultUnbalanceGap = 2

// Safety is a closed enum of per-bucket severity levels, in
// increasing order of severity.
type Safety int

const (
	SafetyOK Safety = iota
	SafetySoftRebalanceNeeded
	SafetyRebalanceNeeded
	SafetyFailoverNeeded
	SafetyHardNodesNeeded

	// SafetySoftNodesNeeded is a separate axis, not part of the base
	// severity ordering above; it is raised alongside a base safety
	// value, never in place of one.
	SafetySoftNodesNeeded
)

func (s Safety) String() string {
	switch s {
	case SafetyOK:
		return "ok"
	case SafetySoftRebalanceNeeded:
		return "softRebalanceNeeded"
	case SafetyRebalanceNeeded:
		return "rebalanceNeeded"
	case SafetyFailoverNeeded:
		return "failoverNeeded"
	case SafetyHardNodesNeeded:
		return "hardNodesNeeded"
	case SafetySoftNodesNeeded:
		return "softNodesNeeded"
	default:
		return "unknown"
	}
}

// BucketSafetyReport is the safety classification for one bucket.
type BucketSafetyReport struct {
	Bucket string
	Base   Safety
	Extra  Safety // SafetyOK when no extra axis is raised.
}

// Warnings returns whichever of {Base, Extra} are not SafetyOK, for
// compatibility with failover_warnings' produced interface.
func (r BucketSafetyReport) Warnings() []Safety {
	var out []Safety
	if r.Base != SafetyOK {
		out = append(out, r.Base)
	}
	if r.Extra != SafetyOK {
		out = append(out, r.Extra)
	}
	return out
}

// minLiveCopies returns, over every chain in m, the smallest count of
// chain entries present in liveNodes.
func minLiveCopies(m VBucketMap, liveNodes NodeSet) int {
	if len(m) == 0 {
		return 0
	}
	min := -1
	for _, chain := range m {
		count := 0
		for _, n := range chain {
			if n != Undefined && liveNodes.Contains(n) {
				count++
			}
		}
		if min < 0 || count < min {
			min = count
		}
	}
	return min
}

// Unbalanced reports whether any chain turn's histogram over servers
// has a max-min spread greater than DefaultUnbalanceGap.
func Unbalanced(m VBucketMap, servers []Node) bool {
	return unbalancedWithGap(m, servers, DefaultUnbalanceGap)
}

func unbalancedWithGap(m VBucketMap, servers []Node, gap int) bool {
	for _, h := range Histograms(m, servers) {
		_, maxCount := h.Max()
		_, minCount := h.Min()
		if maxCount-minCount > gap {
			return true
		}
	}
	return false
}

// BucketSafety classifies a single membase bucket's safety given the
// cluster's currently live nodes. C6.
func BucketSafety(b *BucketConfig, liveNodes NodeSet) BucketSafetyReport {
	report := BucketSafetyReport{Bucket: b.Name}

	if b.Type != BucketTypeMembase {
		return report
	}

	if b.NumReplicas == 0 {
		report.Base = SafetyOK
	} else if b.Map == nil {
		if len(liveNodes) >= 2 {
			report.Base = SafetyOK
		} else {
			report.Base = SafetyHardNodesNeeded
		}
	} else if minLiveCopies(b.Map, liveNodes) <= 1 {
		allServersLive := true
		for _, s := range b.Servers {
			if !liveNodes.Contains(s) {
				allServersLive = false
				break
			}
		}
		switch {
		case len(liveNodes) == 0:
			// No live node anywhere: there is nothing to fail over
			// to, regardless of the servers list.
			report.Base = SafetyHardNodesNeeded
		case !allServersLive:
			report.Base = SafetyFailoverNeeded
		case len(liveNodes) > 1:
			report.Base = SafetyRebalanceNeeded
		default:
			report.Base = SafetyHardNodesNeeded
		}
	} else if Unbalanced(b.Map, b.Servers) {
		report.Base = SafetySoftRebalanceNeeded
	} else {
		report.Base = SafetyOK
	}

	if len(liveNodes) <= b.NumReplicas && report.Base != SafetyHardNodesNeeded {
		report.Extra = SafetySoftNodesNeeded
	}

	return report
}

// ClusterSafetyReport is the cluster-wide aggregation of every
// bucket's safety report.
type ClusterSafetyReport struct {
	Buckets  []BucketSafetyReport
	Overall  Safety // Max base severity across buckets.
	SoftNodesNeeded bool
}

// ClusterSafety computes the safety report for every membase bucket
// and aggregates cluster-wide severity: the overall base severity is
// the max across buckets, and soft-nodes-needed is raised if any
// bucket raised its extra axis. C6.
func ClusterSafety(buckets []*BucketConfig, liveNodes NodeSet) ClusterSafetyReport {
	report := ClusterSafetyReport{Overall: SafetyOK}
	for _, b := range buckets {
		if b.Type != BucketTypeMembase {
			continue
		}
		r := BucketSafety(b, liveNodes)
		report.Buckets = append(report.Buckets, r)
		if r.Base > report.Overall {
			report.Overall = r.Base
		}
		if r.Extra == SafetySoftNodesNeeded {
			report.SoftNodesNeeded = true
		}
	}
	return report
}
