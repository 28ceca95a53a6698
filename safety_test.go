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

import "testing"

func TestBucketSafetyOKWhenZeroReplicas(t *testing.T) {
	b := &BucketConfig{Type: BucketTypeMembase, NumReplicas: 0}
	r := BucketSafety(b, NewNodeSet("a"))
	if r.Base != SafetyOK {
		t.Errorf("expected SafetyOK, got %s", r.Base)
	}
}

func TestBucketSafetyNilMapTwoLiveNodes(t *testing.T) {
	b := &BucketConfig{Type: BucketTypeMembase, NumReplicas: 1}
	r := BucketSafety(b, NewNodeSet("a", "b"))
	if r.Base != SafetyOK {
		t.Errorf("expected SafetyOK with 2+ live nodes and no map yet, got %s", r.Base)
	}
}

func TestBucketSafetyNilMapFewLiveNodes(t *testing.T) {
	b := &BucketConfig{Type: BucketTypeMembase, NumReplicas: 1}
	r := BucketSafety(b, NewNodeSet("a"))
	if r.Base != SafetyHardNodesNeeded {
		t.Errorf("expected SafetyHardNodesNeeded, got %s", r.Base)
	}
}

func TestBucketSafetyZeroLiveNodesIsHardNodesNeeded(t *testing.T) {
	// S6: even with a map present and servers listed, zero live nodes
	// anywhere must win over every other classification.
	b := &BucketConfig{
		Type:        BucketTypeMembase,
		NumReplicas: 1,
		Servers:     []Node{"a", "b"},
		Map:         VBucketMap{Chain{"a", "b"}},
	}
	r := BucketSafety(b, NewNodeSet())
	if r.Base != SafetyHardNodesNeeded {
		t.Errorf("expected SafetyHardNodesNeeded with zero live nodes, got %s", r.Base)
	}
}

func TestBucketSafetyFailoverNeededWhenServerDown(t *testing.T) {
	b := &BucketConfig{
		Type:        BucketTypeMembase,
		NumReplicas: 1,
		Servers:     []Node{"a", "b"},
		Map:         VBucketMap{Chain{"a", Undefined}},
	}
	r := BucketSafety(b, NewNodeSet("a"))
	if r.Base != SafetyFailoverNeeded {
		t.Errorf("expected SafetyFailoverNeeded, got %s", r.Base)
	}
}

func TestBucketSafetySoftRebalanceNeededWhenUnbalanced(t *testing.T) {
	m := make(VBucketMap, 10)
	for v := range m {
		m[v] = Chain{"a", "b"}
	}
	b := &BucketConfig{
		Type:        BucketTypeMembase,
		NumReplicas: 1,
		Servers:     []Node{"a", "b", "c"},
		Map:         m,
	}
	r := BucketSafety(b, NewNodeSet("a", "b", "c"))
	if r.Base != SafetySoftRebalanceNeeded {
		t.Errorf("expected SafetySoftRebalanceNeeded, got %s", r.Base)
	}
}

func TestBucketSafetySoftNodesNeededExtraAxis(t *testing.T) {
	b := &BucketConfig{
		Type:        BucketTypeMembase,
		NumReplicas: 2,
		Servers:     []Node{"a", "b"},
		Map:         VBucketMap{Chain{"a", "b", Undefined}},
	}
	r := BucketSafety(b, NewNodeSet("a", "b"))
	if r.Extra != SafetySoftNodesNeeded {
		t.Errorf("expected SoftNodesNeeded extra axis when live nodes <= NumReplicas, got %s", r.Extra)
	}
}

func TestBucketSafetyNonMembaseIsZeroValue(t *testing.T) {
	b := &BucketConfig{Type: BucketTypeMemcached}
	r := BucketSafety(b, NewNodeSet("a"))
	if r.Base != SafetyOK {
		t.Errorf("expected the zero-value report for non-membase buckets")
	}
}

func TestClusterSafetyAggregatesMaxSeverity(t *testing.T) {
	ok := &BucketConfig{Name: "ok", Type: BucketTypeMembase, NumReplicas: 0}
	bad := &BucketConfig{Name: "bad", Type: BucketTypeMembase, NumReplicas: 1}
	report := ClusterSafety([]*BucketConfig{ok, bad}, NewNodeSet("a"))
	if report.Overall != SafetyHardNodesNeeded {
		t.Errorf("expected overall severity to be the max across buckets, got %s", report.Overall)
	}
	if len(report.Buckets) != 2 {
		t.Errorf("expected one report per membase bucket, got %d", len(report.Buckets))
	}
}

func TestUnbalancedRespectsDefaultGap(t *testing.T) {
	m := VBucketMap{Chain{"a"}, Chain{"a"}, Chain{"a"}}
	if !Unbalanced(m, []Node{"a", "b"}) {
		t.Errorf("expected unbalanced: gap of 3 exceeds DefaultUnbalanceGap")
	}
	m2 := VBucketMap{Chain{"a"}, Chain{"b"}}
	if Unbalanced(m2, []Node{"a", "b"}) {
		t.Errorf("expected balanced: gap of 0")
	}
}
