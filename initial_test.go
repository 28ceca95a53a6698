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

func TestGenerateInitialMapRoundRobin(t *testing.T) {
	m, err := GenerateInitialMap(1, 4, []Node{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(m) != 4 {
		t.Fatalf("expected 4 vbuckets, got %d", len(m))
	}
	want := VBucketMap{
		Chain{"a", "b"},
		Chain{"b", "a"},
		Chain{"a", "b"},
		Chain{"b", "a"},
	}
	for v := range want {
		if m[v][0] != want[v][0] || m[v][1] != want[v][1] {
			t.Errorf("vbucket %d: got %v, want %v", v, m[v], want[v])
		}
	}
}

func TestGenerateInitialMapPadsUndefined(t *testing.T) {
	m, err := GenerateInitialMap(2, 1, []Node{"a"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	chain := m[0]
	if chain[0] != "a" {
		t.Errorf("expected master a, got %s", chain[0])
	}
	if chain[1] != Undefined || chain[2] != Undefined {
		t.Errorf("expected padded replicas, got %v", chain)
	}
}

func TestGenerateInitialMapNegativeVBucketsErrors(t *testing.T) {
	_, err := GenerateInitialMap(1, -1, []Node{"a"})
	if err == nil {
		t.Errorf("expected error for negative numVBuckets")
	}
}

func TestGenerateInitialMapZeroServers(t *testing.T) {
	m, err := GenerateInitialMap(0, 2, nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, chain := range m {
		if chain[0] != Undefined {
			t.Errorf("expected Undefined master with no servers, got %s", chain[0])
		}
	}
}
