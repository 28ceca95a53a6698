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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRotate(t *testing.T) {
	m := VBucketMap{
		Chain{"a", "b"},
		Chain{"b", "c"},
	}
	got := Rotate(m)
	want := [][]Node{
		{"a", "b"},
		{"b", "c"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Rotate mismatch (-want +got):\n%s", diff)
	}
}

func TestReplaceInChain(t *testing.T) {
	c := Chain{"a", "b", "c"}
	got := ReplaceInChain(c, 1, "z")
	if diff := cmp.Diff(Chain{"a", "z", "c"}, got); diff != "" {
		t.Errorf("ReplaceInChain mismatch (-want +got):\n%s", diff)
	}
	if c[1] != "b" {
		t.Errorf("ReplaceInChain must not mutate its input")
	}
}

func TestApplyMoveClearsDownstreamSlots(t *testing.T) {
	m := VBucketMap{Chain{"a", "b", "c"}}
	got := ApplyMove(m, 0, 0, "z")
	want := Chain{"z", Undefined, Undefined}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("ApplyMove mismatch (-want +got):\n%s", diff)
	}
	if m[0][0] != "a" {
		t.Errorf("ApplyMove must not mutate its input map")
	}
}

func TestApplyMovesSequential(t *testing.T) {
	m := VBucketMap{Chain{"a", "b"}}
	moves := []Move{
		{VBucket: 0, Turn: 0, Old: "a", New: "z"},
	}
	got := ApplyMoves(m, moves)
	want := Chain{"z", Undefined}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("ApplyMoves mismatch (-want +got):\n%s", diff)
	}
}

func TestChainForbiddenSet(t *testing.T) {
	c := Chain{"a", "b", "c"}
	s := chainForbiddenSet(c, 2)
	if !s.Contains("a") || !s.Contains("b") || s.Contains("c") {
		t.Errorf("expected forbidden set {a,b}, got %v", s)
	}
}
