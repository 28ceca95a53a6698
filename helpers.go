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
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

func init() {
	rand.Seed(time.Now().UTC().UnixNano())
}

// IndentJSON is a helper that returns indented JSON for x, or a
// descriptive error string if marshalling fails (used for log lines,
// never for wire responses).
func IndentJSON(x interface{}, prefix, indent string) string {
	j, err := json.Marshal(x)
	if err != nil {
		return fmt.Sprintf("vbmap: IndentJSON marshal, err: %v", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, j, prefix, indent); err != nil {
		return fmt.Sprintf("vbmap: IndentJSON indent, err: %v", err)
	}
	return buf.String()
}

// ErrorToString returns e.Error(), or "" for a nil error.
func ErrorToString(e error) string {
	if e != nil {
		return e.Error()
	}
	return ""
}

// VersionGTE compares two dotted version strings like "1.0.1" and
// "1.2.3", returning true when x >= y.
func VersionGTE(x, y string) bool {
	xa := strings.Split(x, ".")
	ya := strings.Split(y, ".")
	for i := range xa {
		if i >= len(ya) {
			return true
		}
		xv, err := strconv.Atoi(xa[i])
		if err != nil {
			return false
		}
		yv, err := strconv.Atoi(ya[i])
		if err != nil {
			return false
		}
		if xv > yv {
			return true
		}
		if xv < yv {
			return false
		}
	}
	return len(xa) >= len(ya)
}

// NewUUID returns a random 16-hex-digit identifier, suitable for
// PlanPIndex-style UUIDs attached to committed maps.
func NewUUID() string {
	val1 := rand.Int63()
	val2 := rand.Int63()
	uuid := fmt.Sprintf("%x%x", val1, val2)
	return uuid[0:16]
}

// StringsToSet converts a (possibly duplicated) slice of nodes into a
// NodeSet.
func StringsToSet(nodes []Node) NodeSet {
	return NewNodeSet(nodes...)
}

// RemoveNodes returns a copy of nodes with every member of remove
// excluded, preserving order.
func RemoveNodes(nodes []Node, remove NodeSet) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if !remove.Contains(n) {
			out = append(out, n)
		}
	}
	return out
}

// IntersectNodes returns a brand new slice holding the
// order-preserving intersection of a and b.
func IntersectNodes(a []Node, b NodeSet) []Node {
	seen := NodeSet{}
	out := make([]Node, 0, len(a))
	for _, n := range a {
		if b.Contains(n) && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
