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
	"fmt"
	"io"
	"sync"
)

// ActivityRing wraps an io.Writer and remembers a bounded ring of
// recent writes to it. It's concurrency-safe and is used to remember
// the most recent planner/driver log lines for the diagnostics
// surface's /api/log endpoint.
type ActivityRing struct {
	m     sync.Mutex
	inner io.Writer
	next  int
	msgs  [][]byte
}

// NewActivityRing returns an ActivityRing of the given size, writing
// through to inner.
func NewActivityRing(inner io.Writer, size int) (*ActivityRing, error) {
	if inner == nil {
		return nil, fmt.Errorf("vbmap: NewActivityRing, nil inner io.Writer")
	}
	if size <= 0 {
		return nil, fmt.Errorf("vbmap: NewActivityRing, non-positive size")
	}
	return &ActivityRing{
		inner: inner,
		msgs:  make([][]byte, size),
	}, nil
}

// Write implements io.Writer, recording a copy of p before forwarding
// it to the wrapped writer.
func (r *ActivityRing) Write(p []byte) (int, error) {
	r.m.Lock()
	r.msgs[r.next] = append([]byte(nil), p...)
	r.next++
	if r.next >= len(r.msgs) {
		r.next = 0
	}
	r.m.Unlock()

	return r.inner.Write(p)
}

// Recent returns the recorded writes, oldest first.
func (r *ActivityRing) Recent() [][]byte {
	r.m.Lock()
	defer r.m.Unlock()

	out := make([][]byte, 0, len(r.msgs))
	n := len(r.msgs)
	idx := r.next
	for i := 0; i < n; i++ {
		if msg := r.msgs[idx]; msg != nil {
			out = append(out, msg)
		}
		idx = (idx + 1) % n
	}
	return out
}
