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
	"errors"
	"strings"
	"testing"
)

func TestTimeRebalanceCountsSuccess(t *testing.T) {
	s := NewDriverStats()
	err := s.TimeRebalance(func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.TotRebalanceStart != 1 || s.TotRebalanceDone != 1 {
		t.Errorf("expected start/done counters at 1, got %+v", s.AsJSONMap())
	}
}

func TestTimeRebalanceCountsStoppedSeparatelyFromErr(t *testing.T) {
	s := NewDriverStats()
	_ = s.TimeRebalance(func() error { return ErrStopped })
	if s.TotRebalanceStop != 1 || s.TotRebalanceErr != 0 {
		t.Errorf("expected stop counted, not err: %+v", s.AsJSONMap())
	}
}

func TestTimeRebalanceCountsGenericErr(t *testing.T) {
	s := NewDriverStats()
	wantErr := errors.New("boom")
	err := s.TimeRebalance(func() error { return wantErr })
	if err != wantErr {
		t.Errorf("expected wantErr returned unchanged, got %v", err)
	}
	if s.TotRebalanceErr != 1 {
		t.Errorf("expected err counter at 1, got %+v", s.AsJSONMap())
	}
}

func TestTimeMoveCountsSuccessAndErr(t *testing.T) {
	s := NewDriverStats()
	_ = s.TimeMove(func() error { return nil })
	_ = s.TimeMove(func() error { return errors.New("boom") })
	if s.TotMoveStart != 2 || s.TotMoveDone != 1 || s.TotMoveErr != 1 {
		t.Errorf("unexpected move counters: %+v", s.AsJSONMap())
	}
}

func TestAsJSONMapReflectsCounters(t *testing.T) {
	s := NewDriverStats()
	_ = s.TimeRebalance(func() error { return nil })
	m := s.AsJSONMap()
	if m["TotRebalanceStart"] != uint64(1) || m["TotRebalanceDone"] != uint64(1) {
		t.Errorf("unexpected map: %+v", m)
	}
	if m["LastErr"] != "" {
		t.Errorf("expected LastErr empty after a successful rebalance, got %v", m["LastErr"])
	}
}

func TestAsJSONMapReflectsLastErr(t *testing.T) {
	s := NewDriverStats()
	wantErr := errors.New("boom")
	_ = s.TimeRebalance(func() error { return wantErr })
	if got := s.LastErr(); got != wantErr.Error() {
		t.Errorf("expected LastErr %q, got %q", wantErr.Error(), got)
	}
	_ = s.TimeRebalance(func() error { return nil })
	if got := s.LastErr(); got != "" {
		t.Errorf("expected LastErr cleared after a subsequent success, got %q", got)
	}
}

func TestWriteTimerJSONProducesObject(t *testing.T) {
	s := NewDriverStats()
	s.TimerRebalance.Update(0)
	var buf bytes.Buffer
	WriteTimerJSON(&buf, s.TimerRebalance)
	out := buf.String()
	if !strings.HasPrefix(out, "{") || !strings.HasSuffix(out, "}") {
		t.Errorf("expected a JSON object, got %q", out)
	}
	if !strings.Contains(out, `"count"`) || !strings.Contains(out, `"percentiles"`) {
		t.Errorf("expected count and percentiles fields, got %q", out)
	}
}
