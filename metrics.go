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
	"sync/atomic"

	"github.com/rcrowley/go-metrics"
)

// DriverStats holds the running counters and latency timers for a
// RebalanceDriver, surfaced read-only via the diagnostics endpoint
// (spec.md §4.G).
type DriverStats struct {
	TotRebalanceStart    uint64
	TotRebalanceDone     uint64
	TotRebalanceStop     uint64
	TotRebalanceErr      uint64
	TotMoveStart         uint64
	TotMoveDone          uint64
	TotMoveErr           uint64
	TotEngineReadyPoll   uint64
	TotEngineReadyFailed uint64

	// TimerRebalance tracks end-to-end rebalance durations.
	TimerRebalance metrics.Timer

	// TimerMove tracks the duration of each batch of moves handed to
	// the mover (engine readiness waits included).
	TimerMove metrics.Timer

	errMu   sync.RWMutex
	lastErr string
}

// NewDriverStats returns a DriverStats with its timers initialized.
func NewDriverStats() *DriverStats {
	return &DriverStats{
		TimerRebalance: metrics.NewTimer(),
		TimerMove:      metrics.NewTimer(),
	}
}

// TimeRebalance invokes f, recording its duration and success/failure
// into the rebalance counters and timer. Mirrors the teacher's
// Time()/Timer() helpers, but folds the uint64 counters and
// metrics.Timer update into one call instead of two.
func (s *DriverStats) TimeRebalance(f func() error) error {
	atomic.AddUint64(&s.TotRebalanceStart, 1)
	var err error
	s.TimerRebalance.Time(func() {
		err = f()
	})
	s.setLastErr(err)
	if err != nil {
		if err == ErrStopped {
			atomic.AddUint64(&s.TotRebalanceStop, 1)
		} else {
			atomic.AddUint64(&s.TotRebalanceErr, 1)
		}
		return err
	}
	atomic.AddUint64(&s.TotRebalanceDone, 1)
	return nil
}

// setLastErr records the outcome of the most recent TimeRebalance
// call as a string, using ErrorToString so a nil err clears it rather
// than rendering "<nil>".
func (s *DriverStats) setLastErr(err error) {
	s.errMu.Lock()
	s.lastErr = ErrorToString(err)
	s.errMu.Unlock()
}

// LastErr returns the outcome of the most recent TimeRebalance call,
// or "" if the last one (or none yet) succeeded.
func (s *DriverStats) LastErr() string {
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	return s.lastErr
}

// TimeMove invokes f, recording its duration and success/failure into
// the move counters and timer.
func (s *DriverStats) TimeMove(f func() error) error {
	atomic.AddUint64(&s.TotMoveStart, 1)
	var err error
	s.TimerMove.Time(func() {
		err = f()
	})
	if err != nil {
		atomic.AddUint64(&s.TotMoveErr, 1)
		return err
	}
	atomic.AddUint64(&s.TotMoveDone, 1)
	return nil
}

var timerPercentiles = []float64{0.5, 0.75, 0.95, 0.99, 0.999}

// WriteTimerJSON writes a metrics.Timer snapshot as JSON to w, in the
// same shape the teacher's diagnostics endpoints use for every
// go-metrics Timer they expose.
func WriteTimerJSON(w io.Writer, timer metrics.Timer) {
	t := timer.Snapshot()
	p := t.Percentiles(timerPercentiles)

	fmt.Fprintf(w, `{"count":%d,`, t.Count())
	fmt.Fprintf(w, `"min":%d,`, t.Min())
	fmt.Fprintf(w, `"max":%d,`, t.Max())
	fmt.Fprintf(w, `"mean":%.2f,`, t.Mean())
	fmt.Fprintf(w, `"stddev":%.2f,`, t.StdDev())
	fmt.Fprintf(w, `"percentiles":{`)
	fmt.Fprintf(w, `"median":%.2f,`, p[0])
	fmt.Fprintf(w, `"75%%":%.2f,`, p[1])
	fmt.Fprintf(w, `"95%%":%.2f,`, p[2])
	fmt.Fprintf(w, `"99%%":%.2f,`, p[3])
	fmt.Fprintf(w, `"99.9%%":%.2f},`, p[4])
	fmt.Fprintf(w, `"rates":{`)
	fmt.Fprintf(w, `"1-min":%.2f,`, t.Rate1())
	fmt.Fprintf(w, `"5-min":%.2f,`, t.Rate5())
	fmt.Fprintf(w, `"15-min":%.2f,`, t.Rate15())
	fmt.Fprintf(w, `"mean":%.2f}}`, t.RateMean())
}

// AsJSONMap renders the atomic counters (but not the timers, which
// callers marshal separately via WriteTimerJSON) as a plain map,
// convenient for embedding into a larger diagnostics response.
func (s *DriverStats) AsJSONMap() map[string]interface{} {
	return map[string]interface{}{
		"TotRebalanceStart":    atomic.LoadUint64(&s.TotRebalanceStart),
		"TotRebalanceDone":     atomic.LoadUint64(&s.TotRebalanceDone),
		"TotRebalanceStop":     atomic.LoadUint64(&s.TotRebalanceStop),
		"TotRebalanceErr":      atomic.LoadUint64(&s.TotRebalanceErr),
		"TotMoveStart":         atomic.LoadUint64(&s.TotMoveStart),
		"TotMoveDone":          atomic.LoadUint64(&s.TotMoveDone),
		"TotMoveErr":           atomic.LoadUint64(&s.TotMoveErr),
		"TotEngineReadyPoll":   atomic.LoadUint64(&s.TotEngineReadyPoll),
		"TotEngineReadyFailed": atomic.LoadUint64(&s.TotEngineReadyFailed),
		"LastErr":              s.LastErr(),
	}
}
