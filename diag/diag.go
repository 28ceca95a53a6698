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

// Package diag implements the read-only HTTP diagnostics surface
// (spec.md §4.E): bucket maps, safety reports, and rebalance/driver
// stats, never config mutation.
package diag

import (
	"bytes"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	log "github.com/couchbase/clog"

	"github.com/couchbaselabs/vbmap"
)

// StartTime records process start, echoed by the /api/runtime
// endpoint the same way the teacher's rest package does.
var StartTime = time.Now()

// Server bundles the read-only collaborators the diagnostics surface
// renders: the bucket config store, a safety monitor, a rebalance
// driver's stats, and a ring of recent log lines.
type Server struct {
	Store    *vbmap.BucketStore
	Safety   *vbmap.SafetyMonitor
	Stats    *vbmap.DriverStats
	Progress *vbmap.ProgressTracker
	Log      *vbmap.ActivityRing
	Version  string
}

// MustEncode writes v as JSON to w, logging (but not panicking on) an
// encode failure, matching the teacher's MustEncode helper.
func MustEncode(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("diag: MustEncode, err: %v", err)
	}
}

func showError(w http.ResponseWriter, msg string, code int) {
	log.Printf("diag: error code: %d, msg: %s", code, msg)
	http.Error(w, msg, code)
}

// InitRouter wires every diagnostics route onto r.
func (s *Server) InitRouter(r *mux.Router) *mux.Router {
	r.HandleFunc("/api/buckets", s.handleListBuckets).Methods("GET")
	r.HandleFunc("/api/buckets/{bucketName}", s.handleGetBucket).Methods("GET")
	r.HandleFunc("/api/buckets/{bucketName}/map", s.handleGetMap).Methods("GET")
	r.HandleFunc("/api/safety", s.handleSafety).Methods("GET")
	r.HandleFunc("/api/rebalance/progress", s.handleRebalanceProgress).Methods("GET")
	r.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/api/log", s.handleLog).Methods("GET")
	r.HandleFunc("/api/runtime", s.handleRuntime).Methods("GET")
	return r
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.Store.GetBuckets()
	if err != nil {
		showError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.Name)
	}
	MustEncode(w, map[string]interface{}{"buckets": names})
}

func (s *Server) handleGetBucket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bucketName"]
	b, err := s.Store.GetBucket(name)
	if err != nil {
		showError(w, err.Error(), http.StatusNotFound)
		return
	}
	MustEncode(w, b)
}

func (s *Server) handleGetMap(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bucketName"]
	b, err := s.Store.GetBucket(name)
	if err != nil {
		showError(w, err.Error(), http.StatusNotFound)
		return
	}
	if b.Type != vbmap.BucketTypeMembase {
		showError(w, vbmap.ErrNotMembaseBucket.Error(), http.StatusBadRequest)
		return
	}
	MustEncode(w, vbmap.ToJSONMap(b.Map, b.NumReplicas, b.Servers, b.MapUUID))
}

func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	s.Safety.Kick("api/safety")
	report := s.Safety.Report()

	out := struct {
		Overall         string   `json:"overall"`
		SoftNodesNeeded bool     `json:"softNodesNeeded"`
		Buckets         []string `json:"buckets"`
	}{
		Overall:         report.Overall.String(),
		SoftNodesNeeded: report.SoftNodesNeeded,
	}
	for _, b := range report.Buckets {
		out.Buckets = append(out.Buckets, b.Bucket+": "+b.Base.String())
	}
	MustEncode(w, out)
}

func (s *Server) handleRebalanceProgress(w http.ResponseWriter, r *http.Request) {
	if s.Progress == nil {
		MustEncode(w, map[string]interface{}{})
		return
	}
	MustEncode(w, s.Progress.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		MustEncode(w, map[string]interface{}{})
		return
	}

	var rebalanceTimer, moveTimer bytes.Buffer
	vbmap.WriteTimerJSON(&rebalanceTimer, s.Stats.TimerRebalance)
	vbmap.WriteTimerJSON(&moveTimer, s.Stats.TimerMove)

	MustEncode(w, map[string]interface{}{
		"counters": s.Stats.AsJSONMap(),
		"timers": map[string]json.RawMessage{
			"rebalance": json.RawMessage(rebalanceTimer.Bytes()),
			"move":      json.RawMessage(moveTimer.Bytes()),
		},
	})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	var lines []string
	if s.Log != nil {
		for _, msg := range s.Log.Recent() {
			lines = append(lines, string(msg))
		}
	}
	MustEncode(w, map[string]interface{}{"messages": lines})
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	MustEncode(w, map[string]interface{}{
		"version":   s.Version,
		"startTime": StartTime,
		"currTime":  time.Now(),
		"arch":      runtime.GOARCH,
		"os":        runtime.GOOS,
		"numCPU":    runtime.NumCPU(),
		"numGoroutine": runtime.NumGoroutine(),
	})
}
