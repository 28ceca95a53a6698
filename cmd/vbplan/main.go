//  Copyright (c) 2015 Couchbase, Inc.
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the
//  License. You may obtain a copy of the License at
//    http://www.apache.org/licenses/LICENSE-2.0
//  Unless required by applicable law or agreed to in writing,
//  software distributed under the License is distributed on an "AS
//  IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
//  express or implied. See the License for the specific language
//  governing permissions and limitations under the License.

package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"github.com/spf13/pflag"

	log "github.com/couchbase/clog"

	"github.com/couchbaselabs/vbmap"
	"github.com/couchbaselabs/vbmap/diag"
)

var version = "vbplan-0.1.0"

// progressTracker is shared between runRebalance's driver and
// serveDiag's /api/rebalance/progress route, so a --bind'd run
// continues to expose the last reported progress after the triggering
// subcommand returns.
var progressTracker = vbmap.NewProgressTracker()

var (
	flagBucket      = pflag.String("bucket", "default", "bucket name to operate on")
	flagKeepNodes   = pflag.String("keepNodes", "", "comma-separated nodes to keep")
	flagEjectNodes  = pflag.String("ejectNodes", "", "comma-separated nodes to eject")
	flagFailedNodes = pflag.String("failedNodes", "", "comma-separated nodes to fail over")
	flagNumReplicas = pflag.Int("numReplicas", 1, "number of replicas for initial placement")
	flagNumVBuckets = pflag.Int("numVBuckets", 1024, "number of vbuckets for initial placement")
	flagBind        = pflag.String("bind", "", "if set, serve the read-only diagnostics API on this address")
	flagSelf        = pflag.String("self", "", "this node's own identity, for self-eject-last ordering")
	flagMinVersion  = pflag.String("minVersion", "", "refuse to run unless this binary's version is >= minVersion")
)

func parseNodes(s string) []vbmap.Node {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []vbmap.Node
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, vbmap.Node(part))
		}
	}
	return out
}

func main() {
	pflag.Parse()

	if pflag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [initial|rebalance|failover|safety] [flags]\n", os.Args[0])
		os.Exit(1)
	}

	if *flagMinVersion != "" && !vbmap.VersionGTE(strings.TrimPrefix(version, "vbplan-"), *flagMinVersion) {
		log.Printf("vbplan: refusing to run, version %s is below required minVersion %s", version, *flagMinVersion)
		os.Exit(1)
	}

	cfg := vbmap.NewMemCfg()
	store := vbmap.NewBucketStore(cfg, vbmap.ReservedPorts{Memcached: 11210, Moxi: 11211, AdminWeb: 8091})

	switch pflag.Arg(0) {
	case "initial":
		runInitial(store)
	case "rebalance":
		runRebalance(store)
	case "failover":
		runFailover(store)
	case "safety":
		runSafety(store)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n", pflag.Arg(0))
		os.Exit(1)
	}

	if *flagBind != "" {
		serveDiag(store)
	}
}

func runInitial(store *vbmap.BucketStore) {
	keep := parseNodes(*flagKeepNodes)
	if len(keep) == 0 {
		log.Printf("vbplan: initial requires --keepNodes")
		os.Exit(1)
	}

	m, err := vbmap.GenerateInitialMap(*flagNumReplicas, *flagNumVBuckets, keep)
	if err != nil {
		log.Printf("vbplan: GenerateInitialMap, err: %v", err)
		os.Exit(1)
	}

	b := &vbmap.BucketConfig{
		Name:        *flagBucket,
		Type:        vbmap.BucketTypeMembase,
		NumReplicas: *flagNumReplicas,
		NumVBuckets: *flagNumVBuckets,
		Servers:     keep,
		Map:         m,
	}
	if err := store.CreateBucket(b); err != nil {
		log.Printf("vbplan: CreateBucket, err: %v", err)
		os.Exit(1)
	}

	fmt.Println(vbmap.IndentJSON(vbmap.ToJSONMap(m, *flagNumReplicas, keep, b.MapUUID), "", "  "))
}

func runRebalance(store *vbmap.BucketStore) {
	keep := parseNodes(*flagKeepNodes)
	eject := parseNodes(*flagEjectNodes)
	failed := parseNodes(*flagFailedNodes)
	self := vbmap.Node(*flagSelf)

	driver := vbmap.NewRebalanceDriver(
		store,
		vbmap.NewGocbcoreEngineChecker(),
		vbmap.NewBlanceMover(),
		noopReplication{},
		noopJanitor{},
		noopMembership{},
		progressTracker,
		self,
	)

	stopCh := make(chan struct{})
	if err := driver.Run(stopCh, keep, eject, failed); err != nil {
		log.Printf("vbplan: rebalance failed, err: %v", err)
		os.Exit(1)
	}
	fmt.Println("rebalance complete")
}

func runFailover(store *vbmap.BucketStore) {
	failed := parseNodes(*flagFailedNodes)
	if len(failed) == 0 {
		log.Printf("vbplan: failover requires --failedNodes")
		os.Exit(1)
	}

	b, err := store.GetBucket(*flagBucket)
	if err != nil {
		log.Printf("vbplan: GetBucket, err: %v", err)
		os.Exit(1)
	}

	live := vbmap.IntersectNodes(failed, vbmap.NewNodeSet(b.Servers...))
	if len(live) != len(failed) {
		log.Printf("vbplan: failover, %d of %d --failedNodes are not current bucket servers, proceeding with all of: %v",
			len(failed)-len(live), len(failed), failed)
	}

	result := vbmap.Failover(b.Map, vbmap.NewNodeSet(failed...))
	if err := store.SetMap(b.Name, result.Map); err != nil {
		log.Printf("vbplan: SetMap after failover, err: %v", err)
		os.Exit(1)
	}
	b, err = store.GetBucket(b.Name)
	if err != nil {
		log.Printf("vbplan: GetBucket after failover, err: %v", err)
		os.Exit(1)
	}

	log.Printf("vbplan: failover, bucket: %s, lost %d/%d vbuckets (%.2f%%)",
		b.Name, result.LostCount, len(result.Map), result.LostPercentage)
	fmt.Println(vbmap.IndentJSON(vbmap.ToJSONMap(result.Map, b.NumReplicas, b.Servers, b.MapUUID), "", "  "))
}

func runSafety(store *vbmap.BucketStore) {
	buckets, err := store.GetBuckets()
	if err != nil {
		log.Printf("vbplan: GetBuckets, err: %v", err)
		os.Exit(1)
	}
	keep := vbmap.StringsToSet(parseNodes(*flagKeepNodes))
	report := vbmap.ClusterSafety(buckets, keep)
	fmt.Println(vbmap.IndentJSON(report, "", "  "))
}

func serveDiag(store *vbmap.BucketStore) {
	liveness := func() vbmap.NodeSet { return vbmap.NewNodeSet() }
	monitor := vbmap.NewSafetyMonitor(store, liveness)
	stopCh := make(chan struct{})
	go monitor.Run(stopCh)

	logRing, err := vbmap.NewActivityRing(os.Stderr, 200)
	if err != nil {
		log.Printf("vbplan: NewActivityRing, err: %v", err)
		os.Exit(1)
	}

	server := &diag.Server{
		Store:    store,
		Safety:   monitor,
		Stats:    vbmap.NewDriverStats(),
		Progress: progressTracker,
		Log:      logRing,
		Version:  version,
	}

	r := mux.NewRouter()
	server.InitRouter(r)

	log.Printf("vbplan: serving diagnostics on %s", *flagBind)
	log.Printf("vbplan: %v", http.ListenAndServe(*flagBind, r))
}

type noopReplication struct{}

func (noopReplication) DisableInboundReplication(bucket string) error { return nil }

type noopJanitor struct{}

func (noopJanitor) Clean(bucket string) error { return nil }

type noopMembership struct{}

func (noopMembership) EjectNodes(nodes []vbmap.Node) error { return nil }
func (noopMembership) SyncConfigReplication() error        { return nil }
