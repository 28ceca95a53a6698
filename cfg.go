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
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
)

// BucketsKey is the single config-store key under which the list of
// bucket configs is held, per spec.md §4.8.
const BucketsKey = "buckets"

// CfgEvent is delivered to subscribers when a watched key changes.
type CfgEvent struct {
	Key string
}

// Cfg is the narrow interface this core consumes from the cluster
// config store (spec.md §6, "Consumed interfaces"). A real deployment
// injects a client for the cluster's distributed config store; this
// module does not implement persistence or replication itself
// (spec.md §1 non-goals).
type Cfg interface {
	// Get returns the raw value and its CAS token for key. A missing
	// key returns a nil value, zero cas, and a nil error.
	Get(key string) (val []byte, cas uint64, err error)

	// Set stores val under key, succeeding only if cas matches the
	// stored CAS token (0 meaning "key must not already exist").
	// Returns the new CAS token on success.
	Set(key string, val []byte, cas uint64) (newCas uint64, err error)

	// Subscribe registers ch to receive a CfgEvent whenever key
	// changes via Set.
	Subscribe(key string, ch chan CfgEvent) error
}

// UpdateFunc receives the current raw value for a key (nil if the key
// doesn't exist) and returns the value to write back, or ok=false to
// abort the update without writing.
type UpdateFunc func(cur []byte) (next []byte, ok bool, err error)

// UpdateKey loads key, applies fn, and writes the result back under a
// CAS loop, retrying on concurrent writers until it either succeeds,
// fn declines to write, or fn/the store returns an error.
func UpdateKey(cfg Cfg, key string, fn UpdateFunc) error {
	for {
		cur, cas, err := cfg.Get(key)
		if err != nil {
			return fmt.Errorf("vbmap: UpdateKey, Get key: %s, err: %w", key, err)
		}

		next, ok, err := fn(cur)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		_, err = cfg.Set(key, next, cas)
		if err == nil {
			return nil
		}
		if !isCASConflict(err) {
			return fmt.Errorf("vbmap: UpdateKey, Set key: %s, err: %w", key, err)
		}
		// CAS conflict: reload and retry.
	}
}

// ErrCASConflict is returned by Cfg.Set when the supplied CAS token
// is stale.
var ErrCASConflict = fmt.Errorf("vbmap: CAS conflict")

func isCASConflict(err error) bool {
	return err == ErrCASConflict
}

// bucketNamePattern matches the allowed bucket name characters, per
// spec.md §4.8.
var bucketNamePattern = regexp.MustCompile(`^[A-Za-z0-9._%-]+$`)

// ValidateBucketName reports whether name is an acceptable bucket
// name: matching the allowed character set, and not "." or "..".
func ValidateBucketName(name string) error {
	if name == "." || name == ".." || !bucketNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidBucketName, name)
	}
	return nil
}

// ReservedPorts names the fixed service ports a bucket's proxy port
// must not collide with.
type ReservedPorts struct {
	Memcached int
	Moxi      int
	AdminWeb  int
}

// CheckPortConflict reports whether proposedPort collides with a
// reserved service port or with another bucket's proxy port.
func CheckPortConflict(proposedPort int, reserved ReservedPorts, existing []*BucketConfig, excludeName string) error {
	if proposedPort == reserved.Memcached ||
		proposedPort == reserved.Moxi ||
		proposedPort == reserved.AdminWeb {
		return fmt.Errorf("%w: port %d reserved for a fixed service",
			ErrPortConflict, proposedPort)
	}
	for _, b := range existing {
		if b.Name == excludeName {
			continue
		}
		if b.ProxyPort == proposedPort {
			return fmt.Errorf("%w: port %d already used by bucket %q",
				ErrPortConflict, proposedPort, b.Name)
		}
	}
	return nil
}

// BucketStore is the thin read/mutate API over the config store
// described in spec.md §4.8 (C8).
type BucketStore struct {
	cfg      Cfg
	reserved ReservedPorts
}

// NewBucketStore returns a BucketStore backed by cfg.
func NewBucketStore(cfg Cfg, reserved ReservedPorts) *BucketStore {
	return &BucketStore{cfg: cfg, reserved: reserved}
}

func decodeBuckets(raw []byte) ([]*BucketConfig, error) {
	if raw == nil {
		return nil, nil
	}
	var list []*BucketConfig
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("vbmap: decodeBuckets, err: %w", err)
	}
	return list, nil
}

func encodeBuckets(list []*BucketConfig) ([]byte, error) {
	return json.Marshal(list)
}

// GetBuckets returns every bucket config currently in the store.
func (s *BucketStore) GetBuckets() ([]*BucketConfig, error) {
	raw, _, err := s.cfg.Get(BucketsKey)
	if err != nil {
		return nil, fmt.Errorf("vbmap: GetBuckets, err: %w", err)
	}
	return decodeBuckets(raw)
}

// GetBucket returns the named bucket's config, or ErrBucketNotFound.
func (s *BucketStore) GetBucket(name string) (*BucketConfig, error) {
	buckets, err := s.GetBuckets()
	if err != nil {
		return nil, err
	}
	for _, b := range buckets {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrBucketNotFound, name)
}

// mutateBucket finds name in the stored list and applies fn to it,
// writing the whole list back atomically. fn may mutate b in place.
func (s *BucketStore) mutateBucket(name string, fn func(b *BucketConfig) error) error {
	return UpdateKey(s.cfg, BucketsKey, func(cur []byte) ([]byte, bool, error) {
		list, err := decodeBuckets(cur)
		if err != nil {
			return nil, false, err
		}
		var found *BucketConfig
		for _, b := range list {
			if b.Name == name {
				found = b
				break
			}
		}
		if found == nil {
			return nil, false, fmt.Errorf("%w: %q", ErrBucketNotFound, name)
		}
		if err := fn(found); err != nil {
			return nil, false, err
		}
		next, err := encodeBuckets(list)
		if err != nil {
			return nil, false, err
		}
		return next, true, nil
	})
}

// SetMap commits a new vbucket map for the named bucket, stamping a
// fresh MapUUID so clients holding a cached copy can detect it's gone
// stale.
func (s *BucketStore) SetMap(name string, m VBucketMap) error {
	return s.mutateBucket(name, func(b *BucketConfig) error {
		if b.Type != BucketTypeMembase {
			return ErrNotMembaseBucket
		}
		b.Map = m
		b.MapUUID = NewUUID()
		return nil
	})
}

// SetServers commits a new servers list for the named bucket.
func (s *BucketStore) SetServers(name string, servers []Node) error {
	return s.mutateBucket(name, func(b *BucketConfig) error {
		b.Servers = servers
		return nil
	})
}

// UpdateBucketProps applies fn to the named bucket's config, allowing
// arbitrary property updates (RAM quota, replica count, etc), and
// commits the result atomically.
func (s *BucketStore) UpdateBucketProps(name string, fn func(b *BucketConfig)) error {
	return s.mutateBucket(name, func(b *BucketConfig) error {
		fn(b)
		return nil
	})
}

// CreateBucket validates and appends a new bucket config. Validation
// errors (port conflict, invalid name) are returned directly and are
// never raised mid-rebalance (spec.md §7).
func (s *BucketStore) CreateBucket(b *BucketConfig) error {
	if err := ValidateBucketName(b.Name); err != nil {
		return err
	}
	if b.Map != nil {
		b.MapUUID = NewUUID()
	}
	return UpdateKey(s.cfg, BucketsKey, func(cur []byte) ([]byte, bool, error) {
		list, err := decodeBuckets(cur)
		if err != nil {
			return nil, false, err
		}
		for _, existing := range list {
			if existing.Name == b.Name {
				return nil, false, fmt.Errorf("vbmap: CreateBucket, already exists: %q", b.Name)
			}
		}
		if err := CheckPortConflict(b.ProxyPort, s.reserved, list, ""); err != nil {
			return nil, false, err
		}
		list = append(list, b)
		next, err := encodeBuckets(list)
		if err != nil {
			return nil, false, err
		}
		return next, true, nil
	})
}

// DeleteBucket removes the named bucket from the store.
func (s *BucketStore) DeleteBucket(name string) error {
	return UpdateKey(s.cfg, BucketsKey, func(cur []byte) ([]byte, bool, error) {
		list, err := decodeBuckets(cur)
		if err != nil {
			return nil, false, err
		}
		out := list[:0]
		found := false
		for _, b := range list {
			if b.Name == name {
				found = true
				continue
			}
			out = append(out, b)
		}
		if !found {
			return nil, false, fmt.Errorf("%w: %q", ErrBucketNotFound, name)
		}
		next, err := encodeBuckets(out)
		if err != nil {
			return nil, false, err
		}
		return next, true, nil
	})
}

// ---------------------------------------------------------------
// MemCfg: an in-memory Cfg reference implementation used by tests and
// by the CLI's offline mode. Not suitable for production use, which
// requires the cluster's real distributed config store (spec.md §1).

type MemCfg struct {
	m           sync.Mutex
	values      map[string][]byte
	cas         map[string]uint64
	nextCas     uint64
	subscribers map[string][]chan CfgEvent
}

// NewMemCfg returns an empty in-memory Cfg.
func NewMemCfg() *MemCfg {
	return &MemCfg{
		values:      map[string][]byte{},
		cas:         map[string]uint64{},
		subscribers: map[string][]chan CfgEvent{},
	}
}

func (c *MemCfg) Get(key string) ([]byte, uint64, error) {
	c.m.Lock()
	defer c.m.Unlock()
	return c.values[key], c.cas[key], nil
}

func (c *MemCfg) Set(key string, val []byte, cas uint64) (uint64, error) {
	c.m.Lock()
	if c.cas[key] != cas {
		c.m.Unlock()
		return 0, ErrCASConflict
	}
	c.nextCas++
	newCas := c.nextCas
	c.values[key] = val
	c.cas[key] = newCas
	subs := append([]chan CfgEvent(nil), c.subscribers[key]...)
	c.m.Unlock()

	for _, ch := range subs {
		ch <- CfgEvent{Key: key}
	}
	return newCas, nil
}

func (c *MemCfg) Subscribe(key string, ch chan CfgEvent) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.subscribers[key] = append(c.subscribers[key], ch)
	return nil
}
