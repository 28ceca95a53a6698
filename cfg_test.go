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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReserved() ReservedPorts {
	return ReservedPorts{Memcached: 11210, Moxi: 11211, AdminWeb: 8091}
}

func TestValidateBucketName(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"default", true},
		{"my-bucket.01", true},
		{".", false},
		{"..", false},
		{"has space", false},
		{"", false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			err := ValidateBucketName(c.name)
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCheckPortConflictReservedPort(t *testing.T) {
	err := CheckPortConflict(11210, testReserved(), nil, "")
	assert.ErrorIs(t, err, ErrPortConflict)
}

func TestCheckPortConflictExistingBucketExcludesSelf(t *testing.T) {
	existing := []*BucketConfig{{Name: "a", ProxyPort: 12000}}
	assert.NoError(t, CheckPortConflict(12000, testReserved(), existing, "a"),
		"expected no conflict when excluding self")
	assert.Error(t, CheckPortConflict(12000, testReserved(), existing, "b"),
		"expected conflict against a different bucket's port")
}

func TestUpdateKeyRetriesOnCASConflict(t *testing.T) {
	cfg := NewMemCfg()
	attempts := 0
	err := UpdateKey(cfg, "k", func(cur []byte) ([]byte, bool, error) {
		attempts++
		if attempts == 1 {
			// Simulate a racing writer landing between our Get and Set.
			_, _, serr := cfg.Set("k", []byte("racer"), 0)
			require.NoError(t, serr)
		}
		return []byte("final"), true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts, "expected a retry after the simulated CAS race")

	val, _, _ := cfg.Get("k")
	assert.Equal(t, "final", string(val))
}

func TestBucketStoreCreateAndGetBucket(t *testing.T) {
	store := NewBucketStore(NewMemCfg(), testReserved())
	b := &BucketConfig{Name: "default", Type: BucketTypeMembase, ProxyPort: 12000}
	require.NoError(t, store.CreateBucket(b))

	got, err := store.GetBucket("default")
	require.NoError(t, err)
	assert.Equal(t, "default", got.Name)
}

func TestBucketStoreCreateBucketRejectsDuplicateName(t *testing.T) {
	store := NewBucketStore(NewMemCfg(), testReserved())
	b := &BucketConfig{Name: "default", Type: BucketTypeMembase, ProxyPort: 12000}
	require.NoError(t, store.CreateBucket(b))

	err := store.CreateBucket(&BucketConfig{Name: "default", ProxyPort: 12001})
	assert.Error(t, err, "expected error creating a duplicate bucket name")
}

func TestBucketStoreCreateBucketRejectsInvalidName(t *testing.T) {
	store := NewBucketStore(NewMemCfg(), testReserved())
	err := store.CreateBucket(&BucketConfig{Name: "..", ProxyPort: 12000})
	assert.ErrorIs(t, err, ErrInvalidBucketName)
}

func TestBucketStoreGetBucketNotFound(t *testing.T) {
	store := NewBucketStore(NewMemCfg(), testReserved())
	_, err := store.GetBucket("nope")
	assert.ErrorIs(t, err, ErrBucketNotFound)
}

func TestBucketStoreSetMapRejectsMemcachedBucket(t *testing.T) {
	store := NewBucketStore(NewMemCfg(), testReserved())
	b := &BucketConfig{Name: "m", Type: BucketTypeMemcached, ProxyPort: 12000}
	require.NoError(t, store.CreateBucket(b))

	err := store.SetMap("m", VBucketMap{Chain{"a"}})
	assert.ErrorIs(t, err, ErrNotMembaseBucket)
}

func TestBucketStoreSetMapAndServersRoundTrip(t *testing.T) {
	store := NewBucketStore(NewMemCfg(), testReserved())
	b := &BucketConfig{Name: "default", Type: BucketTypeMembase, ProxyPort: 12000}
	require.NoError(t, store.CreateBucket(b))

	m := VBucketMap{Chain{"a", "b"}}
	require.NoError(t, store.SetMap("default", m))
	require.NoError(t, store.SetServers("default", []Node{"a", "b"}))

	got, err := store.GetBucket("default")
	require.NoError(t, err)
	require.Len(t, got.Map, 1)
	assert.Equal(t, Node("a"), got.Map[0][0])
	assert.Len(t, got.Servers, 2)
}

func TestBucketStoreDeleteBucket(t *testing.T) {
	store := NewBucketStore(NewMemCfg(), testReserved())
	b := &BucketConfig{Name: "default", Type: BucketTypeMembase, ProxyPort: 12000}
	require.NoError(t, store.CreateBucket(b))
	require.NoError(t, store.DeleteBucket("default"))

	_, err := store.GetBucket("default")
	assert.ErrorIs(t, err, ErrBucketNotFound)
}

func TestMemCfgSubscribeReceivesEvent(t *testing.T) {
	cfg := NewMemCfg()
	ch := make(chan CfgEvent, 1)
	require.NoError(t, cfg.Subscribe("k", ch))

	_, _, err := cfg.Set("k", []byte("v"), 0)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, "k", ev.Key)
	default:
		t.Errorf("expected a CfgEvent to be delivered")
	}
}
