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
	"errors"
	"fmt"
)

// Sentinel error kinds, per spec.md §7. Callers should use errors.Is.
var (
	// ErrStopped is returned when a rebalance was cooperatively
	// cancelled via a stop signal. Fixup has already run by the time
	// this is returned to the caller.
	ErrStopped = errors.New("vbmap: stopped")

	// ErrWaitForEngineFailed is returned when the engine-readiness
	// poll exhausts its retry budget for the current bucket. No data
	// has moved yet for that bucket, so no fixup is needed.
	ErrWaitForEngineFailed = errors.New("vbmap: wait for engine failed")

	// ErrBucketNotFound is returned when a bucket referenced by name
	// no longer exists in the config store, e.g. raced deletion.
	ErrBucketNotFound = errors.New("vbmap: bucket not found")

	// ErrPortConflict is returned by CreateBucket when a requested
	// proxy port collides with another bucket or a reserved service.
	ErrPortConflict = errors.New("vbmap: port conflict")

	// ErrInvalidBucketName is returned by CreateBucket for names that
	// don't match the allowed pattern or equal "." or "..".
	ErrInvalidBucketName = errors.New("vbmap: invalid bucket name")

	// ErrNotMembaseBucket is returned when a map-manipulating
	// operation is attempted against a memcached-type bucket.
	ErrNotMembaseBucket = errors.New("vbmap: not a membase bucket")
)

// MoverError wraps a non-"stopped" exit reason reported by the
// external mover, preserving the original reason unchanged rather
// than re-raising it (spec.md §9's open question about the
// erlang:E(R) re-raise bug: that behavior is a bug upstream and is
// not reproduced here).
type MoverError struct {
	Bucket string
	Reason error
}

func (e *MoverError) Error() string {
	return fmt.Sprintf("vbmap: mover failed, bucket: %s, reason: %v",
		e.Bucket, e.Reason)
}

func (e *MoverError) Unwrap() error {
	return e.Reason
}
