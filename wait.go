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
	"time"
)

// WaitForDone blocks until either stopCh closes or doneCh delivers a
// result, whichever comes first. If stopCh fires first, ErrStopped is
// returned and the caller is expected to begin fixup; doneCh's result
// (including a nil error for success) is returned unmodified
// otherwise.
func WaitForDone(stopCh <-chan struct{}, doneCh <-chan error) error {
	select {
	case <-stopCh:
		return ErrStopped
	case err := <-doneCh:
		return err
	}
}

// PollUntilReady calls check repeatedly, up to attempts times, with
// interval between attempts, stopping early (and cooperatively) the
// moment either check reports true or stopCh closes. It returns
// ErrStopped if cancelled, ErrWaitForEngineFailed if attempts are
// exhausted without check ever reporting true, and the error from
// check if check itself fails.
func PollUntilReady(stopCh <-chan struct{}, attempts int, interval time.Duration,
	check func() (bool, error)) error {
	for i := 0; i < attempts; i++ {
		select {
		case <-stopCh:
			return ErrStopped
		default:
		}

		ready, err := check()
		if err != nil {
			return fmt.Errorf("vbmap: PollUntilReady, attempt: %d, err: %w", i, err)
		}
		if ready {
			return nil
		}

		if i < attempts-1 {
			timer := time.NewTimer(interval)
			select {
			case <-stopCh:
				timer.Stop()
				return ErrStopped
			case <-timer.C:
			}
		}
	}
	return ErrWaitForEngineFailed
}
