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
	"testing"
	"time"
)

func TestWaitForDoneReturnsDoneResult(t *testing.T) {
	stopCh := make(chan struct{})
	doneCh := make(chan error, 1)
	doneCh <- nil
	if err := WaitForDone(stopCh, doneCh); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWaitForDoneStopWins(t *testing.T) {
	stopCh := make(chan struct{})
	doneCh := make(chan error)
	close(stopCh)
	if err := WaitForDone(stopCh, doneCh); err != ErrStopped {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestPollUntilReadySucceedsEarly(t *testing.T) {
	stopCh := make(chan struct{})
	calls := 0
	err := PollUntilReady(stopCh, 5, time.Millisecond, func() (bool, error) {
		calls++
		return calls == 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 calls, got %d", calls)
	}
}

func TestPollUntilReadyExhaustsAttempts(t *testing.T) {
	stopCh := make(chan struct{})
	err := PollUntilReady(stopCh, 3, time.Millisecond, func() (bool, error) {
		return false, nil
	})
	if err != ErrWaitForEngineFailed {
		t.Errorf("expected ErrWaitForEngineFailed, got %v", err)
	}
}

func TestPollUntilReadyPropagatesCheckError(t *testing.T) {
	stopCh := make(chan struct{})
	wantErr := errors.New("boom")
	err := PollUntilReady(stopCh, 3, time.Millisecond, func() (bool, error) {
		return false, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected wrapped wantErr, got %v", err)
	}
}

func TestPollUntilReadyStopCancels(t *testing.T) {
	stopCh := make(chan struct{})
	close(stopCh)
	err := PollUntilReady(stopCh, 5, time.Second, func() (bool, error) {
		return false, nil
	})
	if err != ErrStopped {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}
