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
)

func TestSyncWorkReq(t *testing.T) {
	ch := make(chan *workReq)
	go func() {
		w, ok := <-ch
		if !ok || w == nil {
			t.Errorf("expected ok and w")
		}
		if w.op != workKick || w.msg != "msg" {
			t.Errorf("expected workKick and msg")
		}
		w.resCh <- nil
	}()

	err := syncWorkReq(ch, workKick, "msg", nil)
	if err != nil {
		t.Errorf("expect nil err, got: %v", err)
	}
}

func TestSyncWorkReqPropagatesError(t *testing.T) {
	ch := make(chan *workReq)
	wantErr := errors.New("boom")
	go func() {
		w := <-ch
		w.resCh <- wantErr
	}()

	err := syncWorkReq(ch, workNOOP, "", nil)
	if err != wantErr {
		t.Errorf("expected wantErr, got: %v", err)
	}
}
