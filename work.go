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

// workOp names the operations a workReq can carry across a worker's
// control channel.
type workOp string

const (
	workKick workOp = "kick"
	workNOOP workOp = "noop"
)

// workReq is a request sent across a worker's control channel, with
// an optional resCh the caller can use to synchronously wait for the
// request to be handled.
type workReq struct {
	op    workOp
	msg   string
	resCh chan error
}

// syncWorkReq sends a work request of the given op/msg on ch and
// blocks until the handler sends a result on resCh, returning that
// error (nil on success). A nil resCh is replaced by a fresh channel;
// the call blocks either way.
func syncWorkReq(ch chan *workReq, op workOp, msg string, resCh chan error) error {
	if resCh == nil {
		resCh = make(chan error)
	}
	ch <- &workReq{op: op, msg: msg, resCh: resCh}
	return <-resCh
}
