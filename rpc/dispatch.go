// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import "sync"

// pendingCall is one outstanding call this world's dispatcher is waiting on
// a ResponseMessage for.
type pendingCall struct {
	peer   WorldID
	result chan callResult
}

type callResult struct {
	value interface{}
	err   error
}

// dispatcher tracks calls this world has issued, keyed by sequence id, plus
// a secondary index by peer so disposing a peer can reject every call still
// outstanding against it in one pass.
type dispatcher struct {
	mu      sync.Mutex
	nextSeq SeqID
	pending map[SeqID]*pendingCall
	byPeer  map[WorldID]map[SeqID]bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		pending: make(map[SeqID]*pendingCall),
		byPeer:  make(map[WorldID]map[SeqID]bool),
	}
}

// register allocates a fresh sequence id for a call about to be sent to
// peer, and returns the channel its eventual result will be delivered on.
func (d *dispatcher) register(peer WorldID) (SeqID, *pendingCall) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSeq++
	seq := d.nextSeq
	pc := &pendingCall{peer: peer, result: make(chan callResult, 1)}
	d.pending[seq] = pc
	if d.byPeer[peer] == nil {
		d.byPeer[peer] = make(map[SeqID]bool)
	}
	d.byPeer[peer][seq] = true
	return seq, pc
}

// resolve settles the call under seq, if this dispatcher is still waiting on
// it. It reports whether a pending call was found, so callers can fall back
// to relay bookkeeping when the seq belongs to someone else.
func (d *dispatcher) resolve(seq SeqID, value interface{}, err error) bool {
	d.mu.Lock()
	pc, ok := d.pending[seq]
	if ok {
		delete(d.pending, seq)
		if set := d.byPeer[pc.peer]; set != nil {
			delete(set, seq)
		}
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	pc.result <- callResult{value, err}
	return true
}

// cancelPeer rejects every call still outstanding against peer with err. It
// is the dispatcher-side half of disposing a peer world.
func (d *dispatcher) cancelPeer(peer WorldID, err error) {
	d.mu.Lock()
	seqs := d.byPeer[peer]
	delete(d.byPeer, peer)
	var pcs []*pendingCall
	for seq := range seqs {
		if pc, ok := d.pending[seq]; ok {
			pcs = append(pcs, pc)
			delete(d.pending, seq)
		}
	}
	d.mu.Unlock()
	for _, pc := range pcs {
		pc.result <- callResult{nil, err}
	}
}
