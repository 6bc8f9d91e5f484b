// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memtransport implements rpc.TransportFactory pairs backed by
// nothing but Go channels: the trusted, in-process transport the core's
// contract calls out as the simplest legal collaborator, used by tests and
// the demo command.
package memtransport

import (
	"github.com/vanadium/worldrpc/rpc"
)

// Pair returns two rpc.TransportFactory values wired to each other: a
// message sent on the Sender returned by one side's factory arrives at the
// other side's receive callback, in order, from a dedicated goroutine per
// direction. Call one from the parent when creating a child world and the
// other from the child in rpc.InitWorld.
func Pair() (a, b rpc.TransportFactory) {
	toA := make(chan rpc.Message, 16)
	toB := make(chan rpc.Message, 16)

	a = func(receive rpc.ReceiveFunc) (rpc.Sender, error) {
		go pump(toA, receive)
		return rpc.SendFunc(func(m rpc.Message) error {
			toB <- m
			return nil
		}), nil
	}
	b = func(receive rpc.ReceiveFunc) (rpc.Sender, error) {
		go pump(toB, receive)
		return rpc.SendFunc(func(m rpc.Message) error {
			toA <- m
			return nil
		}), nil
	}
	return a, b
}

func pump(ch <-chan rpc.Message, receive rpc.ReceiveFunc) {
	for m := range ch {
		receive(m)
	}
}
