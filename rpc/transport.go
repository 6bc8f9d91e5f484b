// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

// Sender is the send half of a full-duplex, message-ordered transport. The
// core never assumes anything about the underlying medium beyond FIFO
// delivery per link; memtransport and wstransport are two concrete
// implementations.
type Sender interface {
	Send(Message) error
}

// SendFunc adapts a plain function to Sender.
type SendFunc func(Message) error

// Send implements Sender.
func (f SendFunc) Send(m Message) error { return f(m) }

// ReceiveFunc is supplied by the core to a TransportFactory; the transport
// calls it once per inbound Message, in order, from a single goroutine.
type ReceiveFunc func(Message)

// TransportFactory establishes one side of a transport to a soon-to-exist
// peer world, wiring receive as the callback for inbound messages and
// returning the Sender used to address that peer. CreateWorld and InitWorld
// are the only core operations that call a TransportFactory.
type TransportFactory func(receive ReceiveFunc) (Sender, error)
