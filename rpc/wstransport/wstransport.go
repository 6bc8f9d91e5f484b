// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wstransport implements rpc.TransportFactory over a websocket
// connection, demonstrating the transport contract satisfied by a real
// network protocol rather than the in-process memtransport pair. It mirrors
// the dial/accept shape of a hybrid websocket listener, trimmed to the one
// rpc.Message-in, rpc.Message-out duty the core asks of a transport.
package wstransport

import (
	"bytes"
	"encoding/gob"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/vanadium/worldrpc/rpc"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func init() {
	gob.Register(rpc.WireRef{})
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}

// Dial connects to a server previously set up with Listen and returns a
// TransportFactory for the child/parent side driving that connection.
func Dial(url string) rpc.TransportFactory {
	return func(receive rpc.ReceiveFunc) (rpc.Sender, error) {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return nil, err
		}
		return wrap(conn, receive), nil
	}
}

// Listen upgrades an HTTP request to a websocket connection and returns a
// TransportFactory for the accepting side; wire it into an http.HandlerFunc
// and call the returned factory once a new peer has connected.
func Listen(w http.ResponseWriter, r *http.Request) (rpc.TransportFactory, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return func(receive rpc.ReceiveFunc) (rpc.Sender, error) {
		return wrap(conn, receive), nil
	}, nil
}

// conn adapts a *websocket.Conn to rpc.Sender, gob-encoding each rpc.Message
// as one binary websocket frame, and spawns the read pump that feeds
// receive.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func wrap(ws *websocket.Conn, receive rpc.ReceiveFunc) rpc.Sender {
	c := &conn{ws: ws}
	go c.readPump(receive)
	return c
}

func (c *conn) Send(m rpc.Message) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

func (c *conn) readPump(receive rpc.ReceiveFunc) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var m rpc.Message
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
			continue
		}
		receive(m)
	}
}
