// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wstransport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vanadium/worldrpc/rpc"
)

// TestDialListenRoundTrip drives a real websocket connection end to end in
// both directions: a CallMessage sent from the dialing side must arrive
// intact at the accepting side, gob envelope and all, and a response sent
// back must arrive at the dialer.
func TestDialListenRoundTrip(t *testing.T) {
	accepted := make(chan rpc.TransportFactory, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, err := Listen(w, r)
		if err != nil {
			t.Errorf("Listen: %v", err)
			return
		}
		accepted <- f
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	gotClient := make(chan rpc.Message, 1)
	clientSender, err := Dial(url)(func(m rpc.Message) { gotClient <- m })
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var factory rpc.TransportFactory
	select {
	case factory = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the server to accept the connection")
	}

	gotServer := make(chan rpc.Message, 1)
	serverSender, err := factory(func(m rpc.Message) { gotServer <- m })
	if err != nil {
		t.Fatalf("accept factory: %v", err)
	}

	call := &rpc.CallMessage{Seq: 42, WorldID: 3, Member: "sum", Args: []interface{}{1.0, 2.0}}
	if err := clientSender.Send(rpc.Message{Kind: rpc.MessageCall, Call: call}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case m := <-gotServer:
		if m.Kind != rpc.MessageCall || m.Call == nil {
			t.Fatalf("got %+v, want a MessageCall", m)
		}
		if m.Call.Seq != 42 || m.Call.Member != "sum" {
			t.Errorf("got %+v, want seq 42 member sum", m.Call)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the server to observe the client's call")
	}

	resp := &rpc.ResponseMessage{Seq: 42, Result: 3.0}
	if err := serverSender.Send(rpc.Message{Kind: rpc.MessageResponse, Response: resp}); err != nil {
		t.Fatalf("Send response: %v", err)
	}
	select {
	case m := <-gotClient:
		if m.Kind != rpc.MessageResponse || m.Response == nil || m.Response.Seq != 42 {
			t.Fatalf("got %+v, want the response for seq 42", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the client to observe the server's response")
	}
}
