// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"fmt"
	"testing"
	"time"

	"v.io/v23/context"
	"v.io/v23/verror"

	"github.com/vanadium/worldrpc/rpc/memtransport"
)

type calc struct{}

func (calc) Sum(ctx *context.T, a, b float64) float64 { return a + b }

func (calc) Echo(ctx *context.T, v map[string]interface{}) (interface{}, error) {
	list, ok := v["a"].([]interface{})
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("echo: expected {a: [handle]}")
	}
	h, ok := list[0].(*Handle)
	if !ok {
		return nil, fmt.Errorf("echo: a[0] is not a handle")
	}
	return h.Invoke(ctx, "name")
}

func (calc) Name(ctx *context.T) (string, error) { return "calc", nil }

// TestSimpleCall exercises the sum(1, 3) = 4 scenario: a same-world call
// through a handle, with no transport involved at all.
func TestSimpleCall(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	w := NewRootWorld(ctx)
	h, err := w.Handle(ctx, calc{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	res, err := h.Invoke(ctx, "sum", 1.0, 3.0)
	if err != nil {
		t.Fatalf("Invoke(sum): %v", err)
	}
	if got, want := res.(float64), 4.0; got != want {
		t.Errorf("sum(1, 3) = %v, want %v", got, want)
	}
}

// TestHandleArgumentRoundTrip passes a handle as an argument and has the
// callee invoke it back; the callee must receive a *Handle, not the raw
// object, even though the call never leaves the world.
func TestHandleArgumentRoundTrip(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	w := NewRootWorld(ctx)
	h, err := w.Handle(ctx, calc{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	res, err := h.Invoke(ctx, "echo", map[string]interface{}{"a": []interface{}{h}})
	if err != nil {
		t.Fatalf("Invoke(echo): %v", err)
	}
	if got, want := res.(string), "calc"; got != want {
		t.Errorf("echo({a: [calc]}) = %q, want %q", got, want)
	}
}

// TestCyclicArgumentRejected confirms a self-referential argument graph is
// rejected with RefChainTooLong rather than hanging the call.
func TestCyclicArgumentRejected(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	w := NewRootWorld(ctx)
	h, err := w.Handle(ctx, calc{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	cyclic := map[string]interface{}{}
	cyclic["self"] = cyclic

	_, err = h.Invoke(ctx, "echo", cyclic)
	if err == nil {
		t.Fatal("expected a reference-chain error, got success")
	}
	if got := verror.ErrorID(err); got != ErrRefChainTooLong.ID {
		t.Errorf("got error id %v, want %v (err: %v)", got, ErrRefChainTooLong.ID, err)
	}
}

// TestDepthWithinLimitSucceeds confirms a graph nested right up to the
// boundary is still accepted; only exceeding maxRefDepth is an error.
func TestDepthWithinLimitSucceeds(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	var v interface{} = "leaf"
	for i := 0; i < maxRefDepth; i++ {
		v = []interface{}{v}
	}
	if err := validateDepth(ctx, v, 0); err != nil {
		t.Errorf("validateDepth within bound: %v", err)
	}
}

// TestPrivateMemberRejected confirms an underscore-prefixed member name is
// rejected without ever reaching invokeMember.
func TestPrivateMemberRejected(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	w := NewRootWorld(ctx)
	h, err := w.Handle(ctx, calc{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	_, err = h.Invoke(ctx, "_secret")
	if err == nil {
		t.Fatal("expected a PrivateMember error, got success")
	}
	if got := verror.ErrorID(err); got != ErrPrivateMember.ID {
		t.Errorf("got error id %v, want %v", got, ErrPrivateMember.ID)
	}
}

// TestUnknownMemberRejected confirms a member name with no matching method
// or exported field fails with NoMember, not a panic.
func TestUnknownMemberRejected(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	w := NewRootWorld(ctx)
	h, err := w.Handle(ctx, calc{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	_, err = h.Invoke(ctx, "doesNotExist")
	if err == nil {
		t.Fatal("expected a NoMember error, got success")
	}
	if got := verror.ErrorID(err); got != ErrNoMember.ID {
		t.Errorf("got error id %v, want %v", got, ErrNoMember.ID)
	}
}

// TestDisposeLocalHandle confirms that disposing an object makes every
// subsequent call against it fail with Disposed.
func TestDisposeLocalHandle(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	w := NewRootWorld(ctx)
	h, err := w.Handle(ctx, calc{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := w.Dispose(ctx, h); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	_, err = h.Invoke(ctx, "sum", 1.0, 2.0)
	if err == nil {
		t.Fatal("expected a Disposed error after dispose, got success")
	}
	if !IsDisposed(err) {
		t.Errorf("got %v, want Disposed", err)
	}
	// Disposing again is a no-op, not an error.
	if err := w.Dispose(ctx, h); err != nil {
		t.Errorf("second Dispose: %v", err)
	}
}

// TestObjectRoundTripIdentity confirms object(handle(o)) returns the exact
// same object that was registered.
func TestObjectRoundTripIdentity(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	w := NewRootWorld(ctx)
	obj := calc{}
	h, err := w.Handle(ctx, obj)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got, err := w.Object(ctx, h)
	if err != nil {
		t.Fatalf("Object: %v", err)
	}
	if got != obj {
		t.Errorf("Object(Handle(o)) = %v, want %v", got, obj)
	}
}

// TestObjectRejectsForeignHandle confirms materializing a handle owned by a
// different world fails with InvalidInput: a handle can only ever be
// invoked across a world boundary, never unwrapped.
func TestObjectRejectsForeignHandle(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	w1 := NewRootWorld(ctx)
	w2 := NewRootWorld(ctx)
	h, err := w1.Handle(ctx, calc{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	_, err = w2.Object(ctx, h)
	if err == nil {
		t.Fatal("expected InvalidInput materializing another world's handle, got success")
	}
	if got := verror.ErrorID(err); got != ErrInvalidInput.ID {
		t.Errorf("got error id %v, want %v", got, ErrInvalidInput.ID)
	}
}

// TestExceptionTransparency confirms an error returned by a method called
// through a handle propagates back to the caller as an error carrying the
// original message, rather than being swallowed or turned into a panic.
func TestExceptionTransparency(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	w := NewRootWorld(ctx)
	h, err := w.Handle(ctx, calc{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	// echo expects {a: [handle]}; give it something else entirely so the
	// callee itself returns a plain Go error.
	_, err = h.Invoke(ctx, "echo", map[string]interface{}{})
	if err == nil {
		t.Fatal("expected the callee's error to propagate, got success")
	}
	if got, want := err.Error(), "echo: expected {a: [handle]}"; got != want {
		t.Errorf("got error %q, want %q", got, want)
	}
}

type remoteRoot struct {
	children []*Handle
	messages []string
}

func (p *remoteRoot) AddChild(ctx *context.T, h *Handle) error {
	p.children = append(p.children, h)
	if len(p.children) == 2 {
		if _, err := p.children[0].Invoke(ctx, "setSibling", p.children[1]); err != nil {
			return err
		}
		if _, err := p.children[1].Invoke(ctx, "setSibling", p.children[0]); err != nil {
			return err
		}
	}
	return nil
}

func (p *remoteRoot) Hello(ctx *context.T, msg string) {
	p.messages = append(p.messages, msg)
}

type remoteChild struct {
	sibling *Handle
}

func (c *remoteChild) SetSibling(ctx *context.T, h *Handle) (string, error) {
	c.sibling = h
	res, err := h.Invoke(ctx, "helloSibling", "hello")
	if err != nil {
		return "", err
	}
	s, _ := res.(string)
	return s, nil
}

func (c *remoteChild) HelloSibling(ctx *context.T, msg string) string { return msg }

// TestSiblingRelayThroughParent builds a parent with two children spawned
// over separate memtransport pairs, has the parent introduce them to each
// other, and confirms the two siblings can call one another even though
// neither has a direct transport to the other: the call and its response
// must be relayed through the shared parent.
func TestSiblingRelayThroughParent(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	parent := NewRootWorld(ctx)
	root := &remoteRoot{}
	parent.SetRoot(root)

	spawn := func() error {
		factoryParent, factoryChild := memtransport.Pair()
		childDone := make(chan error, 1)
		go func() {
			_, err := InitWorld(ctx, factoryChild, func(ctx *context.T, parentHandle *Handle, self *World) error {
				child := &remoteChild{}
				h, err := self.Handle(ctx, child)
				if err != nil {
					return err
				}
				_, err = parentHandle.Invoke(ctx, "addChild", h)
				return err
			})
			childDone <- err
		}()
		if _, err := parent.CreateWorld(ctx, factoryParent); err != nil {
			return err
		}
		return <-childDone
	}

	if err := spawn(); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	if err := spawn(); err != nil {
		t.Fatalf("second spawn: %v", err)
	}
}

// TestWorldDisposalMidCall drives the scenario where a child world issues a
// call to its parent and the parent disposes the child before the response
// is delivered: the callee's side effect still happens (the parent's
// messages list records it), but the caller never gets a result. The parent
// drops the response once the peer is marked abandoned, and the child's call
// either stays pending or is rejected with PeerDisposed when the parent's
// dispose notice reaches it.
func TestWorldDisposalMidCall(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	parent := NewRootWorld(ctx)
	root := &remoteRoot{}
	parent.SetRoot(root)

	factoryParent, factoryChild := memtransport.Pair()

	started := make(chan struct{})
	callDone := make(chan error, 1)
	go func() {
		_, err := InitWorld(ctx, factoryChild, func(ctx *context.T, parentHandle *Handle, self *World) error {
			go func() {
				close(started)
				_, err := parentHandle.Invoke(ctx, "hello", "hello")
				callDone <- err
			}()
			return nil
		})
		if err != nil {
			callDone <- err
		}
	}()

	childID, err := parent.CreateWorld(ctx, factoryParent)
	if err != nil {
		t.Fatalf("CreateWorld: %v", err)
	}
	<-started
	if err := parent.DisposeWorld(ctx, childID); err != nil {
		t.Fatalf("DisposeWorld: %v", err)
	}

	select {
	case err := <-callDone:
		if err == nil {
			t.Fatal("expected the child's call to get no result after disposal, got one")
		}
	case <-time.After(200 * time.Millisecond):
		// Also expected: the call never settles.
	}
	if len(root.messages) != 1 || root.messages[0] != "hello" {
		t.Errorf("parent.messages = %v, want [\"hello\"]", root.messages)
	}
}

// TestWorldArgs confirms a child observes exactly the arguments its parent
// passed to CreateWorld.
func TestWorldArgs(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	parent := NewRootWorld(ctx)
	factoryParent, factoryChild := memtransport.Pair()

	gotArgs := make(chan []interface{}, 1)
	go func() {
		_, _ = InitWorld(ctx, factoryChild, func(ctx *context.T, parentHandle *Handle, self *World) error {
			gotArgs <- self.WorldArgs()
			return nil
		})
	}()

	if _, err := parent.CreateWorld(ctx, factoryParent, "a", 1.0, true); err != nil {
		t.Fatalf("CreateWorld: %v", err)
	}

	select {
	case got := <-gotArgs:
		want := []interface{}{"a", 1.0, true}
		if len(got) != len(want) {
			t.Fatalf("WorldArgs() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("WorldArgs()[%d] = %v, want %v", i, got[i], want[i])
			}
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for child's WorldArgs")
	}
}

// TestHandleIdentityAcrossDemarshal confirms that demarshalling the same
// (world, object) reference twice yields the identical *Handle pointer.
func TestHandleIdentityAcrossDemarshal(t *testing.T) {
	ctx, cancel := context.RootContext()
	defer cancel()

	w := NewRootWorld(ctx)
	ref := WireRef{WorldID: 7, ObjectID: 3}
	first, err := w.resolveRef(ctx, 7, ref)
	if err != nil {
		t.Fatalf("resolveRef: %v", err)
	}
	second, err := w.resolveRef(ctx, 7, ref)
	if err != nil {
		t.Fatalf("resolveRef: %v", err)
	}
	if first.(*Handle) != second.(*Handle) {
		t.Errorf("expected the same WireRef to resolve to the identical *Handle pointer")
	}
}
