// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import "v.io/v23/context"

// Handle is a capability: a proxy for an object that lives in some world,
// possibly (but not necessarily) the one holding the handle. It is the only
// thing that may be called across a world boundary; plain functions and
// unregistered structs cannot.
//
// Go has no runtime property interception, so the dynamic "any member name"
// surface the wire contract describes becomes a single generic entry point,
// Invoke, instead of per-member generated methods.
type Handle struct {
	world    *World
	ownerID  WorldID
	objectID ObjectID
}

// WorldID returns the id of the world that owns the object this handle
// refers to.
func (h *Handle) WorldID() WorldID { return h.ownerID }

// ObjectID returns the id the owning world's registry assigned this object.
func (h *Handle) ObjectID() ObjectID { return h.objectID }

// Invoke calls member(args...) on the object this handle refers to. member
// names beginning with "_" are rejected as private without ever leaving the
// calling world. If the owning world is this world, the call is dispatched
// in-process with no wire round trip; otherwise it is marshalled and sent,
// and Invoke blocks until a response arrives or ctx is done.
func (h *Handle) Invoke(ctx *context.T, member string, args ...interface{}) (interface{}, error) {
	return h.world.callMember(ctx, h, member, args)
}

// Equal reports whether h and other name the same (world, object) pair.
// Two handles obtained for the same remote object are always Equal,
// independent of how many times they crossed the wire.
func (h *Handle) Equal(other *Handle) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h.ownerID == other.ownerID && h.objectID == other.objectID
}
