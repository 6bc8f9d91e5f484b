// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"reflect"
	"sync"

	"v.io/v23/context"
)

type registryEntry struct {
	object   interface{}
	disposed bool
}

// registry is the per-world id -> object table. It hands out monotonically
// increasing ids starting at 1 (0 is reserved for the world's own root
// object, see World.SetRoot) and deduplicates repeated registrations of the
// same comparable value so that handle(o) called twice on the same o yields
// reference-equal handles.
type registry struct {
	mu      sync.Mutex
	nextID  ObjectID
	entries map[ObjectID]*registryEntry
	byValue map[interface{}]ObjectID
}

func newRegistry() *registry {
	return &registry{
		entries: make(map[ObjectID]*registryEntry),
		byValue: make(map[interface{}]ObjectID),
	}
}

// register assigns object a fresh id, or returns its existing id if object
// was already registered and has not since been disposed.
func (r *registry) register(ctx *context.T, object interface{}) (ObjectID, error) {
	if _, ok := object.(*Handle); ok {
		return 0, newErr(ctx, ErrHandleToHandle)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if isComparable(object) {
		if id, ok := r.byValue[object]; ok {
			if e := r.entries[id]; e != nil && !e.disposed {
				return id, nil
			}
		}
	}

	r.nextID++
	id := r.nextID
	r.entries[id] = &registryEntry{object: object}
	if isComparable(object) {
		r.byValue[object] = id
	}
	return id, nil
}

// lookup returns the live object registered under id, or a Disposed /
// NotFound error.
func (r *registry) lookup(ctx *context.T, id ObjectID) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, newErr(ctx, ErrNotFound, id)
	}
	if e.disposed {
		return nil, newErr(ctx, ErrDisposed)
	}
	return e.object, nil
}

// dispose tombstones id; further lookups fail with Disposed. Disposing an
// unknown id is a no-op, matching dispose's at-most-once, idempotent
// contract.
func (r *registry) dispose(id ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.disposed = true
	}
}

// isComparable reports whether v can safely be used as a Go map key. Slices,
// maps and funcs are not, nor are structs, arrays or interfaces holding one;
// such values simply skip the dedup fast path and get a fresh id on every
// registration.
func isComparable(v interface{}) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).Comparable()
}
