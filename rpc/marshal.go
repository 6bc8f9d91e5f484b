// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"fmt"
	"reflect"

	"v.io/v23/context"
)

// maxRefDepth bounds how deeply a single argument or result graph may nest
// before marshal gives up and reports RefChainTooLong. It is also what turns
// a cyclic graph into an error rather than an infinite walk: there is no
// separate visited-set, the depth counter alone is what breaks cycles.
const maxRefDepth = 20

// marshalValue converts a native argument/result graph into its wire form:
// scalars pass through unchanged, *Handle becomes a WireRef, slices/maps
// recurse into []interface{}/map[string]interface{}, and any other struct or
// pointer-to-struct is walked field by field as an opaque composite. Plain
// functions and channels cannot be marshalled at all; only a *Handle may
// cross the wire as something callable.
func marshalValue(ctx *context.T, v interface{}, depth int) (interface{}, error) {
	if depth > maxRefDepth {
		return nil, newErr(ctx, ErrRefChainTooLong)
	}

	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	case *Handle:
		return WireRef{WorldID: t.ownerID, ObjectID: t.objectID}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan:
		return nil, newErr(ctx, ErrInvalidInput, "callables must be wrapped with Handle before being passed across a call")

	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			mv, err := marshalValue(ctx, rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = mv
		}
		return out, nil

	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		for _, key := range rv.MapKeys() {
			mv, err := marshalValue(ctx, rv.MapIndex(key).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(key.Interface())] = mv
		}
		return out, nil

	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return marshalValue(ctx, rv.Elem().Interface(), depth+1)

	case reflect.Struct:
		out := make(map[string]interface{})
		st := rv.Type()
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if f.PkgPath != "" { // unexported, not part of the public surface
				continue
			}
			mv, err := marshalValue(ctx, rv.Field(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[f.Name] = mv
		}
		return out, nil

	default:
		return v, nil
	}
}

// validateDepth enforces the same depth cap and callable rule as
// marshalValue without transforming the graph, for calls that never cross a
// transport: a handle owned by the calling world must still reach the
// callee as a *Handle (so it is always invoked through the capability
// surface, never by unwrapping it), but the argument-graph invariants
// (bounded depth, no bare callables) apply identically whether or not a
// call happens to stay in-process.
func validateDepth(ctx *context.T, v interface{}, depth int) error {
	if depth > maxRefDepth {
		return newErr(ctx, ErrRefChainTooLong)
	}

	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, *Handle:
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan:
		return newErr(ctx, ErrInvalidInput, "callables must be wrapped with Handle before being passed across a call")

	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := validateDepth(ctx, rv.Index(i).Interface(), depth+1); err != nil {
				return err
			}
		}
		return nil

	case reflect.Map:
		for _, key := range rv.MapKeys() {
			if err := validateDepth(ctx, rv.MapIndex(key).Interface(), depth+1); err != nil {
				return err
			}
		}
		return nil

	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return validateDepth(ctx, rv.Elem().Interface(), depth+1)

	case reflect.Struct:
		st := rv.Type()
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if f.PkgPath != "" {
				continue
			}
			if err := validateDepth(ctx, rv.Field(i).Interface(), depth+1); err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}

// demarshal is the inverse of marshalValue, run in the world that received
// the graph. fromPeer is the direct link the message physically arrived on;
// a WireRef naming a world that is neither local nor already known becomes
// routed through fromPeer from this point forward (see World.resolveRef).
func (w *World) demarshal(ctx *context.T, fromPeer WorldID, v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case WireRef:
		return w.resolveRef(ctx, fromPeer, t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, raw := range t {
			dv, err := w.demarshal(ctx, fromPeer, raw)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, raw := range t {
			dv, err := w.demarshal(ctx, fromPeer, raw)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	default:
		return v, nil
	}
}
