// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"reflect"
	"unicode"

	"v.io/v23/context"
)

var (
	ctxType   = reflect.TypeOf((*context.T)(nil))
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// invokeMember resolves member against object and either calls it (a method)
// or reads it (an exported field), following the generic invoke(name, args)
// facade spec'd for statically typed hosts: a wire member name "foo" maps to
// the exported Go identifier "Foo".
func invokeMember(ctx *context.T, object interface{}, member string, args []interface{}) (interface{}, error) {
	if object == nil {
		return nil, newErr(ctx, ErrNoMember, member)
	}
	exported := exportName(member)

	v := reflect.ValueOf(object)
	if m := v.MethodByName(exported); m.IsValid() {
		return callMethod(ctx, member, m, args)
	}

	sv := v
	if sv.Kind() == reflect.Ptr {
		if sv.IsNil() {
			return nil, newErr(ctx, ErrNoMember, member)
		}
		sv = sv.Elem()
	}
	if sv.Kind() == reflect.Struct {
		fv := sv.FieldByName(exported)
		if fv.IsValid() && fv.CanInterface() {
			if len(args) != 0 {
				return nil, newErr(ctx, ErrNotCallable, member)
			}
			return fv.Interface(), nil
		}
	}
	return nil, newErr(ctx, ErrNoMember, member)
}

func exportName(member string) string {
	if member == "" {
		return member
	}
	r := []rune(member)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// callMethod invokes m with args, coercing wire-form scalars (float64 etc.)
// to whatever concrete numeric type the method declares, and threading ctx
// through as the leading parameter when the method asks for one.
func callMethod(ctx *context.T, member string, m reflect.Value, args []interface{}) (interface{}, error) {
	mt := m.Type()

	in := make([]reflect.Value, 0, mt.NumIn())
	if mt.NumIn() > 0 && mt.In(0) == ctxType {
		in = append(in, reflect.ValueOf(ctx))
	}
	fixed := mt.NumIn()
	if mt.IsVariadic() {
		fixed--
	}

	for _, a := range args {
		pos := len(in)
		var argType reflect.Type
		switch {
		case pos < fixed:
			argType = mt.In(pos)
		case mt.IsVariadic():
			argType = mt.In(mt.NumIn() - 1).Elem()
		}
		in = append(in, coerce(a, argType))
	}

	if !mt.IsVariadic() && len(in) != mt.NumIn() {
		return nil, newErr(ctx, ErrNotCallable, member)
	}
	if mt.IsVariadic() && len(in) < fixed {
		return nil, newErr(ctx, ErrNotCallable, member)
	}

	out := m.Call(in)
	return splitResults(out)
}

// coerce adapts a wire-form value (scalars arrive as float64/bool/string,
// composites as map[string]interface{}/[]interface{}, handles as *Handle)
// to the reflect.Type a Go method parameter declares.
func coerce(a interface{}, want reflect.Type) reflect.Value {
	if want == nil {
		return valueOrZero(a, reflect.TypeOf((*interface{})(nil)).Elem())
	}
	if a == nil {
		return reflect.Zero(want)
	}
	av := reflect.ValueOf(a)
	if av.Type().AssignableTo(want) {
		return av
	}
	if av.Type().ConvertibleTo(want) && isNumericKind(av.Kind()) && isNumericKind(want.Kind()) {
		return av.Convert(want)
	}
	if want.Kind() == reflect.Interface {
		return valueOrZero(a, want)
	}
	return av
}

func valueOrZero(a interface{}, want reflect.Type) reflect.Value {
	if a == nil {
		return reflect.Zero(want)
	}
	return reflect.ValueOf(a)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// splitResults adapts a Go method's return values to the single
// (interface{}, error) shape every call needs: (T) -> (T, nil), (T, error)
// -> (T, nil) or (nil, err) when err is non-nil, (error) -> (nil, err),
// () -> (nil, nil).
func splitResults(out []reflect.Value) (interface{}, error) {
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	if last.Type() == errorType {
		var err error
		if !last.IsNil() {
			err = last.Interface().(error)
		}
		if err != nil {
			return nil, err
		}
		if len(out) == 1 {
			return nil, nil
		}
		if len(out) == 2 {
			return out[0].Interface(), nil
		}
		vals := make([]interface{}, len(out)-1)
		for i := range vals {
			vals[i] = out[i].Interface()
		}
		return vals, nil
	}
	if len(out) == 1 {
		return out[0].Interface(), nil
	}
	vals := make([]interface{}, len(out))
	for i := range vals {
		vals[i] = out[i].Interface()
	}
	return vals, nil
}
