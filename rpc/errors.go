// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"v.io/v23/context"
	"v.io/v23/i18n"
	"v.io/v23/verror"
)

// Error kinds reported by the world runtime. Each mirrors a failure mode a
// handle operation or registry lookup can hit; callers distinguish them with
// verror.ErrorID rather than string matching, though the English text below
// carries the exact substrings the wire contract promises callers can match
// on.
var (
	ErrNoMember        = verror.Register("github.com/vanadium/worldrpc/rpc.NoMember", verror.NoRetry, "{1:}{2:} There is no member named {3}")
	ErrPrivateMember   = verror.Register("github.com/vanadium/worldrpc/rpc.PrivateMember", verror.NoRetry, "{1:}{2:} Private members are not exposed over RPC")
	ErrNotCallable     = verror.Register("github.com/vanadium/worldrpc/rpc.NotCallable", verror.NoRetry, "{1:}{2:} {3} is not a function")
	ErrRefChainTooLong = verror.Register("github.com/vanadium/worldrpc/rpc.RefChainTooLong", verror.NoRetry, "{1:}{2:} Object reference chain is too long")
	ErrHandleToHandle  = verror.Register("github.com/vanadium/worldrpc/rpc.HandleToHandle", verror.NoRetry, "{1:}{2:} Can not return handle to handle")
	ErrDisposed        = verror.Register("github.com/vanadium/worldrpc/rpc.Disposed", verror.NoRetry, "{1:}{2:} Object has been diposed")
	ErrPeerDisposed    = verror.Register("github.com/vanadium/worldrpc/rpc.PeerDisposed", verror.NoRetry, "{1:}{2:} peer world{:3} was disposed")
	ErrInvalidInput    = verror.Register("github.com/vanadium/worldrpc/rpc.InvalidInput", verror.NoRetry, "{1:}{2:} {3}")
	ErrRemoteThrew     = verror.Register("github.com/vanadium/worldrpc/rpc.RemoteThrew", verror.NoRetry, "{1:}{2:} {3}")
	ErrNotFound        = verror.Register("github.com/vanadium/worldrpc/rpc.NotFound", verror.NoRetry, "{1:}{2:} no object with id{:3}")
)

func init() {
	cat := i18n.Cat()
	en := i18n.LangID("en")
	cat.SetWithBase(en, i18n.MsgID(ErrNoMember.ID), "{1:}{2:} There is no member named {3}")
	cat.SetWithBase(en, i18n.MsgID(ErrPrivateMember.ID), "{1:}{2:} Private members are not exposed over RPC")
	cat.SetWithBase(en, i18n.MsgID(ErrNotCallable.ID), "{1:}{2:} {3} is not a function")
	cat.SetWithBase(en, i18n.MsgID(ErrRefChainTooLong.ID), "{1:}{2:} Object reference chain is too long")
	cat.SetWithBase(en, i18n.MsgID(ErrHandleToHandle.ID), "{1:}{2:} Can not return handle to handle")
	cat.SetWithBase(en, i18n.MsgID(ErrDisposed.ID), "{1:}{2:} Object has been diposed")
	cat.SetWithBase(en, i18n.MsgID(ErrPeerDisposed.ID), "{1:}{2:} peer world{:3} was disposed")
	cat.SetWithBase(en, i18n.MsgID(ErrInvalidInput.ID), "{1:}{2:} {3}")
	cat.SetWithBase(en, i18n.MsgID(ErrRemoteThrew.ID), "{1:}{2:} {3}")
	cat.SetWithBase(en, i18n.MsgID(ErrNotFound.ID), "{1:}{2:} no object with id{:3}")
}

func newErr(ctx *context.T, id verror.IDAction, v ...interface{}) error {
	return verror.New(id, ctx, v...)
}

// IsDisposed reports whether err is the Disposed error kind.
func IsDisposed(err error) bool { return verror.ErrorID(err) == ErrDisposed.ID }

// IsPeerDisposed reports whether err is the PeerDisposed error kind.
func IsPeerDisposed(err error) bool { return verror.ErrorID(err) == ErrPeerDisposed.ID }
