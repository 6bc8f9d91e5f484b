// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpc implements a capability-style RPC fabric of isolated "worlds"
// linked by handles: proxies that let a call reach an object living in
// another world without exposing anything about that world beyond the
// objects it has chosen to hand out.
package rpc

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pborman/uuid"
	"github.com/sirupsen/logrus"
	"v.io/v23/context"
)

// globalNextWorldID is the process-wide allocator for world ids. Every
// CreateWorld call anywhere in the process draws from it, so a single
// process hosting an arbitrarily nested tree of worlds never has to
// reconcile two numbering schemes. Worlds spanning multiple processes are
// expected to run one flat transport per pair rather than relying on
// cross-process id allocation.
var globalNextWorldID uint64

// RootWorldID is the id every process's first, un-created world is assigned.
const RootWorldID WorldID = 0

var errNoRoute = errors.New("no route to world")

type link struct {
	peerID WorldID
	send   Sender
}

// World is one isolated execution context: its own object registry, its own
// pending-call table, and a set of transports to the peer worlds it has
// either created or been created by. All of a World's exported methods are
// safe for concurrent use.
type World struct {
	id    WorldID
	label string
	log   *logrus.Entry

	reg  *registry
	disp *dispatcher

	baseCtx *context.T

	mu             sync.Mutex
	disposed       bool
	links          map[WorldID]*link
	routeVia       map[WorldID]WorldID
	relay          map[WorldID]map[SeqID]WorldID
	abandonedPeers map[WorldID]bool
	handleCache    map[WireRef]*Handle
	pendingCreate  map[WorldID]chan error
	worldArgs      []interface{}

	rootMu sync.Mutex
	root   interface{}
}

func newWorld(ctx *context.T, id WorldID) *World {
	label := uuid.NewRandom().String()
	w := &World{
		id:             id,
		label:          label,
		reg:            newRegistry(),
		disp:           newDispatcher(),
		baseCtx:        ctx,
		links:          make(map[WorldID]*link),
		routeVia:       make(map[WorldID]WorldID),
		relay:          make(map[WorldID]map[SeqID]WorldID),
		abandonedPeers: make(map[WorldID]bool),
		handleCache:    make(map[WireRef]*Handle),
		pendingCreate:  make(map[WorldID]chan error),
	}
	w.log = logrus.WithFields(logrus.Fields{"world": id, "label": label})
	return w
}

// NewRootWorld creates the single root world of a process (id 0, no
// parent). ctx is retained as the base context for logging/error
// construction done on background goroutines that have no caller-supplied
// context of their own (inbound call execution, message relaying).
func NewRootWorld(ctx *context.T) *World {
	w := newWorld(ctx, RootWorldID)
	w.log.Info("root world created")
	return w
}

// ID returns this world's id.
func (w *World) ID() WorldID { return w.id }

// WorldArgs returns the arguments this world was created with (via the
// createWorld call that spawned it), or nil for a root world. It is the
// same value a peer gets back by invoking "worldArgs" on a handle to this
// world's root (objectID 0); WorldArgs is the local, non-RPC shortcut to it.
func (w *World) WorldArgs() []interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]interface{}(nil), w.worldArgs...)
}

// Label returns the human-readable instance tag generated for this world,
// useful for correlating log lines across a tree of worlds; it plays no
// part in routing.
func (w *World) Label() string { return w.label }

// SetRoot designates object as the world's own root: what a peer reaches
// when it invokes a member on objectID 0 (the handle an initializer receives
// for its creator, or the handle a parent can construct for any of its
// children). Calling SetRoot again replaces the previous root.
func (w *World) SetRoot(object interface{}) {
	w.rootMu.Lock()
	w.root = object
	w.rootMu.Unlock()
}

// Handle registers object in this world and returns a capability for it.
// Passing an already-registered comparable object returns the same handle
// as before (object identity is preserved across repeated calls). A
// *Handle cannot itself be re-wrapped: handle(handle(x)) fails with
// HandleToHandle.
func (w *World) Handle(ctx *context.T, object interface{}) (*Handle, error) {
	id, err := w.reg.register(ctx, object)
	if err != nil {
		return nil, err
	}
	return w.localHandle(id), nil
}

func (w *World) localHandle(id ObjectID) *Handle {
	return w.getOrCreateHandle(WireRef{WorldID: w.id, ObjectID: id})
}

// Object returns the concrete object h refers to, provided h is owned by
// this world. Cross-world materialization is not offered: a handle owned by
// another world can only be invoked, never unwrapped.
func (w *World) Object(ctx *context.T, h *Handle) (interface{}, error) {
	if h.ownerID != w.id {
		return nil, newErr(ctx, ErrInvalidInput, "object belongs to a different world")
	}
	return w.reg.lookup(ctx, h.objectID)
}

// Dispose tombstones the object h refers to. Only objects owned by this
// world can be disposed through it; every subsequent operation on h (or any
// other handle referring to the same object) then fails with Disposed.
// Disposing an already-disposed handle is a no-op.
func (w *World) Dispose(ctx *context.T, h *Handle) error {
	if h.ownerID != w.id {
		return newErr(ctx, ErrInvalidInput, "can only dispose handles owned by this world")
	}
	w.reg.dispose(h.objectID)
	return nil
}

// CreateWorld allocates a new child world, dials factory to reach it, sends
// it args, and blocks until the child's initializer finishes (WorldReady) or
// ctx is done. The transport factory is given the receive callback the core
// needs wired up before it returns the Sender to address the child with.
func (w *World) CreateWorld(ctx *context.T, factory TransportFactory, args ...interface{}) (WorldID, error) {
	childID := WorldID(atomic.AddUint64(&globalNextWorldID, 1))

	waitCh := make(chan error, 1)
	w.mu.Lock()
	w.pendingCreate[childID] = waitCh
	w.mu.Unlock()

	sender, err := factory(func(msg Message) { w.onMessage(childID, msg) })
	if err != nil {
		w.mu.Lock()
		delete(w.pendingCreate, childID)
		w.mu.Unlock()
		return 0, err
	}

	w.mu.Lock()
	w.links[childID] = &link{peerID: childID, send: sender}
	w.mu.Unlock()

	wireArgs := make([]interface{}, len(args))
	for i, a := range args {
		mv, err := marshalValue(ctx, a, 0)
		if err != nil {
			return 0, err
		}
		wireArgs[i] = mv
	}

	create := Message{Kind: MessageCreateWorld, CreateWorld: &CreateWorldMessage{
		NewWorldID: childID,
		ParentID:   w.id,
		Args:       wireArgs,
	}}
	if err := sender.Send(create); err != nil {
		return 0, err
	}

	select {
	case err := <-waitCh:
		if err != nil {
			return 0, err
		}
		w.log.WithField("child", childID).Info("child world ready")
		return childID, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// InitWorld is the child side of CreateWorld. It dials factory (normally the
// other end of the same transport pair the parent just dialed), waits for
// the parent's CreateWorldMessage to learn its own id and arguments, runs
// initializer with a handle to the parent's root and this world itself, and
// replies WorldReady once initializer returns successfully.
func InitWorld(ctx *context.T, factory TransportFactory, initializer func(ctx *context.T, parent *Handle, self *World) error) (*World, error) {
	w := newWorld(ctx, 0) // id corrected once the parent's CreateWorldMessage arrives
	ready := make(chan error, 1)
	var once sync.Once
	var parentSender Sender

	receive := func(msg Message) {
		w.mu.Lock()
		started := len(w.links) > 0
		w.mu.Unlock()

		if !started {
			if msg.Kind != MessageCreateWorld {
				return // drop stray traffic before the handshake completes
			}
			once.Do(func() {
				cw := msg.CreateWorld
				w.mu.Lock()
				w.id = cw.NewWorldID
				w.links[cw.ParentID] = &link{peerID: cw.ParentID, send: parentSender}
				w.mu.Unlock()
				w.log = logrus.WithFields(logrus.Fields{"world": w.id, "label": w.label})

				args, err := w.demarshalList(ctx, cw.ParentID, cw.Args)
				if err != nil {
					ready <- err
					return
				}
				w.worldArgs = args

				parentHandle := w.getOrCreateHandle(WireRef{WorldID: cw.ParentID, ObjectID: 0})
				// The initializer runs on its own goroutine so this receive
				// callback returns and the transport can keep delivering the
				// responses to any calls the initializer makes.
				go func() {
					if err := initializer(ctx, parentHandle, w); err != nil {
						ready <- err
						return
					}

					_ = parentSender.Send(Message{Kind: MessageWorldReady, WorldReady: &WorldReadyMessage{NewWorldID: w.id}})
					ready <- nil
				}()
			})
			return
		}
		w.onMessage(w.parentID(), msg)
	}

	sender, err := factory(receive)
	if err != nil {
		return nil, err
	}
	parentSender = sender

	select {
	case err := <-ready:
		if err != nil {
			return nil, err
		}
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// parentID returns the single peer this world has a link to before it has
// created any children of its own; only meaningful for a world that was
// itself created via InitWorld.
func (w *World) parentID() WorldID {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.links {
		return id
	}
	return RootWorldID
}

func (w *World) demarshalList(ctx *context.T, fromPeer WorldID, raw []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(raw))
	for i, v := range raw {
		dv, err := w.demarshal(ctx, fromPeer, v)
		if err != nil {
			return nil, err
		}
		out[i] = dv
	}
	return out, nil
}

// DisposeWorld tears down this world's connection to peer: every call this
// world has outstanding against peer is rejected with PeerDisposed, and a
// best-effort DisposeWorldMessage is sent so peer can do the same on its
// side. It is idempotent.
func (w *World) DisposeWorld(ctx *context.T, peer WorldID) error {
	w.mu.Lock()
	l := w.links[peer]
	delete(w.links, peer)
	w.abandonedPeers[peer] = true
	for k, v := range w.routeVia {
		if v == peer {
			delete(w.routeVia, k)
		}
	}
	w.mu.Unlock()

	w.disp.cancelPeer(peer, newErr(ctx, ErrPeerDisposed, peer))
	if l != nil {
		_ = l.send.Send(Message{Kind: MessageDisposeWorld, DisposeWorld: &DisposeWorldMessage{WorldID: w.id}})
	}
	w.log.WithField("peer", peer).Info("peer world disposed")
	return nil
}

// DisposeSelf tears this world down entirely: every handle pointing at one
// of its objects starts failing with Disposed, and every in-flight call it
// had issued is rejected. Peers are not notified individually; callers that
// hold a direct link to this world should call DisposeWorld on their end too.
func (w *World) DisposeSelf() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	peers := make([]WorldID, 0, len(w.links))
	for id := range w.links {
		peers = append(peers, id)
	}
	w.mu.Unlock()

	// Calls to worlds reached through a relay are keyed by the target world,
	// not by a direct link, so collect every peer the dispatcher knows about.
	w.disp.mu.Lock()
	for id := range w.disp.byPeer {
		peers = append(peers, id)
	}
	w.disp.mu.Unlock()

	for _, p := range peers {
		w.disp.cancelPeer(p, newErr(w.baseCtx, ErrDisposed))
	}
	w.log.Info("world disposed")
}

func (w *World) handlePeerDisposeNotice(fromPeer WorldID) {
	w.mu.Lock()
	delete(w.links, fromPeer)
	w.abandonedPeers[fromPeer] = true
	for k, v := range w.routeVia {
		if v == fromPeer {
			delete(w.routeVia, k)
		}
	}
	w.mu.Unlock()
	w.disp.cancelPeer(fromPeer, newErr(w.baseCtx, ErrPeerDisposed, fromPeer))
	w.log.WithField("peer", fromPeer).Info("peer reported its own disposal")
}

// getOrCreateHandle returns the single, cached *Handle for ref, constructing
// it the first time ref is seen. This is what makes repeated demarshalling
// of the same (world, object) pair reference-equal.
func (w *World) getOrCreateHandle(ref WireRef) *Handle {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h, ok := w.handleCache[ref]; ok {
		return h
	}
	h := &Handle{world: w, ownerID: ref.WorldID, objectID: ref.ObjectID}
	w.handleCache[ref] = h
	return h
}

// resolveRef is demarshal's WireRef case: local refs resolve straight to
// the registered object, remote ones become (cached) handles, and the first
// time a foreign world id is seen it is remembered as reachable via
// whichever link the message carrying it arrived on.
func (w *World) resolveRef(ctx *context.T, fromPeer WorldID, ref WireRef) (interface{}, error) {
	if ref.WorldID == w.id {
		return w.reg.lookup(ctx, ref.ObjectID)
	}
	w.mu.Lock()
	_, direct := w.links[ref.WorldID]
	_, routed := w.routeVia[ref.WorldID]
	if !direct && !routed {
		w.routeVia[ref.WorldID] = fromPeer
	}
	w.mu.Unlock()
	return w.getOrCreateHandle(ref), nil
}

// linkFor resolves which direct link to use to reach target: a direct
// connection if one exists, otherwise the link through which target was
// first introduced (see resolveRef), exactly "the peer that introduced the
// handle" routing rule.
func (w *World) linkFor(target WorldID) (*link, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if l, ok := w.links[target]; ok {
		return l, nil
	}
	if via, ok := w.routeVia[target]; ok {
		if l, ok := w.links[via]; ok {
			return l, nil
		}
	}
	return nil, errNoRoute
}

// callMember is the single place a member invocation on a handle is
// resolved, whether the handle's owner is this world (dispatched in-process)
// or a peer (marshalled and sent, then awaited).
func (w *World) callMember(ctx *context.T, h *Handle, member string, args []interface{}) (interface{}, error) {
	if member == "" {
		return nil, newErr(ctx, ErrNoMember, member)
	}
	if member[0] == '_' {
		return nil, newErr(ctx, ErrPrivateMember)
	}

	if h.ownerID == w.id {
		w.mu.Lock()
		disposed := w.disposed
		w.mu.Unlock()
		if disposed {
			return nil, newErr(ctx, ErrDisposed)
		}
		// No transport is involved, but the argument-graph invariants
		// (bounded depth, no bare callables) still apply uniformly.
		for _, a := range args {
			if err := validateDepth(ctx, a, 0); err != nil {
				return nil, err
			}
		}
		if h.objectID == 0 {
			return w.invokeRootLocal(ctx, member, args)
		}
		obj, err := w.reg.lookup(ctx, h.objectID)
		if err != nil {
			return nil, err
		}
		return invokeMember(ctx, obj, member, args)
	}

	w.mu.Lock()
	abandoned := w.abandonedPeers[h.ownerID]
	w.mu.Unlock()
	if abandoned {
		// Calls against a handle whose owning world has already been
		// disposed never settle: the request is simply not sent.
		<-ctx.Done()
		return nil, ctx.Err()
	}

	wireArgs := make([]interface{}, len(args))
	for i, a := range args {
		mv, err := marshalValue(ctx, a, 0)
		if err != nil {
			return nil, err
		}
		wireArgs[i] = mv
	}

	l, err := w.linkFor(h.ownerID)
	if err != nil {
		return nil, newErr(ctx, ErrInvalidInput, err.Error())
	}

	seq, pc := w.disp.register(h.ownerID)
	call := Message{Kind: MessageCall, Call: &CallMessage{
		Seq: seq, WorldID: h.ownerID, ObjectID: h.objectID, Member: member, Args: wireArgs,
	}}
	if err := l.send.Send(call); err != nil {
		w.disp.resolve(seq, nil, err)
		return nil, err
	}

	select {
	case res := <-pc.result:
		if res.err != nil {
			return nil, res.err
		}
		return w.demarshal(ctx, l.peerID, res.value)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *World) invokeRootLocal(ctx *context.T, member string, args []interface{}) (interface{}, error) {
	if member == "worldArgs" {
		return append([]interface{}{}, w.worldArgs...), nil
	}
	w.rootMu.Lock()
	root := w.root
	w.rootMu.Unlock()
	return invokeMember(ctx, root, member, args)
}

// onMessage is the receive callback wired up for every link once a world is
// fully initialized: it dispatches calls destined for this world, relays
// calls and responses destined for someone else, and resolves responses to
// calls this world itself issued.
func (w *World) onMessage(fromPeer WorldID, msg Message) {
	switch msg.Kind {
	case MessageWorldReady:
		w.mu.Lock()
		ch, ok := w.pendingCreate[msg.WorldReady.NewWorldID]
		if ok {
			delete(w.pendingCreate, msg.WorldReady.NewWorldID)
		}
		w.mu.Unlock()
		if ok {
			ch <- nil
		}
	case MessageDisposeWorld:
		w.handlePeerDisposeNotice(fromPeer)
	case MessageCall:
		w.handleCallMessage(fromPeer, msg.Call)
	case MessageResponse:
		w.handleResponseMessage(fromPeer, msg.Response)
	case MessageCreateWorld:
		w.log.Warn("dropping createWorld received after handshake")
	}
}

func (w *World) handleCallMessage(fromPeer WorldID, call *CallMessage) {
	if call.WorldID != w.id {
		outLink, err := w.linkFor(call.WorldID)
		if err != nil {
			w.sendResponse(fromPeer, &ResponseMessage{Seq: call.Seq, Error: &WireError{Message: errNoRoute.Error()}})
			return
		}
		w.mu.Lock()
		if w.relay[outLink.peerID] == nil {
			w.relay[outLink.peerID] = make(map[SeqID]WorldID)
		}
		w.relay[outLink.peerID][call.Seq] = fromPeer
		w.mu.Unlock()
		_ = outLink.send.Send(Message{Kind: MessageCall, Call: call})
		return
	}
	go w.executeCall(fromPeer, call)
}

func (w *World) executeCall(fromPeer WorldID, call *CallMessage) {
	ctx := w.baseCtx

	args, err := w.demarshalList(ctx, fromPeer, call.Args)
	if err != nil {
		w.sendResponse(fromPeer, &ResponseMessage{Seq: call.Seq, Error: wireErrFrom(err)})
		return
	}

	result, err := w.dispatchLocal(ctx, call.ObjectID, call.Member, args)
	if err != nil {
		w.sendResponse(fromPeer, &ResponseMessage{Seq: call.Seq, Error: wireErrFrom(err)})
		return
	}

	wireResult, err := marshalValue(ctx, result, 0)
	if err != nil {
		w.sendResponse(fromPeer, &ResponseMessage{Seq: call.Seq, Error: wireErrFrom(err)})
		return
	}
	w.sendResponse(fromPeer, &ResponseMessage{Seq: call.Seq, Result: wireResult})
}

func (w *World) dispatchLocal(ctx *context.T, objectID ObjectID, member string, args []interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newErr(ctx, ErrRemoteThrew, panicMessage(r))
		}
	}()
	if member == "" {
		return nil, newErr(ctx, ErrNoMember, member)
	}
	if member[0] == '_' {
		return nil, newErr(ctx, ErrPrivateMember)
	}
	w.mu.Lock()
	disposed := w.disposed
	w.mu.Unlock()
	if disposed {
		return nil, newErr(ctx, ErrDisposed)
	}
	if objectID == 0 {
		return w.invokeRootLocal(ctx, member, args)
	}
	obj, lerr := w.reg.lookup(ctx, objectID)
	if lerr != nil {
		return nil, lerr
	}
	return invokeMember(ctx, obj, member, args)
}

func (w *World) handleResponseMessage(fromPeer WorldID, resp *ResponseMessage) {
	var value interface{}
	var err error
	if resp.Error != nil {
		err = newErr(w.baseCtx, ErrRemoteThrew, resp.Error.Message)
	} else {
		value = resp.Result
	}
	if w.disp.resolve(resp.Seq, value, err) {
		return
	}

	w.mu.Lock()
	origin, ok := w.relay[fromPeer][resp.Seq]
	if ok {
		delete(w.relay[fromPeer], resp.Seq)
	}
	w.mu.Unlock()
	if !ok {
		return // unknown or already-abandoned seq: drop
	}
	if l, err := w.linkFor(origin); err == nil {
		_ = l.send.Send(Message{Kind: MessageResponse, Response: resp})
	}
}

// sendResponse delivers resp to peer unless peer has since been disposed or
// was never a known link, in which case it is silently dropped: the
// matching call on the other end simply never settles.
func (w *World) sendResponse(peer WorldID, resp *ResponseMessage) {
	w.mu.Lock()
	abandoned := w.abandonedPeers[peer]
	l := w.links[peer]
	w.mu.Unlock()
	if abandoned || l == nil {
		w.log.WithField("peer", peer).Debug("dropping response for disposed or unknown peer")
		return
	}
	_ = l.send.Send(Message{Kind: MessageResponse, Response: resp})
}

func wireErrFrom(err error) *WireError {
	return &WireError{Message: err.Error()}
}

func panicMessage(r interface{}) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "panic in remote method"
}
