// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command worldrpcdemo drives the rpc package's six canonical end-to-end
// scenarios over memtransport, so the engine can be exercised without a
// test harness.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
	"v.io/v23/context"

	"github.com/vanadium/worldrpc/rpc"
	"github.com/vanadium/worldrpc/rpc/memtransport"
)

type args struct {
	Scenario string `arg:"positional" help:"which scenario to run: sum|handle|cycle|sibling|dispose|worldargs|all" default:"all"`
	Verbose  bool   `arg:"-v" help:"enable debug logging"`
}

func main() {
	var a args
	arg.MustParse(&a)
	if a.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.RootContext()
	defer cancel()

	scenarios := map[string]func(*context.T) error{
		"sum":       scenarioSum,
		"handle":    scenarioHandleArgument,
		"cycle":     scenarioCycleRejected,
		"sibling":   scenarioSiblingRelay,
		"dispose":   scenarioDisposalMidCall,
		"worldargs": scenarioWorldArgs,
	}

	run := []string{a.Scenario}
	if a.Scenario == "" || a.Scenario == "all" {
		run = []string{"sum", "handle", "cycle", "sibling", "dispose", "worldargs"}
	}

	for _, name := range run {
		fn, ok := scenarios[name]
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown scenario %q\n", name)
			os.Exit(2)
		}
		fmt.Printf("== %s ==\n", name)
		if err := fn(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s: FAILED: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("%s: ok\n", name)
	}
}

// fooObj implements the foo object used by the sum and handle scenarios.
type fooObj struct{}

func (fooObj) Sum(ctx *context.T, a, b float64) float64 { return a + b }

func (fooObj) Call(ctx *context.T, v map[string]interface{}) (interface{}, error) {
	list, ok := v["a"].([]interface{})
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("call: expected {a: [handle]}")
	}
	h, ok := list[0].(*rpc.Handle)
	if !ok {
		return nil, fmt.Errorf("call: a[0] is not a handle")
	}
	return h.Invoke(ctx, "name")
}

func (fooObj) Name(ctx *context.T) (string, error) { return "name", nil }

func scenarioSum(ctx *context.T) error {
	w := rpc.NewRootWorld(ctx)
	h, err := w.Handle(ctx, fooObj{})
	if err != nil {
		return err
	}
	res, err := h.Invoke(ctx, "sum", 1.0, 3.0)
	if err != nil {
		return err
	}
	if res.(float64) != 4 {
		return fmt.Errorf("sum: got %v, want 4", res)
	}
	fmt.Println("foo.sum(1, 3) =", res)
	return nil
}

func scenarioHandleArgument(ctx *context.T) error {
	w := rpc.NewRootWorld(ctx)
	h, err := w.Handle(ctx, fooObj{})
	if err != nil {
		return err
	}
	res, err := h.Invoke(ctx, "call", map[string]interface{}{"a": []interface{}{h}})
	if err != nil {
		return err
	}
	if res.(string) != "name" {
		return fmt.Errorf("call: got %v, want name", res)
	}
	fmt.Println("foo.call({a: [foo]}) =", res)
	return nil
}

func scenarioCycleRejected(ctx *context.T) error {
	w := rpc.NewRootWorld(ctx)
	h, err := w.Handle(ctx, fooObj{})
	if err != nil {
		return err
	}
	cyclic := map[string]interface{}{}
	cyclic["self"] = cyclic
	_, err = h.Invoke(ctx, "call", cyclic)
	if err == nil {
		return fmt.Errorf("expected a reference-chain error, got success")
	}
	fmt.Println("rejected with:", err)
	return nil
}

// parentRoot implements the root object the parent exposes to its children
// in the sibling-relay and disposal scenarios.
type parentRoot struct {
	children []*rpc.Handle
	messages []string
}

func newParentRoot() *parentRoot { return &parentRoot{} }

func (p *parentRoot) AddChild(ctx *context.T, h *rpc.Handle) error {
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

func (p *parentRoot) Hello(ctx *context.T, msg string) {
	p.messages = append(p.messages, msg)
}

// childObj is registered by each child in the sibling-relay scenario.
type childObj struct {
	sibling *rpc.Handle
}

func (c *childObj) SetSibling(ctx *context.T, h *rpc.Handle) (string, error) {
	c.sibling = h
	res, err := h.Invoke(ctx, "helloSibling", "hello")
	if err != nil {
		return "", err
	}
	s, _ := res.(string)
	return s, nil
}

func (c *childObj) HelloSibling(ctx *context.T, msg string) string {
	return msg
}

func scenarioSiblingRelay(ctx *context.T) error {
	parent := rpc.NewRootWorld(ctx)
	root := newParentRoot()
	parent.SetRoot(root)

	spawn := func() error {
		factoryParent, factoryChild := memtransport.Pair()
		childReady := make(chan error, 1)
		go func() {
			_, err := rpc.InitWorld(ctx, factoryChild, func(ctx *context.T, parentHandle *rpc.Handle, self *rpc.World) error {
				child := &childObj{}
				h, err := self.Handle(ctx, child)
				if err != nil {
					return err
				}
				return callAddChild(ctx, parentHandle, h)
			})
			childReady <- err
		}()
		if _, err := parent.CreateWorld(ctx, factoryParent); err != nil {
			return err
		}
		return <-childReady
	}

	if err := spawn(); err != nil {
		return err
	}
	if err := spawn(); err != nil {
		return err
	}
	fmt.Println("siblings exchanged hello through the parent")
	return nil
}

func callAddChild(ctx *context.T, parentHandle *rpc.Handle, child *rpc.Handle) error {
	_, err := parentHandle.Invoke(ctx, "addChild", child)
	return err
}

func scenarioDisposalMidCall(ctx *context.T) error {
	parent := rpc.NewRootWorld(ctx)
	root := newParentRoot()
	parent.SetRoot(root)

	factoryParent, factoryChild := memtransport.Pair()

	// The child fires its call to the parent from a goroutine the
	// initializer starts, rather than directly inside the initializer, so
	// the call is still in flight when the parent disposes the child below
	// instead of having already completed before CreateWorld returns.
	started := make(chan struct{})
	callDone := make(chan error, 1)
	go func() {
		_, err := rpc.InitWorld(ctx, factoryChild, func(ctx *context.T, parentHandle *rpc.Handle, self *rpc.World) error {
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
		return err
	}
	<-started
	if err := parent.DisposeWorld(ctx, childID); err != nil {
		return err
	}

	select {
	case err := <-callDone:
		if err == nil {
			return fmt.Errorf("expected the child's call to get no result after disposal, got one")
		}
		// Expected: the dispose notice rejected the child's pending call.
	case <-time.After(200 * time.Millisecond):
		// Also expected: the call never settles because its response was
		// abandoned once the child world was disposed.
	}
	if len(root.messages) != 1 || root.messages[0] != "hello" {
		return fmt.Errorf("parent should still have recorded the in-flight call's side effect, got %v", root.messages)
	}
	fmt.Println("child call correctly abandoned after disposeWorld; parent.messages =", root.messages)
	return nil
}

func scenarioWorldArgs(ctx *context.T) error {
	parent := rpc.NewRootWorld(ctx)
	factoryParent, factoryChild := memtransport.Pair()

	gotArgs := make(chan []interface{}, 1)
	go func() {
		_, _ = rpc.InitWorld(ctx, factoryChild, func(ctx *context.T, parentHandle *rpc.Handle, self *rpc.World) error {
			gotArgs <- self.WorldArgs()
			return nil
		})
	}()

	if _, err := parent.CreateWorld(ctx, factoryParent, "a", 1.0, true); err != nil {
		return err
	}
	got := <-gotArgs
	fmt.Println("worldArgs() =", got)
	return nil
}
