// Package crdt implements the replicated document primitive backing
// collaborative form editing. A Doc is a tree of last-writer-wins registers
// stamped with a lamport counter and actor ID. Concurrent replicas converge
// under Merge regardless of delivery order; no locking is required across
// replicas. The engine only depends on the narrow Doc surface here, so the
// replication strategy can be swapped without touching the collaboration
// packages.
package crdt

import (
	"sync"
)

// Stamp orders concurrent writes. Higher counter wins; actor ID breaks ties
// so that two replicas always agree on the same winner.
type Stamp struct {
	Counter uint64 `json:"c"`
	Actor   string `json:"a"`
}

// Less reports whether s loses to other.
func (s Stamp) Less(other Stamp) bool {
	if s.Counter != other.Counter {
		return s.Counter < other.Counter
	}
	return s.Actor < other.Actor
}

// node is one register in the document tree. Exactly one of scalar, children
// or list is meaningful, selected by kind.
type node struct {
	stamp    Stamp
	kind     nodeKind
	scalar   any // string, bool or float64
	children map[string]*node
	list     []*node
}

type nodeKind int

const (
	kindScalar nodeKind = iota
	kindMap
	kindList
)

// UpdateEvent describes one applied mutation, local or remote.
type UpdateEvent struct {
	Actor string
}

// Doc is a single replicated document.
type Doc struct {
	mu    sync.RWMutex
	actor string
	clock uint64
	root  *node
	subs  []func(UpdateEvent)
}

// NewDoc creates an empty document owned by the given actor ID.
func NewDoc(actor string) *Doc {
	return &Doc{
		actor: actor,
		root:  &node{kind: kindMap, children: map[string]*node{}},
	}
}

// Actor returns the local actor ID.
func (d *Doc) Actor() string {
	return d.actor
}

// OnUpdate registers a callback invoked after every applied mutation.
// Callbacks run synchronously under the document lock and must not call back
// into the document.
func (d *Doc) OnUpdate(fn func(UpdateEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, fn)
}

func (d *Doc) notify(ev UpdateEvent) {
	for _, fn := range d.subs {
		fn(ev)
	}
}

// Put replaces the register at the given top-level key with value, which may
// be a nested tree of map[string]any, []any and scalars. Every register in
// the written subtree receives a fresh stamp.
func (d *Doc) Put(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clock++
	stamp := Stamp{Counter: d.clock, Actor: d.actor}
	d.root.children[key] = fromNative(value, stamp)
	if d.root.stamp.Less(stamp) {
		d.root.stamp = stamp
	}
	d.notify(UpdateEvent{Actor: d.actor})
}

// Get materializes the subtree under a top-level key into plain Go values
// (map[string]any, []any, string, bool, float64). The second return is false
// when the key has never been written.
func (d *Doc) Get(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, ok := d.root.children[key]
	if !ok {
		return nil, false
	}
	return toNative(n), true
}

func fromNative(value any, stamp Stamp) *node {
	switch v := value.(type) {
	case map[string]any:
		children := make(map[string]*node, len(v))
		for k, item := range v {
			children[k] = fromNative(item, stamp)
		}
		return &node{stamp: stamp, kind: kindMap, children: children}
	case []any:
		list := make([]*node, 0, len(v))
		for _, item := range v {
			list = append(list, fromNative(item, stamp))
		}
		return &node{stamp: stamp, kind: kindList, list: list}
	default:
		return &node{stamp: stamp, kind: kindScalar, scalar: normalizeScalar(v)}
	}
}

// normalizeScalar maps numeric types onto float64 so that locally written
// values compare equal to values that went through the JSON wire encoding.
func normalizeScalar(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

func toNative(n *node) any {
	switch n.kind {
	case kindMap:
		out := make(map[string]any, len(n.children))
		for k, child := range n.children {
			out[k] = toNative(child)
		}
		return out
	case kindList:
		out := make([]any, 0, len(n.list))
		for _, child := range n.list {
			out = append(out, toNative(child))
		}
		return out
	default:
		return n.scalar
	}
}
