package crdt

import (
	"encoding/json"
	"fmt"
)

// wireDoc is the self-describing state envelope. Decode(Encode(state)) yields
// an equivalent document.
type wireDoc struct {
	Version int       `json:"v"`
	Clock   uint64    `json:"clock"`
	Root    *wireNode `json:"root"`
}

type wireNode struct {
	Stamp  Stamp                `json:"s"`
	Scalar *json.RawMessage     `json:"val,omitempty"`
	Map    map[string]*wireNode `json:"map,omitempty"`
	List   []*wireNode          `json:"list,omitempty"`
	Kind   string               `json:"k"`
}

const wireVersion = 1

// EncodeState serializes the full document state.
func (d *Doc) EncodeState() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	w, err := toWire(d.root)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireDoc{Version: wireVersion, Clock: d.clock, Root: w})
}

// DecodeState replaces the document contents with a previously encoded state.
func (d *Doc) DecodeState(state []byte) error {
	var w wireDoc
	if err := json.Unmarshal(state, &w); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	if w.Version != wireVersion {
		return fmt.Errorf("decode state: unsupported version %d", w.Version)
	}
	root, err := fromWire(w.Root)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	if root.kind != kindMap {
		return fmt.Errorf("decode state: root is not a map")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.root = root
	if w.Clock > d.clock {
		d.clock = w.Clock
	}
	return nil
}

func toWire(n *node) (*wireNode, error) {
	w := &wireNode{Stamp: n.stamp}
	switch n.kind {
	case kindMap:
		w.Kind = "map"
		w.Map = make(map[string]*wireNode, len(n.children))
		for k, child := range n.children {
			cw, err := toWire(child)
			if err != nil {
				return nil, err
			}
			w.Map[k] = cw
		}
	case kindList:
		w.Kind = "list"
		w.List = make([]*wireNode, 0, len(n.list))
		for _, child := range n.list {
			cw, err := toWire(child)
			if err != nil {
				return nil, err
			}
			w.List = append(w.List, cw)
		}
	default:
		w.Kind = "val"
		raw, err := json.Marshal(n.scalar)
		if err != nil {
			return nil, fmt.Errorf("encode scalar: %w", err)
		}
		msg := json.RawMessage(raw)
		w.Scalar = &msg
	}
	return w, nil
}

func fromWire(w *wireNode) (*node, error) {
	if w == nil {
		return &node{kind: kindMap, children: map[string]*node{}}, nil
	}
	n := &node{stamp: w.Stamp}
	switch w.Kind {
	case "map":
		n.kind = kindMap
		n.children = make(map[string]*node, len(w.Map))
		for k, cw := range w.Map {
			child, err := fromWire(cw)
			if err != nil {
				return nil, err
			}
			n.children[k] = child
		}
	case "list":
		n.kind = kindList
		n.list = make([]*node, 0, len(w.List))
		for _, cw := range w.List {
			child, err := fromWire(cw)
			if err != nil {
				return nil, err
			}
			n.list = append(n.list, child)
		}
	case "val":
		n.kind = kindScalar
		if w.Scalar != nil {
			var v any
			if err := json.Unmarshal(*w.Scalar, &v); err != nil {
				return nil, fmt.Errorf("decode scalar: %w", err)
			}
			n.scalar = v
		}
	default:
		return nil, fmt.Errorf("unknown node kind %q", w.Kind)
	}
	return n, nil
}
