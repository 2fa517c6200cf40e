package crdt

import (
	"fmt"
)

// ApplyUpdate merges a remote encoded state into the local document and
// reports whether anything changed. origin identifies the actor whose update
// is being applied; it is forwarded to update subscribers. Merging is
// commutative and idempotent, so replicas applying the same set of states in
// any order converge.
func (d *Doc) ApplyUpdate(update []byte, origin string) (bool, error) {
	remote := NewDoc(origin)
	if err := remote.DecodeState(update); err != nil {
		return false, fmt.Errorf("apply update: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	merged, changed := mergeNode(d.root, remote.root)
	d.root = merged
	if remote.clock > d.clock {
		d.clock = remote.clock
	}
	if changed {
		d.notify(UpdateEvent{Actor: origin})
	}
	return changed, nil
}

// mergeNode resolves a local and a remote register into one. The returned
// changed flag is relative to the local side.
func mergeNode(local, remote *node) (*node, bool) {
	if remote == nil {
		return local, false
	}
	if local == nil {
		return remote, true
	}
	if local.kind != remote.kind {
		if local.stamp.Less(remote.stamp) {
			return remote, true
		}
		return local, false
	}

	switch local.kind {
	case kindScalar:
		if local.stamp.Less(remote.stamp) {
			return remote, local.scalar != remote.scalar || local.stamp != remote.stamp
		}
		return local, false
	case kindMap:
		return mergeMap(local, remote)
	default:
		return mergeList(local, remote)
	}
}

func mergeMap(local, remote *node) (*node, bool) {
	changed := false
	for k, rchild := range remote.children {
		merged, childChanged := mergeNode(local.children[k], rchild)
		local.children[k] = merged
		changed = changed || childChanged
	}
	if local.stamp.Less(remote.stamp) {
		local.stamp = remote.stamp
	}
	return local, changed
}

// mergeList merges two list registers. Lists whose elements are maps carrying
// a scalar "id" (pages, fields) take membership and order from the
// newer-stamped side while elements with matching ids merge recursively, so
// an element edited on the losing side keeps its edits as long as the winning
// side still lists it. Any other list is an atomic register resolved by stamp.
func mergeList(local, remote *node) (*node, bool) {
	localByID, localKeyed := listIndex(local)
	remoteByID, remoteKeyed := listIndex(remote)
	if !localKeyed || !remoteKeyed {
		if local.stamp.Less(remote.stamp) {
			return remote, true
		}
		return local, false
	}

	newer, olderByID, remoteIsNewer := local, remoteByID, false
	if local.stamp.Less(remote.stamp) {
		newer, olderByID, remoteIsNewer = remote, localByID, true
	}

	// Adopting the remote side's membership and order counts as a change even
	// when every element merges clean.
	changed := remoteIsNewer
	out := make([]*node, 0, len(newer.list))
	for _, elem := range newer.list {
		other, ok := olderByID[elemID(elem)]
		if !ok {
			out = append(out, elem)
			continue
		}
		var merged *node
		var elemChanged bool
		if remoteIsNewer {
			merged, elemChanged = mergeNode(other, elem)
		} else {
			merged, elemChanged = mergeNode(elem, other)
		}
		changed = changed || elemChanged
		out = append(out, merged)
	}

	stamp := local.stamp
	if stamp.Less(remote.stamp) {
		stamp = remote.stamp
	}
	return &node{stamp: stamp, kind: kindList, list: out}, changed
}

func listIndex(n *node) (map[string]*node, bool) {
	byID := make(map[string]*node, len(n.list))
	for _, elem := range n.list {
		id := elemID(elem)
		if id == "" {
			return nil, false
		}
		byID[id] = elem
	}
	return byID, true
}

func elemID(n *node) string {
	if n.kind != kindMap {
		return ""
	}
	idNode, ok := n.children["id"]
	if !ok || idNode.kind != kindScalar {
		return ""
	}
	id, _ := idNode.scalar.(string)
	return id
}
