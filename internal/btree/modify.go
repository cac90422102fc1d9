package btree

// KeyOpKind is the outcome an ApplyFunc chooses for one key (spec §4.4's
// compare-and-swap closure result: Set(value), Remove, or Skip).
type KeyOpKind int

const (
	KeySet KeyOpKind = iota
	KeyRemove
	KeySkip
)

// ApplyResult is what an ApplyFunc returns for a single key: the chosen
// operation, the new value to store (Set only), and the new Idx to carry
// in the leaf entry (ignored for Skip). Computing Index is left to the
// caller because only pkg/roots's concrete trees know how to turn an
// operation outcome into a ByIdIndex or SequenceAggregate.
type ApplyResult[Idx any] struct {
	Kind  KeyOpKind
	Value []byte
	Index Idx
}

// ApplyFunc is called once per key during a descent, with the key's
// current index/value if present (nil otherwise), and decides what
// happens to that key. It subsumes plain Set and Remove: a Set
// modification's ApplyFunc ignores currentIndex/currentValue and always
// returns KeySet; a CompareSwap modification inspects them.
type ApplyFunc[Idx any] func(key []byte, currentIndex *Idx, currentValue []byte) (ApplyResult[Idx], error)

type descentChange int

const (
	changeNone descentChange = iota
	changeReplace
	changeSplit
	changeUnderflow
	changeEmpty
)

type nodeResult[Idx any] struct {
	ptr    Pointer
	maxKey []byte
	index  Idx
	count  int
}

type descentResult[Idx any] struct {
	change descentChange
	left   nodeResult[Idx]
	right  nodeResult[Idx]
}

func writeNodeResult[Idx any](store Store[Idx], n *Node[Idx], reducer Reducer[Idx]) (nodeResult[Idx], error) {
	ptr, err := store.WriteNode(n)
	if err != nil {
		return nodeResult[Idx]{}, err
	}
	return nodeResult[Idx]{ptr: ptr, maxKey: n.MaxKey(), index: n.ReducedIndex(reducer), count: n.Count()}, nil
}

func insertEntryAt[Idx any](entries []KeyEntry[Idx], idx int, e KeyEntry[Idx]) []KeyEntry[Idx] {
	entries = append(entries, KeyEntry[Idx]{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = e
	return entries
}

// applyToLeaf applies a single key's ApplyFunc to leaf, returning how the
// leaf changed. A Skip on a key that was (or stays) absent or unchanged
// produces changeNone and writes nothing, matching spec §4.4's "a
// modification every one of whose keys resolves to Skip writes no new
// chunk and publishes no new root."
func applyToLeaf[Idx any](store Store[Idx], leaf *Node[Idx], key []byte, apply ApplyFunc[Idx], reducer Reducer[Idx], order int) (descentResult[Idx], error) {
	idx, found := findEntryIndex(leaf.Entries, key)

	var curIndexPtr *Idx
	var curValue []byte
	if found {
		cur := leaf.Entries[idx].Index
		curIndexPtr = &cur
		if !leaf.Entries[idx].Value.IsZero() {
			v, err := store.ReadValue(leaf.Entries[idx].Value)
			if err != nil {
				return descentResult[Idx]{}, err
			}
			curValue = v
		}
	}

	result, err := apply(key, curIndexPtr, curValue)
	if err != nil {
		return descentResult[Idx]{}, err
	}

	if result.Kind == KeySkip {
		return descentResult[Idx]{change: changeNone}, nil
	}

	newEntries := append([]KeyEntry[Idx](nil), leaf.Entries...)
	switch result.Kind {
	case KeySet:
		valPtr, err := store.WriteValue(result.Value)
		if err != nil {
			return descentResult[Idx]{}, err
		}
		newEntry := KeyEntry[Idx]{Key: append([]byte(nil), key...), Index: result.Index, Value: valPtr}
		if found {
			newEntries[idx] = newEntry
		} else {
			newEntries = insertEntryAt(newEntries, idx, newEntry)
		}
	case KeyRemove:
		if !found {
			return descentResult[Idx]{change: changeNone}, nil
		}
		newEntries = append(newEntries[:idx], newEntries[idx+1:]...)
	}

	return finalizeLeaf(store, &Node[Idx]{Leaf: true, Entries: newEntries}, reducer, order)
}

func finalizeLeaf[Idx any](store Store[Idx], n *Node[Idx], reducer Reducer[Idx], order int) (descentResult[Idx], error) {
	switch {
	case len(n.Entries) == 0:
		return descentResult[Idx]{change: changeEmpty}, nil
	case len(n.Entries) > order:
		mid := len(n.Entries) / 2
		left := &Node[Idx]{Leaf: true, Entries: append([]KeyEntry[Idx](nil), n.Entries[:mid]...)}
		right := &Node[Idx]{Leaf: true, Entries: append([]KeyEntry[Idx](nil), n.Entries[mid:]...)}
		lr, err := writeNodeResult(store, left, reducer)
		if err != nil {
			return descentResult[Idx]{}, err
		}
		rr, err := writeNodeResult(store, right, reducer)
		if err != nil {
			return descentResult[Idx]{}, err
		}
		return descentResult[Idx]{change: changeSplit, left: lr, right: rr}, nil
	default:
		res, err := writeNodeResult(store, n, reducer)
		if err != nil {
			return descentResult[Idx]{}, err
		}
		change := changeReplace
		if len(n.Entries) < MinOccupancy(order) {
			change = changeUnderflow
		}
		return descentResult[Idx]{change: change, left: res}, nil
	}
}

func finalizeInterior[Idx any](store Store[Idx], n *Node[Idx], reducer Reducer[Idx], order int) (descentResult[Idx], error) {
	switch {
	case len(n.Children) == 0:
		return descentResult[Idx]{change: changeEmpty}, nil
	case len(n.Children) > order:
		mid := len(n.Children) / 2
		left := &Node[Idx]{Children: append([]ChildEntry[Idx](nil), n.Children[:mid]...)}
		right := &Node[Idx]{Children: append([]ChildEntry[Idx](nil), n.Children[mid:]...)}
		lr, err := writeNodeResult(store, left, reducer)
		if err != nil {
			return descentResult[Idx]{}, err
		}
		rr, err := writeNodeResult(store, right, reducer)
		if err != nil {
			return descentResult[Idx]{}, err
		}
		return descentResult[Idx]{change: changeSplit, left: lr, right: rr}, nil
	default:
		res, err := writeNodeResult(store, n, reducer)
		if err != nil {
			return descentResult[Idx]{}, err
		}
		change := changeReplace
		if len(n.Children) < MinOccupancy(order) {
			change = changeUnderflow
		}
		return descentResult[Idx]{change: change, left: res}, nil
	}
}

func mergeNodes[Idx any](left, right *Node[Idx]) *Node[Idx] {
	if left.Leaf {
		return &Node[Idx]{Leaf: true, Entries: append(append([]KeyEntry[Idx](nil), left.Entries...), right.Entries...)}
	}
	return &Node[Idx]{Children: append(append([]ChildEntry[Idx](nil), left.Children...), right.Children...)}
}

func redistributeNodes[Idx any](left, right *Node[Idx]) (*Node[Idx], *Node[Idx]) {
	merged := mergeNodes(left, right)
	if merged.Leaf {
		mid := len(merged.Entries) / 2
		return &Node[Idx]{Leaf: true, Entries: append([]KeyEntry[Idx](nil), merged.Entries[:mid]...)},
			&Node[Idx]{Leaf: true, Entries: append([]KeyEntry[Idx](nil), merged.Entries[mid:]...)}
	}
	mid := len(merged.Children) / 2
	return &Node[Idx]{Children: append([]ChildEntry[Idx](nil), merged.Children[:mid]...)},
		&Node[Idx]{Children: append([]ChildEntry[Idx](nil), merged.Children[mid:]...)}
}

// rebalance resolves an underflowing child at index idx of children by
// first absorbing it into an adjacent sibling (merging into one node when
// the combination still fits within order), or otherwise redistributing
// entries evenly between the two (spec §4.4's "absorb, then merge with an
// adjacent sibling; if the merge would overflow, redistribute instead").
func rebalance[Idx any](store Store[Idx], children []ChildEntry[Idx], idx int, self nodeResult[Idx], reducer Reducer[Idx], order int) ([]ChildEntry[Idx], error) {
	children = append([]ChildEntry[Idx](nil), children...)
	children[idx] = ChildEntry[Idx]{MaxKey: self.maxKey, Index: self.index, Child: self.ptr}

	siblingIdx := -1
	switch {
	case idx+1 < len(children):
		siblingIdx = idx + 1
	case idx-1 >= 0:
		siblingIdx = idx - 1
	default:
		return children, nil
	}

	leftIdx, rightIdx := idx, siblingIdx
	if siblingIdx < idx {
		leftIdx, rightIdx = siblingIdx, idx
	}

	leftNode, err := store.ReadNode(children[leftIdx].Child)
	if err != nil {
		return nil, err
	}
	rightNode, err := store.ReadNode(children[rightIdx].Child)
	if err != nil {
		return nil, err
	}

	if leftNode.Count()+rightNode.Count() <= order {
		merged := mergeNodes(leftNode, rightNode)
		res, err := writeNodeResult(store, merged, reducer)
		if err != nil {
			return nil, err
		}
		out := append([]ChildEntry[Idx](nil), children[:leftIdx]...)
		out = append(out, ChildEntry[Idx]{MaxKey: res.maxKey, Index: res.index, Child: res.ptr})
		out = append(out, children[rightIdx+1:]...)
		return out, nil
	}

	newLeft, newRight := redistributeNodes(leftNode, rightNode)
	leftRes, err := writeNodeResult(store, newLeft, reducer)
	if err != nil {
		return nil, err
	}
	rightRes, err := writeNodeResult(store, newRight, reducer)
	if err != nil {
		return nil, err
	}
	out := append([]ChildEntry[Idx](nil), children[:leftIdx]...)
	out = append(out, ChildEntry[Idx]{MaxKey: leftRes.maxKey, Index: leftRes.index, Child: leftRes.ptr})
	out = append(out, ChildEntry[Idx]{MaxKey: rightRes.maxKey, Index: rightRes.index, Child: rightRes.ptr})
	out = append(out, children[rightIdx+1:]...)
	return out, nil
}

func replaceWithTwo[Idx any](children []ChildEntry[Idx], idx int, left, right nodeResult[Idx]) []ChildEntry[Idx] {
	out := append([]ChildEntry[Idx](nil), children[:idx]...)
	out = append(out,
		ChildEntry[Idx]{MaxKey: left.maxKey, Index: left.index, Child: left.ptr},
		ChildEntry[Idx]{MaxKey: right.maxKey, Index: right.index, Child: right.ptr},
	)
	out = append(out, children[idx+1:]...)
	return out
}

func applyToNode[Idx any](store Store[Idx], node *Node[Idx], key []byte, apply ApplyFunc[Idx], reducer Reducer[Idx], order int) (descentResult[Idx], error) {
	if node.Leaf {
		return applyToLeaf(store, node, key, apply, reducer, order)
	}
	return applyToInterior(store, node, key, apply, reducer, order)
}

func applyToInterior[Idx any](store Store[Idx], node *Node[Idx], key []byte, apply ApplyFunc[Idx], reducer Reducer[Idx], order int) (descentResult[Idx], error) {
	if len(node.Children) == 0 {
		return descentResult[Idx]{change: changeEmpty}, nil
	}
	ci := findChildIndex(node.Children, key)
	child, err := store.ReadNode(node.Children[ci].Child)
	if err != nil {
		return descentResult[Idx]{}, err
	}

	childResult, err := applyToNode(store, child, key, apply, reducer, order)
	if err != nil {
		return descentResult[Idx]{}, err
	}
	if childResult.change == changeNone {
		return descentResult[Idx]{change: changeNone}, nil
	}

	newChildren := append([]ChildEntry[Idx](nil), node.Children...)
	switch childResult.change {
	case changeReplace:
		newChildren[ci] = ChildEntry[Idx]{MaxKey: childResult.left.maxKey, Index: childResult.left.index, Child: childResult.left.ptr}
	case changeSplit:
		newChildren = replaceWithTwo(newChildren, ci, childResult.left, childResult.right)
	case changeEmpty:
		newChildren = append(newChildren[:ci], newChildren[ci+1:]...)
	case changeUnderflow:
		newChildren, err = rebalance(store, newChildren, ci, childResult.left, reducer, order)
		if err != nil {
			return descentResult[Idx]{}, err
		}
	}

	return finalizeInterior(store, &Node[Idx]{Children: newChildren}, reducer, order)
}

// ModifyOne descends from root applying apply to a single key, returning
// the new root pointer, whether anything actually changed (false for an
// all-Skip outcome — spec §4.4), and any error. root may be the zero
// Pointer for an empty tree.
func ModifyOne[Idx any](store Store[Idx], root Pointer, reducer Reducer[Idx], order int, key []byte, apply ApplyFunc[Idx]) (newRoot Pointer, changed bool, err error) {
	var node *Node[Idx]
	if root.IsZero() {
		node = NewLeaf[Idx]()
	} else {
		node, err = store.ReadNode(root)
		if err != nil {
			return 0, false, err
		}
	}

	result, err := applyToNode(store, node, key, apply, reducer, order)
	if err != nil {
		return 0, false, err
	}

	switch result.change {
	case changeNone:
		return root, false, nil
	case changeEmpty:
		return 0, true, nil
	case changeSplit:
		newRootNode := &Node[Idx]{Children: []ChildEntry[Idx]{
			{MaxKey: result.left.maxKey, Index: result.left.index, Child: result.left.ptr},
			{MaxKey: result.right.maxKey, Index: result.right.index, Child: result.right.ptr},
		}}
		ptr, err := store.WriteNode(newRootNode)
		if err != nil {
			return 0, false, err
		}
		return ptr, true, nil
	default: // changeReplace, changeUnderflow
		// The root has no minimum occupancy requirement (spec §4.4), but if a
		// merge has collapsed it down to a single child, drop a level so the
		// tree shrinks back down as records are removed.
		if !node.Leaf {
			rootNode, err := store.ReadNode(result.left.ptr)
			if err != nil {
				return 0, false, err
			}
			if !rootNode.Leaf && len(rootNode.Children) == 1 {
				return rootNode.Children[0].Child, true, nil
			}
		}
		return result.left.ptr, true, nil
	}
}
