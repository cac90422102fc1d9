package btree

// Copy walks the tree rooted at root in src, copying every reachable node
// and value chunk into dst, and returns the pointer to the copied root in
// dst's address space. seen remembers old-offset -> new-offset pairs
// already copied, so two overlapping Copy calls against the same src
// (spec §4.7's read-snapshot pass followed by a write-lock pass over the
// then-current active root) copy each shared chunk at most once.
func Copy[Idx any](src, dst Store[Idx], root Pointer, seen map[Pointer]Pointer) (Pointer, error) {
	if root.IsZero() {
		return 0, nil
	}
	if newPtr, ok := seen[root]; ok {
		return newPtr, nil
	}

	node, err := src.ReadNode(root)
	if err != nil {
		return 0, err
	}

	var out Node[Idx]
	out.Leaf = node.Leaf
	if node.Leaf {
		out.Entries = make([]KeyEntry[Idx], len(node.Entries))
		for i, e := range node.Entries {
			newVal := e.Value
			if !e.Value.IsZero() {
				if cached, ok := seen[e.Value]; ok {
					newVal = cached
				} else {
					data, err := src.ReadValue(e.Value)
					if err != nil {
						return 0, err
					}
					newVal, err = dst.WriteValue(data)
					if err != nil {
						return 0, err
					}
					seen[e.Value] = newVal
				}
			}
			out.Entries[i] = KeyEntry[Idx]{Key: e.Key, Index: e.Index, Value: newVal}
		}
	} else {
		out.Children = make([]ChildEntry[Idx], len(node.Children))
		for i, c := range node.Children {
			newChild, err := Copy(src, dst, c.Child, seen)
			if err != nil {
				return 0, err
			}
			out.Children[i] = ChildEntry[Idx]{MaxKey: c.MaxKey, Index: c.Index, Child: newChild}
		}
	}

	newPtr, err := dst.WriteNode(&out)
	if err != nil {
		return 0, err
	}
	seen[root] = newPtr
	return newPtr, nil
}
