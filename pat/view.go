package pat

import "iter"

// View is the read-only face of a tree, for callers that walk a tree and
// must not change it. It has the lookups and walks of Tree and nothing
// that adds, deletes or rewrites a node.
type View struct {
	r *reader
}

// IsEmpty reports whether the tree holds no keys.
func (v View) IsEmpty() bool { return v.r.IsEmpty() }

// Get returns the node whose key is exactly key.
func (v View) Get(key []byte) NodeAtom { return v.r.Get(key) }

// Lookup is Get with the tree's fixed key length.
func (v View) Lookup(key []byte) NodeAtom { return v.r.Lookup(key) }

// FindNext returns the node after n; FindNext(0) is the first node.
func (v View) FindNext(n NodeAtom) NodeAtom { return v.r.FindNext(n) }

// FindPrev returns the node before n; FindPrev(0) is the last node.
func (v View) FindPrev(n NodeAtom) NodeAtom { return v.r.FindPrev(n) }

// SubtreeMatch returns the first node whose key has the bit prefix.
func (v View) SubtreeMatch(prefix []byte, bits uint16) NodeAtom {
	return v.r.SubtreeMatch(prefix, bits)
}

// SubtreeNext returns the node after n sharing its first bits bits.
func (v View) SubtreeNext(n NodeAtom, bits uint16) NodeAtom {
	return v.r.SubtreeNext(n, bits)
}

// GetNext returns the first node with a key at least key, or strictly
// greater when returnEq is false.
func (v View) GetNext(key []byte, returnEq bool) NodeAtom {
	return v.r.GetNext(key, returnEq)
}

// CompareNodes compares the keys of a and b.
func (v View) CompareNodes(a, b NodeAtom) int { return v.r.CompareNodes(a, b) }

// Key returns the key of n.
func (v View) Key(n NodeAtom) []byte { return v.r.Key(n) }

// Data returns the data atom of n.
func (v View) Data(n NodeAtom) DataAtom { return v.r.Data(n) }

// All iterates over the tree in ascending key order.
func (v View) All() iter.Seq[NodeAtom] { return v.r.All() }

// Backward iterates over the tree in descending key order.
func (v View) Backward() iter.Seq[NodeAtom] { return v.r.Backward() }

// From iterates in ascending order from the first key not less than key.
func (v View) From(key []byte) iter.Seq[NodeAtom] { return v.r.From(key) }

// Prefix iterates over the nodes whose keys start with the first bits
// bits of prefix, in ascending order.
func (v View) Prefix(prefix []byte, bits uint16) iter.Seq[NodeAtom] {
	return v.r.Prefix(prefix, bits)
}

// All iterates over the tree in ascending key order. The tree must not be
// modified while the iteration runs.
func (r *reader) All() iter.Seq[NodeAtom] {
	return func(yield func(NodeAtom) bool) {
		for n := r.FindNext(0); !n.IsNull(); n = r.FindNext(n) {
			if !yield(n) {
				return
			}
		}
	}
}

// Backward iterates over the tree in descending key order.
func (r *reader) Backward() iter.Seq[NodeAtom] {
	return func(yield func(NodeAtom) bool) {
		for n := r.FindPrev(0); !n.IsNull(); n = r.FindPrev(n) {
			if !yield(n) {
				return
			}
		}
	}
}

// Prefix iterates over the nodes whose keys start with the first bits
// bits of prefix, in ascending order.
func (r *reader) Prefix(prefix []byte, bits uint16) iter.Seq[NodeAtom] {
	return func(yield func(NodeAtom) bool) {
		for n := r.SubtreeMatch(prefix, bits); !n.IsNull(); n = r.SubtreeNext(n, bits) {
			if !yield(n) {
				return
			}
		}
	}
}

// From iterates in ascending order over the nodes with keys not less
// than key.
func (r *reader) From(key []byte) iter.Seq[NodeAtom] {
	return func(yield func(NodeAtom) bool) {
		for n := r.GetNext(key, true); !n.IsNull(); n = r.FindNext(n) {
			if !yield(n) {
				return
			}
		}
	}
}
