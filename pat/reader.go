package pat

import (
	"bytes"

	"github.com/hupe1980/atomdb/atom"
	"github.com/hupe1980/atomdb/fixed"
	"github.com/hupe1980/atomdb/segment"
)

// KeySource maps a data atom to its key bytes. The returned slice need
// only stay valid for the duration of the call that asked for it; the
// trie never holds on to it.
type KeySource interface {
	Key(d DataAtom) []byte
}

// KeyFunc adapts a function to KeySource.
type KeyFunc func(d DataAtom) []byte

// Key calls f(d).
func (f KeyFunc) Key(d DataAtom) []byte { return f(d) }

// root is the persisted root header.
type root struct {
	Root     uint32
	KeyBytes uint16
	_        uint16
}

const rootSize = 8

// reader holds the walks that never change the tree. Tree and View both
// embed it.
type reader struct {
	seg   *segment.Segment
	off   int
	nodes *fixed.Typed[Node]
	keys  KeySource
}

func (r *reader) root() *root {
	return atom.As[root](r.seg.Bytes(r.off, rootSize))
}

func (r *reader) top() NodeAtom {
	return NodeAtom(r.root().Root)
}

func (r *reader) node(n NodeAtom) *Node {
	return r.nodes.At(n)
}

// nodeKey returns the key of n trimmed to its encoded length.
func (r *reader) nodeKey(n *Node) []byte {
	k := r.keys.Key(DataAtom(n.Data))
	if l := BitToLength(n.Length); l < len(k) {
		return k[:l]
	}
	return k
}

// nearest descends along key and returns the node it lands on, whose key
// shares the most leading bits with key. The tree must not be empty.
func (r *reader) nearest(key []byte) NodeAtom {
	bitLen := LengthToBit(len(key))
	cur := r.top()
	bit := NoBit
	for c := r.node(cur); bit < c.Bit; c = r.node(cur) {
		bit = c.Bit
		cur = c.child(bit < bitLen && testBit(key, bit))
	}
	return cur
}

// leftmost follows left links from cur, reached through a link of the
// given bit, until the descent turns back up.
func (r *reader) leftmost(bit uint16, cur NodeAtom) NodeAtom {
	for c := r.node(cur); bit < c.Bit; c = r.node(cur) {
		bit = c.Bit
		cur = NodeAtom(c.Left)
	}
	return cur
}

func (r *reader) rightmost(bit uint16, cur NodeAtom) NodeAtom {
	for c := r.node(cur); bit < c.Bit; c = r.node(cur) {
		bit = c.Bit
		cur = NodeAtom(c.Right)
	}
	return cur
}

// IsEmpty reports whether the tree holds no keys.
func (r *reader) IsEmpty() bool {
	return r.root().Root == atom.Null
}

// KeyBytes returns the fixed key length recorded in the root header.
func (r *reader) KeyBytes() int {
	return int(r.root().KeyBytes)
}

// InTree reports whether n is linked into a tree.
func (r *reader) InTree(n NodeAtom) bool {
	if n.IsNull() {
		return false
	}
	node := r.node(n)
	return node != nil && node.inTree()
}

// Data returns the data atom of n, or the null atom for the null node.
func (r *reader) Data(n NodeAtom) DataAtom {
	if n.IsNull() {
		return 0
	}
	return DataAtom(r.node(n).Data)
}

// Key returns the key bytes of n. The slice is borrowed from the key
// source.
func (r *reader) Key(n NodeAtom) []byte {
	if n.IsNull() {
		return nil
	}
	return r.nodeKey(r.node(n))
}

// KeyLen returns the key length of n in bytes.
func (r *reader) KeyLen(n NodeAtom) int {
	if n.IsNull() {
		return 0
	}
	return BitToLength(r.node(n).Length)
}

// Get returns the node whose key is exactly key, or the null atom.
func (r *reader) Get(key []byte) NodeAtom {
	if len(key) == 0 || len(key) > MaxKey || r.IsEmpty() {
		return 0
	}
	cur := r.nearest(key)
	c := r.node(cur)
	if c.Length != LengthToBit(len(key)) || !bytes.Equal(r.nodeKey(c), key) {
		return 0
	}
	return cur
}

// Lookup is Get with the tree's fixed key length; bytes of key past it
// are ignored.
func (r *reader) Lookup(key []byte) NodeAtom {
	kb := r.KeyBytes()
	if len(key) < kb {
		return 0
	}
	return r.Get(key[:kb])
}

// FindNext returns the node with the next larger key after n. The null
// atom stands for "before the first key", so FindNext(0) is the smallest
// key. It returns the null atom after the last key or when n is not in
// the tree.
func (r *reader) FindNext(n NodeAtom) NodeAtom {
	if r.IsEmpty() {
		return 0
	}
	if n.IsNull() {
		return r.leftmost(NoBit, r.top())
	}
	return r.next(n, NoBit)
}

// next walks to n, remembering the last node where the walk went left
// below the prefix bit pbit, and returns the smallest key in that node's
// right subtree.
func (r *reader) next(n NodeAtom, pbit uint16) NodeAtom {
	node := r.node(n)
	if node == nil {
		return 0
	}
	key := r.nodeKey(node)

	var lastLeft NodeAtom
	cur := r.top()
	bit := NoBit
	for c := r.node(cur); bit < c.Bit; c = r.node(cur) {
		bit = c.Bit
		if bit < node.Length && testBit(key, bit) {
			cur = NodeAtom(c.Right)
			continue
		}
		if bit > pbit {
			lastLeft = cur
		}
		cur = NodeAtom(c.Left)
	}
	if cur != n || lastLeft.IsNull() {
		return 0
	}
	ll := r.node(lastLeft)
	return r.leftmost(ll.Bit, NodeAtom(ll.Right))
}

// FindPrev returns the node with the next smaller key before n. The null
// atom stands for "after the last key", so FindPrev(0) is the largest key.
func (r *reader) FindPrev(n NodeAtom) NodeAtom {
	if r.IsEmpty() {
		return 0
	}
	if n.IsNull() {
		return r.rightmost(NoBit, r.top())
	}

	node := r.node(n)
	if node == nil {
		return 0
	}
	key := r.nodeKey(node)

	var lastRight NodeAtom
	cur := r.top()
	bit := NoBit
	for c := r.node(cur); bit < c.Bit; c = r.node(cur) {
		bit = c.Bit
		if bit < node.Length && testBit(key, bit) {
			lastRight = cur
			cur = NodeAtom(c.Right)
		} else {
			cur = NodeAtom(c.Left)
		}
	}
	if cur != n || lastRight.IsNull() {
		return 0
	}
	lr := r.node(lastRight)
	return r.rightmost(lr.Bit, NodeAtom(lr.Left))
}

// SubtreeMatch returns the node with the smallest key whose first bits
// bits equal prefix, or the null atom when no key has the prefix. A zero
// bits matches every key.
func (r *reader) SubtreeMatch(prefix []byte, bits uint16) NodeAtom {
	if r.IsEmpty() || int(bits) > len(prefix)*8 {
		return 0
	}
	pbit := prefixBit(bits)
	cur := r.top()
	bit := NoBit
	for c := r.node(cur); bit < c.Bit && c.Bit <= pbit; c = r.node(cur) {
		bit = c.Bit
		cur = c.child(testBit(prefix, bit))
	}
	cur = r.leftmost(bit, cur)
	if !hasPrefix(r.nodeKey(r.node(cur)), prefix, bits) {
		return 0
	}
	return cur
}

// SubtreeNext returns the next larger node after n whose key shares the
// first bits bits with n's key, or the null atom once the prefix range is
// exhausted.
func (r *reader) SubtreeNext(n NodeAtom, bits uint16) NodeAtom {
	if r.IsEmpty() || n.IsNull() {
		return 0
	}
	return r.next(n, prefixBit(bits))
}

// GetNext returns the node with the smallest key not less than key. With
// returnEq false an exact match is skipped in favor of the next larger
// key.
func (r *reader) GetNext(key []byte, returnEq bool) NodeAtom {
	if r.IsEmpty() {
		return 0
	}
	if len(key) > MaxKey {
		// No stored key is that long, so a stored key is at least key
		// exactly when it is greater than key's first MaxKey bytes.
		key, returnEq = key[:MaxKey], false
	}
	if len(key) == 0 {
		return r.FindNext(0)
	}

	cur := r.nearest(key)
	ckey := r.nodeKey(r.node(cur))
	n := min(len(key), len(ckey))
	i := mismatch(key[:n], ckey[:n])
	if i == n {
		switch {
		case len(key) == len(ckey):
			if returnEq {
				return cur
			}
			return r.FindNext(cur)
		case len(key) < len(ckey):
			// Every key extending key is larger than it.
			return r.SubtreeMatch(key, uint16(len(key)*8)) //nolint:gosec // len(key) <= MaxKey
		default:
			return r.FindNext(cur)
		}
	}

	diff := MakeBit(i, key[i]^ckey[i])
	var lastLeft NodeAtom
	cur = r.top()
	bit := NoBit
	for c := r.node(cur); bit < c.Bit && c.Bit < diff; c = r.node(cur) {
		bit = c.Bit
		if testBit(key, bit) {
			cur = NodeAtom(c.Right)
		} else {
			lastLeft = cur
			cur = NodeAtom(c.Left)
		}
	}
	if testBit(key, diff) {
		// key sorts after the whole subtree at cur.
		if lastLeft.IsNull() {
			return 0
		}
		ll := r.node(lastLeft)
		return r.leftmost(ll.Bit, NodeAtom(ll.Right))
	}
	return r.leftmost(bit, cur)
}

// LookupGEQ is GetNext(key, true) with the tree's fixed key length.
func (r *reader) LookupGEQ(key []byte) NodeAtom {
	kb := r.KeyBytes()
	if len(key) < kb {
		return 0
	}
	return r.GetNext(key[:kb], true)
}

// CompareNodes compares the keys of a and b byte-lexicographically and
// returns -1, 0 or 1.
func (r *reader) CompareNodes(a, b NodeAtom) int {
	return bytes.Compare(r.Key(a), r.Key(b))
}
