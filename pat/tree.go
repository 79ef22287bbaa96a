// Package pat implements a patricia trie over byte-string keys whose nodes
// are atoms of a fixed pool.
//
// The trie stores no key bytes. Each node carries a caller-owned data atom
// and the trie asks a KeySource for the key behind it whenever it needs to
// compare. Keys may vary in length, but no key may be a prefix of another;
// NUL-terminated strings have that property when the NUL is part of the key.
//
// All operations run in O(key length) with no rebalancing, so heavily
// skewed keys make for deep trees.
//
// Node links are atom numbers and the root lives in a named segment
// header, so a tree survives closing and reopening its segment. The
// trie has no locks; callers keep to one writer at a time.
package pat

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/atomdb/atom"
	"github.com/hupe1980/atomdb/fixed"
	"github.com/hupe1980/atomdb/segment"
)

var (
	// ErrKeyBytes is returned for a key length outside [1, MaxKey].
	ErrKeyBytes = errors.New("pat: invalid key length")
	// ErrMismatch is returned when reattaching with a different key length.
	ErrMismatch = errors.New("pat: root parameters mismatch")
	// ErrClosed is returned by operations on a closed tree.
	ErrClosed = errors.New("pat: tree closed")
)

type options struct {
	logger *slog.Logger
	flags  fixed.Flags
}

// Option configures a tree.
type Option func(*options)

// WithLogger sets the logger used to report failed inserts.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNodeFlags sets the flags of a node pool created by Open.
func WithNodeFlags(f fixed.Flags) Option {
	return func(o *options) {
		o.flags = f
	}
}

// Tree is a patricia trie bound to a segment, a node pool and a key source.
type Tree struct {
	reader
	name   string
	owned  bool
	closed bool
	logger *slog.Logger
}

// Open opens or creates the tree called name in seg together with a node
// pool of its own, named name+".nodes", holding up to maxAtoms nodes in
// pages of 1<<shift nodes.
func Open(seg *segment.Segment, name string, keys KeySource, keyBytes uint16, shift uint8, maxAtoms uint32, optFns ...Option) (*Tree, error) {
	opts := applyOptions(optFns)
	pool, err := fixed.Open(seg, name+".nodes", shift, nodeSize, maxAtoms,
		fixed.WithFlags(opts.flags), fixed.WithLogger(opts.logger))
	if err != nil {
		return nil, fmt.Errorf("pat: open node pool: %w", err)
	}
	t, err := OpenNodes(seg, name, pool, keys, keyBytes, optFns...)
	if err != nil {
		return nil, err
	}
	t.owned = true
	return t, nil
}

// OpenNodes opens or creates the tree called name in seg, drawing nodes
// from an existing pool that other trees may share.
func OpenNodes(seg *segment.Segment, name string, nodes *fixed.Pool, keys KeySource, keyBytes uint16, optFns ...Option) (*Tree, error) {
	hdr, _, err := seg.Header(name+".pat", segment.TypePat, rootSize)
	if err != nil {
		return nil, fmt.Errorf("pat: open root %q: %w", name, err)
	}
	t, err := RootInit(seg, hdr, nodes, keys, keyBytes, optFns...)
	if err != nil {
		return nil, err
	}
	t.name = name
	return t, nil
}

// RootInit binds a root header, a node pool and a key source into a tree.
// A fresh header records keyBytes; an existing one must agree with it.
func RootInit(seg *segment.Segment, hdr segment.Header, nodes *fixed.Pool, keys KeySource, keyBytes uint16, optFns ...Option) (*Tree, error) {
	opts := applyOptions(optFns)
	if keyBytes == 0 || keyBytes > MaxKey {
		return nil, fmt.Errorf("%w: %d", ErrKeyBytes, keyBytes)
	}
	if hdr.Size < rootSize {
		return nil, fmt.Errorf("pat: root header %q is %d bytes", hdr.Name, hdr.Size)
	}
	typed, err := fixed.NewTyped[Node](nodes)
	if err != nil {
		return nil, fmt.Errorf("pat: node pool: %w", err)
	}

	t := &Tree{
		reader: reader{seg: seg, off: hdr.Offset, nodes: typed, keys: keys},
		name:   hdr.Name,
		logger: opts.logger.With("tree", hdr.Name),
	}
	rt := t.root()
	switch rt.KeyBytes {
	case 0:
		rt.KeyBytes = keyBytes
	case keyBytes:
	default:
		return nil, fmt.Errorf("%w: %q has %d-byte keys, want %d", ErrMismatch, hdr.Name, rt.KeyBytes, keyBytes)
	}
	return t, nil
}

func applyOptions(optFns []Option) options {
	opts := options{logger: slog.New(slog.DiscardHandler)}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Name returns the tree name.
func (t *Tree) Name() string { return t.name }

// Nodes returns the node pool.
func (t *Tree) Nodes() *fixed.Pool { return t.nodes.Pool() }

// View returns the read-only form of the tree.
func (t *Tree) View() View { return View{r: &t.reader} }

// link names a child slot: the root pointer when parent is null,
// otherwise the left or right link of parent.
type link struct {
	parent NodeAtom
	right  bool
}

func (t *Tree) get(l link) NodeAtom {
	if l.parent.IsNull() {
		return t.top()
	}
	return t.node(l.parent).child(l.right)
}

func (t *Tree) set(l link, n NodeAtom) {
	if l.parent.IsNull() {
		t.root().Root = n.Uint32()
		return
	}
	t.node(l.parent).setChild(l.right, n)
}

// Add inserts a node for data atom d whose key is keyLen bytes long; zero
// means the tree's fixed key length. It returns false, leaving the tree
// as it was, when the key is already present, when it is a prefix of a
// present key or has one as a prefix, when the key length is out of
// range, or when the node pool is exhausted.
func (t *Tree) Add(d DataAtom, keyLen uint16) bool {
	if t.closed {
		return false
	}
	if keyLen == 0 {
		keyLen = t.root().KeyBytes
	}
	if keyLen == 0 || keyLen > MaxKey {
		return false
	}

	// Allocation may remap the segment, so it happens before any key or
	// node memory is looked at.
	na := t.nodes.Alloc()
	if na.IsNull() {
		t.logger.Debug("node pool exhausted", "data", d.Uint32())
		return false
	}
	if !t.add(na, d, int(keyLen)) {
		t.nodes.Free(na)
		return false
	}
	return true
}

func (t *Tree) add(na NodeAtom, d DataAtom, keyLen int) bool {
	node := t.node(na)
	*node = Node{Length: LengthToBit(keyLen), Data: d.Uint32()}

	key := t.keys.Key(d)
	if len(key) < keyLen {
		return false
	}
	key = key[:keyLen]

	rt := t.root()
	if rt.Root == atom.Null {
		node.Bit = NoBit
		node.Left, node.Right = na.Uint32(), na.Uint32()
		rt.Root = na.Uint32()
		return true
	}

	ckey := t.nodeKey(t.node(t.nearest(key)))
	n := min(len(key), len(ckey))
	i := mismatch(key[:n], ckey[:n])
	if i == n {
		return false
	}
	diff := MakeBit(i, key[i]^ckey[i])

	var l link
	cur := t.top()
	bit := NoBit
	for c := t.node(cur); bit < c.Bit && c.Bit < diff; c = t.node(cur) {
		bit = c.Bit
		l = link{parent: cur, right: testBit(key, bit)}
		cur = c.child(l.right)
	}

	node.Bit = diff
	if testBit(key, diff) {
		node.Left, node.Right = cur.Uint32(), na.Uint32()
	} else {
		node.Left, node.Right = na.Uint32(), cur.Uint32()
	}
	t.set(l, na)
	return true
}

// Delete unlinks n and returns its atom to the node pool. It returns
// false when n is not in the tree. Deleting the last node leaves the
// tree empty.
func (t *Tree) Delete(n NodeAtom) bool {
	if t.closed || t.IsEmpty() || !t.InTree(n) {
		return false
	}
	node := t.node(n)
	key := t.nodeKey(node)

	// down is the link to n as an internal node, up the link to the
	// internal node whose child link leads to n as a leaf.
	var down, up *link
	parent := link{}
	cur := t.top()
	bit := NoBit
	for c := t.node(cur); bit < c.Bit; c = t.node(cur) {
		bit = c.Bit
		if cur == n {
			down = &link{parent: parent.parent, right: parent.right}
		}
		up = &link{parent: parent.parent, right: parent.right}
		parent = link{parent: cur, right: bit < node.Length && testBit(key, bit)}
		cur = c.child(parent.right)
	}
	if cur != n {
		return false
	}

	if up == nil {
		t.root().Root = atom.Null
	} else {
		// dn loses its place as an internal node to its other child and,
		// unless it is n itself, takes over n's internal place.
		dn := parent.parent
		d := t.node(dn)
		t.set(*up, d.child(!parent.right))
		if dn != n {
			if down == nil {
				d.Bit = NoBit
				d.Left, d.Right = dn.Uint32(), dn.Uint32()
			} else {
				d.Bit, d.Left, d.Right = node.Bit, node.Left, node.Right
				t.set(*down, dn)
			}
		}
	}

	node.Left, node.Right = atom.Null, atom.Null
	t.nodes.Free(n)
	return true
}

// SetData points n at a different data atom. The new data must have the
// same key as the old.
func (t *Tree) SetData(n NodeAtom, d DataAtom) {
	t.node(n).Data = d.Uint32()
}

// Close detaches the tree. The persisted tree is untouched.
func (t *Tree) Close() error {
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	return nil
}

// RootDelete releases the root of an empty tree, clearing its recorded
// key length so the header can be bound again with a different one.
// Deleting the root of a tree that still holds keys is a contract
// violation and panics.
func (t *Tree) RootDelete() {
	if !t.IsEmpty() {
		panic(fmt.Sprintf("pat: root delete of non-empty tree %q", t.name))
	}
	*t.root() = root{}
	t.closed = true
}
