package pat

import (
	"bytes"

	"github.com/hupe1980/atomdb/atom"
)

const (
	// NoBit is the bit number of a node with no test bit: the first node
	// of a tree, which sits above every real bit.
	NoBit uint16 = 0
	// MaxKey is the longest supported key, in bytes.
	MaxKey = 256
)

// Node is the persisted trie node. It occupies one 16-byte atom.
//
// Bit and Length share an encoding: the byte offset sits in the high
// byte, and the low byte holds the inverted mask of the tested bit, so
// larger values name bits further right in the key. Length is the key
// length encoded as the position just past the last bit of its last byte.
type Node struct {
	Length uint16
	Bit    uint16
	Left   uint32
	Right  uint32
	Data   uint32
}

// Data tags atom ids that refer into the caller's data store.
type Data struct{}

type (
	// NodeAtom is the atom of a trie node; 0 means none.
	NodeAtom = atom.ID[Node]
	// DataAtom is the caller-owned atom a node maps its key to.
	DataAtom = atom.ID[Data]
)

const nodeSize = 16

func (n *Node) child(right bool) NodeAtom {
	if right {
		return NodeAtom(n.Right)
	}
	return NodeAtom(n.Left)
}

func (n *Node) setChild(right bool, c NodeAtom) {
	if right {
		n.Right = c.Uint32()
	} else {
		n.Left = c.Uint32()
	}
}

// inTree reports whether the node is linked into a tree. Nodes outside
// a tree keep both links zeroed.
func (n *Node) inTree() bool {
	return n.Left != atom.Null && n.Right != atom.Null
}

// LengthToBit encodes a key length in bytes in bit format.
// A zero length encodes as NoBit.
func LengthToBit(n int) uint16 {
	if n == 0 {
		return NoBit
	}
	return uint16((n-1)<<8 | 0xff) //nolint:gosec // n <= MaxKey
}

// BitToLength decodes a key length encoded by LengthToBit.
func BitToLength(b uint16) int {
	return int(b>>8) + 1
}

// MakeBit returns the bit number of the most significant set bit of diff
// within byte off.
func MakeBit(off int, diff byte) uint16 {
	return uint16(off&0xff)<<8 | uint16(^atom.HiBit(diff))
}

// prefixBit returns the bit number of the last bit of a bits-long prefix.
func prefixBit(bits uint16) uint16 {
	if bits == 0 {
		return NoBit
	}
	return MakeBit(int(bits-1)>>3, 0x80>>((bits-1)&7))
}

// testBit reports whether key has bit set. The byte named by bit must be
// inside key.
func testBit(key []byte, bit uint16) bool {
	return key[bit>>8]&^byte(bit) != 0
}

// mismatch returns the index of the first differing byte of a and b,
// which have equal length, or len(a) when they are equal.
func mismatch(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return len(a)
}

// hasPrefix reports whether the first bits bits of key match prefix.
func hasPrefix(key, prefix []byte, bits uint16) bool {
	whole, rem := int(bits>>3), bits&7
	need := whole
	if rem != 0 {
		need++
	}
	if len(key) < need || len(prefix) < need {
		return false
	}
	if !bytes.Equal(key[:whole], prefix[:whole]) {
		return false
	}
	if rem != 0 {
		mask := byte(0xff) << (8 - rem)
		return (key[whole]^prefix[whole])&mask == 0
	}
	return true
}
