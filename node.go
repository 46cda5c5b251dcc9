// Package andersen is an inclusion-based points-to analysis. Program
// entities are mapped to abstract nodes by a NodeFactory, a Builder emits
// subset constraints between them, and the Solver computes the least
// solution, optionally after offline equivalence optimizations.
package andersen

import (
	"fmt"

	"github.com/BarrensZeppelin/andersen/ir"
)

// NodeIndex identifies an abstract node. Indices are dense and stable.
type NodeIndex uint32

// InvalidIndex is returned by lookups that find nothing.
const InvalidIndex = ^NodeIndex(0)

// Reserved nodes, allocated by NewNodeFactory.
const (
	// UniversalValue is the unknown pointer that may point to anything.
	UniversalValue NodeIndex = iota
	// UniversalObject is the unknown object UniversalValue points to.
	UniversalObject
	// NullValue is the null pointer.
	NullValue
	// NullObject is the object null points to.
	NullObject
	// IntValue collects pointers that have been cast to integers.
	IntValue

	NumReserved
)

// Positions of the return and argument slots inside a function object
// block, relative to the code object.
const (
	CallReturnPos   = 1
	CallFirstArgPos = 2
)

type NodeKind uint8

const (
	ValueNode NodeKind = iota
	ObjectNode
)

func (k NodeKind) String() string {
	switch k {
	case ValueNode:
		return "V"
	case ObjectNode:
		return "O"
	default:
		return fmt.Sprintf("NodeKind(%d)", uint8(k))
	}
}

// Node is an entry of the node table. Object nodes are grouped in blocks:
// a base object followed by its fields, addressed as base+field.
type Node struct {
	index  NodeIndex
	kind   NodeKind
	origin ir.Entity

	// base and size describe the object block containing the node. Value
	// nodes form blocks of size 1.
	base NodeIndex
	size uint32
}

func (n *Node) Index() NodeIndex { return n.index }
func (n *Node) Kind() NodeKind   { return n.kind }

// Origin returns the program entity the node was created for, or nil for
// synthetic and field nodes.
func (n *Node) Origin() ir.Entity { return n.origin }

func (n *Node) String() string {
	return fmt.Sprintf("[%v #%d]", n.kind, n.index)
}

var reservedNames = [NumReserved]string{
	UniversalValue:  "<universal ptr>",
	UniversalObject: "<universal obj>",
	NullValue:       "<null ptr>",
	NullObject:      "<null obj>",
	IntValue:        "<int ptr>",
}

// IsSentinel reports whether i is one of the reserved nodes.
func IsSentinel(i NodeIndex) bool { return i < NumReserved }
