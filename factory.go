package andersen

import (
	"strconv"

	"github.com/BarrensZeppelin/andersen/ir"
	"github.com/BarrensZeppelin/andersen/layout"
	log "github.com/sirupsen/logrus"
)

// NodeFactory owns the node table and the reverse maps from program entities
// to nodes. The table is append-only until Freeze is called, after which it
// is read-only and safe for concurrent readers.
type NodeFactory struct {
	layout layout.Oracle
	log    *log.Entry

	nodes []Node

	valueNodes  map[ir.Entity]NodeIndex
	objectNodes map[ir.Entity]NodeIndex
	returnNodes map[ir.Entity]NodeIndex
	varargNodes map[ir.Entity]NodeIndex

	frozen bool
}

// NewNodeFactory returns a factory holding only the reserved nodes.
func NewNodeFactory(oracle layout.Oracle, logger *log.Entry) *NodeFactory {
	if logger == nil {
		logger = defaultLogger()
	}

	f := &NodeFactory{
		layout:      oracle,
		log:         logger,
		valueNodes:  make(map[ir.Entity]NodeIndex),
		objectNodes: make(map[ir.Entity]NodeIndex),
		returnNodes: make(map[ir.Entity]NodeIndex),
		varargNodes: make(map[ir.Entity]NodeIndex),
	}

	for i, kind := range [NumReserved]NodeKind{
		UniversalValue:  ValueNode,
		UniversalObject: ObjectNode,
		NullValue:       ValueNode,
		NullObject:      ObjectNode,
		IntValue:        ValueNode,
	} {
		f.push(kind, nil)
		if f.nodes[i].index != NodeIndex(i) {
			panic("reserved node numbering is broken")
		}
	}

	return f
}

func (f *NodeFactory) Layout() layout.Oracle { return f.layout }

func (f *NodeFactory) push(kind NodeKind, origin ir.Entity) NodeIndex {
	if f.frozen {
		violation("node creation after the factory was frozen")
	}
	idx := NodeIndex(len(f.nodes))
	if idx == InvalidIndex {
		violation("node table is full")
	}
	f.nodes = append(f.nodes, Node{index: idx, kind: kind, origin: origin, base: idx, size: 1})
	return idx
}

func checkUnique(m map[ir.Entity]NodeIndex, e ir.Entity, what string) {
	if prev, found := m[e]; found {
		violation("%s for %v already registered as node #%d", what, e, prev)
	}
}

// CreateValueNode appends a value node. A non-nil entity is registered in
// the value node map and must not have been registered before.
func (f *NodeFactory) CreateValueNode(e ir.Entity) NodeIndex {
	if e != nil {
		checkUnique(f.valueNodes, e, "value node")
	}
	idx := f.push(ValueNode, e)
	if e != nil {
		f.valueNodes[e] = idx
	}
	return idx
}

// CreateObjectNode appends a single object node. A non-nil entity is
// registered in the object node map and must not have been registered
// before.
func (f *NodeFactory) CreateObjectNode(e ir.Entity) NodeIndex {
	if e != nil {
		checkUnique(f.objectNodes, e, "object node")
	}
	idx := f.push(ObjectNode, e)
	if e != nil {
		f.objectNodes[e] = idx
	}
	return idx
}

// CreateObjectBlock appends a base object node for e followed by size-1
// field nodes, so that field k of the object is base+k.
func (f *NodeFactory) CreateObjectBlock(e ir.Entity, size uint64) NodeIndex {
	if size == 0 {
		size = 1
	}
	if uint64(len(f.nodes))+size >= uint64(InvalidIndex) {
		violation("node table is full")
	}

	base := f.CreateObjectNode(e)
	for k := uint64(1); k < size; k++ {
		f.push(ObjectNode, nil)
	}
	for i := base; i < base+NodeIndex(size); i++ {
		f.nodes[i].base = base
		f.nodes[i].size = uint32(size)
	}
	return base
}

// CreateObjectFor creates an object block sized for a value of type t.
func (f *NodeFactory) CreateObjectFor(e ir.Entity, t ir.Type) NodeIndex {
	return f.CreateObjectBlock(e, f.layout.FieldCount(t))
}

// CreateReturnNode creates the node for the return value of fun.
func (f *NodeFactory) CreateReturnNode(fun ir.Entity) NodeIndex {
	checkUnique(f.returnNodes, fun, "return node")
	idx := f.push(ValueNode, fun)
	f.returnNodes[fun] = idx
	return idx
}

// CreateVarargNode creates the node for the variadic arguments of fun.
func (f *NodeFactory) CreateVarargNode(fun ir.Entity) NodeIndex {
	checkUnique(f.varargNodes, fun, "vararg node")
	idx := f.push(ValueNode, fun)
	f.varargNodes[fun] = idx
	return idx
}

// GetValueNodeFor returns the value node of e. Non-global constants are
// resolved structurally.
func (f *NodeFactory) GetValueNodeFor(e ir.Entity) (NodeIndex, bool) {
	if c, ok := e.(ir.Const); ok {
		if _, global := c.(ir.GlobalValue); !global {
			return f.GetValueNodeForConstant(c), true
		}
	}
	idx, found := f.valueNodes[e]
	if !found {
		return InvalidIndex, false
	}
	return idx, true
}

// GetObjectNodeFor returns the object node of e. Non-global constants are
// resolved structurally.
func (f *NodeFactory) GetObjectNodeFor(e ir.Entity) (NodeIndex, bool) {
	if c, ok := e.(ir.Const); ok {
		if _, global := c.(ir.GlobalValue); !global {
			return f.GetObjectNodeForConstant(c)
		}
	}
	idx, found := f.objectNodes[e]
	if !found {
		return InvalidIndex, false
	}
	return idx, true
}

func (f *NodeFactory) GetReturnNodeFor(fun ir.Entity) (NodeIndex, bool) {
	idx, found := f.returnNodes[fun]
	if !found {
		return InvalidIndex, false
	}
	return idx, true
}

func (f *NodeFactory) GetVarargNodeFor(fun ir.Entity) (NodeIndex, bool) {
	idx, found := f.varargNodes[fun]
	if !found {
		return InvalidIndex, false
	}
	return idx, true
}

// GetValueNodeForConstant resolves a constant pointer to its value node.
// Structured accesses must have been normalized away by the caller.
func (f *NodeFactory) GetValueNodeForConstant(c ir.Const) NodeIndex {
	switch c := c.(type) {
	case *ir.Null, *ir.Undef:
		return NullValue
	case ir.GlobalValue:
		idx, found := f.valueNodes[c]
		if !found {
			violation("no value node for global %v", c)
		}
		return idx
	case *ir.ConstExpr:
		switch c.Op {
		case ir.OpGEP:
			violation("structured access %v reached value node resolution", c)
		case ir.OpIntToPtr:
			return UniversalValue
		case ir.OpPtrToInt:
			return IntValue
		case ir.OpBitCast:
			return f.GetValueNodeForConstant(c.X)
		}
		violation("constant expression not handled: %v", c)
	}
	violation("unknown constant pointer %v", c)
	return InvalidIndex
}

// GetObjectNodeForConstant resolves a constant pointer to the object node it
// addresses. Unlike value node resolution it supports structured accesses,
// which select a field node of the accessed object.
func (f *NodeFactory) GetObjectNodeForConstant(c ir.Const) (NodeIndex, bool) {
	switch c := c.(type) {
	case *ir.Null, *ir.Undef:
		return NullObject, true
	case ir.GlobalValue:
		idx, found := f.objectNodes[c]
		if !found {
			return InvalidIndex, false
		}
		return idx, true
	case *ir.ConstExpr:
		switch c.Op {
		case ir.OpGEP:
			base, found := f.GetObjectNodeForConstant(c.X)
			if !found {
				return InvalidIndex, false
			}
			if base == NullObject || base == UniversalObject {
				return base, true
			}

			// Field numbers are computed from the underlying object with the
			// offset accumulated over every nested access, so the result is
			// relative to the base of the object block.
			obj, found := f.GetObjectNodeForConstant(ir.UnderlyingObject(c))
			if !found {
				return InvalidIndex, false
			}
			return f.GetOffsetObjectNode(obj, f.constGEPToFieldNum(c)), true
		case ir.OpIntToPtr:
			return UniversalObject, true
		case ir.OpBitCast:
			return f.GetObjectNodeForConstant(c.X)
		}
		violation("constant expression not handled: %v", c)
	}
	violation("unknown constant pointer %v", c)
	return InvalidIndex, false
}

// GetOffsetObjectNode returns the node for field k of object o.
func (f *NodeFactory) GetOffsetObjectNode(o NodeIndex, k uint64) NodeIndex {
	return o + NodeIndex(k)
}

// OffsetObjectNode returns field k of o when it lies inside o's object
// block, and o itself otherwise. Sentinel objects have no structure.
func (f *NodeFactory) OffsetObjectNode(o NodeIndex, k uint32) NodeIndex {
	if k == 0 || IsSentinel(o) {
		return o
	}
	n := &f.nodes[o]
	if uint64(o)+uint64(k) < uint64(n.base)+uint64(n.size) {
		return o + NodeIndex(k)
	}
	return o
}

// Freeze makes the table read-only. Any further creation is a contract
// violation.
func (f *NodeFactory) Freeze() { f.frozen = true }

func (f *NodeFactory) Frozen() bool { return f.frozen }

// NumNodes returns the size of the node table.
func (f *NodeFactory) NumNodes() int { return len(f.nodes) }

// Node returns the node with index i.
func (f *NodeFactory) Node(i NodeIndex) *Node {
	if int(i) >= len(f.nodes) {
		violation("node #%d out of range (%d nodes)", i, len(f.nodes))
	}
	return &f.nodes[i]
}

func (f *NodeFactory) KindOf(i NodeIndex) NodeKind { return f.Node(i).kind }

func (f *NodeFactory) OriginOf(i NodeIndex) ir.Entity { return f.Node(i).origin }

// Block returns the base and size of the object block containing i.
func (f *NodeFactory) Block(i NodeIndex) (NodeIndex, uint32) {
	n := f.Node(i)
	return n.base, n.size
}

// Describe returns a human readable name for node i.
func (f *NodeFactory) Describe(i NodeIndex) string {
	if IsSentinel(i) {
		return reservedNames[i]
	}
	n := f.Node(i)
	switch {
	case n.origin != nil:
		return n.origin.String()
	case n.base != i:
		return f.Describe(n.base) + "." + strconv.Itoa(int(i-n.base))
	default:
		return n.String()
	}
}
