package andersen

import (
	"fmt"
)

type ConstraintKind uint8

const (
	// AddrOf: pts(Dst) ⊇ {Src}
	AddrOf ConstraintKind = iota
	// Copy: pts(Dst) ⊇ pts(Src)
	Copy
	// Load: pts(Dst) ⊇ pts(o+Offset) for each o in pts(Src)
	Load
	// Store: pts(o+Offset) ⊇ pts(Src) for each o in pts(Dst)
	Store
	// FieldAddr: pts(Dst) ⊇ {o+Offset | o in pts(Src)}
	FieldAddr
)

func (k ConstraintKind) String() string {
	switch k {
	case AddrOf:
		return "addr"
	case Copy:
		return "copy"
	case Load:
		return "load"
	case Store:
		return "store"
	case FieldAddr:
		return "fieldaddr"
	default:
		return fmt.Sprintf("ConstraintKind(%d)", uint8(k))
	}
}

// Constraint is an inclusion constraint between two nodes.
type Constraint struct {
	Kind     ConstraintKind
	Dst, Src NodeIndex
	Offset   uint32
}

func (c Constraint) String() string {
	switch c.Kind {
	case AddrOf:
		return fmt.Sprintf("n%d = &n%d", c.Dst, c.Src)
	case Copy:
		return fmt.Sprintf("n%d = n%d", c.Dst, c.Src)
	case Load:
		return fmt.Sprintf("n%d = *(n%d+%d)", c.Dst, c.Src, c.Offset)
	case Store:
		return fmt.Sprintf("*(n%d+%d) = n%d", c.Dst, c.Offset, c.Src)
	case FieldAddr:
		return fmt.Sprintf("n%d = &n%d->%d", c.Dst, c.Src, c.Offset)
	default:
		return fmt.Sprintf("%v(n%d, n%d, %d)", c.Kind, c.Dst, c.Src, c.Offset)
	}
}

// ptr returns the node the constraint is attached to in the solver.
func (c Constraint) ptr() NodeIndex {
	switch c.Kind {
	case Store:
		return c.Dst
	default:
		return c.Src
	}
}

func (c Constraint) validate(f *NodeFactory) {
	n := NodeIndex(f.NumNodes())
	if c.Dst >= n || c.Src >= n {
		violation("constraint %v references a node outside [0, %d)", c, n)
	}
	switch c.Kind {
	case AddrOf:
		if f.KindOf(c.Src) != ObjectNode {
			violation("constraint %v takes the address of non-object node", c)
		}
		fallthrough
	case Copy:
		if c.Offset != 0 {
			violation("constraint %v cannot carry an offset", c)
		}
	case Load, Store, FieldAddr:
	default:
		violation("unknown constraint kind %v", c.Kind)
	}
}

// Constraints collects the constraints of a program. Every constraint is
// checked against the node factory when it is added.
type Constraints struct {
	f    *NodeFactory
	list []Constraint
}

func NewConstraints(f *NodeFactory) *Constraints {
	return &Constraints{f: f}
}

// Add checks c and appends it.
func (cs *Constraints) Add(c Constraint) {
	c.validate(cs.f)
	cs.list = append(cs.list, c)
}

func (cs *Constraints) AddAddrOf(dst, obj NodeIndex) {
	cs.Add(Constraint{Kind: AddrOf, Dst: dst, Src: obj})
}

func (cs *Constraints) AddCopy(dst, src NodeIndex) {
	cs.Add(Constraint{Kind: Copy, Dst: dst, Src: src})
}

func (cs *Constraints) AddLoad(dst, src NodeIndex, offset uint32) {
	cs.Add(Constraint{Kind: Load, Dst: dst, Src: src, Offset: offset})
}

func (cs *Constraints) AddStore(dst, src NodeIndex, offset uint32) {
	cs.Add(Constraint{Kind: Store, Dst: dst, Src: src, Offset: offset})
}

func (cs *Constraints) AddFieldAddr(dst, src NodeIndex, offset uint32) {
	cs.Add(Constraint{Kind: FieldAddr, Dst: dst, Src: src, Offset: offset})
}

// List returns the collected constraints. The slice must not be modified.
func (cs *Constraints) List() []Constraint { return cs.list }

func (cs *Constraints) Len() int { return len(cs.list) }
