package ir

import (
	"fmt"
	"strings"
)

// Null is the null pointer constant of type Typ.
type Null struct {
	constTag
	Typ Type
}

func (n *Null) String() string { return "null" }
func (n *Null) Type() Type     { return n.Typ }

// Undef is an undefined value of type Typ.
type Undef struct {
	constTag
	Typ Type
}

func (u *Undef) String() string { return "undef" }
func (u *Undef) Type() Type     { return u.Typ }

// Int is an integer constant.
type Int struct {
	constTag
	Value int64
	Typ   Type
}

func (i *Int) String() string { return fmt.Sprint(i.Value) }
func (i *Int) Type() Type     { return i.Typ }

// Aggregate is a constant struct or array, as found in global initializers.
type Aggregate struct {
	constTag
	Typ   Type
	Elems []Const
}

func (a *Aggregate) String() string {
	var parts []string
	for _, e := range a.Elems {
		parts = append(parts, e.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (a *Aggregate) Type() Type { return a.Typ }

// Opcode identifies the operation of a constant expression.
type Opcode uint8

const (
	// OpGEP is a structured address computation with constant indices.
	OpGEP Opcode = iota
	OpIntToPtr
	OpPtrToInt
	OpBitCast
	// OpOther stands for any constant expression the engine does not model.
	OpOther
)

var opNames = [...]string{
	OpGEP:      "getelementptr",
	OpIntToPtr: "inttoptr",
	OpPtrToInt: "ptrtoint",
	OpBitCast:  "bitcast",
	OpOther:    "constexpr",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// ConstExpr is a constant expression over the operand X. Indices is only
// used by OpGEP; all of its indices are constants by construction.
type ConstExpr struct {
	constTag
	Op      Opcode
	X       Const
	Indices []int64
	Typ     Type
}

func (c *ConstExpr) String() string {
	if c.Op == OpGEP {
		idx := make([]string, len(c.Indices))
		for i, x := range c.Indices {
			idx[i] = fmt.Sprint(x)
		}
		return fmt.Sprintf("%v(%v, %s)", c.Op, c.X, strings.Join(idx, ", "))
	}
	return fmt.Sprintf("%v(%v to %v)", c.Op, c.X, c.Typ)
}

func (c *ConstExpr) Type() Type { return c.Typ }

// GEP builds a constant structured access into x. The result type is a
// pointer to the selected element.
func GEP(x Const, indices ...int64) *ConstExpr {
	elem, err := IndexedType(x.Type(), indices)
	if err != nil {
		panic(err)
	}
	return &ConstExpr{Op: OpGEP, X: x, Indices: indices, Typ: PointerTo(elem)}
}

// Cast builds a conversion of x to typ with the given opcode.
func Cast(op Opcode, x Const, typ Type) *ConstExpr {
	return &ConstExpr{Op: op, X: x, Typ: typ}
}

// StripPointerCasts removes any bit-casts wrapped around c.
func StripPointerCasts(c Const) Const {
	for {
		ce, ok := c.(*ConstExpr)
		if !ok || ce.Op != OpBitCast {
			return c
		}
		c = ce.X
	}
}

// UnderlyingObject strips structured accesses and bit-casts from c and
// returns the constant naming the accessed base object.
func UnderlyingObject(c Const) Const {
	for {
		ce, ok := c.(*ConstExpr)
		if !ok || (ce.Op != OpGEP && ce.Op != OpBitCast) {
			return c
		}
		c = ce.X
	}
}
