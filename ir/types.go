// Package ir is the program model consumed by the points-to engine.
//
// It describes just enough of a compiled program for object identification
// and field-sensitive offset computation: a small structural type system, the
// entities that own value and object nodes, and constant expressions.
package ir

import (
	"fmt"
	"strings"
)

// Type is a structural type of the analysed program.
type Type interface {
	fmt.Stringer
	isType()
}

type tag struct{}

func (tag) isType() {}

// Basic is a scalar type of a fixed size. Align overrides the natural
// alignment (min(Size, word size)) when non-zero.
type Basic struct {
	tag
	Name  string
	Size  uint64
	Align uint64
}

func (b *Basic) String() string { return b.Name }

// Pointer is a pointer to Elem.
type Pointer struct {
	tag
	Elem Type
}

func (p *Pointer) String() string { return "*" + p.Elem.String() }

// Array is a fixed-length sequence of Elem.
type Array struct {
	tag
	Elem Type
	Len  uint64
}

func (a *Array) String() string { return fmt.Sprintf("[%d]%v", a.Len, a.Elem) }

// Struct is an aggregate of Fields laid out in order. Struct identity is
// pointer identity, so recursive types are expressed by filling in Fields
// after the Struct has been referenced.
type Struct struct {
	tag
	Name   string
	Fields []Type
}

func (s *Struct) String() string {
	if s.Name != "" {
		return s.Name
	}
	var sb strings.Builder
	sb.WriteString("{")
	for i, f := range s.Fields {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(f.String())
	}
	sb.WriteString("}")
	return sb.String()
}

// Signature is the type of a code object.
type Signature struct {
	tag
	Params   []Type
	Results  []Type
	Variadic bool
}

func (s *Signature) String() string {
	var parts []string
	for _, p := range s.Params {
		parts = append(parts, p.String())
	}
	if s.Variadic {
		parts = append(parts, "...")
	}
	return fmt.Sprintf("func(%s) %d", strings.Join(parts, ", "), len(s.Results))
}

var (
	Int8    = &Basic{Name: "int8", Size: 1}
	Int16   = &Basic{Name: "int16", Size: 2}
	Int32   = &Basic{Name: "int32", Size: 4}
	Int64   = &Basic{Name: "int64", Size: 8}
	Float64 = &Basic{Name: "float64", Size: 8}
)

// PointerTo returns a pointer type to elem.
func PointerTo(elem Type) *Pointer { return &Pointer{Elem: elem} }

// IsPointer reports whether t is a pointer type.
func IsPointer(t Type) bool {
	_, ok := t.(*Pointer)
	return ok
}

// IndexedType returns the element type selected by a structured access with
// the given indices applied to a value of pointer type ptr. The first index
// steps over the pointer, the remaining ones descend into the pointee.
func IndexedType(ptr Type, indices []int64) (Type, error) {
	p, ok := ptr.(*Pointer)
	if !ok {
		return nil, fmt.Errorf("structured access on non-pointer type %v", ptr)
	}
	if len(indices) == 0 {
		return p.Elem, nil
	}

	t := p.Elem
	for _, idx := range indices[1:] {
		switch et := t.(type) {
		case *Struct:
			if idx < 0 || idx >= int64(len(et.Fields)) {
				return nil, fmt.Errorf("field index %d out of range for %v", idx, et)
			}
			t = et.Fields[idx]
		case *Array:
			t = et.Elem
		default:
			return nil, fmt.Errorf("cannot index into %v", t)
		}
	}
	return t, nil
}
