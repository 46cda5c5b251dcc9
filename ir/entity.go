package ir

import (
	"fmt"
	"strings"
)

// Entity is an opaque, comparable handle for something in the analysed
// program that may own an abstract node. Any comparable value with a String
// method qualifies, so front ends can use their own program values directly.
type Entity interface {
	String() string
}

// Value is an entity with a static type.
type Value interface {
	Entity
	Type() Type
}

// Const is a constant value. Constants are resolved structurally by the node
// factory instead of through its entity maps, except for global values.
type Const interface {
	Value
	isConst()
}

// GlobalValue is a constant naming a global memory location (a global
// variable or a function). Global values always own real nodes.
type GlobalValue interface {
	Const
	isGlobal()
}

type constTag struct{}

func (constTag) isConst() {}

// Global is a global variable of type Elem. As a value it denotes the
// address of the variable, so its Type is *Elem.
type Global struct {
	constTag
	Name string
	Elem Type
	Init Const

	ptr *Pointer
}

func (g *Global) String() string { return "@" + g.Name }
func (g *Global) isGlobal()      {}
func (g *Global) Type() Type {
	if g.ptr == nil {
		g.ptr = PointerTo(g.Elem)
	}
	return g.ptr
}

// Function is a function. As a value it denotes a pointer to its code
// object.
type Function struct {
	constTag
	Name   string
	Sig    *Signature
	Params []*Local
	// External functions have no body; their behaviour is left to the
	// library model of the constraint builder.
	External bool

	ptr *Pointer
}

func (f *Function) String() string { return "@" + f.Name }
func (f *Function) isGlobal()      {}
func (f *Function) Type() Type {
	if f.ptr == nil {
		f.ptr = PointerTo(f.Sig)
	}
	return f.ptr
}

// Local is a non-constant value: an instruction result, a parameter or a
// synthetic register.
type Local struct {
	Name string
	Typ  Type
}

func (l *Local) String() string { return "%" + l.Name }
func (l *Local) Type() Type     { return l.Typ }

// Alloc is a stack or heap allocation site of an Elem. As a value it is the
// pointer returned by the allocation.
type Alloc struct {
	Name string
	Elem Type
	Heap bool

	ptr *Pointer
}

func (a *Alloc) String() string {
	if a.Heap {
		return fmt.Sprintf("%%%s = new %v", a.Name, a.Elem)
	}
	return fmt.Sprintf("%%%s = alloca %v", a.Name, a.Elem)
}

func (a *Alloc) Type() Type {
	if a.ptr == nil {
		a.ptr = PointerTo(a.Elem)
	}
	return a.ptr
}

// Module is a collection of global entities.
type Module struct {
	Globals   []*Global
	Functions []*Function
}

func (m *Module) String() string {
	var names []string
	for _, g := range m.Globals {
		names = append(names, g.String())
	}
	for _, f := range m.Functions {
		names = append(names, f.String())
	}
	return strings.Join(names, " ")
}
