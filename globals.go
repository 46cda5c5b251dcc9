package andersen

import (
	"github.com/BarrensZeppelin/andersen/ir"
)

// ModuleBuilder builds the nodes and constraints of the global entities of
// a module: global variables with their initializers, and function objects.
type ModuleBuilder struct {
	Module *ir.Module
}

func (b ModuleBuilder) IdentifyObjects(f *NodeFactory) {
	for _, g := range b.Module.Globals {
		f.CreateValueNode(g)
		f.CreateObjectFor(g, g.Elem)
	}

	for _, fun := range b.Module.Functions {
		f.CreateValueNode(fun)
		f.CreateObjectBlock(fun, uint64(CallFirstArgPos+len(fun.Params)))
		f.CreateReturnNode(fun)
		if fun.Sig.Variadic {
			f.CreateVarargNode(fun)
		}
		for _, p := range fun.Params {
			f.CreateValueNode(p)
		}
	}
}

func (b ModuleBuilder) CollectConstraints(f *NodeFactory, cs *Constraints) {
	for _, g := range b.Module.Globals {
		obj := mustObject(f, g)
		cs.AddAddrOf(mustValue(f, g), obj)
		if g.Init != nil {
			initialize(f, cs, obj, g.Elem, g.Init)
		}
	}

	for _, fun := range b.Module.Functions {
		obj := mustObject(f, fun)
		cs.AddAddrOf(mustValue(f, fun), obj)

		ret, _ := f.GetReturnNodeFor(fun)
		if fun.External {
			cs.AddCopy(ret, UniversalValue)
		}
		cs.AddCopy(f.GetOffsetObjectNode(obj, CallReturnPos), ret)
		for i, p := range fun.Params {
			cs.AddCopy(mustValue(f, p), f.GetOffsetObjectNode(obj, uint64(CallFirstArgPos+i)))
		}
	}
}

// initialize emits the constraints storing the constant c of type t into
// the object node obj.
func initialize(f *NodeFactory, cs *Constraints, obj NodeIndex, t ir.Type, c ir.Const) {
	switch t := t.(type) {
	case *ir.Struct:
		agg, ok := c.(*ir.Aggregate)
		if !ok {
			// Zero initializers hold no pointers.
			return
		}
		for i, e := range agg.Elems {
			field := f.GetOffsetObjectNode(obj, f.Layout().FieldOrdinalBase(t, i))
			initialize(f, cs, field, t.Fields[i], e)
		}

	case *ir.Array:
		agg, ok := c.(*ir.Aggregate)
		if !ok {
			return
		}
		for _, e := range agg.Elems {
			initialize(f, cs, obj, t.Elem, e)
		}

	case *ir.Pointer:
		if ref, found := f.GetObjectNodeForConstant(c); found {
			cs.AddAddrOf(obj, ref)
		} else {
			violation("initializer %v references an entity without an object", c)
		}

	default:
		// Pointers stored as integers go through the integer node.
		if ce, ok := c.(*ir.ConstExpr); ok && ce.Op == ir.OpPtrToInt {
			if ref, found := f.GetObjectNodeForConstant(ce.X); found {
				cs.AddAddrOf(IntValue, ref)
			}
			cs.AddCopy(obj, f.GetValueNodeForConstant(ce))
		}
	}
}

func mustValue(f *NodeFactory, e ir.Entity) NodeIndex {
	n, ok := f.GetValueNodeFor(e)
	if !ok {
		violation("no value node for %v", e)
	}
	return n
}

func mustObject(f *NodeFactory, e ir.Entity) NodeIndex {
	n, ok := f.GetObjectNodeFor(e)
	if !ok {
		violation("no object node for %v", e)
	}
	return n
}

// Stages adapts a pair of functions to the Builder interface. Nil stages do
// nothing.
type Stages struct {
	Identify func(f *NodeFactory)
	Collect  func(f *NodeFactory, cs *Constraints)
}

func (s Stages) IdentifyObjects(f *NodeFactory) {
	if s.Identify != nil {
		s.Identify(f)
	}
}

func (s Stages) CollectConstraints(f *NodeFactory, cs *Constraints) {
	if s.Collect != nil {
		s.Collect(f, cs)
	}
}

// Chain runs the stages of several builders in order.
func Chain(bs ...Builder) Builder { return chain(bs) }

type chain []Builder

func (c chain) IdentifyObjects(f *NodeFactory) {
	for _, b := range c {
		b.IdentifyObjects(f)
	}
}

func (c chain) CollectConstraints(f *NodeFactory, cs *Constraints) {
	for _, b := range c {
		b.CollectConstraints(f, cs)
	}
}
