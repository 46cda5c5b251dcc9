package ssagen

import (
	"fmt"
	"go/types"

	"github.com/BarrensZeppelin/andersen/ir"
	"github.com/BarrensZeppelin/andersen/layout"
	"golang.org/x/tools/go/types/typeutil"
)

// typeConverter translates go/types types into the memory model of the
// engine. The translation follows the gc layout of values:
//   - slices are {data *elem; len, cap int}
//   - interfaces are {itab uintptr; data *box}
//   - maps, channels and functions are single pointers
//   - strings are opaque two-word scalars
type typeConverter struct {
	wordSize uint64

	memo     typeutil.Map // types.Type -> ir.Type
	mapObjs  typeutil.Map // *types.Map -> *ir.Struct
	ptrMemo  map[ir.Type][]uint32
	word     *ir.Basic
	str      *ir.Basic
	opaque   *ir.Basic
	iface    *ir.Struct
	void     *ir.Struct
	basicMap map[types.BasicKind]ir.Type
}

func newTypeConverter(wordSize uint64) *typeConverter {
	c := &typeConverter{
		wordSize: wordSize,
		ptrMemo:  make(map[ir.Type][]uint32),
		word:     &ir.Basic{Name: "uintptr", Size: wordSize},
		str:      &ir.Basic{Name: "string", Size: 2 * wordSize, Align: wordSize},
		opaque:   &ir.Basic{Name: "opaque", Size: 1},
	}
	c.iface = &ir.Struct{Name: "iface", Fields: []ir.Type{c.word, ir.PointerTo(c.opaque)}}
	c.void = &ir.Struct{Name: "()"}

	b1 := &ir.Basic{Name: "bool", Size: 1}
	c.basicMap = map[types.BasicKind]ir.Type{
		types.Bool:          b1,
		types.UntypedBool:   b1,
		types.Int8:          ir.Int8,
		types.Uint8:         ir.Int8,
		types.Int16:         ir.Int16,
		types.Uint16:        ir.Int16,
		types.Int32:         ir.Int32,
		types.Uint32:        ir.Int32,
		types.UntypedRune:   ir.Int32,
		types.Int64:         ir.Int64,
		types.Uint64:        ir.Int64,
		types.Float32:       &ir.Basic{Name: "float32", Size: 4},
		types.Float64:       ir.Float64,
		types.UntypedFloat:  ir.Float64,
		types.Complex64:     &ir.Basic{Name: "complex64", Size: 8, Align: 4},
		types.Complex128:    &ir.Basic{Name: "complex128", Size: 16, Align: 8},
		types.Int:           c.word,
		types.Uint:          c.word,
		types.Uintptr:       c.word,
		types.UntypedInt:    c.word,
		types.String:        c.str,
		types.UntypedString: c.str,
		types.UnsafePointer: ir.PointerTo(c.opaque),
		types.UntypedNil:    ir.PointerTo(c.opaque),
	}
	return c
}

// convert returns the engine type of t.
func (c *typeConverter) convert(t types.Type) ir.Type {
	if tup, ok := t.(*types.Tuple); ok && tup.Len() == 0 {
		return c.void
	}
	if it := c.memo.At(t); it != nil {
		return it.(ir.Type)
	}

	// Composite types are registered before their components are converted,
	// which terminates the recursion for recursive types.
	var res ir.Type
	switch t := t.(type) {
	case *types.Basic:
		bt, ok := c.basicMap[t.Kind()]
		if !ok {
			bt = c.word
		}
		res = bt

	case *types.Named:
		if st, ok := t.Underlying().(*types.Struct); ok {
			s := &ir.Struct{Name: t.Obj().Name()}
			c.memo.Set(t, s)
			s.Fields = c.fields(st)
			return s
		}
		res = c.convert(t.Underlying())

	case *types.Pointer:
		p := &ir.Pointer{}
		c.memo.Set(t, p)
		p.Elem = c.convert(t.Elem())
		return p

	case *types.Struct:
		s := &ir.Struct{}
		c.memo.Set(t, s)
		s.Fields = c.fields(t)
		return s

	case *types.Tuple:
		s := &ir.Struct{Name: t.String()}
		c.memo.Set(t, s)
		for i := 0; i < t.Len(); i++ {
			s.Fields = append(s.Fields, c.convert(t.At(i).Type()))
		}
		return s

	case *types.Array:
		a := &ir.Array{Len: uint64(t.Len())}
		c.memo.Set(t, a)
		a.Elem = c.convert(t.Elem())
		return a

	case *types.Slice:
		p := &ir.Pointer{}
		s := &ir.Struct{Name: t.String(), Fields: []ir.Type{p, c.word, c.word}}
		c.memo.Set(t, s)
		p.Elem = c.convert(t.Elem())
		return s

	case *types.Interface, *types.TypeParam:
		res = c.iface

	case *types.Map, *types.Chan:
		res = ir.PointerTo(c.opaque)

	case *types.Signature:
		sig := &ir.Signature{Variadic: t.Variadic()}
		p := ir.PointerTo(sig)
		c.memo.Set(t, p)
		for i := 0; i < t.Params().Len(); i++ {
			sig.Params = append(sig.Params, c.convert(t.Params().At(i).Type()))
		}
		for i := 0; i < t.Results().Len(); i++ {
			sig.Results = append(sig.Results, c.convert(t.Results().At(i).Type()))
		}
		return p

	default:
		panic(fmt.Errorf("unsupported type %v (%T)", t, t))
	}

	c.memo.Set(t, res)
	return res
}

func (c *typeConverter) fields(st *types.Struct) []ir.Type {
	fields := make([]ir.Type, st.NumFields())
	for i := range fields {
		fields[i] = c.convert(st.Field(i).Type())
	}
	return fields
}

// mapObject returns the type of the object backing a map: a struct holding
// one key and one value.
func (c *typeConverter) mapObject(t *types.Map) *ir.Struct {
	if s := c.mapObjs.At(t); s != nil {
		return s.(*ir.Struct)
	}
	s := &ir.Struct{
		Name:   t.String(),
		Fields: []ir.Type{c.convert(t.Key()), c.convert(t.Elem())},
	}
	c.mapObjs.Set(t, s)
	return s
}

// pointerFields returns the field numbers of the pointer-holding fields of
// a flattened value of type t, in increasing order.
func (c *typeConverter) pointerFields(o layout.Oracle, t ir.Type) []uint32 {
	if fs, ok := c.ptrMemo[t]; ok {
		return fs
	}
	var fs []uint32
	var walk func(t ir.Type, base uint32)
	walk = func(t ir.Type, base uint32) {
		switch t := t.(type) {
		case *ir.Pointer:
			fs = append(fs, base)
		case *ir.Array:
			walk(t.Elem, base)
		case *ir.Struct:
			for i, f := range t.Fields {
				walk(f, base+uint32(o.FieldOrdinalBase(t, i)))
			}
		}
	}
	walk(t, 0)
	c.ptrMemo[t] = fs
	return fs
}

// hasPointers reports whether values of type t may hold pointers.
func (c *typeConverter) hasPointers(o layout.Oracle, t types.Type) bool {
	return len(c.pointerFields(o, c.convert(t))) > 0
}

// PointerLike reports whether t is represented by a single pointer.
func PointerLike(t types.Type) bool {
	switch t := t.(type) {
	case *types.Pointer,
		*types.Map,
		*types.Chan,
		*types.Signature:
		return true
	case *types.Basic:
		return t.Kind() == types.UnsafePointer
	case *types.Named:
		return PointerLike(t.Underlying())
	default:
		return false
	}
}
