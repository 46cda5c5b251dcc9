// Package layout answers the byte-level and field-level layout questions the
// field-sensitive node factory asks about aggregate types.
package layout

import (
	"fmt"
	"sort"

	"github.com/BarrensZeppelin/andersen/ir"
)

// Oracle reports storage sizes, struct layouts and the logical field
// numbering of aggregate types.
type Oracle interface {
	// AllocSize returns the storage size of t in bytes, including the
	// padding needed to place consecutive values of t in an array.
	AllocSize(t ir.Type) uint64
	StructLayout(s *ir.Struct) *StructLayout
	// FieldOrdinalBase returns the logical field number of element i of s.
	// Nested aggregates are flattened into the field number space of s.
	FieldOrdinalBase(s *ir.Struct, i int) uint64
	// FieldCount returns the number of logical fields of t, which is the
	// number of object nodes an allocation of t occupies.
	FieldCount(t ir.Type) uint64
}

// StructLayout is the byte layout of a struct type.
type StructLayout struct {
	Size    uint64
	Align   uint64
	Offsets []uint64
}

// ElementOffset returns the byte offset of element i.
func (l *StructLayout) ElementOffset(i int) uint64 { return l.Offsets[i] }

// ElementContainingOffset returns the index of the last element that starts
// at or before off.
func (l *StructLayout) ElementContainingOffset(off uint64) int {
	i := sort.Search(len(l.Offsets), func(i int) bool { return l.Offsets[i] > off })
	if i == 0 {
		return 0
	}
	return i - 1
}

// Layout is an Oracle using natural alignment, with basic types aligned to
// min(size, WordSize). This matches go/types.StdSizes with MaxAlign set to
// the word size.
type Layout struct {
	WordSize uint64

	structs *StructAnalyzer
	layouts map[*ir.Struct]*StructLayout
}

// New returns a Layout for the given pointer width in bytes.
func New(wordSize uint64) *Layout {
	if wordSize == 0 {
		panic(fmt.Errorf("layout: word size must be positive"))
	}
	l := &Layout{
		WordSize: wordSize,
		layouts:  make(map[*ir.Struct]*StructLayout),
	}
	l.structs = NewStructAnalyzer()
	return l
}

func align(x, a uint64) uint64 {
	return (x + a - 1) / a * a
}

func (l *Layout) alignOf(t ir.Type) uint64 {
	switch t := t.(type) {
	case *ir.Basic:
		if t.Align != 0 {
			return t.Align
		}
		if t.Size == 0 {
			return 1
		}
		if t.Size > l.WordSize {
			return l.WordSize
		}
		return t.Size
	case *ir.Pointer, *ir.Signature:
		return l.WordSize
	case *ir.Array:
		return l.alignOf(t.Elem)
	case *ir.Struct:
		return l.StructLayout(t).Align
	default:
		panic(fmt.Errorf("layout: unknown type %T", t))
	}
}

func (l *Layout) sizeOf(t ir.Type) uint64 {
	switch t := t.(type) {
	case *ir.Basic:
		return t.Size
	case *ir.Pointer, *ir.Signature:
		return l.WordSize
	case *ir.Array:
		return t.Len * l.AllocSize(t.Elem)
	case *ir.Struct:
		return l.StructLayout(t).Size
	default:
		panic(fmt.Errorf("layout: unknown type %T", t))
	}
}

func (l *Layout) AllocSize(t ir.Type) uint64 {
	return align(l.sizeOf(t), l.alignOf(t))
}

func (l *Layout) StructLayout(s *ir.Struct) *StructLayout {
	if sl, ok := l.layouts[s]; ok {
		return sl
	}

	sl := &StructLayout{Align: 1, Offsets: make([]uint64, len(s.Fields))}
	// Recursion through a struct value (not through a pointer) is not a
	// valid type, so the placeholder is never observed with a size.
	l.layouts[s] = sl

	var off uint64
	for i, f := range s.Fields {
		a := l.alignOf(f)
		if a > sl.Align {
			sl.Align = a
		}
		off = align(off, a)
		sl.Offsets[i] = off
		off += l.sizeOf(f)
	}
	sl.Size = align(off, sl.Align)
	return sl
}

func (l *Layout) FieldOrdinalBase(s *ir.Struct, i int) uint64 {
	return l.structs.Info(s).Ordinal(i)
}

func (l *Layout) FieldCount(t ir.Type) uint64 {
	return l.structs.FieldCount(t)
}

// IndexedOffset returns the byte offset selected by applying a structured
// access with constant indices to a pointer of type ptr.
func IndexedOffset(o Oracle, ptr ir.Type, indices []int64) (int64, error) {
	p, ok := ptr.(*ir.Pointer)
	if !ok {
		return 0, fmt.Errorf("indexed offset of non-pointer type %v", ptr)
	}
	if len(indices) == 0 {
		return 0, nil
	}

	t := p.Elem
	off := indices[0] * int64(o.AllocSize(t))
	for _, idx := range indices[1:] {
		switch et := t.(type) {
		case *ir.Struct:
			if idx < 0 || idx >= int64(len(et.Fields)) {
				return 0, fmt.Errorf("field index %d out of range for %v", idx, et)
			}
			off += int64(o.StructLayout(et).ElementOffset(int(idx)))
			t = et.Fields[idx]
		case *ir.Array:
			off += idx * int64(o.AllocSize(et.Elem))
			t = et.Elem
		default:
			return 0, fmt.Errorf("cannot index into %v", t)
		}
	}
	return off, nil
}
