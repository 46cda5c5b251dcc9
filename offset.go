package andersen

import (
	"github.com/BarrensZeppelin/andersen/ir"
	"github.com/BarrensZeppelin/andersen/layout"
)

// OffsetOfStructuredAccess returns the byte offset computed by a constant
// structured access. Offsets of nested constant accesses on the pointer
// operand are accumulated. Non-constant address computations are never
// looked into, since they cannot be resolved to a single field. An access
// before the start of its base is logged and resolved to offset 0.
func (f *NodeFactory) OffsetOfStructuredAccess(expr *ir.ConstExpr) uint64 {
	if expr.Op != ir.OpGEP {
		violation("offset of non-structured access %v", expr)
	}

	var offset int64
	base := ir.StripPointerCasts(expr.X)
	if ce, ok := base.(*ir.ConstExpr); ok && ce.Op == ir.OpGEP {
		offset += int64(f.OffsetOfStructuredAccess(ce))
	}

	off, err := layout.IndexedOffset(f.layout, expr.X.Type(), expr.Indices)
	if err != nil {
		violation("%v: %v", expr, err)
	}
	offset += off
	if offset < 0 {
		f.log.WithField("expr", expr.String()).
			Warnf("access at negative offset %d, resolving to field 0", offset)
		return 0
	}
	return uint64(offset)
}

func (f *NodeFactory) constGEPToFieldNum(expr *ir.ConstExpr) uint64 {
	offset := f.OffsetOfStructuredAccess(expr)
	return f.FieldNumberForAccess(ir.UnderlyingObject(expr), offset)
}

// FieldNumberForAccess returns the logical field number addressed by the
// pointer base displaced by offset bytes.
func (f *NodeFactory) FieldNumberForAccess(base ir.Value, offset uint64) uint64 {
	return f.FieldNumberForType(base.Type(), offset)
}

// FieldNumberForType returns the logical field number addressed by a pointer
// of type ptr displaced by offset bytes.
//
// Arrays are collapsed, so every element of an array maps to the same field.
// An offset landing inside a scalar field, which happens with unions and
// other overlapping storage, cannot be represented: a warning is logged and
// the field number accumulated so far is returned.
func (f *NodeFactory) FieldNumberForType(ptr ir.Type, offset uint64) uint64 {
	p, ok := ptr.(*ir.Pointer)
	if !ok {
		violation("field number requested for non-pointer type %v", ptr)
	}

	t := p.Elem
	var ret uint64
	for offset > 0 {
		for {
			arr, ok := t.(*ir.Array)
			if !ok {
				break
			}
			t = arr.Elem
		}

		size := f.layout.AllocSize(t)
		if size == 0 {
			f.log.Warnf("access at offset %d into zero-sized type %v", offset, t)
			break
		}
		offset %= size

		if st, ok := t.(*ir.Struct); ok {
			sl := f.layout.StructLayout(st)
			idx := sl.ElementContainingOffset(offset)
			ret += f.layout.FieldOrdinalBase(st, idx)
			offset -= sl.ElementOffset(idx)
			t = st.Fields[idx]
		} else if offset != 0 {
			f.log.WithField("type", t.String()).
				Warnf("access at offset %d into the middle of a field, "+
					"usually caused by a union; partial aliasing is not modelled", offset)
			break
		}
	}
	return ret
}
