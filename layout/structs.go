package layout

import (
	"github.com/BarrensZeppelin/andersen/ir"
)

// StructInfo records the flattened field numbering of a struct type.
type StructInfo struct {
	ordinals []uint64
	count    uint64
}

// Ordinal returns the logical field number of element i.
func (si *StructInfo) Ordinal(i int) uint64 { return si.ordinals[i] }

// Len returns the number of logical fields of the struct.
func (si *StructInfo) Len() uint64 { return si.count }

// StructAnalyzer is the struct-layout pre-pass. Arrays are collapsed to a
// single representative element and nested structs are expanded in place,
// so every scalar or pointer leaf of a struct gets its own field number.
type StructAnalyzer struct {
	infos map[*ir.Struct]*StructInfo
}

func NewStructAnalyzer() *StructAnalyzer {
	return &StructAnalyzer{infos: make(map[*ir.Struct]*StructInfo)}
}

// Info returns the field numbering of s, computing it on first use.
func (sa *StructAnalyzer) Info(s *ir.Struct) *StructInfo {
	if si, ok := sa.infos[s]; ok {
		return si
	}

	si := &StructInfo{ordinals: make([]uint64, len(s.Fields))}
	sa.infos[s] = si
	for i, f := range s.Fields {
		si.ordinals[i] = si.count
		si.count += sa.FieldCount(f)
	}
	if si.count == 0 {
		// Empty structs still occupy a node.
		si.count = 1
	}
	return si
}

// FieldCount returns the number of logical fields of t.
func (sa *StructAnalyzer) FieldCount(t ir.Type) uint64 {
	for {
		a, ok := t.(*ir.Array)
		if !ok {
			break
		}
		t = a.Elem
	}
	if s, ok := t.(*ir.Struct); ok {
		return sa.Info(s).Len()
	}
	return 1
}
