package andersen

import (
	"golang.org/x/tools/container/intsets"
)

// nodeset is a set of node indices.
type nodeset struct {
	intsets.Sparse
}

func (ns *nodeset) add(n NodeIndex) bool {
	return ns.Sparse.Insert(int(n))
}

func (ns *nodeset) has(n NodeIndex) bool {
	return ns.Sparse.Has(int(n))
}

func (ns *nodeset) addAll(y *nodeset) bool {
	return ns.UnionWith(&y.Sparse)
}

// appendTo appends the members of the set to buf in increasing order.
func (ns *nodeset) appendTo(buf []NodeIndex) []NodeIndex {
	var space [64]int
	for _, x := range ns.AppendTo(space[:0]) {
		buf = append(buf, NodeIndex(x))
	}
	return buf
}
