package andersen

// unionFind is a disjoint-set forest over node indices with union by rank
// and path compression.
type unionFind struct {
	parent []NodeIndex
	rank   []uint8
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]NodeIndex, n),
		rank:   make([]uint8, n),
	}
	for i := range uf.parent {
		uf.parent[i] = NodeIndex(i)
	}
	return uf
}

// find returns the representative of x.
func (uf *unionFind) find(x NodeIndex) NodeIndex {
	root := x
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[x] != root {
		x, uf.parent[x] = uf.parent[x], root
	}
	return root
}

// union merges the sets of x and y and returns the new representative.
func (uf *unionFind) union(x, y NodeIndex) NodeIndex {
	x, y = uf.find(x), uf.find(y)
	if x == y {
		return x
	}

	// Set the root of this subset to be node with highest rank.
	if uf.rank[x] < uf.rank[y] {
		x, y = y, x
	}

	uf.parent[y] = x
	if uf.rank[x] == uf.rank[y] {
		uf.rank[x]++
	}
	return x
}

func (uf *unionFind) len() int { return len(uf.parent) }
