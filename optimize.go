package andersen

import (
	log "github.com/sirupsen/logrus"
	"github.com/yourbasic/graph"
)

// OptimizeOptions selects the offline optimizations run before solving.
type OptimizeOptions struct {
	CollapseCycles      bool
	PointerEquivalence  bool
	LocationEquivalence bool
}

// Equivalences records the node merges found by Optimize. Holders (nodes
// owning a points-to set) are merged into representatives, and objects that
// always appear together in points-to sets share a label.
type Equivalences struct {
	rep     []NodeIndex
	label   []NodeIndex
	members map[NodeIndex][]NodeIndex

	// Number of nodes merged away by each optimization.
	CycleMerged    int
	PointerMerged  int
	LocationMerged int

	ConstraintsIn, ConstraintsOut int
}

// IdentityEquivalences returns equivalences that merge nothing.
func IdentityEquivalences(n int) *Equivalences {
	eq := &Equivalences{
		rep:     make([]NodeIndex, n),
		label:   make([]NodeIndex, n),
		members: make(map[NodeIndex][]NodeIndex),
	}
	for i := range eq.rep {
		eq.rep[i] = NodeIndex(i)
		eq.label[i] = NodeIndex(i)
	}
	return eq
}

// Representative returns the node whose points-to set stands for n.
func (eq *Equivalences) Representative(n NodeIndex) NodeIndex { return eq.rep[n] }

// Label returns the element standing for object n in points-to sets.
func (eq *Equivalences) Label(n NodeIndex) NodeIndex { return eq.label[n] }

// Members returns the objects represented by label l, in increasing order.
func (eq *Equivalences) Members(l NodeIndex) []NodeIndex {
	if ms, ok := eq.members[l]; ok {
		return ms
	}
	return []NodeIndex{l}
}

func (eq *Equivalences) Len() int { return len(eq.rep) }

type optimizer struct {
	f   *NodeFactory
	cs  []Constraint
	uf  *unionFind
	eq  *Equivalences
	log *log.Entry
}

// Optimize finds equivalent nodes in the constraint system of f and returns
// the constraints rewritten in terms of representatives and labels, with
// duplicates and trivial copies removed. The least solution of the rewritten
// system, read through the returned equivalences, is identical to the least
// solution of cs.
func Optimize(f *NodeFactory, cs []Constraint, opts OptimizeOptions, logger *log.Entry) ([]Constraint, *Equivalences) {
	if logger == nil {
		logger = defaultLogger()
	}
	n := f.NumNodes()
	o := &optimizer{
		f:   f,
		cs:  cs,
		uf:  newUnionFind(n),
		eq:  IdentityEquivalences(n),
		log: logger,
	}

	// Labelling walks the copy graph in topological order, which requires
	// its cycles to be gone.
	if opts.CollapseCycles || opts.PointerEquivalence {
		o.collapseCycles()
	}
	if opts.PointerEquivalence {
		o.pointerEquivalence()
	}
	for i := range o.eq.rep {
		o.eq.rep[i] = o.uf.find(NodeIndex(i))
	}
	if opts.LocationEquivalence {
		o.locationEquivalence()
	}

	out := o.rewrite()
	o.eq.ConstraintsIn, o.eq.ConstraintsOut = len(cs), len(out)
	o.log.WithFields(log.Fields{
		"cycles":      o.eq.CycleMerged,
		"pointer":     o.eq.PointerMerged,
		"location":    o.eq.LocationMerged,
		"constraints": len(out),
	}).Debugf("optimized %d constraints", len(cs))
	return out, o.eq
}

func (o *optimizer) merge(x, y NodeIndex) bool {
	if o.uf.find(x) == o.uf.find(y) {
		return false
	}
	o.uf.union(x, y)
	return true
}

// collapseCycles merges the strongly connected components of the graph of
// offset-free copy constraints. All nodes of a component end up with equal
// points-to sets.
func (o *optimizer) collapseCycles() {
	g := graph.New(o.uf.len())
	for _, c := range o.cs {
		if c.Kind == Copy && c.Dst != c.Src {
			g.Add(int(o.uf.find(c.Src)), int(o.uf.find(c.Dst)))
		}
	}

	for _, comp := range graph.StrongComponents(g) {
		for _, v := range comp[1:] {
			if o.merge(NodeIndex(comp[0]), NodeIndex(v)) {
				o.eq.CycleMerged++
			}
		}
	}
}

// pointerEquivalence assigns every holder a set of labels such that holders
// with equal sets are guaranteed to have equal points-to sets, and merges
// them. Indirect holders, whose sets may grow through loads, field address
// computations or stores, get a unique fresh label. Direct holders inherit
// the labels of their copy predecessors plus one label per object whose
// address they take.
func (o *optimizer) pointerEquivalence() {
	n := o.uf.len()
	find := o.uf.find

	indirect := make([]bool, n)
	for i := 0; i < n; i++ {
		if IsSentinel(NodeIndex(i)) || o.f.KindOf(NodeIndex(i)) == ObjectNode {
			indirect[find(NodeIndex(i))] = true
		}
	}
	for _, c := range o.cs {
		if c.Kind == Load || c.Kind == FieldAddr {
			indirect[find(c.Dst)] = true
		}
	}

	// Object labels are the object indices. Fresh labels are offset by n.
	labels := make([]nodeset, n)
	for i := 0; i < n; i++ {
		if r := NodeIndex(i); find(r) == r && indirect[r] {
			labels[r].add(NodeIndex(n) + r)
		}
	}

	g := graph.New(n)
	for _, c := range o.cs {
		switch c.Kind {
		case AddrOf:
			if d := find(c.Dst); !indirect[d] {
				labels[d].add(c.Src)
			}
		case Copy:
			if s, d := find(c.Src), find(c.Dst); s != d {
				g.Add(int(s), int(d))
			}
		}
	}

	order, ok := graph.TopSort(g)
	if !ok {
		panic("copy graph has cycles after collapsing")
	}
	for _, v := range order {
		src := &labels[v]
		g.Visit(v, func(w int, _ int64) bool {
			if !indirect[w] {
				labels[w].addAll(src)
			}
			return false
		})
	}

	classes := make(map[string]NodeIndex)
	empty := InvalidIndex
	for i := 0; i < n; i++ {
		r := NodeIndex(i)
		if find(r) != r {
			continue
		}

		if labels[r].IsEmpty() {
			if empty == InvalidIndex {
				empty = r
			} else if o.merge(empty, r) {
				o.eq.PointerMerged++
			}
			continue
		}

		key := labels[r].String()
		if prev, found := classes[key]; found {
			if o.merge(prev, r) {
				o.eq.PointerMerged++
			}
		} else {
			classes[key] = r
		}
	}
}

// locationEquivalence gives one label to single-node objects whose address
// is taken by exactly the same set of holders. Such objects are members of
// the same points-to sets throughout solving.
func (o *optimizer) locationEquivalence() {
	takers := make(map[NodeIndex]*nodeset)
	for _, c := range o.cs {
		if c.Kind != AddrOf || IsSentinel(c.Src) {
			continue
		}
		if _, size := o.f.Block(c.Src); size != 1 {
			continue
		}
		ts := takers[c.Src]
		if ts == nil {
			ts = new(nodeset)
			takers[c.Src] = ts
		}
		ts.add(o.eq.rep[c.Dst])
	}

	classes := make(map[string]NodeIndex)
	for i := NodeIndex(NumReserved); int(i) < o.eq.Len(); i++ {
		ts := takers[i]
		if ts == nil {
			continue
		}
		key := ts.String()
		l, found := classes[key]
		if !found {
			classes[key] = i
			continue
		}
		o.eq.label[i] = l
		if _, ok := o.eq.members[l]; !ok {
			o.eq.members[l] = []NodeIndex{l}
		}
		o.eq.members[l] = append(o.eq.members[l], i)
		o.eq.LocationMerged++
	}
}

func (o *optimizer) rewrite() []Constraint {
	seen := make(map[Constraint]struct{}, len(o.cs))
	out := make([]Constraint, 0, len(o.cs))
	for _, c := range o.cs {
		c = o.eq.rewrite(c)
		if c.Kind == Copy && c.Dst == c.Src {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// rewrite expresses c in terms of representatives and labels.
func (eq *Equivalences) rewrite(c Constraint) Constraint {
	c.Dst = eq.rep[c.Dst]
	if c.Kind == AddrOf {
		c.Src = eq.label[c.Src]
	} else {
		c.Src = eq.rep[c.Src]
	}
	return c
}
