package andersen

import (
	"github.com/BarrensZeppelin/andersen/internal/queue"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

type solverState struct {
	complex []Constraint // load, store and field address constraints attached to this node
	copyTo  nodeset      // simple copy constraint edges
	pts     nodeset      // points-to set of this node
	prevPTS nodeset      // pts(n) in previous iteration (for difference propagation)
}

// SolverStats counts the work done by a Solver.
type SolverStats struct {
	Pops         int
	Growths      int
	DynamicEdges int
}

// SolverOptions configures a Solver.
type SolverOptions struct {
	// OnGrow, if set, is called every time the points-to set of a
	// representative grows, with the new contents of the set.
	OnGrow func(node NodeIndex, pts []NodeIndex)
	Log    *log.Entry
}

// Solver computes the least solution of a constraint system by worklist
// iteration with difference propagation.
type Solver struct {
	f      *NodeFactory
	eq     *Equivalences
	nodes  []solverState
	work   queue.Queue[NodeIndex]
	onGrow func(NodeIndex, []NodeIndex)
	stats  SolverStats
	log    *log.Entry

	deltaSpace []NodeIndex
}

// NewSolver returns a solver for the constraints over the nodes of f. The
// constraints may refer to any node; holders are redirected to their
// representative in eq, and addresses to their label. A nil eq merges
// nothing.
func NewSolver(f *NodeFactory, constraints []Constraint, eq *Equivalences, opts SolverOptions) *Solver {
	if eq == nil {
		eq = IdentityEquivalences(f.NumNodes())
	} else if eq.Len() != f.NumNodes() {
		violation("equivalences cover %d nodes, factory has %d", eq.Len(), f.NumNodes())
	}
	if opts.Log == nil {
		opts.Log = defaultLogger()
	}

	s := &Solver{
		f:      f,
		eq:     eq,
		nodes:  make([]solverState, f.NumNodes()),
		onGrow: opts.OnGrow,
		log:    opts.Log,
	}

	for _, c := range constraints {
		c.validate(f)
		c = eq.rewrite(c)
		switch c.Kind {
		case AddrOf:
			s.nodes[c.Dst].pts.add(c.Src)
		case Copy:
			if c.Dst != c.Src {
				s.nodes[c.Src].copyTo.add(c.Dst)
			}
		default:
			st := &s.nodes[c.ptr()]
			st.complex = append(st.complex, c)
		}
	}

	for i := range s.nodes {
		if !s.nodes[i].pts.IsEmpty() {
			s.grew(NodeIndex(i))
		}
	}
	return s
}

// Solve runs the solver to a fixed point. Calling Solve again on a solved
// system does nothing.
func (s *Solver) Solve() {
	var delta nodeset
	for !s.work.Empty() {
		id := s.work.Pop()
		s.stats.Pops++
		s.log.Tracef("pop n%d", id)
		n := &s.nodes[id]

		// Difference propagation.
		delta.Difference(&n.pts.Sparse, &n.prevPTS.Sparse)
		if delta.IsEmpty() {
			continue
		}
		n.prevPTS.Copy(&n.pts.Sparse)

		s.solveConstraints(n, &delta)
	}
}

func (s *Solver) solveConstraints(n *solverState, delta *nodeset) {
	s.deltaSpace = delta.appendTo(s.deltaSpace[:0])
	for _, c := range n.complex {
		switch c.Kind {
		case Load:
			var changed bool
			s.eachTarget(c.Offset, func(k NodeIndex) {
				if s.onlineCopy(c.Dst, s.eq.rep[k]) {
					changed = true
				}
			})
			if changed {
				s.grew(c.Dst)
			}

		case Store:
			s.eachTarget(c.Offset, func(k NodeIndex) {
				if koff := s.eq.rep[k]; s.onlineCopy(koff, c.Src) {
					s.grew(koff)
				}
			})

		case FieldAddr:
			dst := &s.nodes[c.Dst]
			var changed bool
			s.eachTarget(c.Offset, func(k NodeIndex) {
				if dst.pts.add(s.eq.label[k]) {
					changed = true
				}
			})
			if changed {
				s.grew(c.Dst)
			}
		}
	}

	var space [16]int
	for _, x := range n.copyTo.AppendTo(space[:0]) {
		mid := NodeIndex(x)
		if s.nodes[mid].pts.addAll(delta) {
			s.grew(mid)
		}
	}
}

// eachTarget calls fn with field off of every object in the current delta.
func (s *Solver) eachTarget(off uint32, fn func(NodeIndex)) {
	for _, l := range s.deltaSpace {
		for _, o := range s.eq.Members(l) {
			fn(s.f.OffsetObjectNode(o, off))
		}
	}
}

// onlineCopy adds the edge dst ⊇ src unless it is already present, and
// reports whether pts(dst) changed.
func (s *Solver) onlineCopy(dst, src NodeIndex) bool {
	if dst != src {
		if nsrc := &s.nodes[src]; nsrc.copyTo.add(dst) {
			s.stats.DynamicEdges++
			s.log.Tracef("dynamic copy n%d <- n%d", dst, src)
			return s.nodes[dst].pts.addAll(&nsrc.pts)
		}
	}
	return false
}

func (s *Solver) grew(id NodeIndex) {
	s.stats.Growths++
	s.work.Push(id)
	if s.onGrow != nil {
		s.onGrow(id, s.expand(&s.nodes[id].pts))
	}
}

func (s *Solver) expand(pts *nodeset) []NodeIndex {
	var res []NodeIndex
	for _, l := range pts.appendTo(nil) {
		res = append(res, s.eq.Members(l)...)
	}
	slices.Sort(res)
	return slices.Compact(res)
}

// PointsTo returns the objects n may point to, in increasing order.
func (s *Solver) PointsTo(n NodeIndex) []NodeIndex {
	if int(n) >= len(s.nodes) {
		violation("node #%d out of range (%d nodes)", n, len(s.nodes))
	}
	return s.expand(&s.nodes[s.eq.rep[n]].pts)
}

func (s *Solver) Stats() SolverStats { return s.stats }

func (s *Solver) Equivalences() *Equivalences { return s.eq }
