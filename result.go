package andersen

import (
	"fmt"
	"strings"

	"github.com/BarrensZeppelin/andersen/ir"
)

// Result is the solved points-to relation of a program.
type Result struct {
	Equivalences *Equivalences
	Stats        SolverStats

	f      *NodeFactory
	solver *Solver
}

func newResult(f *NodeFactory, s *Solver) *Result {
	return &Result{
		Equivalences: s.Equivalences(),
		Stats:        s.Stats(),
		f:            f,
		solver:       s,
	}
}

// Factory returns the frozen node factory the result was computed over.
func (r *Result) Factory() *NodeFactory { return r.f }

// PointsTo returns the objects node n may point to, in increasing order.
func (r *Result) PointsTo(n NodeIndex) []NodeIndex {
	return r.solver.PointsTo(n)
}

// PointsToEntity returns the points-to set of the value node of e, falling
// back to its object node. The second result is false if e has no node.
func (r *Result) PointsToEntity(e ir.Entity) ([]NodeIndex, bool) {
	if n, ok := r.f.GetValueNodeFor(e); ok {
		return r.PointsTo(n), true
	}
	if n, ok := r.f.GetObjectNodeFor(e); ok {
		return r.PointsTo(n), true
	}
	return nil, false
}

// MayAlias reports whether the points-to sets of a and b intersect.
func (r *Result) MayAlias(a, b NodeIndex) bool {
	pa, pb := r.PointsTo(a), r.PointsTo(b)
	for i, j := 0, 0; i < len(pa) && j < len(pb); {
		switch {
		case pa[i] == pb[j]:
			return true
		case pa[i] < pb[j]:
			i++
		default:
			j++
		}
	}
	return false
}

func (r *Result) KindOf(n NodeIndex) NodeKind    { return r.f.KindOf(n) }
func (r *Result) OriginOf(n NodeIndex) ir.Entity { return r.f.OriginOf(n) }
func (r *Result) NumNodes() int                  { return r.f.NumNodes() }

// Pointer returns a handle for the value node of v. Values without a node
// do not point anywhere.
func (r *Result) Pointer(v ir.Entity) *Pointer {
	n, ok := r.f.GetValueNodeFor(v)
	if !ok {
		n = InvalidIndex
	}
	return &Pointer{r, n}
}

type Pointer struct {
	res  *Result
	node NodeIndex
}

func (p *Pointer) Node() NodeIndex { return p.node }

func (p *Pointer) MayAlias(o *Pointer) bool {
	if p.node == InvalidIndex || o.node == InvalidIndex {
		return false
	}
	return p.res.MayAlias(p.node, o.node)
}

// PointsTo returns the origins of the objects p may point to. Field nodes
// are reported by their description.
func (p *Pointer) PointsTo() []string {
	if p.node == InvalidIndex {
		return nil
	}
	pts := p.res.PointsTo(p.node)
	ret := make([]string, len(pts))
	for i, o := range pts {
		ret[i] = p.res.f.Describe(o)
	}
	return ret
}

// String dumps every non-empty points-to set.
func (r *Result) String() string {
	var sb strings.Builder
	for i := 0; i < r.f.NumNodes(); i++ {
		n := NodeIndex(i)
		pts := r.PointsTo(n)
		if len(pts) == 0 {
			continue
		}
		names := make([]string, len(pts))
		for j, o := range pts {
			names[j] = r.f.Describe(o)
		}
		fmt.Fprintf(&sb, "%d %s -> {%s}\n", n, r.f.Describe(n), strings.Join(names, ", "))
	}
	return sb.String()
}
