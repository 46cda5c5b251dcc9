package andersen

import (
	"math/rand"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solve(f *NodeFactory, cs *Constraints, opts SolverOptions) *Solver {
	f.Freeze()
	s := NewSolver(f, cs.List(), nil, opts)
	s.Solve()
	return s
}

func TestSolverBasics(t *testing.T) {
	t.Run("AddressFlow", func(t *testing.T) {
		// p = &a; q = p; *q = &b; r = *p
		f, _ := newTestFactory()
		p, q, r, tb := f.CreateValueNode(nil), f.CreateValueNode(nil), f.CreateValueNode(nil), f.CreateValueNode(nil)
		a, b := f.CreateObjectNode(nil), f.CreateObjectNode(nil)

		cs := NewConstraints(f)
		cs.AddAddrOf(p, a)
		cs.AddCopy(q, p)
		cs.AddAddrOf(tb, b)
		cs.AddStore(q, tb, 0)
		cs.AddLoad(r, p, 0)

		s := solve(f, cs, SolverOptions{})
		assert.Equal(t, []NodeIndex{a}, s.PointsTo(p))
		assert.Equal(t, []NodeIndex{a}, s.PointsTo(q))
		assert.Equal(t, []NodeIndex{b}, s.PointsTo(a))
		assert.Equal(t, []NodeIndex{b}, s.PointsTo(r))
		assert.Empty(t, s.PointsTo(b))
	})

	t.Run("Fields", func(t *testing.T) {
		// x = &s; y = &x->f1; *y = &c; z = x->f1 (load with offset)
		f, _ := newTestFactory()
		x, y, z, tc := f.CreateValueNode(nil), f.CreateValueNode(nil), f.CreateValueNode(nil), f.CreateValueNode(nil)
		s := f.CreateObjectBlock(nil, 3)
		c := f.CreateObjectNode(nil)

		cs := NewConstraints(f)
		cs.AddAddrOf(x, s)
		cs.AddFieldAddr(y, x, 1)
		cs.AddAddrOf(tc, c)
		cs.AddStore(y, tc, 0)
		cs.AddLoad(z, x, 1)

		sv := solve(f, cs, SolverOptions{})
		assert.Equal(t, []NodeIndex{s + 1}, sv.PointsTo(y))
		assert.Equal(t, []NodeIndex{c}, sv.PointsTo(s+1))
		assert.Empty(t, sv.PointsTo(s))
		assert.Equal(t, []NodeIndex{c}, sv.PointsTo(z))
	})

	t.Run("FieldAddrClampsToBlock", func(t *testing.T) {
		f, _ := newTestFactory()
		x, y := f.CreateValueNode(nil), f.CreateValueNode(nil)
		o := f.CreateObjectNode(nil)
		f.CreateObjectNode(nil)

		cs := NewConstraints(f)
		cs.AddAddrOf(x, o)
		cs.AddFieldAddr(y, x, 1)
		assert.Equal(t, []NodeIndex{o}, solve(f, cs, SolverOptions{}).PointsTo(y))
	})

	t.Run("TracesPops", func(t *testing.T) {
		f, _ := newTestFactory()
		logger, hook := test.NewNullLogger()
		logger.SetLevel(log.TraceLevel)
		p, q := f.CreateValueNode(nil), f.CreateValueNode(nil)
		a := f.CreateObjectNode(nil)

		cs := NewConstraints(f)
		cs.AddAddrOf(p, a)
		cs.AddCopy(q, p)
		s := solve(f, cs, SolverOptions{Log: log.NewEntry(logger)})

		var pops int
		for _, e := range hook.AllEntries() {
			if e.Level == log.TraceLevel && strings.HasPrefix(e.Message, "pop ") {
				pops++
			}
		}
		assert.NotZero(t, pops)
		assert.Equal(t, s.Stats().Pops, pops)
	})

	t.Run("Violations", func(t *testing.T) {
		f, _ := newTestFactory()
		v, o := f.CreateValueNode(nil), f.CreateObjectNode(nil)
		cs := NewConstraints(f)
		assertViolation(t, func() { cs.AddAddrOf(v, v) })
		assertViolation(t, func() { cs.Add(Constraint{Kind: Copy, Dst: v, Src: o, Offset: 1}) })
		assertViolation(t, func() { cs.Add(Constraint{Kind: AddrOf, Dst: v, Src: o, Offset: 1}) })
		assertViolation(t, func() { cs.AddCopy(v, o+1) })
		assertViolation(t, func() { cs.Add(Constraint{Kind: ConstraintKind(9), Dst: v, Src: o}) })
		assert.Zero(t, cs.Len())

		assertViolation(t, func() {
			NewSolver(f, []Constraint{{Kind: Copy, Dst: v, Src: 100}}, nil, SolverOptions{})
		})
	})
}

// randomSystem generates a constraint system over value nodes and a mix of
// single objects and object blocks.
func randomSystem(seed int64) (*NodeFactory, *Constraints) {
	rnd := rand.New(rand.NewSource(seed))
	f, _ := newTestFactory()

	var values, objects []NodeIndex
	for i := 0; i < 30; i++ {
		values = append(values, f.CreateValueNode(nil))
	}
	for i := 0; i < 12; i++ {
		if i%3 == 0 {
			base := f.CreateObjectBlock(nil, 3)
			objects = append(objects, base, base+1, base+2)
		} else {
			objects = append(objects, f.CreateObjectNode(nil))
		}
	}

	val := func() NodeIndex { return values[rnd.Intn(len(values))] }
	obj := func() NodeIndex { return objects[rnd.Intn(len(objects))] }
	holder := func() NodeIndex {
		if rnd.Intn(6) == 0 {
			return obj()
		}
		return val()
	}

	cs := NewConstraints(f)
	addBaseConstraints(cs)
	for i := 0; i < 70; i++ {
		off := uint32(rnd.Intn(3))
		switch rnd.Intn(8) {
		case 0, 1:
			cs.AddAddrOf(holder(), obj())
		case 2, 3, 4:
			cs.AddCopy(holder(), holder())
		case 5:
			cs.AddLoad(val(), val(), off)
		case 6:
			cs.AddStore(val(), holder(), off)
		case 7:
			cs.AddFieldAddr(val(), val(), off)
		}
	}
	// A few shared address-taking patterns and copy cycles.
	a, b := f.CreateObjectNode(nil), f.CreateObjectNode(nil)
	for _, v := range values[:4] {
		cs.AddAddrOf(v, a)
		cs.AddAddrOf(v, b)
	}
	for i := 0; i+1 < 8; i++ {
		cs.AddCopy(values[i+1], values[i])
	}
	cs.AddCopy(values[0], values[7])
	cs.AddCopy(values[10], UniversalValue)
	cs.AddCopy(values[11], NullValue)
	return f, cs
}

func TestSolverSoundness(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		f, cs := randomSystem(seed)
		s := solve(f, cs, SolverOptions{})

		has := func(n NodeIndex, x NodeIndex) bool {
			for _, y := range s.PointsTo(n) {
				if x == y {
					return true
				}
			}
			return false
		}
		subset := func(dst, src NodeIndex) bool {
			for _, x := range s.PointsTo(src) {
				if !has(dst, x) {
					return false
				}
			}
			return true
		}

		for _, c := range cs.List() {
			switch c.Kind {
			case AddrOf:
				assert.True(t, has(c.Dst, c.Src), "seed %d: %v", seed, c)
			case Copy:
				assert.True(t, subset(c.Dst, c.Src), "seed %d: %v", seed, c)
			case Load:
				for _, o := range s.PointsTo(c.Src) {
					assert.True(t, subset(c.Dst, f.OffsetObjectNode(o, c.Offset)), "seed %d: %v", seed, c)
				}
			case Store:
				for _, o := range s.PointsTo(c.Dst) {
					assert.True(t, subset(f.OffsetObjectNode(o, c.Offset), c.Src), "seed %d: %v", seed, c)
				}
			case FieldAddr:
				for _, o := range s.PointsTo(c.Src) {
					assert.True(t, has(c.Dst, f.OffsetObjectNode(o, c.Offset)), "seed %d: %v", seed, c)
				}
			}
		}
	}
}

func TestSolverIdempotent(t *testing.T) {
	f, cs := randomSystem(42)
	s := solve(f, cs, SolverOptions{})

	before := make([][]NodeIndex, f.NumNodes())
	for i := range before {
		before[i] = s.PointsTo(NodeIndex(i))
	}
	stats := s.Stats()

	s.Solve()
	assert.Equal(t, stats, s.Stats())
	for i := range before {
		assert.Equal(t, before[i], s.PointsTo(NodeIndex(i)))
	}
}

func TestSolverMonotonic(t *testing.T) {
	f, cs := randomSystem(7)

	last := make(map[NodeIndex][]NodeIndex)
	calls := 0
	s := solve(f, cs, SolverOptions{
		OnGrow: func(n NodeIndex, pts []NodeIndex) {
			calls++
			prev := last[n]
			require.Subset(t, pts, prev, "pts(n%d) shrank", n)
			assert.Greater(t, len(pts), len(prev), "pts(n%d) did not grow", n)
			last[n] = pts
		},
	})

	assert.Equal(t, s.Stats().Growths, calls)
	for n, pts := range last {
		assert.Equal(t, s.PointsTo(n), pts)
	}
}
