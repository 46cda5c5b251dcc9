package andersen

import (
	"fmt"

	"github.com/BarrensZeppelin/andersen/config"
	"github.com/BarrensZeppelin/andersen/layout"
	log "github.com/sirupsen/logrus"
)

// Builder produces the nodes and constraints of a program. IdentifyObjects
// runs first and registers the value and object nodes of every entity;
// CollectConstraints then emits the constraints, and may create further
// synthetic nodes.
type Builder interface {
	IdentifyObjects(f *NodeFactory)
	CollectConstraints(f *NodeFactory, cs *Constraints)
}

type Config struct {
	Options config.Options

	// Layout answers size and field queries. If nil, natural alignment with
	// Options.WordSize is used.
	Layout layout.Oracle

	Log *log.Entry

	// OnGrow is passed on to the solver.
	OnGrow func(node NodeIndex, pts []NodeIndex)
}

func (c *Config) optimizeOptions() (OptimizeOptions, bool) {
	o := c.Options
	return OptimizeOptions{
		CollapseCycles:      o.CollapseCycles,
		PointerEquivalence:  o.PointerEquivalence,
		LocationEquivalence: o.LocationEquivalence,
	}, o.Optimize && (o.CollapseCycles || o.PointerEquivalence || o.LocationEquivalence)
}

// Analyze identifies the nodes of the program described by b, collects its
// constraints, optionally optimizes them and solves the system.
//
// Input that breaks the contract of the engine aborts the analysis: the
// panic is recovered and returned as an error wrapping ErrContractViolation.
func Analyze(b Builder, conf Config) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			if !IsContractViolation(p) {
				panic(p)
			}
			res, err = nil, fmt.Errorf("points-to analysis aborted: %w", p.(error))
		}
	}()

	logger := conf.Log
	if logger == nil {
		logger = defaultLogger()
	}
	oracle := conf.Layout
	if oracle == nil {
		ws := conf.Options.WordSize
		if ws == 0 {
			ws = config.DefaultWordSize
		}
		oracle = layout.New(ws)
	}

	f := NewNodeFactory(oracle, logger)
	b.IdentifyObjects(f)
	logger.Infof("identified %d nodes", f.NumNodes())

	cs := NewConstraints(f)
	addBaseConstraints(cs)
	b.CollectConstraints(f, cs)
	f.Freeze()
	logger.Infof("collected %d constraints over %d nodes", cs.Len(), f.NumNodes())
	if logger.Logger.IsLevelEnabled(log.DebugLevel) {
		for _, c := range cs.List() {
			logger.Debug(c)
		}
	}

	constraints, eq := cs.List(), (*Equivalences)(nil)
	if opts, ok := conf.optimizeOptions(); ok {
		constraints, eq = Optimize(f, constraints, opts, logger)
		logger.WithFields(log.Fields{
			"cycles":   eq.CycleMerged,
			"pointer":  eq.PointerMerged,
			"location": eq.LocationMerged,
		}).Infof("optimizer kept %d of %d constraints", eq.ConstraintsOut, eq.ConstraintsIn)
	}

	s := NewSolver(f, constraints, eq, SolverOptions{OnGrow: conf.OnGrow, Log: logger})
	s.Solve()
	stats := s.Stats()
	logger.WithFields(log.Fields{
		"pops":    stats.Pops,
		"growths": stats.Growths,
		"edges":   stats.DynamicEdges,
	}).Info("solved")

	return newResult(f, s), nil
}

// addBaseConstraints seeds the reserved nodes: the unknown pointer points to
// the unknown object, which points to itself, and null points to the null
// object.
func addBaseConstraints(cs *Constraints) {
	cs.AddAddrOf(UniversalValue, UniversalObject)
	cs.AddAddrOf(UniversalObject, UniversalObject)
	cs.AddAddrOf(NullValue, NullObject)
}
