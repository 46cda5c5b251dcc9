package ssagen_test

import (
	"fmt"
	"go/token"
	"go/types"
	"sort"
	"testing"

	"github.com/BarrensZeppelin/andersen"
	"github.com/BarrensZeppelin/andersen/config"
	"github.com/BarrensZeppelin/andersen/layout"
	"github.com/BarrensZeppelin/andersen/pkgutil"
	"github.com/BarrensZeppelin/andersen/ssagen"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/expect"
	gopointer "golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
)

type analysis struct {
	prog    *ssa.Program
	main    *ssa.Package
	builder *ssagen.Builder
	res     *andersen.Result

	// Allocation sites are named by a trailing //@alloc("name") note.
	markers map[int]string
}

func analyzeSource(t *testing.T, src string, opts config.Options) *analysis {
	t.Helper()
	pkgs, err := pkgutil.LoadPackagesFromSource(src)
	require.NoError(t, err)

	prog, spkgs := pkgutil.BuildProgram(pkgs)

	logger, _ := test.NewNullLogger()
	entry := log.NewEntry(logger)
	b := ssagen.New(prog, ssagen.MainRoots(prog), ssagen.Options{Log: entry})
	res, err := andersen.Analyze(b, andersen.Config{Options: opts, Log: entry})
	require.NoError(t, err)

	require.Len(t, pkgs[0].Syntax, 1)
	notes, err := expect.ExtractGo(prog.Fset, pkgs[0].Syntax[0])
	require.NoError(t, err)

	a := &analysis{prog: prog, main: spkgs[0], builder: b, res: res, markers: make(map[int]string)}
	for _, note := range notes {
		if note.Name == "alloc" {
			require.Len(t, note.Args, 1)
			a.markers[prog.Fset.Position(note.Pos).Line] = note.Args[0].(string)
		}
	}
	return a
}

// site names an allocation site: functions and globals by name, other
// values by their marker or line.
func (a *analysis) site(v ssa.Value) string {
	switch v := v.(type) {
	case *ssa.Function:
		return v.Name()
	case *ssa.Global:
		return v.Name()
	}
	if pos := v.Pos(); pos != token.NoPos {
		line := a.prog.Fset.Position(pos).Line
		if m, ok := a.markers[line]; ok {
			return m
		}
		return fmt.Sprintf("L%d", line)
	}
	return v.String()
}

// base names the object block containing n.
func (a *analysis) base(n andersen.NodeIndex) string {
	f := a.res.Factory()
	if andersen.IsSentinel(n) {
		return f.Describe(n)
	}
	base, _ := f.Block(n)
	if v, ok := f.OriginOf(base).(ssa.Value); ok {
		return a.site(v)
	}
	return f.Describe(base)
}

// label names the object node n by its allocation site. Field nodes are
// suffixed with their field number.
func (a *analysis) label(n andersen.NodeIndex) string {
	name := a.base(n)
	if !andersen.IsSentinel(n) {
		if base, _ := a.res.Factory().Block(n); n != base {
			name += fmt.Sprintf(".%d", n-base)
		}
	}
	return name
}

// pointsTo returns the sorted labels of the pointees of v. Nil is omitted.
func (a *analysis) pointsTo(t *testing.T, v ssa.Value) []string {
	t.Helper()
	pts, ok := a.res.PointsToEntity(v)
	require.True(t, ok, "no node for %v", v)
	var labels []string
	for _, n := range pts {
		if n != andersen.NullObject {
			labels = append(labels, a.label(n))
		}
	}
	sort.Strings(labels)
	return labels
}

// printed returns the arguments of calls to the print builtin in fn, in
// program order.
func printed(fn *ssa.Function) []ssa.Value {
	var args []ssa.Value
	for _, block := range fn.Blocks {
		for _, insn := range block.Instrs {
			call, ok := insn.(*ssa.Call)
			if !ok {
				continue
			}
			if bi, ok := call.Call.Value.(*ssa.Builtin); ok && bi.Name() == "print" {
				args = append(args, call.Call.Args...)
			}
		}
	}
	return args
}

// checkSound asserts that every allocation site go/pointer finds for the
// printed values of main is found by the analysis too.
func checkSound(t *testing.T, a *analysis, args []ssa.Value) {
	t.Helper()
	conf := &gopointer.Config{Mains: []*ssa.Package{a.main}}
	var queried []ssa.Value
	for _, v := range args {
		switch v.Type().Underlying().(type) {
		case *types.Pointer, *types.Slice, *types.Map, *types.Chan:
			conf.AddQuery(v)
			queried = append(queried, v)
		}
	}
	if len(queried) == 0 {
		return
	}
	ref, err := gopointer.Analyze(conf)
	require.NoError(t, err)

	for _, v := range queried {
		pts, ok := a.res.PointsToEntity(v)
		require.True(t, ok, "no node for %v", v)
		found := make(map[string]bool)
		for _, n := range pts {
			found[a.base(n)] = true
		}
		for _, l := range ref.Queries[v].PointsTo().Labels() {
			if site := l.Value(); site != nil {
				assert.True(t, found[a.site(site)], "%v: missing %s%s", v, a.site(site), l.Path())
			}
		}
	}
}

// checkPrinted asserts the points-to sets of the printed values of main
// under every optimization setting, and their soundness against go/pointer.
func checkPrinted(t *testing.T, src string, expected ...[]string) {
	t.Helper()
	unopt := config.Default()
	unopt.Optimize = false
	for name, opts := range map[string]config.Options{
		"Unoptimized": unopt,
		"Optimized":   config.Default(),
	} {
		t.Run(name, func(t *testing.T) {
			a := analyzeSource(t, src, opts)
			args := printed(a.main.Func("main"))
			require.Len(t, args, len(expected))
			for i, arg := range args {
				assert.Equal(t, expected[i], a.pointsTo(t, arg), "print #%d: %v", i, arg)
			}
		})
	}
}

func TestFields(t *testing.T) {
	checkPrinted(t, `package main

type T struct {
	a *int
	b *int
}

func main() {
	x := new(int) //@alloc("x")
	y := new(int) //@alloc("y")
	t := &T{a: x} //@alloc("t")
	t.b = y
	p := &t.b
	print(t.a)
	print(t.b)
	print(*p)
	print(p)
}`,
		[]string{"x"},
		[]string{"y"},
		[]string{"y"},
		[]string{"t.1"},
	)
}

func TestCalls(t *testing.T) {
	checkPrinted(t, `package main

func id(p *int) *int { return p }

var fp = id

func apply(g func() *int) *int { return g() }

func main() {
	a := new(int) //@alloc("a")
	b := new(int) //@alloc("b")
	print(id(a))
	print(fp(b))
	c := new(int) //@alloc("c")
	f := func() *int { return c }
	print(f())
	print(apply(f))
}`,
		[]string{"a", "b"},
		[]string{"a", "b"},
		[]string{"c"},
		[]string{"c"},
	)
}

func TestInterfaces(t *testing.T) {
	checkPrinted(t, `package main

type I interface{ Get() *int }

type S struct{ p *int }

func (s *S) Get() *int { return s.p }

func main() {
	a := new(int) //@alloc("a")
	var i I = &S{p: a} //@alloc("s")
	print(i.Get())
	s := i.(*S)
	print(s)
	var e interface{} = a
	print(e.(*int))
}`,
		[]string{"a"},
		[]string{"s"},
		[]string{"a"},
	)
}

func TestContainers(t *testing.T) {
	checkPrinted(t, `package main

func main() {
	a := new(int) //@alloc("a")
	b := new(int) //@alloc("b")
	s := make([]*int, 1)
	s[0] = a
	s = append(s, b)
	print(s[1])

	m := map[string]*int{}
	m["x"] = a
	print(m["x"])
	for _, v := range m {
		print(v)
	}

	c := make(chan *int, 1)
	c <- b
	print(<-c)

	d := make([]*int, 1)
	copy(d, s)
	print(d[0])
}`,
		[]string{"a", "b"},
		[]string{"a"},
		[]string{"a"},
		[]string{"b"},
		[]string{"a", "b"},
	)
}

func TestPanicRecover(t *testing.T) {
	a := analyzeSource(t, `package main

func main() {
	defer func() {
		print(recover().(*int))
	}()
	panic(new(int)) //@alloc("p")
}`, config.Default())
	var closure *ssa.Function
	for _, anon := range a.main.Func("main").AnonFuncs {
		closure = anon
	}
	require.NotNil(t, closure)
	args := printed(closure)
	require.Len(t, args, 1)
	assert.Equal(t, []string{"p"}, a.pointsTo(t, args[0]))
}

func TestReachability(t *testing.T) {
	a := analyzeSource(t, `package main

type I interface{ M() }

type A struct{}

func (A) M() {}

func used() {}

func unused() {}

func main() {
	used()
	var i I = A{}
	i.M()
}`, config.Default())

	var names []string
	for _, fn := range a.builder.Functions() {
		if fn.Pkg == a.main {
			names = append(names, fn.Name())
		}
	}
	assert.Contains(t, names, "main")
	assert.Contains(t, names, "init")
	assert.Contains(t, names, "used")
	assert.Contains(t, names, "M")
	assert.NotContains(t, names, "unused")

	for _, block := range a.main.Func("main").Blocks {
		for _, insn := range block.Instrs {
			if call, ok := insn.(*ssa.Call); ok && call.Call.IsInvoke() {
				callees := a.builder.Callees(call)
				require.NotEmpty(t, callees)
				for _, g := range callees {
					assert.Equal(t, "M", g.Name())
				}
			}
		}
	}
}

func TestInvokeReceiverTypes(t *testing.T) {
	// Box.Get and (*Box).Get are both callees of g.Get. Neither may receive
	// the box of the other receiver type.
	checkPrinted(t, `package main

type G interface{ Get() *int }

type Box struct{ p *int }

func (bx Box) Get() *int { return bx.p }

func main() {
	a := new(int) //@alloc("a")
	b := new(int) //@alloc("b")
	bx := Box{p: a}
	m := bx.Get
	print(m())
	var g G = &Box{p: b} //@alloc("bb")
	print(g.Get())
}`,
		[]string{"a", "b"},
		[]string{"a", "b"},
	)
}

// staleBuilder identifies objects in a factory of its own, so constraints
// are collected against a factory without any of the program's nodes.
type staleBuilder struct{ *ssagen.Builder }

func (s staleBuilder) IdentifyObjects(*andersen.NodeFactory) {
	logger, _ := test.NewNullLogger()
	s.Builder.IdentifyObjects(andersen.NewNodeFactory(layout.New(8), log.NewEntry(logger)))
}

func TestMissingNodesAbort(t *testing.T) {
	pkgs, err := pkgutil.LoadPackagesFromSource(`package main

var p = new(int)

func main() { print(p) }`)
	require.NoError(t, err)
	prog, _ := pkgutil.BuildProgram(pkgs)

	logger, hook := test.NewNullLogger()
	entry := log.NewEntry(logger)
	b := ssagen.New(prog, ssagen.MainRoots(prog), ssagen.Options{Log: entry})
	res, err := andersen.Analyze(staleBuilder{b}, andersen.Config{Options: config.Default(), Log: entry})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, andersen.ErrContractViolation)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, log.ErrorLevel, hook.LastEntry().Level)
}
