// Package ssagen generates points-to constraints for Go programs in SSA
// form. Function reachability is bootstrapped with a class hierarchy call
// graph, so interface calls are resolved to every method of a compatible
// type rather than to the dynamic types that actually flow to the receiver.
// A method reached through an interface receives the values boxed with its
// exact receiver type.
package ssagen

import (
	"fmt"
	"go/token"
	"go/types"
	"sort"

	"github.com/BarrensZeppelin/andersen"
	"github.com/BarrensZeppelin/andersen/internal/queue"
	"github.com/BarrensZeppelin/andersen/ir"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
	"golang.org/x/tools/go/types/typeutil"
)

type Options struct {
	// WordSize is the pointer size of the modelled target.
	WordSize uint64

	// When TreatMethodsAsRoots is true, all methods of all types in
	// prog.RuntimeTypes() are implicitly called.
	TreatMethodsAsRoots bool

	Log *log.Entry
}

// Builder emits the nodes and constraints of the functions reachable from a
// set of roots. It implements andersen.Builder.
type Builder struct {
	prog  *ssa.Program
	roots []*ssa.Function
	opts  Options
	conv  *typeConverter
	log   *log.Entry

	queue   queue.Queue[*ssa.Function]
	visited map[*ssa.Function]bool
	funcs   []*ssa.Function
	globals []*ssa.Global
	callees map[ssa.CallInstruction][]*ssa.Function
	cg      *callgraph.Graph

	// Value node of the global panic argument.
	panicNode andersen.NodeIndex

	// Values boxed in interfaces, by concrete type.
	boxed typeutil.Map

	f  *andersen.NodeFactory
	cs *andersen.Constraints
}

// New returns a builder for the functions of prog reachable from roots.
func New(prog *ssa.Program, roots []*ssa.Function, opts Options) *Builder {
	if opts.WordSize == 0 {
		opts.WordSize = 8
	}
	logger := opts.Log
	if logger == nil {
		logger = log.WithField("component", "ssagen")
	}
	return &Builder{
		prog:    prog,
		roots:   roots,
		opts:    opts,
		conv:    newTypeConverter(opts.WordSize),
		log:     logger,
		visited: make(map[*ssa.Function]bool),
		callees: make(map[ssa.CallInstruction][]*ssa.Function),
	}
}

// MainRoots returns the main and init functions of the main packages of
// prog.
func MainRoots(prog *ssa.Program) []*ssa.Function {
	var roots []*ssa.Function
	for _, pkg := range ssautil.MainPackages(prog.AllPackages()) {
		for _, name := range [...]string{"main", "init"} {
			if fun := pkg.Func(name); fun != nil {
				roots = append(roots, fun)
			}
		}
	}
	return roots
}

// Functions returns the reachable functions in discovery order. It is
// populated by IdentifyObjects.
func (b *Builder) Functions() []*ssa.Function { return b.funcs }

// Callees returns the functions that may be called at the call site.
func (b *Builder) Callees(site ssa.CallInstruction) []*ssa.Function {
	if sc := site.Common().StaticCallee(); sc != nil {
		return []*ssa.Function{sc}
	}
	return b.callees[site]
}

// isGenericBody returns true if fn is the body of a generic function.
func isGenericBody(fn *ssa.Function) bool {
	sig := fn.Signature
	if sig.TypeParams().Len() > 0 || sig.RecvTypeParams().Len() > 0 {
		return fn.Synthetic == ""
	}
	return false
}

func (b *Builder) discoverFun(fn *ssa.Function) {
	if b.visited[fn] || isGenericBody(fn) {
		return
	}
	b.visited[fn] = true
	b.queue.Push(fn)
}

func (b *Builder) IdentifyObjects(f *andersen.NodeFactory) {
	b.f = f
	b.cg = cha.CallGraph(b.prog)
	b.panicNode = f.CreateValueNode(nil)

	b.identifyGlobals()

	for _, fn := range b.roots {
		b.discoverFun(fn)
	}
	if b.opts.TreatMethodsAsRoots {
		for _, T := range b.prog.RuntimeTypes() {
			mset := b.prog.MethodSets.MethodSet(T)
			for i, n := 0, mset.Len(); i < n; i++ {
				b.discoverFun(b.prog.MethodValue(mset.At(i)))
			}
		}
	}

	// Functions are identified in the order they are discovered. Nodes for
	// function values may be created before the function is processed.
	for !b.queue.Empty() {
		fn := b.queue.Pop()
		b.funcs = append(b.funcs, fn)
		b.identifyFunction(fn)
	}

	b.log.WithField("functions", len(b.funcs)).Debug("identified reachable functions")
}

func (b *Builder) identifyGlobals() {
	for _, pkg := range b.prog.AllPackages() {
		names := maps.Keys(pkg.Members)
		sort.Strings(names)
		for _, name := range names {
			if g, ok := pkg.Members[name].(*ssa.Global); ok {
				b.globals = append(b.globals, g)
				b.f.CreateValueNode(g)
				b.f.CreateObjectFor(g, b.conv.convert(g.Type().(*types.Pointer).Elem()))
			}
		}
	}
}

// funcNodes creates the nodes of a function value the first time it is
// seen: its value node, its object block and the return node.
func (b *Builder) funcNodes(fn *ssa.Function) {
	if _, ok := b.f.GetValueNodeFor(fn); ok {
		return
	}
	b.f.CreateValueNode(fn)
	b.f.CreateObjectBlock(fn, uint64(andersen.CallFirstArgPos+numParams(fn.Signature)))
	b.f.CreateReturnNode(fn)
	if fn.Signature.Variadic() {
		b.f.CreateVarargNode(fn)
	}
}

func numParams(sig *types.Signature) int {
	n := sig.Params().Len()
	if sig.Recv() != nil {
		n++
	}
	return n
}

func (b *Builder) identifyFunction(fn *ssa.Function) {
	b.funcNodes(fn)
	for _, p := range fn.Params {
		b.valueNode(p)
	}
	for _, fv := range fn.FreeVars {
		b.valueNode(fv)
	}

	var ops []*ssa.Value
	for _, block := range fn.Blocks {
		for _, insn := range block.Instrs {
			if v, ok := insn.(ssa.Value); ok {
				b.valueNode(v)
				b.identifyObject(v)
			}

			for _, op := range insn.Operands(ops[:0]) {
				if g, ok := (*op).(*ssa.Function); ok {
					b.funcNodes(g)
					b.discoverFun(g)
				}
			}

			if site, ok := insn.(ssa.CallInstruction); ok {
				b.identifyCallees(fn, site)
			}
		}
	}
}

func (b *Builder) identifyCallees(caller *ssa.Function, site ssa.CallInstruction) {
	common := site.Common()
	if !common.IsInvoke() {
		return
	}
	node := b.cg.Nodes[caller]
	if node == nil {
		return
	}
	var callees []*ssa.Function
	for _, e := range node.Out {
		if e.Site == site && !isGenericBody(e.Callee.Func) {
			callees = append(callees, e.Callee.Func)
		}
	}
	sort.Slice(callees, func(i, j int) bool {
		return callees[i].String() < callees[j].String()
	})
	b.callees[site] = callees
	for _, g := range callees {
		b.funcNodes(g)
		b.discoverFun(g)
	}
}

// identifyObject creates the object allocated by v, if any.
func (b *Builder) identifyObject(v ssa.Value) {
	switch v := v.(type) {
	case *ssa.Alloc:
		b.f.CreateObjectFor(v, b.conv.convert(deref(v.Type())))
	case *ssa.MakeSlice:
		b.f.CreateObjectFor(v, b.conv.convert(v.Type().Underlying().(*types.Slice).Elem()))
	case *ssa.MakeMap:
		b.f.CreateObjectFor(v, b.conv.mapObject(v.Type().Underlying().(*types.Map)))
	case *ssa.MakeChan:
		b.f.CreateObjectFor(v, b.conv.convert(v.Type().Underlying().(*types.Chan).Elem()))
	case *ssa.MakeInterface:
		if b.hasPointers(v.X.Type()) {
			b.f.CreateObjectFor(v, b.conv.convert(v.X.Type()))
		}
	case *ssa.Convert:
		if st, ok := v.Type().Underlying().(*types.Slice); ok && isString(v.X.Type()) {
			b.f.CreateObjectFor(v, b.conv.convert(st.Elem()))
		}
	case *ssa.Call:
		if bi, ok := v.Call.Value.(*ssa.Builtin); ok && bi.Name() == "append" {
			b.f.CreateObjectFor(v, b.conv.convert(v.Type().Underlying().(*types.Slice).Elem()))
		}
	}
}

// valueNode creates the value node of v if values of its type may hold
// pointers.
func (b *Builder) valueNode(v ssa.Value) {
	if b.needsNode(v) {
		b.f.CreateValueNode(v)
	}
}

func (b *Builder) needsNode(v ssa.Value) bool {
	switch v := v.(type) {
	case *ssa.Range:
		// The iterator type is opaque; map iterators alias their map.
		_, isMap := v.X.Type().Underlying().(*types.Map)
		return isMap
	case *ssa.Next:
		return !v.IsString && b.hasPointers(v.Type())
	}
	return b.hasPointers(v.Type())
}

func (b *Builder) hasPointers(t types.Type) bool {
	return b.conv.hasPointers(b.f.Layout(), t)
}

func (b *Builder) pointerFields(t types.Type) []uint32 {
	return b.conv.pointerFields(b.f.Layout(), b.conv.convert(t))
}

func deref(t types.Type) types.Type {
	return t.Underlying().(*types.Pointer).Elem()
}

func isString(t types.Type) bool {
	bt, ok := t.Underlying().(*types.Basic)
	return ok && bt.Info()&types.IsString != 0
}

func (b *Builder) CollectConstraints(f *andersen.NodeFactory, cs *andersen.Constraints) {
	b.f, b.cs = f, cs

	for _, g := range b.globals {
		cs.AddAddrOf(b.must(g), b.object(g))
	}

	for _, fn := range b.funcs {
		b.collectFunction(fn)
	}

	b.log.WithFields(log.Fields{
		"functions":   len(b.funcs),
		"constraints": cs.Len(),
	}).Debug("collected constraints")
}

// eval returns the value node of v, or false if v holds no pointers.
func (b *Builder) eval(v ssa.Value) (andersen.NodeIndex, bool) {
	switch v := v.(type) {
	case *ssa.Const:
		return andersen.NullValue, b.hasPointers(v.Type())
	case *ssa.Builtin:
		return andersen.InvalidIndex, false
	}
	return b.f.GetValueNodeFor(v)
}

func (b *Builder) must(v ssa.Value) andersen.NodeIndex {
	n, ok := b.f.GetValueNodeFor(v)
	if !ok {
		b.violation("no value node for %v (%T)", v, v)
	}
	return n
}

func (b *Builder) object(e ir.Entity) andersen.NodeIndex {
	n, ok := b.f.GetObjectNodeFor(e)
	if !ok {
		b.violation("no object node for %v", e)
	}
	return n
}

// violation aborts the analysis with an error wrapping
// andersen.ErrContractViolation.
func (b *Builder) violation(format string, args ...any) {
	err := fmt.Errorf("%w: %s", andersen.ErrContractViolation, fmt.Sprintf(format, args...))
	b.log.Error(err)
	panic(err)
}

// temp returns a fresh synthetic value node.
func (b *Builder) temp() andersen.NodeIndex {
	return b.f.CreateValueNode(nil)
}

// copy adds dst ⊇ src when both values hold pointers.
func (b *Builder) copy(dst andersen.NodeIndex, src ssa.Value) {
	if s, ok := b.eval(src); ok {
		b.cs.AddCopy(dst, s)
	}
}

// storeValue stores the value v of type t into the memory that addr points
// to, at field base.
func (b *Builder) storeValue(addr andersen.NodeIndex, v andersen.NodeIndex, t types.Type, base uint32) {
	for _, k := range b.pointerFields(t) {
		b.cs.AddStore(addr, v, base+k)
	}
}

// loadValue loads a value of type t from field base of the memory that
// addr points to.
func (b *Builder) loadValue(dst andersen.NodeIndex, addr andersen.NodeIndex, t types.Type, base uint32) {
	for _, k := range b.pointerFields(t) {
		b.cs.AddLoad(dst, addr, base+k)
	}
}

// copyElems copies the elements of type elem between two slices.
func (b *Builder) copyElems(dst, src andersen.NodeIndex, elem types.Type) {
	if !b.hasPointers(elem) {
		return
	}
	tmp := b.temp()
	b.loadValue(tmp, src, elem, 0)
	b.storeValue(dst, tmp, elem, 0)
}

func (b *Builder) mapFields(t types.Type) (m *types.Map, valueBase uint32) {
	m = t.Underlying().(*types.Map)
	return m, uint32(b.f.Layout().FieldOrdinalBase(b.conv.mapObject(m), 1))
}

func (b *Builder) collectFunction(fn *ssa.Function) {
	obj := b.object(fn)
	b.cs.AddAddrOf(b.must(fn), obj)

	ret, _ := b.f.GetReturnNodeFor(fn)
	b.cs.AddCopy(b.f.GetOffsetObjectNode(obj, andersen.CallReturnPos), ret)
	if len(fn.Blocks) == 0 {
		b.cs.AddCopy(ret, andersen.UniversalValue)
	}

	vararg, variadic := b.f.GetVarargNodeFor(fn)
	for i, p := range fn.Params {
		pn, ok := b.eval(p)
		if !ok {
			continue
		}
		slot := b.f.GetOffsetObjectNode(obj, uint64(andersen.CallFirstArgPos+i))
		if variadic && i == len(fn.Params)-1 {
			b.cs.AddCopy(vararg, slot)
			b.cs.AddCopy(pn, vararg)
		} else {
			b.cs.AddCopy(pn, slot)
		}
	}

	for _, block := range fn.Blocks {
		for _, insn := range block.Instrs {
			b.collectInstr(fn, insn)
		}
	}
}

func (b *Builder) collectInstr(fn *ssa.Function, insn ssa.Instruction) {
	switch t := insn.(type) {
	case ssa.CallInstruction:
		b.collectCall(t)

	case ssa.Value:
		reg, ok := b.eval(t)
		if !ok {
			// Pointers converted to integers flow into the integer node.
			if cv, isConv := t.(*ssa.Convert); isConv && isUintptr(cv.Type()) {
				b.copy(andersen.IntValue, cv.X)
			}
			return
		}

		switch t := t.(type) {
		case *ssa.Alloc, *ssa.MakeSlice, *ssa.MakeMap, *ssa.MakeChan:
			b.cs.AddAddrOf(reg, b.object(t))

		case *ssa.MakeInterface:
			if x, ok := b.eval(t.X); ok {
				b.cs.AddAddrOf(reg, b.object(t))
				b.storeValue(reg, x, t.X.Type(), 0)
				b.cs.AddCopy(b.boxedNode(t.X.Type()), x)
			}

		case *ssa.MakeClosure:
			fv := t.Fn.(*ssa.Function)
			b.copy(reg, fv)
			for i, binding := range t.Bindings {
				if n, ok := b.eval(fv.FreeVars[i]); ok {
					b.copy(n, binding)
				}
			}

		case *ssa.UnOp:
			x, ok := b.eval(t.X)
			if !ok {
				return
			}
			switch t.Op {
			case token.MUL:
				b.loadValue(reg, x, t.Type(), 0)
			case token.ARROW:
				b.loadValue(reg, x, t.X.Type().Underlying().(*types.Chan).Elem(), 0)
			}

		case *ssa.Convert:
			switch {
			case isString(t.X.Type()):
				b.cs.AddAddrOf(reg, b.object(t))
			case isUintptr(t.X.Type()):
				b.cs.AddCopy(reg, andersen.UniversalValue)
			default:
				b.copy(reg, t.X)
			}

		case *ssa.ChangeType:
			b.copy(reg, t.X)
		case *ssa.ChangeInterface:
			b.copy(reg, t.X)
		case *ssa.Slice:
			b.copy(reg, t.X)
		case *ssa.SliceToArrayPointer:
			b.copy(reg, t.X)
		case *ssa.MultiConvert:
			b.copy(reg, t.X)
		case *ssa.Field:
			b.copy(reg, t.X)
		case *ssa.Index:
			b.copy(reg, t.X)
		case *ssa.Extract:
			b.copy(reg, t.Tuple)
		case *ssa.Phi:
			for _, e := range t.Edges {
				b.copy(reg, e)
			}

		case *ssa.FieldAddr:
			if x, ok := b.eval(t.X); ok {
				st := b.conv.convert(deref(t.X.Type())).(*ir.Struct)
				b.cs.AddFieldAddr(reg, x, uint32(b.f.Layout().FieldOrdinalBase(st, t.Field)))
			}

		case *ssa.IndexAddr:
			if x, ok := b.eval(t.X); ok {
				b.cs.AddFieldAddr(reg, x, 0)
			}

		case *ssa.TypeAssert:
			if types.IsInterface(t.AssertedType) {
				b.copy(reg, t.X)
			} else if x, ok := b.eval(t.X); ok {
				b.loadValue(reg, x, t.AssertedType, 0)
			}

		case *ssa.Lookup:
			if x, ok := b.eval(t.X); ok {
				m, vb := b.mapFields(t.X.Type())
				b.loadValue(reg, x, m.Elem(), vb)
			}

		case *ssa.Range:
			b.copy(reg, t.X)

		case *ssa.Next:
			if it, ok := b.eval(t.Iter); ok {
				m, vb := b.mapFields(t.Iter.(*ssa.Range).X.Type())
				b.loadValue(reg, it, m.Key(), 0)
				b.loadValue(reg, it, m.Elem(), vb)
			}

		case *ssa.Select:
			for _, st := range t.States {
				ch, ok := b.eval(st.Chan)
				if !ok {
					continue
				}
				elem := st.Chan.Type().Underlying().(*types.Chan).Elem()
				if st.Dir == types.RecvOnly {
					b.loadValue(reg, ch, elem, 0)
				} else if v, ok := b.eval(st.Send); ok {
					b.storeValue(ch, v, elem, 0)
				}
			}

		case *ssa.BinOp:
			// Pointer arithmetic does not exist in Go.

		default:
			b.violation("unhandled: %T %v", t, t)
		}

	case *ssa.Store:
		addr, ok := b.eval(t.Addr)
		if v, vok := b.eval(t.Val); ok && vok {
			b.storeValue(addr, v, t.Val.Type(), 0)
		}

	case *ssa.Send:
		ch, ok := b.eval(t.Chan)
		if x, xok := b.eval(t.X); ok && xok {
			b.storeValue(ch, x, t.Chan.Type().Underlying().(*types.Chan).Elem(), 0)
		}

	case *ssa.MapUpdate:
		mv, ok := b.eval(t.Map)
		if !ok {
			return
		}
		m, vb := b.mapFields(t.Map.Type())
		if k, ok := b.eval(t.Key); ok {
			b.storeValue(mv, k, m.Key(), 0)
		}
		if v, ok := b.eval(t.Value); ok {
			b.storeValue(mv, v, m.Elem(), vb)
		}

	case *ssa.Panic:
		b.copy(b.panicNode, t.X)

	case *ssa.Return:
		ret, _ := b.f.GetReturnNodeFor(fn)
		for _, r := range t.Results {
			b.copy(ret, r)
		}

	case *ssa.RunDefers, *ssa.If, *ssa.Jump, *ssa.DebugRef:

	default:
		b.violation("unhandled: %T %v", t, t)
	}
}

func isUintptr(t types.Type) bool {
	bt, ok := t.Underlying().(*types.Basic)
	return ok && bt.Kind() == types.Uintptr
}

func (b *Builder) collectCall(site ssa.CallInstruction) {
	common := site.Common()

	res, hasRes := andersen.InvalidIndex, false
	if v := site.Value(); v != nil {
		res, hasRes = b.eval(v)
	}
	result := func(src andersen.NodeIndex) {
		if hasRes {
			b.cs.AddCopy(res, src)
		}
	}

	if bi, ok := common.Value.(*ssa.Builtin); ok {
		b.collectBuiltin(site, bi, res, hasRes)
		return
	}

	if common.IsInvoke() {
		for _, g := range b.callees[site] {
			obj := b.object(g)
			if recv := g.Signature.Recv(); recv != nil && b.hasPointers(recv.Type()) {
				b.cs.AddCopy(b.f.GetOffsetObjectNode(obj, andersen.CallFirstArgPos), b.boxedNode(recv.Type()))
			}
			b.args(obj, common.Args, 1)
			result(b.f.GetOffsetObjectNode(obj, andersen.CallReturnPos))
		}
		return
	}

	if sc := common.StaticCallee(); sc != nil && !isGenericBody(sc) {
		obj := b.object(sc)
		b.args(obj, common.Args, 0)
		result(b.f.GetOffsetObjectNode(obj, andersen.CallReturnPos))
		return
	}

	fv, ok := b.eval(common.Value)
	if !ok {
		return
	}
	for i, a := range common.Args {
		if an, ok := b.eval(a); ok {
			b.cs.AddStore(fv, an, uint32(andersen.CallFirstArgPos+i))
		}
	}
	if hasRes {
		b.cs.AddLoad(res, fv, andersen.CallReturnPos)
	}
}

// boxedNode returns the node holding every value of type t stored in an
// interface.
func (b *Builder) boxedNode(t types.Type) andersen.NodeIndex {
	if n, ok := b.boxed.At(t).(andersen.NodeIndex); ok {
		return n
	}
	n := b.temp()
	b.boxed.Set(t, n)
	return n
}

// args copies the actual arguments into the parameter slots of the
// function object obj, starting at parameter skip.
func (b *Builder) args(obj andersen.NodeIndex, args []ssa.Value, skip int) {
	for i, a := range args {
		if an, ok := b.eval(a); ok {
			b.cs.AddCopy(b.f.GetOffsetObjectNode(obj, uint64(andersen.CallFirstArgPos+skip+i)), an)
		}
	}
}

func (b *Builder) collectBuiltin(site ssa.CallInstruction, bi *ssa.Builtin, res andersen.NodeIndex, hasRes bool) {
	args := site.Common().Args
	switch bi.Name() {
	case "append":
		if !hasRes {
			return
		}
		call := site.(*ssa.Call)
		b.cs.AddAddrOf(res, b.object(call))
		b.copy(res, args[0])
		elem := call.Type().Underlying().(*types.Slice).Elem()
		for _, a := range args {
			if an, ok := b.eval(a); ok {
				b.copyElems(res, an, elem)
			}
		}

	case "copy":
		dst, ok := b.eval(args[0])
		if src, sok := b.eval(args[1]); ok && sok {
			b.copyElems(dst, src, args[0].Type().Underlying().(*types.Slice).Elem())
		}

	case "recover":
		if hasRes {
			b.cs.AddCopy(res, b.panicNode)
		}

	case "ssa:wrapnilchk":
		if hasRes {
			b.copy(res, args[0])
		}
	}
}
