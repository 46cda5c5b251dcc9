package main

import (
	"fmt"
	"go/types"
	"io"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/BarrensZeppelin/andersen"
	"github.com/BarrensZeppelin/andersen/config"
	"github.com/BarrensZeppelin/andersen/pkgutil"
	"github.com/BarrensZeppelin/andersen/ssagen"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

func main() {
	app := cli.NewApp()
	app.Name = "andersen"
	app.Usage = "inclusion-based points-to analysis of Go programs"
	app.ArgsUsage = "<package query>..."
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "load analysis options from a yaml `file`"},
		cli.StringFlag{Name: "dir", Usage: "alternative directory to run the go build tool in"},
		cli.StringFlag{Name: "cpuprofile", Usage: "write cpu profile to `file`"},
		cli.BoolFlag{Name: "debug", Usage: "enable debug output for logging"},
		cli.BoolFlag{Name: "trace", Usage: "trace every constraint the solver applies"},
		cli.BoolFlag{Name: "no-opt", Usage: "solve the constraints without offline optimization"},
		cli.BoolFlag{Name: "methods-as-roots", Usage: "treat every method of a runtime type as called"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadOptions(c *cli.Context) (config.Options, error) {
	opts := config.Default()
	if file := c.String("config"); file != "" {
		var err error
		if opts, err = config.Load(file); err != nil {
			return opts, err
		}
	}
	if c.Bool("no-opt") {
		opts.Optimize = false
	}
	return opts, nil
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError("Specify a package query on the command line", 2)
	}

	opts, err := loadOptions(c)
	if err != nil {
		return err
	}

	level, err := opts.Level()
	if err != nil {
		return err
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	log.SetLevel(level)
	switch {
	case c.Bool("trace"):
		log.SetLevel(log.TraceLevel)
	case c.Bool("debug"):
		log.SetLevel(log.DebugLevel)
	}

	if file := c.String("cpuprofile"); file != "" {
		f, err := os.Create(file)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	pkgs, err := pkgutil.LoadPackagesWithConfig(&packages.Config{
		Mode:  pkgutil.LoadMode,
		Tests: true,
		Dir:   c.String("dir"),
	}, c.Args()...)
	if err != nil {
		return fmt.Errorf("loading packages failed: %w", err)
	}
	log.Infof("Loaded %d packages", len(pkgs))

	prog, _ := pkgutil.BuildProgram(pkgs)
	log.Info("Built packages")

	logger := log.WithField("component", "andersen")
	b := ssagen.New(prog, ssagen.MainRoots(prog), ssagen.Options{
		WordSize:            opts.WordSize,
		TreatMethodsAsRoots: c.Bool("methods-as-roots"),
		Log:                 log.WithField("component", "ssagen"),
	})
	res, err := andersen.Analyze(b, andersen.Config{Options: opts, Log: logger})
	if err != nil {
		return err
	}
	log.Infof("%d reachable functions", len(b.Functions()))

	report(os.Stdout, prog, b, res)
	return nil
}

// report prints the points-to sets of the pointer-like globals, parameters
// and results of the main packages.
func report(w io.Writer, prog *ssa.Program, b *ssagen.Builder, res *andersen.Result) {
	f := res.Factory()
	describe := func(pts []andersen.NodeIndex) string {
		names := make([]string, len(pts))
		for i, n := range pts {
			names[i] = f.Describe(n)
		}
		slices.Sort(names)
		return "{" + strings.Join(names, ", ") + "}"
	}

	mains := ssautil.MainPackages(prog.AllPackages())
	for _, pkg := range mains {
		names := maps.Keys(pkg.Members)
		slices.Sort(names)
		for _, name := range names {
			g, ok := pkg.Members[name].(*ssa.Global)
			if !ok || !ssagen.PointerLike(g.Type().(*types.Pointer).Elem()) {
				continue
			}
			if obj, ok := f.GetObjectNodeFor(g); ok {
				fmt.Fprintf(w, "%v -> %s\n", g, describe(res.PointsTo(obj)))
			}
		}
	}

	inMain := make(map[*ssa.Package]bool)
	for _, pkg := range mains {
		inMain[pkg] = true
	}
	for _, fn := range b.Functions() {
		if !inMain[fn.Pkg] {
			continue
		}
		for _, p := range fn.Params {
			if pts, ok := res.PointsToEntity(p); ok && ssagen.PointerLike(p.Type()) {
				fmt.Fprintf(w, "%v: %s -> %s\n", fn, p.Name(), describe(pts))
			}
		}
		if ret, ok := f.GetReturnNodeFor(fn); ok && fn.Signature.Results().Len() > 0 {
			fmt.Fprintf(w, "%v: return -> %s\n", fn, describe(res.PointsTo(ret)))
		}
	}
}
