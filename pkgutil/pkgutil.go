// Package pkgutil loads Go packages and builds their SSA form for analysis.
package pkgutil

import (
	"fmt"
	"os"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Should be equivalent to packages.LoadAllSyntax (which is deprecated)
const LoadMode = packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedTypes |
	packages.NeedTypesSizes | packages.NeedImports | packages.NeedName |
	packages.NeedFiles | packages.NeedCompiledGoFiles | packages.NeedDeps

// SourceFile is the path under which LoadPackagesFromSource presents its
// input to the build tool.
const SourceFile = "/fake/testpackage/main.go"

// LoadPackagesFromSource loads a single main package from source text.
func LoadPackagesFromSource(source string) ([]*packages.Package, error) {
	// The overlay lets the build tool load a file that does not exist.
	config := &packages.Config{
		Mode:  LoadMode,
		Tests: false,
		Env:   append(os.Environ(), "GO111MODULE=off", "GOPATH=/fake"),
		Overlay: map[string][]byte{
			SourceFile: []byte(source),
		},
	}

	return LoadPackagesWithConfig(config, SourceFile)
}

// LoadPackagesWithConfig loads the packages matching queries. Packages with
// errors are reported on stderr and fail the load.
func LoadPackagesWithConfig(config *packages.Config, queries ...string) ([]*packages.Package, error) {
	pkgs, err := packages.Load(config, queries...)
	if err != nil {
		return nil, err
	}
	if n := packages.PrintErrors(pkgs); n > 0 {
		return pkgs, fmt.Errorf("%d errors encountered while loading packages", n)
	}
	return pkgs, nil
}

// BuildProgram creates and builds the SSA program of pkgs and their
// dependencies. Generic functions are instantiated.
func BuildProgram(pkgs []*packages.Package) (*ssa.Program, []*ssa.Package) {
	prog, spkgs := ssautil.AllPackages(pkgs, ssa.InstantiateGenerics)
	prog.Build()
	return prog, spkgs
}
