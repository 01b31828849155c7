// Package instrument - Import injection functionality.
//
// This file implements import injection logic for adding the race detector
// runtime and unsafe package imports to instrumented files.
package instrument

import (
	"go/ast"
	"go/token"

	"golang.org/x/tools/go/ast/astutil"
)

// injectImports adds required imports to the AST file:
//
//	import race "github.com/kolkov/racedetector/race"
//	import "unsafe"
//
// astutil.AddNamedImport/AddImport already handle every edge case a
// hand-rolled version would need to reimplement: no import block yet,
// single-import vs grouped syntax, an import already present under a
// different alias, and keeping file.Imports in sync with file.Decls.
func injectImports(fset *token.FileSet, file *ast.File) error {
	astutil.AddNamedImport(fset, file, RacePackageAlias, RacePackageImportPath)
	astutil.AddImport(fset, file, "unsafe")
	return nil
}
