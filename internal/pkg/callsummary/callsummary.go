// Copyright 2024 The Hydra Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package callsummary builds a one-hop abstraction of what a function does
// with each of its parameters, so a caller can reason about a callee
// without re-running its CFG fixed point. It generalizes the teacher's
// cfa.Function interface (Sinks/Taints over an ssa.Function) from a
// source/sink taint lattice to the three questions Hydra's escape and
// capability rule packs actually need: does a parameter reach a return
// value, does it get stored into a struct field, and does it get forwarded
// to a call in another module.
package callsummary

import (
	"github.com/hydra-sh/hydra/internal/pkg/ast"
	"github.com/hydra-sh/hydra/internal/pkg/exprscan"
)

// Summary is the one-hop abstraction of a single function.
type Summary struct {
	// Returned lists the parameter names that reach some Return's
	// expression, directly or via a field/borrow chain rooted at the
	// parameter.
	Returned map[string]bool

	// StoredIntoField lists parameter names that appear as the value of a
	// StructCtor field initializer anywhere in the body.
	StoredIntoField map[string]bool

	// ForwardedCrossModule lists parameter names passed as an argument to
	// a CallExpr whose Callee names a different module.
	ForwardedCrossModule map[string]bool

	// CrossModuleCallees names every "module::function" this function
	// calls into another module, regardless of which argument (if any)
	// carries a tracked parameter. DOT uses this to draw the call graph.
	CrossModuleCallees map[string]bool
}

// ReturnsParam reports whether the named parameter can flow out through a
// return value.
func (s *Summary) ReturnsParam(name string) bool { return s.Returned[name] }

// EscapesCrossModule reports whether the named parameter is ever forwarded
// to a call in another module.
func (s *Summary) EscapesCrossModule(name string) bool { return s.ForwardedCrossModule[name] }

// Table maps a function's qualified name (module::function) to its
// Summary, for every function in one module.
type Table map[string]*Summary

// Build computes one-hop summaries for every function in mod.
func Build(mod *ast.Module) Table {
	t := Table{}
	for _, fn := range mod.Functions {
		t[mod.Name+"::"+fn.Name] = buildOne(fn)
	}
	return t
}

func buildOne(fn *ast.Function) *Summary {
	s := &Summary{
		Returned:             map[string]bool{},
		StoredIntoField:      map[string]bool{},
		ForwardedCrossModule: map[string]bool{},
		CrossModuleCallees:   map[string]bool{},
	}
	names := make(map[string]bool, len(fn.Params))
	for _, p := range fn.Params {
		names[p.Name] = true
	}
	walkStmts(fn.Body, names, s)
	return s
}

func walkStmts(stmts []ast.Stmt, names map[string]bool, s *Summary) {
	for _, stmt := range stmts {
		switch v := stmt.(type) {
		case *ast.Return:
			markExpr(v.Expr, names, s.Returned)
		case *ast.Let:
			scanExpr(v.Expr, names, s)
		case *ast.Assign:
			scanExpr(v.Expr, names, s)
		case *ast.Call:
			recordCallee(v.Callee, s)
			for _, a := range v.Args {
				scanCallArg(v.Callee, a, names, s)
			}
		case *ast.If:
			walkStmts(v.Then, names, s)
			walkStmts(v.Else, names, s)
		case *ast.While:
			walkStmts(v.Body, names, s)
		case *ast.Block:
			walkStmts(v.Stmts, names, s)
		}
	}
}

// scanExpr records store-into-field and cross-module-forward facts for any
// parameter reference reachable from e.
func scanExpr(e ast.Expr, names map[string]bool, s *Summary) {
	switch v := e.(type) {
	case *ast.StructCtor:
		for _, f := range v.Fields {
			markExpr(f.Value, names, s.StoredIntoField)
			scanExpr(f.Value, names, s)
		}
	case *ast.CallExpr:
		recordCallee(v.Callee, s)
		for _, a := range v.Args {
			scanCallArg(v.Callee, a, names, s)
		}
	case *ast.Borrow:
		scanExpr(v.X, names, s)
	case *ast.Deref:
		scanExpr(v.X, names, s)
	}
}

func scanCallArg(callee ast.QualifiedName, arg ast.Expr, names map[string]bool, s *Summary) {
	if callee.Module != "" {
		markExpr(arg, names, s.ForwardedCrossModule)
	}
	scanExpr(arg, names, s)
}

// recordCallee notes callee in CrossModuleCallees when it names another
// module, whether or not the call passes any arguments.
func recordCallee(callee ast.QualifiedName, s *Summary) {
	if callee.Module != "" {
		s.CrossModuleCallees[callee.Module+"::"+callee.Name] = true
	}
}

// markExpr sets dst[name] for every bare parameter reference (or field
// access/borrow rooted at one) found in e.
func markExpr(e ast.Expr, names map[string]bool, dst map[string]bool) {
	if e == nil {
		return
	}
	for _, v := range exprscan.Vars(e) {
		if names[v] {
			dst[v] = true
		}
	}
}
