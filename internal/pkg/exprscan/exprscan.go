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

// Package exprscan walks an ast.Expr tree to answer the small structural
// questions the rule packs need without a full interpreter: which
// identifiers and calls does this (guard) expression mention. The rule
// packs use these to recognize a guarding assert! by its shape (does it
// call clock::timestamp_ms, does it compare against cap.expiry) rather than
// by evaluating it.
package exprscan

import (
	"strings"

	"github.com/hydra-sh/hydra/internal/pkg/ast"
)

// Calls returns the qualified name of every ast.CallExpr anywhere in e,
// innermost calls included. VectorOp nodes are walked for their arguments
// but are not themselves listed.
func Calls(e ast.Expr) []string {
	var out []string
	walk(e, func(x ast.Expr) {
		if c, ok := x.(*ast.CallExpr); ok {
			out = append(out, c.Callee.String())
		}
	})
	return out
}

// HasCall reports whether e contains a call whose qualified name is suffix
// (e.g. "clock::timestamp_ms" matches both "clock::timestamp_ms" and
// "0x2::clock::timestamp_ms").
func HasCall(e ast.Expr, suffix string) bool {
	for _, c := range Calls(e) {
		if hasSuffix(c, suffix) {
			return true
		}
	}
	return false
}

func hasSuffix(full, suffix string) bool {
	return full == suffix || strings.HasSuffix(full, "::"+suffix)
}

// Vars returns every bare variable name referenced anywhere in e.
func Vars(e ast.Expr) []string {
	var out []string
	walk(e, func(x ast.Expr) {
		if v, ok := x.(*ast.Var); ok {
			out = append(out, v.Name)
		}
	})
	return out
}

// MentionsVar reports whether name is referenced anywhere in e, either bare
// or as the root of a field access.
func MentionsVar(e ast.Expr, name string) bool {
	for _, v := range Vars(e) {
		if v == name {
			return true
		}
	}
	return false
}

// FieldAccesses returns every "root.field" pair accessed in e, where root is
// the base variable name (best-effort: only direct Var roots are reported).
type FieldRef struct {
	Root  string
	Field string
}

func FieldAccesses(e ast.Expr) []FieldRef {
	var out []FieldRef
	walk(e, func(x ast.Expr) {
		fa, ok := x.(*ast.FieldAccess)
		if !ok {
			return
		}
		if v, ok := fa.X.(*ast.Var); ok {
			out = append(out, FieldRef{Root: v.Name, Field: fa.Field})
		}
	})
	return out
}

// HasFieldAccess reports whether e accesses root.field anywhere.
func HasFieldAccess(e ast.Expr, root, field string) bool {
	for _, fr := range FieldAccesses(e) {
		if fr.Root == root && fr.Field == field {
			return true
		}
	}
	return false
}

// HasLiteral reports whether e contains an integer/address literal whose
// source text equals text (e.g. "0xFF").
func HasLiteral(e ast.Expr, text string) bool {
	found := false
	walk(e, func(x ast.Expr) {
		if l, ok := x.(*ast.Literal); ok && l.Text == text {
			found = true
		}
	})
	return found
}

// walk visits every Expr node in e, calling visit on each (including e
// itself), depth-first.
func walk(e ast.Expr, visit func(ast.Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch v := e.(type) {
	case *ast.FieldAccess:
		walk(v.X, visit)
	case *ast.Index:
		walk(v.X, visit)
		walk(v.Index, visit)
	case *ast.Borrow:
		walk(v.X, visit)
	case *ast.Deref:
		walk(v.X, visit)
	case *ast.CallExpr:
		for _, a := range v.Args {
			walk(a, visit)
		}
	case *ast.BinOp:
		walk(v.L, visit)
		walk(v.R, visit)
	case *ast.UnOp:
		walk(v.X, visit)
	case *ast.StructCtor:
		for _, f := range v.Fields {
			walk(f.Value, visit)
		}
	case *ast.VectorOp:
		for _, a := range v.Args {
			walk(a, visit)
		}
	}
}
