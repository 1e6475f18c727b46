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

// Package suppression applies the "// hydra-ignore" pragma to a module's
// findings after analysis, the way the teacher's suppression analyzer
// identified comment-suppressed ast.Node values — generalized from a set of
// suppressed go/ast nodes to a (function, statement) index built from our
// own parser's StmtBase.Suppressed/SuppressedRule fields, since a
// SafetyViolation only carries a Location (module/function/statement
// index), never a pointer back to the ast.Stmt that produced it.
package suppression

import "github.com/hydra-sh/hydra/internal/pkg/ast"
import "github.com/hydra-sh/hydra/internal/pkg/report"

// Pragma is the suppression request attached to one statement.
type Pragma struct {
	// Reason is non-empty for a bare "// hydra-ignore: <reason>" comment,
	// which suppresses every finding reported at this statement.
	Reason string

	// Rule is non-empty for a "// hydra-ignore-next: <rule-id>" comment,
	// which suppresses only findings of that one Kind at this statement.
	Rule string
}

type key struct {
	function string
	stmt     int
}

// Index maps a (function name, statement index) to the pragma attached to
// that statement, for every function in one module.
type Index map[key]Pragma

// BuildIndex walks every function body in mod, recursing into If/While/
// Block bodies, and records the suppression pragma (if any) attached to
// each statement.
func BuildIndex(mod *ast.Module) Index {
	idx := Index{}
	for _, fn := range mod.Functions {
		walkStmts(idx, fn.Name, fn.Body)
	}
	return idx
}

func walkStmts(idx Index, fn string, stmts []ast.Stmt) {
	for _, s := range stmts {
		reason, rule := s.SuppressionReason(), s.SuppressionRule()
		if reason != "" || rule != "" {
			idx[key{fn, s.StmtIndex()}] = Pragma{Reason: reason, Rule: rule}
		}
		switch v := s.(type) {
		case *ast.If:
			walkStmts(idx, fn, v.Then)
			walkStmts(idx, fn, v.Else)
		case *ast.While:
			walkStmts(idx, fn, v.Body)
		case *ast.Block:
			walkStmts(idx, fn, v.Stmts)
		}
	}
}

// Apply filters violations against idx, dropping any finding whose pragma
// covers it. Critical findings are never suppressed (spec invariant:
// suppression respect, critical is never suppressed), regardless of which
// pragma is attached to their statement.
func Apply(idx Index, violations []report.SafetyViolation) []report.SafetyViolation {
	out := make([]report.SafetyViolation, 0, len(violations))
	for _, v := range violations {
		if v.Severity == report.Critical {
			out = append(out, v)
			continue
		}
		p, ok := idx[key{v.Location.Function, v.Location.Statement}]
		if !ok {
			out = append(out, v)
			continue
		}
		if p.Reason != "" {
			continue
		}
		if p.Rule != "" && p.Rule == string(v.Kind) {
			continue
		}
		out = append(out, v)
	}
	return out
}
