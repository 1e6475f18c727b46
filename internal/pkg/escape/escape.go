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

// Package escape is the fixed-point dataflow driver of spec §4.2: it builds
// a function's CFG, iterates the Ξimm transfer functions to a fixed point
// in reverse postorder (the worklist discipline spec §4.2 calls for), and
// on the stable environment calls into the object, capability, and safety
// rule packs for every statement. It plays the role the teacher's
// internal/pkg/interp fixed-point interpreter plays for taint propagation,
// generalized from a single source/sink lattice to Ξimm plus the object and
// capability overlay facts.
package escape

import (
	"fmt"
	"strings"

	"github.com/hydra-sh/hydra/internal/pkg/ast"
	"github.com/hydra-sh/hydra/internal/pkg/callsummary"
	"github.com/hydra-sh/hydra/internal/pkg/capability"
	"github.com/hydra-sh/hydra/internal/pkg/cfg"
	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/exprscan"
	"github.com/hydra-sh/hydra/internal/pkg/object"
	"github.com/hydra-sh/hydra/internal/pkg/report"
	"github.com/hydra-sh/hydra/internal/pkg/safety"
	"github.com/hydra-sh/hydra/internal/pkg/ximm"
)

// frameworkModules are Move/Sui standard-library modules whose calls are
// never treated as an untrusted boundary crossing — they have their own
// dedicated rule packs (transfer semantics in object, consensus/clock
// guards in safety) instead.
var frameworkModules = map[string]bool{
	"transfer":      true,
	"vector":        true,
	"table":         true,
	"dynamic_field": true,
	"consensus":     true,
	"clock":         true,
	"object":        true,
	"tx_context":    true,
}

// maxFixedPointRounds bounds worklist iteration independent of loop count,
// as a defensive backstop; spec §4.2 guarantees convergence from lattice
// finiteness alone, so this is never expected to bind on well-formed input.
const maxFixedPointRounds = 64

// AnalyzeFunction runs the full per-statement dataflow pass plus the
// whole-function safety rules over fn and returns every finding. summaries
// is the module's one-hop call-summary table (internal/pkg/callsummary),
// built once per module by the caller and reused across every function in
// it, so the capability rule pack can catch a same-module helper that
// itself forwards a capability parameter cross-module.
func AnalyzeFunction(mod *ast.Module, fn *ast.Function, cfg2 *config.Config, summaries callsummary.Table) []report.SafetyViolation {
	graph := cfg.Build(fn.Body)
	rpo := graph.ReversePostOrder()

	in := make([]*ximm.Environment, len(graph.Blocks))
	out := make([]*ximm.Environment, len(graph.Blocks))
	entryEnv := seedEntry(fn, mod, cfg2)

	for round := 0; round < maxFixedPointRounds; round++ {
		changed := false
		for _, id := range rpo {
			blk := graph.Blocks[id]
			var envIn *ximm.Environment
			if id == graph.Entry {
				envIn = entryEnv
			}
			var preds []*ximm.Environment
			for _, p := range blk.Preds {
				if out[p] != nil {
					preds = append(preds, out[p])
				}
			}
			if len(preds) > 0 {
				if envIn != nil {
					preds = append(preds, envIn)
				}
				envIn = ximm.Join(preds...)
			} else if envIn == nil {
				envIn = ximm.New()
			}
			in[id] = envIn

			envOut, _ := runBlock(envIn, blk, mod, fn, cfg2, summaries, false)
			if out[id] == nil || !ximm.Equal(out[id], envOut) {
				changed = true
			}
			out[id] = envOut
		}
		if !changed {
			break
		}
	}

	var findings []report.SafetyViolation
	for _, id := range rpo {
		blk := graph.Blocks[id]
		_, blkFindings := runBlock(in[id], blk, mod, fn, cfg2, summaries, true)
		findings = append(findings, blkFindings...)
	}

	findings = append(findings, safety.AnalyzeFunction(safety.Context{Module: mod, Function: fn, Config: cfg2})...)
	return findings
}

// seedEntry builds the function-entry environment. Reference-typed
// parameters start OkRef/InvRef per their declared mutability; a parameter
// whose (possibly dereferenced) type names a capability struct also starts
// with a zero CapFact, so a function that merely forwards or returns a
// capability it was handed — rather than constructing one locally, which
// capability.seedFromCtor handles — is still tracked by the
// capability rule pack (spec S4's unsafe_cap_usage(cap: &mut AdminCap)
// takes exactly this shape).
func seedEntry(fn *ast.Function, mod *ast.Module, cfg2 *config.Config) *ximm.Environment {
	env := ximm.New()
	for _, p := range fn.Params {
		st := ximm.VarState{}
		if ref, ok := p.Type.(*ast.Reference); ok {
			st.Ref = ximm.RefFact{Value: ximm.OkRef, Mutable: ref.Mutable}
		} else {
			st.Ref = ximm.RefFact{Value: ximm.NonRef}
		}
		if _, name := ast.DecomposeNamed(p.Type); name != "" && cfg2.IsCapabilityTypeName(name) {
			st.Cap = &ximm.CapFact{}
		}
		env = env.With(p.Name, st)
	}
	return env
}

// runBlock threads env through blk's statements, invoking the ref-escape
// transfer function and the object/capability rule packs for each one.
// When collect is false, findings are discarded (used during fixed-point
// iterations prior to convergence, to avoid doing report-construction work
// that would just be thrown away).
func runBlock(env *ximm.Environment, blk *cfg.Block, mod *ast.Module, fn *ast.Function, cfg2 *config.Config, summaries callsummary.Table, collect bool) (*ximm.Environment, []report.SafetyViolation) {
	var findings []report.SafetyViolation
	for _, stmt := range blk.Stmts {
		var stepFindings []report.SafetyViolation
		env, stepFindings = stepRef(env, stmt, mod, fn, cfg2)
		if collect {
			findings = append(findings, stepFindings...)
		}

		var objFindings []report.SafetyViolation
		env, objFindings = object.Visit(env, stmt, object.Context{Module: mod, Function: fn, Config: cfg2})
		if collect {
			findings = append(findings, objFindings...)
		}

		var capFindings []report.SafetyViolation
		env, capFindings = capability.Visit(env, stmt, capability.Context{Module: mod, Function: fn, Config: cfg2, Summaries: summaries})
		if collect {
			findings = append(findings, capFindings...)
		}
	}
	// Return/Abort terminators are already included in Stmts (see
	// cfg.Build); only If/While conditions still need a rule-pack visit,
	// for the capability field-use checks that inspect branch/loop guards.
	switch blk.Terminator.(type) {
	case *ast.If, *ast.While:
		var capFindings []report.SafetyViolation
		env, capFindings = capability.Visit(env, blk.Terminator, capability.Context{Module: mod, Function: fn, Config: cfg2, Summaries: summaries})
		if collect {
			findings = append(findings, capFindings...)
		}
	}
	return env, findings
}

// locOf builds a report.Location for stmt, mirroring the loc() helper in
// object, capability, and safety.
func locOf(mod *ast.Module, fn *ast.Function, stmt ast.Stmt) report.Location {
	line, col := stmt.Pos()
	return report.Location{
		Module:    mod.Name,
		Function:  fn.Name,
		Statement: stmt.StmtIndex(),
		Line:      line,
		Column:    col,
	}
}

func stepRef(env *ximm.Environment, stmt ast.Stmt, mod *ast.Module, fn *ast.Function, cfg2 *config.Config) (*ximm.Environment, []report.SafetyViolation) {
	switch s := stmt.(type) {
	case *ast.Let:
		return stepLet(env, s, mod)
	case *ast.Return:
		return stepReturn(env, s, mod, fn)
	case *ast.Call:
		return stepCall(env, s, mod, fn)
	case *ast.Opaque:
		return stepOpaque(env, s, mod, fn)
	}
	return env, nil
}

// stepOpaque handles an unrecognized-but-syntactically-valid statement
// (ast.Opaque), per spec §4.7: the analyzer cannot reason about what the
// statement did, so every in-scope reference is widened to InvRef and any
// object/capability checked bits are cleared, and the step reports
// AnalysisWarning rather than silently dropping the statement.
func stepOpaque(env *ximm.Environment, s *ast.Opaque, mod *ast.Module, fn *ast.Function) (*ximm.Environment, []report.SafetyViolation) {
	widened := env.Widen()
	finding := report.SafetyViolation{
		Kind:     report.KindAnalysisWarning,
		Family:   report.FamilyReference,
		Severity: report.Info,
		Location: locOf(mod, fn, s),
		Message:  fmt.Sprintf("unrecognized statement (%s, mentions %v); widening environment and continuing", s.Description, s.Vars),
	}
	return widened, []report.SafetyViolation{finding}
}

func stepLet(env *ximm.Environment, s *ast.Let, mod *ast.Module) (*ximm.Environment, []report.SafetyViolation) {
	switch e := s.Expr.(type) {
	case *ast.Borrow:
		fact := ximm.RefFact{Value: ximm.OkRef, Mutable: e.Mutable}
		if viaInvariant(e.X, mod) {
			fact.Value = ximm.InvRef
			fact.ViaInvariant = true
		}
		return env.With(s.Name, ximm.VarState{Ref: fact}), nil

	case *ast.Var:
		src := env.Lookup(e.Name)
		return env.With(s.Name, ximm.VarState{Ref: src.Ref, Obj: src.Obj, Cap: src.Cap}), nil

	case *ast.StructCtor:
		tainted := false
		for _, fi := range e.Fields {
			if v, ok := fi.Value.(*ast.Var); ok {
				if env.Lookup(v.Name).Ref.Value != ximm.NonRef {
					tainted = true
				}
			}
		}
		fact := ximm.RefFact{Value: ximm.NonRef}
		if tainted {
			fact = ximm.RefFact{Value: ximm.InvRef, Escaped: true}
		}
		st := env.Lookup(s.Name)
		st.Ref = fact
		return env.With(s.Name, st), nil

	default:
		st := env.Lookup(s.Name)
		st.Ref = ximm.RefFact{Value: ximm.NonRef}
		return env.With(s.Name, st), nil
	}
}

// viaInvariant reports whether e is a field path rooted at a function
// parameter whose struct declares invariant-relevant fields: any field
// other than the object-identity field of a `key`-having struct, unless
// the accessed field's own type carries `copy`.
func viaInvariant(e ast.Expr, mod *ast.Module) bool {
	fa, ok := e.(*ast.FieldAccess)
	if !ok {
		return false
	}
	if _, ok := fa.X.(*ast.Var); !ok {
		return false
	}
	// We only have the variable's name here, not its declared type — the
	// caller (stepLet) doesn't thread parameter types through Environment
	// today, so fall back to a name-based heuristic consistent with
	// object.Config.IsInvariantField: a field other than "id" on any
	// key-having struct in the module whose name matches.
	if fa.Field == "id" {
		return false
	}
	for _, s := range mod.Structs {
		if !s.HasAbility(ast.AbilityKey) {
			continue
		}
		f := s.FieldByName(fa.Field)
		if f == nil {
			continue
		}
		if named, isNamed := f.Type.(*ast.Named); isNamed {
			target := mod.StructByName(named.Struct)
			if target != nil && target.HasAbility(ast.AbilityCopy) {
				continue
			}
		}
		return true
	}
	return false
}

func stepReturn(env *ximm.Environment, s *ast.Return, mod *ast.Module, fn *ast.Function) (*ximm.Environment, []report.SafetyViolation) {
	if s.Expr == nil {
		return env, nil
	}
	var findings []report.SafetyViolation
	// Returning a borrow taken directly into invariant-protected state
	// (e.g. `return &mut data.value;`) escapes it to the caller.
	if b, ok := s.Expr.(*ast.Borrow); ok && viaInvariant(b.X, mod) {
		findings = append(findings, report.SafetyViolation{
			Kind:     report.KindReferenceEscape,
			Family:   report.FamilyReference,
			Severity: report.High,
			Location: locOf(mod, fn, s),
			Message:  "returned reference reaches invariant-protected state or a prior escape point",
		})
	}
	for _, name := range exprscan.Vars(s.Expr) {
		fact := env.Lookup(name).Ref
		if fact.Value == ximm.InvRef {
			findings = append(findings, report.SafetyViolation{
				Kind:     report.KindReferenceEscape,
				Family:   report.FamilyReference,
				Severity: report.High,
				Location: locOf(mod, fn, s),
				Message:  "returned reference reaches invariant-protected state or a prior escape point",
			})
		} else if fact.Value == ximm.OkRef && len(fn.ResultRefPositions()) > 0 {
			st := env.Lookup(name)
			st.Ref.Value = ximm.InvRef
			env = env.With(name, st)
		}
	}
	return env, findings
}

func stepCall(env *ximm.Environment, s *ast.Call, mod *ast.Module, fn *ast.Function) (*ximm.Environment, []report.SafetyViolation) {
	var findings []report.SafetyViolation
	calleeModule := s.Callee.Module
	crossModule := calleeModule != "" && calleeModule != mod.Name && !frameworkModules[calleeModule]

	if crossModule {
		for _, arg := range s.Args {
			v, ok := arg.(*ast.Var)
			if !ok {
				continue
			}
			st := env.Lookup(v.Name)
			if st.Ref.Value == ximm.InvRef || st.Obj != nil || st.Cap != nil {
				findings = append(findings, report.SafetyViolation{
					Kind:     report.KindBoundaryCrossing,
					Family:   report.FamilyReference,
					Severity: report.High,
					Location: locOf(mod, fn, s),
					Message:  "argument carrying invariant-protected, object, or capability state crosses a module boundary",
				})
			}
		}
	}

	name := s.Callee.String()
	isCollectionInsert := strings.HasSuffix(name, "vector::push_back") ||
		strings.HasSuffix(name, "table::add") ||
		strings.HasSuffix(name, "dynamic_field::add")
	if isCollectionInsert {
		for _, arg := range s.Args {
			v, ok := arg.(*ast.Var)
			if !ok {
				continue
			}
			if env.Lookup(v.Name).Ref.Value != ximm.NonRef {
				findings = append(findings, report.SafetyViolation{
					Kind:     report.KindStoredReference,
					Family:   report.FamilyReference,
					Severity: report.Medium,
					Location: locOf(mod, fn, s),
					Message:  "reference-typed value stored into a collection",
				})
			}
		}
	}
	return env, findings
}
