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

// Package safety implements the remaining spec §4.5 rules that are not
// purely per-statement object/capability transfer functions: time-gating
// over Clock parameters, and DoS/loop-shape and resource-leak checks that
// need whole-function context. Unlike object and capability, most of this
// package inspects a *ast.Function directly rather than threading
// per-statement environment state, since the properties it checks
// (external calls nested inside a loop, a value that never reaches a
// terminal sink) are naturally whole-body questions.
package safety

import (
	"fmt"
	"strings"

	"github.com/hydra-sh/hydra/internal/pkg/ast"
	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/exprscan"
	"github.com/hydra-sh/hydra/internal/pkg/object"
	"github.com/hydra-sh/hydra/internal/pkg/report"
)

// Context mirrors object.Context and capability.Context.
type Context struct {
	Module   *ast.Module
	Function *ast.Function
	Config   *config.Config
}

// AnalyzeFunction runs every whole-function safety rule over fn and returns
// its findings. Called once per function by internal/pkg/escape, separately
// from the per-statement Visit loop the object/capability rule packs use.
func AnalyzeFunction(ctx Context) []report.SafetyViolation {
	var findings []report.SafetyViolation
	findings = append(findings, timeGatingFindings(ctx)...)
	findings = append(findings, consensusFindings(ctx)...)
	findings = append(findings, loopFindings(ctx, ctx.Function.Body, 0)...)
	findings = append(findings, resourceLeakFindings(ctx)...)
	return findings
}

// consensusFindings implements spec §4.5's parameter-based consensus rule:
// a write to a field of a &mut T parameter where T is known (module-wide,
// via object.SharedStructTypes) to have been shared elsewhere emits
// MissingConsensus unless a consensus::verify/assert_synchronized call
// dominates the write. This is distinct from internal/pkg/object's
// InvalidSharedAccess, which tracks one local variable's share-then-mutate
// history within a single function rather than a parameter's declared type.
func consensusFindings(ctx Context) []report.SafetyViolation {
	sharedParams := sharedMutParams(ctx)
	if len(sharedParams) == 0 {
		return nil
	}

	var findings []report.SafetyViolation
	guarded := false

	var walk func(stmts []ast.Stmt)
	walk = func(stmts []ast.Stmt) {
		for _, stmt := range stmts {
			switch s := stmt.(type) {
			case *ast.Assert:
				if exprscan.HasCall(s.Cond, "consensus::verify") || exprscan.HasCall(s.Cond, "consensus::assert_synchronized") {
					guarded = true
				}
			case *ast.Call:
				name := s.Callee.String()
				if strings.HasSuffix(name, "consensus::verify") || strings.HasSuffix(name, "consensus::assert_synchronized") {
					guarded = true
				}
			case *ast.Assign:
				field := ""
				for i := len(s.LValue.Path) - 1; i >= 0; i-- {
					if s.LValue.Path[i].Field != "" {
						field = s.LValue.Path[i].Field
						break
					}
				}
				if field != "" && sharedParams[s.LValue.Var] && !guarded {
					findings = append(findings, report.SafetyViolation{
						Kind:     report.KindMissingConsensus,
						Family:   report.FamilySharedObject,
						Severity: report.High,
						Location: loc(ctx, s),
						Message:  fmt.Sprintf("write to field of shared-object parameter %q with no dominating consensus::verify/assert_synchronized", s.LValue.Var),
					})
				}
			case *ast.If:
				walk(s.Then)
				walk(s.Else)
			case *ast.While:
				walk(s.Body)
			case *ast.Block:
				walk(s.Stmts)
			}
		}
	}
	walk(ctx.Function.Body)
	return findings
}

// sharedMutParams returns the names of ctx.Function's parameters typed
// &mut T where T is known to be shared somewhere in the module.
func sharedMutParams(ctx Context) map[string]bool {
	sharedTypes := object.SharedStructTypes(ctx.Module)
	if len(sharedTypes) == 0 {
		return nil
	}
	params := map[string]bool{}
	for _, p := range ctx.Function.Params {
		target, mutable := ast.Dereference(p.Type)
		if !mutable {
			continue
		}
		named, ok := target.(*ast.Named)
		if !ok || !sharedTypes[named.Struct] {
			continue
		}
		params[p.Name] = true
	}
	return params
}

// DynamicFieldFindings implements spec §9's supplementary scenario S7: a
// dynamic_field::add with no matching dynamic_field::remove of the same key
// anywhere else in the module emits an Info-severity DynamicFieldNotRemoved.
// Unlike the rest of this package, it runs once per module rather than once
// per function — a remove in a different function from its matching add is
// the common and intended pattern (e.g. add in a "deposit" entry function,
// remove in a "withdraw" one), so the scan has to see every function's
// dynamic-field operations at once. Per spec §9, this does not try to infer
// intent beyond textual key equality: it is an Info-severity heads-up, not
// an error.
func DynamicFieldFindings(mod *ast.Module) []report.SafetyViolation {
	var adds []dynamicFieldOp
	removed := map[string]bool{}

	for _, fn := range mod.Functions {
		fnAdds, fnRemoved := dynamicFieldOps(fn)
		adds = append(adds, fnAdds...)
		for k := range fnRemoved {
			removed[k] = true
		}
	}

	var findings []report.SafetyViolation
	for _, op := range adds {
		if op.key != "" && removed[op.key] {
			continue
		}
		line, col := op.stmt.Pos()
		findings = append(findings, report.SafetyViolation{
			Kind:     report.KindDynamicFieldNotRemoved,
			Family:   report.FamilyObject,
			Severity: report.Info,
			Location: report.Location{Module: mod.Name, Function: op.fn, Statement: op.stmt.StmtIndex(), Line: line, Column: col},
			Message:  fmt.Sprintf("dynamic_field::add with key %q has no matching dynamic_field::remove anywhere in the module", op.key),
		})
	}
	return findings
}

type dynamicFieldOp struct {
	fn   string
	stmt ast.Stmt
	key  string
}

// dynamicFieldOps walks fn's body for dynamic_field::add/remove operations,
// recognizing both the bare-call form (add's discarded unit result) and the
// let-bound VectorOp form (remove's returned value).
func dynamicFieldOps(fn *ast.Function) (adds []dynamicFieldOp, removedKeys map[string]bool) {
	removedKeys = map[string]bool{}
	var walk func([]ast.Stmt)
	walk = func(stmts []ast.Stmt) {
		for _, stmt := range stmts {
			switch s := stmt.(type) {
			case *ast.Call:
				name := s.Callee.String()
				switch {
				case strings.HasSuffix(name, "dynamic_field::add"):
					adds = append(adds, dynamicFieldOp{fn: fn.Name, stmt: s, key: dynamicFieldKey(s.Args)})
				case strings.HasSuffix(name, "dynamic_field::remove"):
					if k := dynamicFieldKey(s.Args); k != "" {
						removedKeys[k] = true
					}
				}
			case *ast.Let:
				if vop, ok := s.Expr.(*ast.VectorOp); ok && vop.Kind == ast.DynamicFieldRemove {
					if k := dynamicFieldKey(vop.Args); k != "" {
						removedKeys[k] = true
					}
				}
			case *ast.Assign:
				if vop, ok := s.Expr.(*ast.VectorOp); ok && vop.Kind == ast.DynamicFieldRemove {
					if k := dynamicFieldKey(vop.Args); k != "" {
						removedKeys[k] = true
					}
				}
			case *ast.If:
				walk(s.Then)
				walk(s.Else)
			case *ast.While:
				walk(s.Body)
			case *ast.Block:
				walk(s.Stmts)
			}
		}
	}
	walk(fn.Body)
	return adds, removedKeys
}

// dynamicFieldKey returns a textual representation of a dynamic_field
// add/remove call's key argument (conventionally args[1], after the &mut
// UID receiver), or "" when the key isn't one of the simple expression
// forms this heuristic recognizes.
func dynamicFieldKey(args []ast.Expr) string {
	if len(args) < 2 {
		return ""
	}
	return exprKeyText(args[1])
}

func exprKeyText(e ast.Expr) string {
	switch v := e.(type) {
	case *ast.Literal:
		return v.Text
	case *ast.Var:
		return v.Name
	case *ast.FieldAccess:
		if base := exprKeyText(v.X); base != "" {
			return base + "." + v.Field
		}
	}
	return ""
}

func hasClockParam(ctx Context) (string, bool) {
	for _, p := range ctx.Function.Params {
		_, name := ast.DecomposeNamed(p.Type)
		if name == "Clock" {
			return p.Name, true
		}
	}
	return "", false
}

func timeGatingFindings(ctx Context) []report.SafetyViolation {
	clockParam, ok := hasClockParam(ctx)
	if !ok {
		return nil
	}
	var findings []report.SafetyViolation

	usedInTimestampMs := false
	mutatesTimestampField := false
	hasForwardAssert := false

	var walk func(stmts []ast.Stmt)
	walk = func(stmts []ast.Stmt) {
		for _, stmt := range stmts {
			switch s := stmt.(type) {
			case *ast.Assert:
				if exprscan.HasCall(s.Cond, "clock::timestamp_ms") {
					usedInTimestampMs = true
					if bin, ok := s.Cond.(*ast.BinOp); ok && (bin.Op == ">=" || bin.Op == ">") {
						hasForwardAssert = true
					}
				}
			case *ast.Let:
				if exprscan.HasCall(s.Expr, "clock::timestamp_ms") {
					usedInTimestampMs = true
				}
			case *ast.Assign:
				field := ""
				for i := len(s.LValue.Path) - 1; i >= 0; i-- {
					if s.LValue.Path[i].Field != "" {
						field = s.LValue.Path[i].Field
						break
					}
				}
				if strings.Contains(strings.ToLower(field), "timestamp") || strings.Contains(strings.ToLower(field), "_ts") {
					mutatesTimestampField = true
					if !hasForwardAssert {
						findings = append(findings, report.SafetyViolation{
							Kind:     report.KindMissingTimestampCheck,
							Family:   report.FamilySharedObject,
							Severity: report.High,
							Location: loc(ctx, s),
							Message:  fmt.Sprintf("forward-advance write to %q with no dominating assert!(clock::timestamp_ms(%s) >= prior + min_interval)", field, clockParam),
						})
					}
				}
				if exprscan.HasCall(s.Expr, "clock::timestamp_ms") {
					usedInTimestampMs = true
				}
			case *ast.If:
				walk(s.Then)
				walk(s.Else)
			case *ast.While:
				walk(s.Body)
			case *ast.Block:
				walk(s.Stmts)
			case *ast.Call:
				if strings.HasSuffix(s.Callee.String(), "clock::timestamp_ms") {
					usedInTimestampMs = true
				}
				for _, a := range s.Args {
					if exprscan.HasCall(a, "clock::timestamp_ms") {
						usedInTimestampMs = true
					}
				}
			}
		}
	}
	walk(ctx.Function.Body)

	if !usedInTimestampMs && !mutatesTimestampField {
		findings = append(findings, report.SafetyViolation{
			Kind:     report.KindUnusedClock,
			Family:   report.FamilySharedObject,
			Severity: report.Low,
			Location: report.Location{Module: ctx.Module.Name, Function: ctx.Function.Name},
			Message:  fmt.Sprintf("parameter %q of type &Clock is never passed to clock::timestamp_ms", clockParam),
		})
	}
	return findings
}

// loopFindings walks stmts looking for While loops, counting cross-module
// calls and external-call-dependent loop bounds within each, at the given
// nesting depth (0 = not inside any loop yet).
func loopFindings(ctx Context, stmts []ast.Stmt, depth int) []report.SafetyViolation {
	var findings []report.SafetyViolation
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.While:
			externalCalls := countExternalCalls(ctx, s.Body)
			if externalCalls >= 1 {
				sev := report.Medium
				kind := report.KindExternalCallInLoop
				if depth+1 >= 2 {
					sev = report.High
					kind = report.KindNestedExternalLoops
				}
				findings = append(findings, report.SafetyViolation{
					Kind:     kind,
					Family:   report.FamilyDoS,
					Severity: sev,
					Location: loc(ctx, s),
					Message:  "loop body contains a call into another module, unbounded by consensus cost limits",
				})
			}
			if boundDependsOnExternalCall(ctx, s.Cond) {
				findings = append(findings, report.SafetyViolation{
					Kind:     report.KindDynamicLoopBound,
					Family:   report.FamilyDoS,
					Severity: report.Medium,
					Location: loc(ctx, s),
					Message:  "loop bound depends on the result of an external call",
				})
			}
			findings = append(findings, loopFindings(ctx, s.Body, depth+1)...)
		case *ast.If:
			findings = append(findings, loopFindings(ctx, s.Then, depth)...)
			findings = append(findings, loopFindings(ctx, s.Else, depth)...)
		case *ast.Block:
			findings = append(findings, loopFindings(ctx, s.Stmts, depth)...)
		}
	}
	return findings
}

func countExternalCalls(ctx Context, stmts []ast.Stmt) int {
	count := 0
	var walk func([]ast.Stmt)
	walk = func(stmts []ast.Stmt) {
		for _, stmt := range stmts {
			switch s := stmt.(type) {
			case *ast.Call:
				if s.Callee.Module != "" && s.Callee.Module != ctx.Module.Name {
					count++
				}
			case *ast.Let:
				if c, ok := s.Expr.(*ast.CallExpr); ok && c.Callee.Module != "" && c.Callee.Module != ctx.Module.Name {
					count++
				}
			case *ast.If:
				walk(s.Then)
				walk(s.Else)
			case *ast.Block:
				walk(s.Stmts)
			}
		}
	}
	walk(stmts)
	return count
}

func boundDependsOnExternalCall(ctx Context, cond ast.Expr) bool {
	for _, callee := range exprscan.Calls(cond) {
		idx := strings.LastIndex(callee, "::")
		if idx < 0 {
			continue
		}
		mod := callee[:idx]
		if mod != "" && mod != ctx.Module.Name {
			return true
		}
	}
	return false
}

// resourceLeakFindings flags local variables of store-but-not-drop struct
// types that are never moved into vector::push_back, transferred, or
// returned by the end of the function.
func resourceLeakFindings(ctx Context) []report.SafetyViolation {
	var findings []report.SafetyViolation
	owned := map[string]ast.Stmt{}

	var scan func([]ast.Stmt)
	scan = func(stmts []ast.Stmt) {
		for _, stmt := range stmts {
			switch s := stmt.(type) {
			case *ast.Let:
				if ctor, ok := s.Expr.(*ast.StructCtor); ok {
					decl := ctx.Module.StructByName(ctor.Struct.Name)
					if decl != nil && decl.HasAbility(ast.AbilityStore) && !decl.HasAbility(ast.AbilityDrop) {
						owned[s.Name] = s
					}
				}
			case *ast.Call:
				consumeOwned(owned, s.Callee, s.Args)
			case *ast.Return:
				if v, ok := s.Expr.(*ast.Var); ok {
					delete(owned, v.Name)
				}
			case *ast.If:
				scan(s.Then)
				scan(s.Else)
			case *ast.Block:
				scan(s.Stmts)
			case *ast.While:
				scan(s.Body)
			}
		}
	}
	scan(ctx.Function.Body)

	for name, stmt := range owned {
		findings = append(findings, report.SafetyViolation{
			Kind:     report.KindResourceLeak,
			Family:   report.FamilyDoS,
			Severity: report.High,
			Location: loc(ctx, stmt),
			Message:  fmt.Sprintf("%q has store but not drop and is never transferred, stored, or returned", name),
		})
	}
	return findings
}

func consumeOwned(owned map[string]ast.Stmt, callee ast.QualifiedName, args []ast.Expr) {
	name := callee.String()
	isSink := strings.HasSuffix(name, "vector::push_back") ||
		strings.HasSuffix(name, "transfer::transfer") ||
		strings.HasSuffix(name, "transfer::public_transfer") ||
		strings.HasSuffix(name, "transfer::share_object") ||
		strings.HasSuffix(name, "table::add") ||
		strings.HasSuffix(name, "dynamic_field::add")
	if !isSink {
		return
	}
	for _, a := range args {
		if v, ok := a.(*ast.Var); ok {
			delete(owned, v.Name)
		}
	}
}

func loc(ctx Context, stmt ast.Stmt) report.Location {
	line, col := stmt.Pos()
	return report.Location{
		Module:    ctx.Module.Name,
		Function:  ctx.Function.Name,
		Statement: stmt.StmtIndex(),
		Line:      line,
		Column:    col,
	}
}
