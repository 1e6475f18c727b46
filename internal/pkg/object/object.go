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

// Package object implements the object-lifecycle rule pack of spec §4.3:
// construction, transfer, sharing, invariant-field writes, and unchecked
// arithmetic. It is a rule pack in the same sense as the teacher's
// propagation/sanitizer packages were for go-flow-levee: a Visit function
// consulted once per statement by the fixed-point driver in
// internal/pkg/escape, reading and extending the same Environment the
// escape analysis threads through the CFG.
package object

import (
	"fmt"
	"strings"

	"github.com/hydra-sh/hydra/internal/pkg/ast"
	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/exprscan"
	"github.com/hydra-sh/hydra/internal/pkg/report"
	"github.com/hydra-sh/hydra/internal/pkg/ximm"
)

// Context carries the read-only information the rule pack needs beyond the
// statement itself.
type Context struct {
	Module   *ast.Module
	Function *ast.Function
	Config   *config.Config
}

// Visit applies the object-state transfer function for one statement,
// returning the updated environment and any violations the statement's
// object-related facts produce. The returned environment is always a fresh
// value (or env itself when nothing changed); callers must not assume env
// is mutated in place.
func Visit(env *ximm.Environment, stmt ast.Stmt, ctx Context) (*ximm.Environment, []report.SafetyViolation) {
	var findings []report.SafetyViolation

	switch s := stmt.(type) {
	case *ast.Let:
		env, findings = visitLet(env, s, ctx)
	case *ast.Assign:
		env, findings = visitAssign(env, s, ctx)
	case *ast.Call:
		env, findings = visitCall(env, s, ctx, s.Callee, s.Args)
	case *ast.Assert:
		env = applyGuard(env, s.Cond)
	}
	return env, findings
}

func visitLet(env *ximm.Environment, s *ast.Let, ctx Context) (*ximm.Environment, []report.SafetyViolation) {
	ctor, ok := s.Expr.(*ast.StructCtor)
	if !ok {
		return env, nil
	}
	structName := ctor.Struct.Name
	decl := ctx.Module.StructByName(structName)
	if decl == nil || !decl.HasAbility(ast.AbilityKey) {
		return env, nil
	}

	initialized := true
	for _, f := range decl.Fields {
		if f.Name == "id" {
			continue
		}
		found := false
		for _, fi := range ctor.Fields {
			if fi.Field == f.Name {
				found = true
				break
			}
		}
		if !found {
			initialized = false
			break
		}
	}

	st := env.Lookup(s.Name)
	st.Obj = &ximm.ObjectFact{CreatedHere: true, Initialized: initialized}
	return env.With(s.Name, st), nil
}

func visitAssign(env *ximm.Environment, s *ast.Assign, ctx Context) (*ximm.Environment, []report.SafetyViolation) {
	var findings []report.SafetyViolation
	field := lastField(s.LValue)
	if field == "" {
		return env, nil
	}
	if ctx.Config.IsInvariantField(field) && !env.Guarded(ximm.GuardName("invariant", field)) {
		findings = append(findings, report.SafetyViolation{
			Kind:     report.KindInvariantViolation,
			Family:   report.FamilyObject,
			Severity: report.High,
			Location: loc(ctx, s),
			Message:  fmt.Sprintf("write to invariant-carrying field %q is not dominated by an assert! guard", field),
		})
	}
	switch s.Expr.(type) {
	case *ast.BinOp:
		findings = append(findings, arithmeticFindings(env, s, ctx, field)...)
	}

	if root := env.Lookup(s.LValue.Var); root.Obj != nil && root.Obj.Shared && !env.Guarded(ximm.GuardName("consensus", "")) {
		findings = append(findings, report.SafetyViolation{
			Kind:     report.KindInvalidSharedAccess,
			Family:   report.FamilySharedObject,
			Severity: report.High,
			Location: loc(ctx, s),
			Message:  fmt.Sprintf("%q was shared via transfer::share_object and is mutated here with no dominating consensus::verify/assert_synchronized", s.LValue.Var),
		})
	}
	return env, findings
}

func lastField(lv ast.LValue) string {
	for i := len(lv.Path) - 1; i >= 0; i-- {
		if lv.Path[i].Field != "" {
			return lv.Path[i].Field
		}
	}
	return ""
}

func arithmeticFindings(env *ximm.Environment, s *ast.Assign, ctx Context, field string) []report.SafetyViolation {
	bin := s.Expr.(*ast.BinOp)
	var findings []report.SafetyViolation
	switch bin.Op {
	case "+", "*":
		if !env.Guarded(ximm.GuardName("overflow", field)) {
			findings = append(findings, report.SafetyViolation{
				Kind:     report.KindUncheckedArithmetic,
				Family:   report.FamilyObject,
				Severity: report.Medium,
				Location: loc(ctx, s),
				Message:  fmt.Sprintf("additive/multiplicative write to %q with no overflow-predicate assert! on this path", field),
			})
		}
	case "-":
		if !env.Guarded(ximm.GuardName("underflow", field)) {
			findings = append(findings, report.SafetyViolation{
				Kind:     report.KindPossibleUnderflow,
				Family:   report.FamilyObject,
				Severity: report.Medium,
				Location: loc(ctx, s),
				Message:  fmt.Sprintf("subtractive write to %q with no lower-bound assert! on this path", field),
			})
		}
	case "/", "%":
		divisor := exprscan.Vars(bin.R)
		guarded := env.Guarded(ximm.GuardName("divzero", field))
		for _, v := range divisor {
			if env.Guarded(ximm.GuardName("divzero", v)) {
				guarded = true
			}
		}
		if !guarded {
			findings = append(findings, report.SafetyViolation{
				Kind:     report.KindDivByZero,
				Family:   report.FamilyObject,
				Severity: report.High,
				Location: loc(ctx, s),
				Message:  fmt.Sprintf("division/modulo assigned to %q with no non-zero check on the divisor", field),
			})
		}
	}
	return findings
}

func visitCall(env *ximm.Environment, s *ast.Call, ctx Context, callee ast.QualifiedName, args []ast.Expr) (*ximm.Environment, []report.SafetyViolation) {
	var findings []report.SafetyViolation
	name := callee.String()

	switch {
	case strings.HasSuffix(name, "transfer::transfer") || strings.HasSuffix(name, "transfer::public_transfer"):
		if len(args) >= 1 {
			if v, ok := args[0].(*ast.Var); ok {
				env, findings = applyTransfer(env, v.Name, args, ctx, s)
			}
		}
	case strings.HasSuffix(name, "transfer::share_object"):
		if len(args) >= 1 {
			if v, ok := args[0].(*ast.Var); ok {
				st := env.Lookup(v.Name)
				if st.Obj == nil {
					st.Obj = &ximm.ObjectFact{}
				}
				obj := *st.Obj
				obj.Shared = true
				st.Obj = &obj
				env = env.With(v.Name, st)
			}
		}
	}

	if strings.Contains(name, "consensus::verify") || strings.Contains(name, "consensus::assert_synchronized") {
		env = env.WithGuard(ximm.GuardName("consensus", ""))
	}

	return env, findings
}

func applyTransfer(env *ximm.Environment, name string, args []ast.Expr, ctx Context, s *ast.Call) (*ximm.Environment, []report.SafetyViolation) {
	var findings []report.SafetyViolation
	st := env.Lookup(name)
	if st.Obj != nil && st.Obj.Transferred {
		findings = append(findings, report.SafetyViolation{
			Kind:     report.KindUseAfterTransfer,
			Family:   report.FamilyObject,
			Severity: report.High,
			Location: loc(ctx, s),
			Message:  fmt.Sprintf("%q is used after having already been transferred", name),
		})
	}

	checked := false
	if len(args) >= 2 {
		if recipient, ok := args[1].(*ast.Var); ok {
			checked = mentionsRecipientCheck(ctx, recipient.Name)
		} else {
			for _, helper := range ctx.Config.RecipientHelperNames() {
				if exprscan.HasCall(args[1], helper) {
					checked = true
				}
			}
		}
	}
	if !checked {
		for _, stmt := range ctx.Function.Body {
			if a, ok := stmt.(*ast.Assert); ok {
				for _, helper := range ctx.Config.RecipientHelperNames() {
					if exprscan.HasCall(a.Cond, helper) {
						checked = true
					}
				}
				if exprscan.HasFieldAccess(a.Cond, name, "owner") {
					checked = true
				}
			}
		}
	}
	if !checked {
		findings = append(findings, report.SafetyViolation{
			Kind:     report.KindUnsafeTransfer,
			Family:   report.FamilyObject,
			Severity: report.Critical,
			Location: loc(ctx, s),
			Message:  fmt.Sprintf("transfer of %q is not preceded by a recipient/owner assertion", name),
		})
	}

	if st.Obj == nil {
		st.Obj = &ximm.ObjectFact{}
	}
	obj := *st.Obj
	obj.Transferred = true
	st.Obj = &obj
	env = env.With(name, st)
	return env, findings
}

// mentionsRecipientCheck is a best-effort scan of the enclosing function's
// assert statements for one whose condition mentions recipient anywhere;
// the shape of the comparison is not inspected.
func mentionsRecipientCheck(ctx Context, recipient string) bool {
	for _, stmt := range ctx.Function.Body {
		a, ok := stmt.(*ast.Assert)
		if !ok {
			continue
		}
		if exprscan.MentionsVar(a.Cond, recipient) {
			return true
		}
	}
	return false
}

// applyGuard recognizes an assert! condition's shape and marks the matching
// pseudo-variable guard as Checked, so later statements dominated by this
// assert see it via Environment.Guarded.
func applyGuard(env *ximm.Environment, cond ast.Expr) *ximm.Environment {
	if exprscan.HasCall(cond, "consensus::verify") || exprscan.HasCall(cond, "consensus::assert_synchronized") {
		env = env.WithGuard(ximm.GuardName("consensus", ""))
	}
	if exprscan.HasCall(cond, "clock::timestamp_ms") {
		env = env.WithGuard(ximm.GuardName("clock", ""))
		env = env.WithGuard(ximm.GuardName("timestamp", ""))
	}
	bin, ok := cond.(*ast.BinOp)
	if ok {
		for _, field := range exprscan.FieldAccesses(bin.L) {
			env = applyGuardOp(env, bin.Op, field.Field)
		}
		for _, field := range exprscan.FieldAccesses(bin.R) {
			env = applyGuardOp(env, bin.Op, field.Field)
		}
		for _, v := range exprscan.Vars(bin.R) {
			if bin.Op == "!=" || bin.Op == ">" || bin.Op == ">=" {
				env = env.WithGuard(ximm.GuardName("divzero", v))
			}
		}
	}
	return env
}

func applyGuardOp(env *ximm.Environment, op, field string) *ximm.Environment {
	switch op {
	case "<=", "<":
		env = env.WithGuard(ximm.GuardName("overflow", field))
	case ">=", ">":
		env = env.WithGuard(ximm.GuardName("underflow", field))
	case "!=", "==":
		env = env.WithGuard(ximm.GuardName("divzero", field))
		env = env.WithGuard(ximm.GuardName("invariant", field))
	}
	return env
}

// SharedStructTypes scans every function in mod for transfer::share_object
// calls and returns the set of struct type names observed being shared
// somewhere in the module. This is a module-wide, type-level question,
// distinct from this package's own per-variable Shared object-fact above:
// §4.5's consensus rule (internal/pkg/safety) needs to recognize a &mut
// parameter whose *type* is known to be shared anywhere in the module, even
// in a function that never itself calls share_object.
func SharedStructTypes(mod *ast.Module) map[string]bool {
	shared := map[string]bool{}
	for _, fn := range mod.Functions {
		varType := map[string]string{}

		var walk func(stmts []ast.Stmt)
		walk = func(stmts []ast.Stmt) {
			for _, stmt := range stmts {
				switch s := stmt.(type) {
				case *ast.Let:
					if ctor, ok := s.Expr.(*ast.StructCtor); ok {
						varType[s.Name] = ctor.Struct.Name
					}
				case *ast.Call:
					if strings.HasSuffix(s.Callee.String(), "transfer::share_object") && len(s.Args) >= 1 {
						if v, ok := s.Args[0].(*ast.Var); ok {
							if t, ok := varType[v.Name]; ok {
								shared[t] = true
							}
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
	}
	return shared
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
