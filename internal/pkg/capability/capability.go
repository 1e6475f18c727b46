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

// Package capability implements the capability-checker rule pack of spec
// §4.4: leak, delegation, expiry, bound-resource, and privilege-escalation
// checks over variables whose type name ends in "Cap" (or a configured
// suffix). Structured the same way as internal/pkg/object: a Visit function
// called once per statement by the internal/pkg/escape driver.
package capability

import (
	"fmt"
	"strings"

	"github.com/hydra-sh/hydra/internal/pkg/ast"
	"github.com/hydra-sh/hydra/internal/pkg/callsummary"
	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/exprscan"
	"github.com/hydra-sh/hydra/internal/pkg/report"
	"github.com/hydra-sh/hydra/internal/pkg/ximm"
)

// Context mirrors object.Context; kept as its own type per package so each
// rule pack stays independently importable without reaching into another
// rule pack's types. Summaries is optional: a nil table just disables the
// one-hop same-module forwarding check in checkCallLeak.
type Context struct {
	Module    *ast.Module
	Function  *ast.Function
	Config    *config.Config
	Summaries callsummary.Table
}

// Visit applies the capability transfer function for one statement.
func Visit(env *ximm.Environment, stmt ast.Stmt, ctx Context) (*ximm.Environment, []report.SafetyViolation) {
	var findings []report.SafetyViolation

	switch s := stmt.(type) {
	case *ast.Let:
		findings = append(findings, checkFieldUse(env, s.Expr, ctx, s)...)
		env = seedFromCtor(env, s, ctx)
	case *ast.Assign:
		findings = append(findings, checkFieldUse(env, s.Expr, ctx, s)...)
		var assignFindings []report.SafetyViolation
		env, assignFindings = visitAssign(env, s, ctx)
		findings = append(findings, assignFindings...)
	case *ast.Assert:
		env = applyGuard(env, s.Cond)
	case *ast.Return:
		if s.Expr != nil {
			findings = append(findings, checkFieldUse(env, s.Expr, ctx, s)...)
		}
		findings = append(findings, checkLeak(env, s, ctx)...)
	case *ast.Call:
		for _, a := range s.Args {
			findings = append(findings, checkFieldUse(env, a, ctx, s)...)
		}
		findings = append(findings, checkCallLeak(env, s, ctx)...)
	case *ast.If:
		findings = append(findings, checkFieldUse(env, s.Cond, ctx, s)...)
	case *ast.While:
		findings = append(findings, checkFieldUse(env, s.Cond, ctx, s)...)
	}
	return env, findings
}

func isCapType(ctx Context, t ast.Type) (string, bool) {
	_, name := ast.DecomposeNamed(t)
	if name == "" {
		return "", false
	}
	return name, ctx.Config.IsCapabilityTypeName(name)
}

func seedFromCtor(env *ximm.Environment, s *ast.Let, ctx Context) *ximm.Environment {
	ctor, ok := s.Expr.(*ast.StructCtor)
	if !ok {
		return env
	}
	decl := ctx.Module.StructByName(ctor.Struct.Name)
	if decl == nil || !ctx.Config.IsCapabilityTypeName(ctor.Struct.Name) {
		return env
	}

	fact := &ximm.CapFact{}
	isDelegate := strings.Contains(strings.ToLower(ctor.Struct.Name), "delegate")
	var sourceMask uint64
	haveSource := false

	for _, fi := range ctor.Fields {
		switch fi.Field {
		case "permissions", "mask", "permission_bits":
			if l, ok := fi.Value.(*ast.Literal); ok {
				fact.PermissionsMask = parseMaskLiteral(l.Text)
			}
			if v, ok := fi.Value.(*ast.FieldAccess); ok {
				if root, ok := v.X.(*ast.Var); ok {
					src := env.Lookup(root.Name)
					if src.Cap != nil {
						sourceMask = src.Cap.PermissionsMask
						haveSource = true
					}
				}
			}
		}
		if v, ok := fi.Value.(*ast.Var); ok {
			src := env.Lookup(v.Name)
			if src.Cap != nil && fi.Field != "id" {
				sourceMask = src.Cap.PermissionsMask
				haveSource = true
				fact.DelegatedFrom = v.Name
			}
		}
	}

	if isDelegate && !haveSource {
		// Constructed a derivative cap without ever reading a source cap's
		// mask: nothing is reported here; checkLeak reports it when the
		// value is returned.
		fact.DelegatedFrom = "<unknown>"
	}
	if haveSource && fact.PermissionsMask != 0 && !ximm.IsSubsetOf(fact.PermissionsMask, sourceMask) {
		fact.DelegatedFrom = "<oversized>"
	}

	st := env.Lookup(s.Name)
	st.Cap = fact
	return env.With(s.Name, st)
}

func parseMaskLiteral(text string) uint64 {
	var v uint64
	fmt.Sscanf(strings.TrimPrefix(text, "0x"), "%x", &v)
	if v == 0 {
		fmt.Sscanf(text, "%d", &v)
	}
	return v
}

func visitAssign(env *ximm.Environment, s *ast.Assign, ctx Context) (*ximm.Environment, []report.SafetyViolation) {
	var findings []report.SafetyViolation
	root := env.Lookup(s.LValue.Var)
	if root.Cap == nil {
		return env, nil
	}
	field := lastField(s.LValue)

	if l, ok := s.Expr.(*ast.Literal); ok && field != "" && strings.Contains(strings.ToLower(field), "permission") {
		if l.Text == "0xFF" || l.Text == "255" {
			findings = append(findings, report.SafetyViolation{
				Kind:     report.KindPrivilegeEscalation,
				Family:   report.FamilyCapability,
				Severity: report.Critical,
				Location: loc(ctx, s),
				Message:  fmt.Sprintf("%s.%s assigned the all-bits literal %s inside a &mut Cap receiver", s.LValue.Var, field, l.Text),
			})
		}
	}
	if bin, ok := s.Expr.(*ast.BinOp); ok && field != "" && strings.Contains(strings.ToLower(field), "permission") {
		if bin.Op == "+" || bin.Op == "|" || bin.Op == "*" {
			findings = append(findings, report.SafetyViolation{
				Kind:     report.KindPrivilegeEscalation,
				Family:   report.FamilyCapability,
				Severity: report.High,
				Location: loc(ctx, s),
				Message:  fmt.Sprintf("%s.%s widened by arithmetic inside a &mut Cap receiver", s.LValue.Var, field),
			})
		}
	}
	return env, findings
}

func checkCallLeak(env *ximm.Environment, s *ast.Call, ctx Context) []report.SafetyViolation {
	crossModule := s.Callee.Module != "" && s.Callee.Module != ctx.Module.Name
	if crossModule {
		return checkDirectCrossModuleLeak(env, s, ctx)
	}
	return checkIndirectForwardingLeak(env, s, ctx)
}

// checkDirectCrossModuleLeak flags a capability-typed argument passed
// straight to a call naming another module: the capability leaves the
// module at this statement, full stop.
func checkDirectCrossModuleLeak(env *ximm.Environment, s *ast.Call, ctx Context) []report.SafetyViolation {
	var findings []report.SafetyViolation
	for _, arg := range s.Args {
		v, ok := arg.(*ast.Var)
		if !ok {
			continue
		}
		st := env.Lookup(v.Name)
		if st.Cap == nil {
			continue
		}
		findings = append(findings, report.SafetyViolation{
			Kind:     report.KindCapabilityLeak,
			Family:   report.FamilyCapability,
			Severity: report.Critical,
			Location: loc(ctx, s),
			Message:  fmt.Sprintf("capability %q passed by value to cross-module call %s", v.Name, s.Callee),
		})
	}
	return findings
}

// checkIndirectForwardingLeak flags a capability-typed argument passed to a
// same-module helper that this call's one-hop summary already knows
// forwards that parameter on to another module — the leak is one call deep,
// but still reachable without re-analyzing the helper's body, per spec
// §4.8's one-hop call summary.
func checkIndirectForwardingLeak(env *ximm.Environment, s *ast.Call, ctx Context) []report.SafetyViolation {
	if ctx.Summaries == nil {
		return nil
	}
	var callee *ast.Function
	for _, fn := range ctx.Module.Functions {
		if fn.Name == s.Callee.Name {
			callee = fn
			break
		}
	}
	if callee == nil {
		return nil
	}
	summary := ctx.Summaries[ctx.Module.Name+"::"+callee.Name]
	if summary == nil {
		return nil
	}

	var findings []report.SafetyViolation
	for i, arg := range s.Args {
		if i >= len(callee.Params) {
			break
		}
		v, ok := arg.(*ast.Var)
		if !ok {
			continue
		}
		st := env.Lookup(v.Name)
		if st.Cap == nil {
			continue
		}
		if !summary.EscapesCrossModule(callee.Params[i].Name) {
			continue
		}
		findings = append(findings, report.SafetyViolation{
			Kind:     report.KindCapabilityLeak,
			Family:   report.FamilyCapability,
			Severity: report.High,
			Location: loc(ctx, s),
			Message:  fmt.Sprintf("capability %q passed to %s, which forwards its %q parameter to another module", v.Name, s.Callee, callee.Params[i].Name),
		})
	}
	return findings
}

func checkLeak(env *ximm.Environment, s *ast.Return, ctx Context) []report.SafetyViolation {
	var findings []report.SafetyViolation
	if s.Expr == nil {
		return nil
	}
	v, ok := s.Expr.(*ast.Var)
	if !ok {
		return nil
	}
	st := env.Lookup(v.Name)
	if st.Cap == nil {
		return nil
	}
	for _, resultType := range ctx.Function.Results {
		if ref, ok := resultType.(*ast.Reference); ok && ref.Mutable {
			if _, isCap := isCapType(ctx, ref.Target); isCap {
				findings = append(findings, report.SafetyViolation{
					Kind:     report.KindCapabilityLeak,
					Family:   report.FamilyCapability,
					Severity: report.Critical,
					Location: loc(ctx, s),
					Message:  fmt.Sprintf("function returns &mut %s, leaking mutable capability access to the caller", v.Name),
				})
			}
		}
	}
	if st.Cap.DelegatedFrom == "<oversized>" {
		findings = append(findings, report.SafetyViolation{
			Kind:     report.KindUnsafeDelegation,
			Family:   report.FamilyCapability,
			Severity: report.High,
			Location: loc(ctx, s),
			Message:  fmt.Sprintf("returned capability %q carries a permission mask wider than its source cap", v.Name),
		})
	}
	if st.Cap.DelegatedFrom == "<unknown>" {
		findings = append(findings, report.SafetyViolation{
			Kind:     report.KindUnsafeDelegation,
			Family:   report.FamilyCapability,
			Severity: report.Medium,
			Location: loc(ctx, s),
			Message:  fmt.Sprintf("derivative capability %q constructed without consulting a source cap's permission mask", v.Name),
		})
	}
	return findings
}

// checkFieldUse inspects every FieldAccess within e for a use of a live
// capability's expiry or bound-resource field, emitting a finding when the
// corresponding guard has not fired on this path.
func checkFieldUse(env *ximm.Environment, e ast.Expr, ctx Context, stmt ast.Stmt) []report.SafetyViolation {
	var findings []report.SafetyViolation
	for _, fr := range exprscan.FieldAccesses(e) {
		st := env.Lookup(fr.Root)
		if st.Cap == nil {
			continue
		}
		switch {
		case fr.Field == "expiry":
			if !env.Guarded(ximm.GuardName("expiry", fr.Root)) {
				findings = append(findings, report.SafetyViolation{
					Kind:     report.KindMissingExpiryCheck,
					Family:   report.FamilyCapability,
					Severity: report.High,
					Location: loc(ctx, stmt),
					Message:  fmt.Sprintf("use of %s.expiry with no dominating clock::timestamp_ms(clock) < %s.expiry assert!", fr.Root, fr.Root),
				})
			}
		case strings.HasSuffix(fr.Field, "_id"):
			if !env.Guarded(ximm.GuardName("boundresource", fr.Root)) {
				findings = append(findings, report.SafetyViolation{
					Kind:     report.KindCapabilityResourceMismatch,
					Family:   report.FamilyCapability,
					Severity: report.High,
					Location: loc(ctx, stmt),
					Message:  fmt.Sprintf("use of %s.%s with no dominating equality assert! against the operated-on resource", fr.Root, fr.Field),
				})
			}
		}
	}
	return findings
}

// applyGuard recognizes expiry/bound-resource assert shapes and marks the
// corresponding pseudo-variable guards, mirroring object.applyGuard.
func applyGuard(env *ximm.Environment, cond ast.Expr) *ximm.Environment {
	if exprscan.HasCall(cond, "clock::timestamp_ms") {
		for _, fr := range exprscan.FieldAccesses(cond) {
			if fr.Field == "expiry" {
				env = env.WithGuard(ximm.GuardName("expiry", fr.Root))
			}
		}
	}
	if bin, ok := cond.(*ast.BinOp); ok && bin.Op == "==" {
		for _, fr := range exprscan.FieldAccesses(bin.L) {
			if strings.HasSuffix(fr.Field, "_id") {
				env = env.WithGuard(ximm.GuardName("boundresource", fr.Root))
			}
		}
		for _, fr := range exprscan.FieldAccesses(bin.R) {
			if strings.HasSuffix(fr.Field, "_id") {
				env = env.WithGuard(ximm.GuardName("boundresource", fr.Root))
			}
		}
	}
	return env
}

func lastField(lv ast.LValue) string {
	for i := len(lv.Path) - 1; i >= 0; i-- {
		if lv.Path[i].Field != "" {
			return lv.Path[i].Field
		}
	}
	return ""
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
