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

package safety_test

import (
	"testing"

	"github.com/hydra-sh/hydra/internal/pkg/ast"
	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/report"
	"github.com/hydra-sh/hydra/internal/pkg/safety"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	config.ResetForTest()
	cfg, err := config.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	return cfg
}

func clockParam() ast.Param {
	return ast.Param{Name: "clock", Type: &ast.Reference{Target: &ast.Named{Struct: "Clock"}}}
}

func TestMissingTimestampCheckOnForwardWrite(t *testing.T) {
	mod := &ast.Module{Name: "auction"}
	fn := &ast.Function{
		Name:   "bump",
		Params: []ast.Param{clockParam()},
		Body: []ast.Stmt{
			&ast.Assign{
				LValue: ast.LValue{Var: "state", Path: []ast.PathElem{{Field: "last_timestamp"}}},
				Expr:   &ast.CallExpr{Callee: ast.QualifiedName{Module: "clock", Name: "timestamp_ms"}},
			},
		},
	}
	ctx := safety.Context{Module: mod, Function: fn, Config: testConfig(t)}
	findings := safety.AnalyzeFunction(ctx)

	found := false
	for _, f := range findings {
		if f.Kind == report.KindMissingTimestampCheck {
			found = true
		}
	}
	if !found {
		t.Fatalf("forward-advance write to a timestamp field with no prior bound check should raise MissingTimestampCheck, got %+v", findings)
	}
}

func TestTimestampCheckGuardedByForwardAssert(t *testing.T) {
	mod := &ast.Module{Name: "auction"}
	fn := &ast.Function{
		Name:   "bump",
		Params: []ast.Param{clockParam()},
		Body: []ast.Stmt{
			&ast.Assert{
				Cond: &ast.BinOp{
					Op: ">=",
					L:  &ast.CallExpr{Callee: ast.QualifiedName{Module: "clock", Name: "timestamp_ms"}},
					R:  &ast.FieldAccess{X: &ast.Var{Name: "state"}, Field: "last_timestamp"},
				},
			},
			&ast.Assign{
				LValue: ast.LValue{Var: "state", Path: []ast.PathElem{{Field: "last_timestamp"}}},
				Expr:   &ast.CallExpr{Callee: ast.QualifiedName{Module: "clock", Name: "timestamp_ms"}},
			},
		},
	}
	ctx := safety.Context{Module: mod, Function: fn, Config: testConfig(t)}
	findings := safety.AnalyzeFunction(ctx)
	for _, f := range findings {
		if f.Kind == report.KindMissingTimestampCheck {
			t.Fatalf("write preceded by a forward-bound assert on clock::timestamp_ms should not be flagged, got %+v", findings)
		}
	}
}

func TestUnusedClockParam(t *testing.T) {
	mod := &ast.Module{Name: "auction"}
	fn := &ast.Function{
		Name:   "noop",
		Params: []ast.Param{clockParam()},
		Body:   []ast.Stmt{&ast.Return{}},
	}
	ctx := safety.Context{Module: mod, Function: fn, Config: testConfig(t)}
	findings := safety.AnalyzeFunction(ctx)

	found := false
	for _, f := range findings {
		if f.Kind == report.KindUnusedClock {
			found = true
		}
	}
	if !found {
		t.Fatalf("a &Clock param never passed to clock::timestamp_ms should raise UnusedClock, got %+v", findings)
	}
}

func TestExternalCallInLoopFlagged(t *testing.T) {
	mod := &ast.Module{Name: "batch"}
	loop := &ast.While{
		Cond: &ast.Var{Name: "cond"},
		Body: []ast.Stmt{
			&ast.Call{Callee: ast.QualifiedName{Module: "other", Name: "hook"}},
		},
	}
	fn := &ast.Function{Name: "process", Body: []ast.Stmt{loop}}
	ctx := safety.Context{Module: mod, Function: fn, Config: testConfig(t)}
	findings := safety.AnalyzeFunction(ctx)

	found := false
	for _, f := range findings {
		if f.Kind == report.KindExternalCallInLoop {
			found = true
		}
	}
	if !found {
		t.Fatalf("loop body with a cross-module call should raise ExternalCallInLoop, got %+v", findings)
	}
}

func TestNestedLoopsWithExternalCallsEscalateSeverity(t *testing.T) {
	mod := &ast.Module{Name: "batch"}
	inner := &ast.While{
		Cond: &ast.Var{Name: "innerCond"},
		Body: []ast.Stmt{
			&ast.Call{Callee: ast.QualifiedName{Module: "other", Name: "hook"}},
		},
	}
	outer := &ast.While{
		Cond: &ast.Var{Name: "outerCond"},
		Body: []ast.Stmt{inner},
	}
	fn := &ast.Function{Name: "process", Body: []ast.Stmt{outer}}
	ctx := safety.Context{Module: mod, Function: fn, Config: testConfig(t)}
	findings := safety.AnalyzeFunction(ctx)

	found := false
	for _, f := range findings {
		if f.Kind == report.KindNestedExternalLoops {
			found = true
		}
	}
	if !found {
		t.Fatalf("nested loop with an external call at depth >= 2 should raise NestedExternalLoops, got %+v", findings)
	}
}

func TestDynamicLoopBound(t *testing.T) {
	mod := &ast.Module{Name: "batch"}
	loop := &ast.While{
		Cond: &ast.BinOp{
			Op: "<",
			L:  &ast.Var{Name: "i"},
			R:  &ast.CallExpr{Callee: ast.QualifiedName{Module: "other", Name: "count"}},
		},
		Body: []ast.Stmt{},
	}
	fn := &ast.Function{Name: "process", Body: []ast.Stmt{loop}}
	ctx := safety.Context{Module: mod, Function: fn, Config: testConfig(t)}
	findings := safety.AnalyzeFunction(ctx)

	found := false
	for _, f := range findings {
		if f.Kind == report.KindDynamicLoopBound {
			found = true
		}
	}
	if !found {
		t.Fatalf("loop bound depending on an external call should raise DynamicLoopBound, got %+v", findings)
	}
}

func TestResourceLeakWhenOwnedValueNeverConsumed(t *testing.T) {
	mod := &ast.Module{
		Name: "inventory",
		Structs: []*ast.Struct{
			{
				Name:      "Ticket",
				Abilities: []ast.Ability{ast.AbilityStore},
				Fields:    []ast.Field{{Name: "id", Type: &ast.Primitive{Kind: ast.Address}}},
			},
		},
	}
	fn := &ast.Function{
		Name: "mint",
		Body: []ast.Stmt{
			&ast.Let{Name: "t", Expr: &ast.StructCtor{Struct: ast.QualifiedName{Name: "Ticket"}}},
			&ast.Return{},
		},
	}
	ctx := safety.Context{Module: mod, Function: fn, Config: testConfig(t)}
	findings := safety.AnalyzeFunction(ctx)

	found := false
	for _, f := range findings {
		if f.Kind == report.KindResourceLeak {
			found = true
		}
	}
	if !found {
		t.Fatalf("store-but-not-drop value never transferred/stored/returned should raise ResourceLeak, got %+v", findings)
	}
}

func TestConsensusFindingOnSharedStructParamWrite(t *testing.T) {
	mod := &ast.Module{
		Name: "pool",
		Structs: []*ast.Struct{
			{Name: "Pool", Abilities: []ast.Ability{ast.AbilityKey}},
		},
		Functions: []*ast.Function{
			{
				Name: "create",
				Body: []ast.Stmt{
					&ast.Let{Name: "pool", Expr: &ast.StructCtor{Struct: ast.QualifiedName{Name: "Pool"}}},
					&ast.Call{
						Callee: ast.QualifiedName{Module: "transfer", Name: "share_object"},
						Args:   []ast.Expr{&ast.Var{Name: "pool"}},
					},
				},
			},
		},
	}
	fn := &ast.Function{
		Name:   "rebalance",
		Params: []ast.Param{{Name: "pool", Type: &ast.Reference{Target: &ast.Named{Struct: "Pool"}, Mutable: true}}},
		Body: []ast.Stmt{
			&ast.Assign{
				LValue: ast.LValue{Var: "pool", Path: []ast.PathElem{{Field: "balance"}}},
				Expr:   &ast.Literal{Text: "0"},
			},
		},
	}
	mod.Functions = append(mod.Functions, fn)
	ctx := safety.Context{Module: mod, Function: fn, Config: testConfig(t)}
	findings := safety.AnalyzeFunction(ctx)

	found := false
	for _, f := range findings {
		if f.Kind == report.KindMissingConsensus {
			found = true
		}
	}
	if !found {
		t.Fatalf("write to a field of a &mut parameter of a module-wide-shared struct with no dominating consensus check should raise MissingConsensus, got %+v", findings)
	}
}

func TestConsensusFindingSuppressedByDominatingGuard(t *testing.T) {
	mod := &ast.Module{
		Name: "pool",
		Structs: []*ast.Struct{
			{Name: "Pool", Abilities: []ast.Ability{ast.AbilityKey}},
		},
		Functions: []*ast.Function{
			{
				Name: "create",
				Body: []ast.Stmt{
					&ast.Let{Name: "pool", Expr: &ast.StructCtor{Struct: ast.QualifiedName{Name: "Pool"}}},
					&ast.Call{
						Callee: ast.QualifiedName{Module: "transfer", Name: "share_object"},
						Args:   []ast.Expr{&ast.Var{Name: "pool"}},
					},
				},
			},
		},
	}
	fn := &ast.Function{
		Name:   "rebalance",
		Params: []ast.Param{{Name: "pool", Type: &ast.Reference{Target: &ast.Named{Struct: "Pool"}, Mutable: true}}},
		Body: []ast.Stmt{
			&ast.Call{Callee: ast.QualifiedName{Module: "consensus", Name: "verify"}},
			&ast.Assign{
				LValue: ast.LValue{Var: "pool", Path: []ast.PathElem{{Field: "balance"}}},
				Expr:   &ast.Literal{Text: "0"},
			},
		},
	}
	mod.Functions = append(mod.Functions, fn)
	ctx := safety.Context{Module: mod, Function: fn, Config: testConfig(t)}
	findings := safety.AnalyzeFunction(ctx)
	for _, f := range findings {
		if f.Kind == report.KindMissingConsensus {
			t.Fatalf("write guarded by a dominating consensus::verify() call should not be flagged, got %+v", findings)
		}
	}
}

func TestDynamicFieldAddWithoutRemoveFlaggedInfo(t *testing.T) {
	mod := &ast.Module{
		Name: "registry",
		Functions: []*ast.Function{
			{
				Name: "register",
				Body: []ast.Stmt{
					&ast.Call{
						Callee: ast.QualifiedName{Name: "dynamic_field::add"},
						Args:   []ast.Expr{&ast.Var{Name: "uid"}, &ast.Literal{Text: "b\"slot\""}, &ast.Var{Name: "value"}},
					},
				},
			},
		},
	}

	findings := safety.DynamicFieldFindings(mod)

	found := false
	for _, f := range findings {
		if f.Kind == report.KindDynamicFieldNotRemoved {
			found = true
			if f.Severity != report.Info {
				t.Fatalf("DynamicFieldNotRemoved must be Info severity, got %v", f.Severity)
			}
		}
	}
	if !found {
		t.Fatalf("dynamic_field::add with no matching remove anywhere in the module should raise DynamicFieldNotRemoved, got %+v", findings)
	}
}

func TestDynamicFieldAddMatchedByRemoveInAnotherFunction(t *testing.T) {
	mod := &ast.Module{
		Name: "registry",
		Functions: []*ast.Function{
			{
				Name: "register",
				Body: []ast.Stmt{
					&ast.Call{
						Callee: ast.QualifiedName{Name: "dynamic_field::add"},
						Args:   []ast.Expr{&ast.Var{Name: "uid"}, &ast.Literal{Text: "b\"slot\""}, &ast.Var{Name: "value"}},
					},
				},
			},
			{
				Name: "unregister",
				Body: []ast.Stmt{
					&ast.Let{
						Name: "v",
						Expr: &ast.VectorOp{Kind: ast.DynamicFieldRemove, Args: []ast.Expr{&ast.Var{Name: "uid"}, &ast.Literal{Text: "b\"slot\""}}},
					},
				},
			},
		},
	}

	findings := safety.DynamicFieldFindings(mod)
	for _, f := range findings {
		if f.Kind == report.KindDynamicFieldNotRemoved {
			t.Fatalf("add matched by a remove of the same key elsewhere in the module should not be flagged, got %+v", findings)
		}
	}
}

func TestResourceNotLeakedWhenTransferred(t *testing.T) {
	mod := &ast.Module{
		Name: "inventory",
		Structs: []*ast.Struct{
			{
				Name:      "Ticket",
				Abilities: []ast.Ability{ast.AbilityStore},
				Fields:    []ast.Field{{Name: "id", Type: &ast.Primitive{Kind: ast.Address}}},
			},
		},
	}
	fn := &ast.Function{
		Name: "mint",
		Body: []ast.Stmt{
			&ast.Let{Name: "t", Expr: &ast.StructCtor{Struct: ast.QualifiedName{Name: "Ticket"}}},
			&ast.Call{
				Callee: ast.QualifiedName{Module: "transfer", Name: "transfer"},
				Args:   []ast.Expr{&ast.Var{Name: "t"}, &ast.Var{Name: "recipient"}},
			},
		},
	}
	ctx := safety.Context{Module: mod, Function: fn, Config: testConfig(t)}
	findings := safety.AnalyzeFunction(ctx)
	for _, f := range findings {
		if f.Kind == report.KindResourceLeak {
			t.Fatalf("value consumed by transfer::transfer should not be flagged as a leak, got %+v", findings)
		}
	}
}
