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

package cfg_test

import (
	"testing"

	"github.com/hydra-sh/hydra/internal/pkg/ast"
	"github.com/hydra-sh/hydra/internal/pkg/cfg"
)

func TestBuildStraightLine(t *testing.T) {
	body := []ast.Stmt{
		&ast.Let{Name: "x", Expr: &ast.Literal{Text: "1"}},
		&ast.Return{},
	}
	g := cfg.Build(body)
	if len(g.Blocks) != 1 {
		t.Fatalf("straight-line body should produce a single block, got %d", len(g.Blocks))
	}
	if len(g.Blocks[0].Stmts) != 2 {
		t.Fatalf("block should contain both statements, got %d", len(g.Blocks[0].Stmts))
	}
	if g.Blocks[0].Terminator == nil {
		t.Fatal("block ending in Return must record it as the Terminator")
	}
}

func TestBuildIfElseJoins(t *testing.T) {
	ifStmt := &ast.If{
		Cond: &ast.Var{Name: "cond"},
		Then: []ast.Stmt{&ast.Let{Name: "a", Expr: &ast.Literal{Text: "1"}}},
		Else: []ast.Stmt{&ast.Let{Name: "b", Expr: &ast.Literal{Text: "2"}}},
	}
	body := []ast.Stmt{ifStmt, &ast.Return{}}
	g := cfg.Build(body)

	var ifBlock *cfg.Block
	for _, b := range g.Blocks {
		if b.Terminator == ast.Stmt(ifStmt) {
			ifBlock = b
		}
	}
	if ifBlock == nil {
		t.Fatal("no block has the If as its Terminator")
	}
	if len(ifBlock.Succs) != 2 {
		t.Fatalf("If block should have two successors (then/else), got %d", len(ifBlock.Succs))
	}

	kinds := map[cfg.EdgeKind]bool{}
	for _, e := range ifBlock.Succs {
		kinds[e.Kind] = true
	}
	if !kinds[cfg.True] || !kinds[cfg.False] {
		t.Errorf("expected True and False edges out of the If block, got %+v", ifBlock.Succs)
	}
}

func TestBuildWhileMarksHeaderAndBackEdge(t *testing.T) {
	whileStmt := &ast.While{
		Cond: &ast.Var{Name: "cond"},
		Body: []ast.Stmt{&ast.Let{Name: "a", Expr: &ast.Literal{Text: "1"}}},
	}
	body := []ast.Stmt{whileStmt}
	g := cfg.Build(body)

	var header *cfg.Block
	for _, b := range g.Blocks {
		if b.Header {
			header = b
		}
	}
	if header == nil {
		t.Fatal("loop header block was not marked Header")
	}

	foundBackEdge := false
	for _, b := range g.Blocks {
		for _, e := range b.Succs {
			if e.Kind == cfg.BackEdge && e.To == header.ID {
				foundBackEdge = true
			}
		}
	}
	if !foundBackEdge {
		t.Error("loop body's fallthrough back to the header should be tagged BackEdge")
	}
}

func TestReversePostOrderVisitsEntryFirst(t *testing.T) {
	ifStmt := &ast.If{
		Cond: &ast.Var{Name: "cond"},
		Then: []ast.Stmt{&ast.Return{}},
	}
	body := []ast.Stmt{ifStmt}
	g := cfg.Build(body)
	rpo := g.ReversePostOrder()
	if len(rpo) != len(g.Blocks) {
		t.Fatalf("ReversePostOrder should visit every block, got %d of %d", len(rpo), len(g.Blocks))
	}
	if rpo[0] != g.Entry {
		t.Errorf("ReversePostOrder()[0] = %d, want entry block %d", rpo[0], g.Entry)
	}
}

func TestBuildDropsTrailingDeadCodeIntoItsOwnBlock(t *testing.T) {
	ret := &ast.Return{}
	dead := &ast.Let{Name: "unreachable", Expr: &ast.Literal{Text: "1"}}
	body := []ast.Stmt{ret, dead}
	g := cfg.Build(body)

	found := false
	for _, b := range g.Blocks {
		for _, s := range b.Stmts {
			if s == ast.Stmt(dead) {
				found = true
			}
		}
	}
	if !found {
		t.Error("statement index of unreachable code must be preserved in some block, not dropped")
	}
}
