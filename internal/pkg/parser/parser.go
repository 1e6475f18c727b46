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

package parser

import (
	"strings"

	"github.com/hydra-sh/hydra/internal/pkg/ast"
)

// Parse parses the text of a single Move module. On a grammar error it
// returns a *Error; per spec §4.7, the caller should treat that as fatal
// for this module alone and continue with the rest of the batch.
func Parse(src string) (mod *ast.Module, err error) {
	p := &parser{lex: newLexer(src)}
	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(*Error); ok {
				err = pe
				return
			}
			panic(r)
		}
	}()
	p.advance()
	mod = p.parseModule()
	return mod, nil
}

type parser struct {
	lex        *lexer
	tok        token
	comments   []token // comments immediately preceding tok
	typeParams map[string]bool
}

func (p *parser) advance() {
	p.tok = p.lex.next()
	p.comments = p.lex.commentsSince()
}

func (p *parser) fail(msg string) {
	panic(&Error{Line: p.tok.line, Col: p.tok.col, Msg: msg})
}

func (p *parser) expectPunct(s string) {
	if p.tok.kind != tokPunct || p.tok.text != s {
		p.fail("expected '" + s + "', got '" + p.tok.text + "'")
	}
	p.advance()
}

func (p *parser) atPunct(s string) bool {
	return p.tok.kind == tokPunct && p.tok.text == s
}

func (p *parser) atKeyword(s string) bool {
	return p.tok.kind == tokIdent && p.tok.text == s
}

func (p *parser) expectIdent() string {
	if p.tok.kind != tokIdent {
		p.fail("expected identifier, got '" + p.tok.text + "'")
	}
	s := p.tok.text
	p.advance()
	return s
}

func (p *parser) parseModule() *ast.Module {
	if !p.atKeyword("module") {
		p.fail("expected 'module'")
	}
	p.advance()
	first := p.expectIdent()
	addr, name := "", first
	if p.atPunct("::") {
		p.advance()
		addr = first
		name = p.expectIdent()
	}
	p.expectPunct("{")

	m := &ast.Module{Address: addr, Name: name}
	for !p.atPunct("}") {
		attrs := p.parseAttributes()
		switch {
		case p.atKeyword("use"):
			p.advance()
			m.Imports = append(m.Imports, p.parsePath())
			p.expectPunct(";")
		case p.atKeyword("struct"):
			m.Structs = append(m.Structs, p.parseStruct())
		case p.atKeyword("public"), p.atKeyword("entry"), p.atKeyword("fun"):
			fn := p.parseFunction(m.Name)
			fn.IsTest = attrs["test"] || attrs["test_only"]
			m.Functions = append(m.Functions, fn)
		default:
			p.fail("unexpected top-level token '" + p.tok.text + "'")
		}
	}
	p.expectPunct("}")
	m.Symbols = ast.NewSymbolTable(m.Structs, m.Functions)
	return m
}

// parseAttributes consumes zero or more "#[name(...)]" or "#[name]"
// annotations preceding a struct or function declaration and returns the
// set of attribute names seen. Argument lists, if present, are skipped
// without interpretation.
func (p *parser) parseAttributes() map[string]bool {
	var attrs map[string]bool
	for p.atPunct("#") {
		p.advance()
		p.expectPunct("[")
		for !p.atPunct("]") {
			name := p.expectIdent()
			if attrs == nil {
				attrs = map[string]bool{}
			}
			attrs[name] = true
			if p.atPunct("(") {
				depth := 0
				for {
					if p.atPunct("(") {
						depth++
					} else if p.atPunct(")") {
						depth--
						p.advance()
						if depth == 0 {
							break
						}
						continue
					}
					p.advance()
				}
			}
			if p.atPunct(",") {
				p.advance()
			}
		}
		p.expectPunct("]")
	}
	return attrs
}

func (p *parser) parsePath() string {
	var b strings.Builder
	b.WriteString(p.expectIdent())
	for p.atPunct("::") {
		p.advance()
		b.WriteString("::")
		b.WriteString(p.expectIdent())
	}
	return b.String()
}

func (p *parser) parseStruct() *ast.Struct {
	p.advance() // 'struct'
	s := &ast.Struct{Name: p.expectIdent(), UIDField: -1}
	p.parseOptionalGenerics()
	if p.atKeyword("has") {
		p.advance()
		for {
			s.Abilities = append(s.Abilities, ast.Ability(p.expectIdent()))
			if p.atPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	p.expectPunct("{")
	for !p.atPunct("}") {
		fname := p.expectIdent()
		p.expectPunct(":")
		ftype := p.parseType()
		s.Fields = append(s.Fields, ast.Field{Name: fname, Type: ftype})
		if fname == "id" && s.UIDField == -1 {
			s.UIDField = len(s.Fields) - 1
		}
		if p.atPunct(",") {
			p.advance()
		}
	}
	p.expectPunct("}")
	return s
}

// parseOptionalGenerics consumes a "<T, U: store>" clause after a struct or
// function name, recording the bound names so parseType can distinguish a
// generic parameter from a named struct reference.
func (p *parser) parseOptionalGenerics() {
	if !p.atPunct("<") {
		return
	}
	p.advance()
	for !p.atPunct(">") {
		name := p.expectIdent()
		if p.typeParams == nil {
			p.typeParams = map[string]bool{}
		}
		p.typeParams[name] = true
		if p.atPunct(":") {
			p.advance()
			for {
				p.expectIdent()
				if p.atPunct("+") {
					p.advance()
					continue
				}
				break
			}
		}
		if p.atPunct(",") {
			p.advance()
		}
	}
	p.expectPunct(">")
}

func (p *parser) parseFunction(owner string) *ast.Function {
	p.typeParams = nil
	vis := ast.Private
	switch {
	case p.atKeyword("public"):
		p.advance()
		vis = ast.Public
		if p.atPunct("(") {
			p.advance()
			p.expectIdent() // "friend"
			p.expectPunct(")")
			vis = ast.PublicFriend
		}
	case p.atKeyword("entry"):
		p.advance()
		vis = ast.Entry
	}
	if !p.atKeyword("fun") {
		p.fail("expected 'fun'")
	}
	p.advance()
	fn := &ast.Function{Name: p.expectIdent(), Visibility: vis, Owner: owner}
	p.parseOptionalGenerics()
	p.expectPunct("(")
	for !p.atPunct(")") {
		pname := p.expectIdent()
		p.expectPunct(":")
		ptype := p.parseType()
		fn.Params = append(fn.Params, ast.Param{Name: pname, Type: ptype})
		if p.atPunct(",") {
			p.advance()
		}
	}
	p.expectPunct(")")
	if p.atPunct(":") {
		p.advance()
		if p.atPunct("(") {
			p.advance()
			for !p.atPunct(")") {
				fn.Results = append(fn.Results, p.parseType())
				if p.atPunct(",") {
					p.advance()
				}
			}
			p.expectPunct(")")
		} else {
			fn.Results = append(fn.Results, p.parseType())
		}
	}
	fn.Body = p.parseBlockStmts()
	return fn
}

func (p *parser) parseType() ast.Type {
	if p.atPunct("&") {
		p.advance()
		mut := false
		if p.atKeyword("mut") {
			p.advance()
			mut = true
		}
		return &ast.Reference{Target: p.parseType(), Mutable: mut}
	}
	if p.atPunct("(") {
		p.advance()
		var elems []ast.Type
		for !p.atPunct(")") {
			elems = append(elems, p.parseType())
			if p.atPunct(",") {
				p.advance()
			}
		}
		p.expectPunct(")")
		return &ast.Tuple{Elems: elems}
	}
	name := p.expectIdent()
	switch name {
	case "u8":
		return &ast.Primitive{Kind: ast.U8}
	case "u64":
		return &ast.Primitive{Kind: ast.U64}
	case "u128":
		return &ast.Primitive{Kind: ast.U128}
	case "bool":
		return &ast.Primitive{Kind: ast.Bool}
	case "address":
		return &ast.Primitive{Kind: ast.Address}
	case "vector":
		p.expectPunct("<")
		elem := p.parseType()
		p.expectPunct(">")
		return &ast.Primitive{Kind: ast.Vector, Elem: elem}
	}
	module := ""
	if p.atPunct("::") {
		p.advance()
		module = name
		name = p.expectIdent()
	}
	if module == "" && p.typeParams[name] {
		return &ast.TypeParam{Name: name}
	}
	n := &ast.Named{Module: module, Struct: name}
	if p.atPunct("<") {
		p.advance()
		for !p.atPunct(">") {
			n.TypeArgs = append(n.TypeArgs, p.parseType())
			if p.atPunct(",") {
				p.advance()
			}
		}
		p.expectPunct(">")
	}
	return n
}

func (p *parser) parseBlockStmts() []ast.Stmt {
	p.expectPunct("{")
	stmts := p.parseStmtsUntil("}")
	p.expectPunct("}")
	return stmts
}

func (p *parser) parseStmtsUntil(closer string) []ast.Stmt {
	var out []ast.Stmt
	idx := 0
	for !p.atPunct(closer) {
		reason, rule := suppressionFromComments(p.comments)
		base := ast.StmtBase{Index: idx, Line: p.tok.line, Column: p.tok.col, Suppressed: reason, SuppressedRule: rule}
		out = append(out, p.parseStmt(base))
		idx++
	}
	return out
}

func suppressionFromComments(comments []token) (reason, rule string) {
	for _, c := range comments {
		text := strings.TrimSpace(strings.TrimPrefix(c.text, "//"))
		if r, ok := cutPrefix(text, "hydra-ignore-next:"); ok {
			rule = strings.TrimSpace(r)
		} else if r, ok := cutPrefix(text, "hydra-ignore:"); ok {
			reason = strings.TrimSpace(r)
		}
	}
	return reason, rule
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return strings.TrimPrefix(s, prefix), true
	}
	return "", false
}

func (p *parser) parseStmt(base ast.StmtBase) ast.Stmt {
	switch {
	case p.atKeyword("let"):
		return p.parseLet(base)
	case p.atKeyword("if"):
		return p.parseIf(base)
	case p.atKeyword("while"):
		return p.parseWhile(base)
	case p.atKeyword("return"):
		return p.parseReturn(base)
	case p.atKeyword("abort"):
		return p.parseAbort(base)
	case p.atKeyword("assert"):
		return p.parseAssert(base)
	case p.atKeyword("break"):
		return p.parseOpaqueKeyword(base, "break")
	case p.atKeyword("continue"):
		return p.parseOpaqueKeyword(base, "continue")
	case p.atKeyword("loop"):
		return p.parseOpaqueLoop(base)
	case p.atPunct("{"):
		return &ast.Block{StmtBase: base, Stmts: p.parseBlockStmts()}
	default:
		return p.parseAssignOrCall(base)
	}
}

// parseOpaqueKeyword parses a bare "break;" or "continue;" statement. Move
// has no other single-keyword statement forms, so these two are recognized
// syntactically but, per spec §4.7, modeled as ast.Opaque rather than as
// their own Stmt kinds: the analyzer has no loop-exit edges in its CFG to
// attach them to, so it treats them as an unrecognized node instead of
// pretending to understand their control-flow effect.
func (p *parser) parseOpaqueKeyword(base ast.StmtBase, keyword string) ast.Stmt {
	p.advance()
	p.expectPunct(";")
	return &ast.Opaque{StmtBase: base, Description: keyword}
}

// parseOpaqueLoop consumes a "loop { ... }" block without modeling its body
// structurally, per spec §4.7's unrecognized-node path. It still scans the
// block for mentioned identifiers so the resulting Opaque.Vars can be
// surfaced in the AnalysisWarning finding, even though the statements
// themselves are discarded.
func (p *parser) parseOpaqueLoop(base ast.StmtBase) ast.Stmt {
	p.advance() // 'loop'
	p.expectPunct("{")
	var vars []string
	seen := map[string]bool{}
	depth := 1
	for depth > 0 {
		if p.tok.kind == tokEOF {
			p.fail("unterminated 'loop' block")
		}
		if p.atPunct("{") {
			depth++
		} else if p.atPunct("}") {
			depth--
			if depth == 0 {
				p.advance()
				break
			}
		} else if p.tok.kind == tokIdent && !seen[p.tok.text] {
			seen[p.tok.text] = true
			vars = append(vars, p.tok.text)
		}
		p.advance()
	}
	return &ast.Opaque{StmtBase: base, Description: "loop", Vars: vars}
}

func (p *parser) parseLet(base ast.StmtBase) ast.Stmt {
	p.advance() // 'let'
	name := p.expectIdent()
	var typ ast.Type
	if p.atPunct(":") {
		p.advance()
		typ = p.parseType()
	}
	p.expectPunct("=")
	expr := p.parseExpr()
	p.expectPunct(";")
	return &ast.Let{StmtBase: base, Name: name, Type: typ, Expr: expr}
}

func (p *parser) parseIf(base ast.StmtBase) ast.Stmt {
	p.advance() // 'if'
	p.expectPunct("(")
	cond := p.parseExpr()
	p.expectPunct(")")
	then := p.parseBlockStmts()
	var els []ast.Stmt
	if p.atKeyword("else") {
		p.advance()
		if p.atKeyword("if") {
			els = []ast.Stmt{p.parseIf(ast.StmtBase{Index: 0})}
		} else {
			els = p.parseBlockStmts()
		}
	}
	return &ast.If{StmtBase: base, Cond: cond, Then: then, Else: els}
}

func (p *parser) parseWhile(base ast.StmtBase) ast.Stmt {
	p.advance() // 'while'
	p.expectPunct("(")
	cond := p.parseExpr()
	p.expectPunct(")")
	body := p.parseBlockStmts()
	return &ast.While{StmtBase: base, Cond: cond, Body: body}
}

func (p *parser) parseReturn(base ast.StmtBase) ast.Stmt {
	p.advance() // 'return'
	var e ast.Expr
	if !p.atPunct(";") {
		e = p.parseExpr()
	}
	p.expectPunct(";")
	return &ast.Return{StmtBase: base, Expr: e}
}

func (p *parser) parseAbort(base ast.StmtBase) ast.Stmt {
	p.advance() // 'abort'
	code := p.parseExpr()
	p.expectPunct(";")
	return &ast.Abort{StmtBase: base, Code: code}
}

func (p *parser) parseAssert(base ast.StmtBase) ast.Stmt {
	p.advance() // 'assert'
	p.expectPunct("!")
	p.expectPunct("(")
	cond := p.parseExpr()
	p.expectPunct(",")
	code := p.parseExpr()
	p.expectPunct(")")
	p.expectPunct(";")
	return &ast.Assert{StmtBase: base, Cond: cond, Code: code}
}

// parseAssignOrCall handles the two statement forms that begin with an
// expression: a bare call (e.g. "transfer::transfer(o, addr);") or an
// assignment to an lvalue (e.g. "x.value = x.value + 1;").
func (p *parser) parseAssignOrCall(base ast.StmtBase) ast.Stmt {
	start := p.tok
	e := p.parseExpr()
	if p.atPunct("=") || p.atPunct("+=") || p.atPunct("-=") || p.atPunct("*=") {
		op := p.tok.text
		p.advance()
		rhs := p.parseExpr()
		p.expectPunct(";")
		lv := exprToLValue(e)
		if op != "=" {
			rhs = &ast.BinOp{Op: strings.TrimSuffix(op, "="), L: e, R: rhs}
		}
		return &ast.Assign{StmtBase: base, LValue: lv, Expr: rhs}
	}
	p.expectPunct(";")
	if call, ok := e.(*ast.CallExpr); ok {
		return &ast.Call{StmtBase: base, Callee: call.Callee, Args: call.Args}
	}
	if vop, ok := e.(*ast.VectorOp); ok {
		return &ast.Call{StmtBase: base, Callee: ast.QualifiedName{Name: vectorOpCalleeName(vop.Kind)}, Args: vop.Args}
	}
	p.failAt(start, "expected assignment or call statement")
	return nil
}

func (p *parser) failAt(t token, msg string) {
	panic(&Error{Line: t.line, Col: t.col, Msg: msg})
}

func exprToLValue(e ast.Expr) ast.LValue {
	var path []ast.PathElem
	for {
		switch v := e.(type) {
		case *ast.Var:
			rev := make([]ast.PathElem, len(path))
			for i, p := range path {
				rev[len(path)-1-i] = p
			}
			return ast.LValue{Var: v.Name, Path: rev}
		case *ast.FieldAccess:
			path = append(path, ast.PathElem{Field: v.Field})
			e = v.X
		case *ast.Index:
			path = append(path, ast.PathElem{Index: true})
			e = v.X
		case *ast.Deref:
			e = v.X
		default:
			return ast.LValue{}
		}
	}
}

func vectorOpCalleeName(k ast.VectorOpKind) string {
	switch k {
	case ast.VectorPushBack:
		return "vector::push_back"
	case ast.VectorPopBack:
		return "vector::pop_back"
	case ast.VectorBorrow:
		return "vector::borrow"
	case ast.VectorBorrowMut:
		return "vector::borrow_mut"
	case ast.VectorLength:
		return "vector::length"
	case ast.TableAdd:
		return "table::add"
	case ast.TableBorrow:
		return "table::borrow"
	case ast.TableBorrowMut:
		return "table::borrow_mut"
	case ast.DynamicFieldAdd:
		return "dynamic_field::add"
	case ast.DynamicFieldRemove:
		return "dynamic_field::remove"
	case ast.DynamicFieldBorrow:
		return "dynamic_field::borrow"
	default:
		return "?"
	}
}
