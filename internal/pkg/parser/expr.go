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

import "github.com/hydra-sh/hydra/internal/pkg/ast"

// Expression parsing is precedence climbing over a small fixed operator
// table, matching the operator set in ast.BinOp's doc comment.

var binPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3, "<": 3, "<=": 3, ">": 3, ">=": 3,
	"+": 4, "-": 4,
	"*": 5, "/": 5, "%": 5,
}

func (p *parser) parseExpr() ast.Expr {
	return p.parseBinary(0)
}

func (p *parser) parseBinary(minPrec int) ast.Expr {
	left := p.parseUnary()
	for {
		if p.tok.kind != tokPunct {
			break
		}
		prec, ok := binPrec[p.tok.text]
		if !ok || prec < minPrec {
			break
		}
		op := p.tok.text
		p.advance()
		right := p.parseBinary(prec + 1)
		left = &ast.BinOp{Op: op, L: left, R: right}
	}
	return left
}

func (p *parser) parseUnary() ast.Expr {
	switch {
	case p.atPunct("&"):
		p.advance()
		mut := false
		if p.atKeyword("mut") {
			p.advance()
			mut = true
		}
		return &ast.Borrow{X: p.parseUnary(), Mutable: mut}
	case p.atPunct("*"):
		p.advance()
		return &ast.Deref{X: p.parseUnary()}
	case p.atPunct("!"):
		p.advance()
		return &ast.UnOp{Op: "!", X: p.parseUnary()}
	case p.atPunct("-"):
		p.advance()
		return &ast.UnOp{Op: "-", X: p.parseUnary()}
	default:
		return p.parsePostfix(p.parsePrimary())
	}
}

func (p *parser) parsePostfix(e ast.Expr) ast.Expr {
	for {
		switch {
		case p.atPunct("."):
			p.advance()
			e = &ast.FieldAccess{X: e, Field: p.expectIdent()}
		case p.atPunct("["):
			p.advance()
			idx := p.parseExpr()
			p.expectPunct("]")
			e = &ast.Index{X: e, Index: idx}
		default:
			return e
		}
	}
}

func (p *parser) parsePrimary() ast.Expr {
	switch {
	case p.tok.kind == tokNumber:
		text := p.tok.text
		p.advance()
		return &ast.Literal{Kind: ast.U64, Text: text}
	case p.tok.kind == tokString:
		text := p.tok.text
		p.advance()
		return &ast.Literal{Kind: ast.Address, Text: text}
	case p.atKeyword("true") || p.atKeyword("false"):
		text := p.tok.text
		p.advance()
		return &ast.Literal{Kind: ast.Bool, Text: text}
	case p.atPunct("("):
		p.advance()
		e := p.parseExpr()
		p.expectPunct(")")
		return e
	case p.tok.kind == tokIdent:
		return p.parseIdentExpr()
	}
	p.fail("unexpected token '" + p.tok.text + "' in expression")
	return nil
}

// parseIdentExpr handles every expression form that begins with an
// identifier: a bare variable, a (possibly qualified) function call, or a
// struct constructor.
func (p *parser) parseIdentExpr() ast.Expr {
	first := p.expectIdent()
	qname := ast.QualifiedName{Name: first}
	for p.atPunct("::") {
		p.advance()
		next := p.expectIdent()
		if qname.Module == "" {
			qname.Module = qname.Name
		} else {
			qname.Module = qname.Module + "::" + qname.Name
		}
		qname.Name = next
	}

	switch {
	case p.atPunct("("):
		p.advance()
		var args []ast.Expr
		for !p.atPunct(")") {
			args = append(args, p.parseExpr())
			if p.atPunct(",") {
				p.advance()
			}
		}
		p.expectPunct(")")
		if kind, ok := vectorOpKind(qname); ok {
			return &ast.VectorOp{Kind: kind, Args: args}
		}
		return &ast.CallExpr{Callee: qname, Args: args}
	case p.atPunct("{") && qname.Module == "":
		p.advance()
		var fields []ast.FieldInit
		for !p.atPunct("}") {
			fname := p.expectIdent()
			p.expectPunct(":")
			fval := p.parseExpr()
			fields = append(fields, ast.FieldInit{Field: fname, Value: fval})
			if p.atPunct(",") {
				p.advance()
			}
		}
		p.expectPunct("}")
		return &ast.StructCtor{Struct: qname, Fields: fields}
	default:
		if qname.Module != "" {
			// A qualified bare reference with no call/ctor syntax
			// following; treat the dotted name as a single variable,
			// e.g. a constant import alias.
			return &ast.Var{Name: qname.String()}
		}
		return &ast.Var{Name: qname.Name}
	}
}

func vectorOpKind(q ast.QualifiedName) (ast.VectorOpKind, bool) {
	switch q.Module {
	case "vector":
		switch q.Name {
		case "push_back":
			return ast.VectorPushBack, true
		case "pop_back":
			return ast.VectorPopBack, true
		case "borrow":
			return ast.VectorBorrow, true
		case "borrow_mut":
			return ast.VectorBorrowMut, true
		case "length":
			return ast.VectorLength, true
		}
	case "table":
		switch q.Name {
		case "add":
			return ast.TableAdd, true
		case "borrow":
			return ast.TableBorrow, true
		case "borrow_mut":
			return ast.TableBorrowMut, true
		}
	case "dynamic_field":
		switch q.Name {
		case "add":
			return ast.DynamicFieldAdd, true
		case "remove":
			return ast.DynamicFieldRemove, true
		case "borrow", "borrow_mut":
			return ast.DynamicFieldBorrow, true
		}
	}
	return 0, false
}
