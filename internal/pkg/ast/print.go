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

package ast

import (
	"fmt"
	"strings"
)

// Print renders a Module back to Move source text. It is a lossless
// round-trip target for internal/pkg/parser: Print(module) re-parsed
// produces an equal Module, modulo statement suppression comments, which
// Print re-emits verbatim so even those survive the round trip.
func Print(m *Module) string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s::%s {\n", m.Address, m.Name)
	for _, imp := range m.Imports {
		fmt.Fprintf(&b, "    use %s;\n", imp)
	}
	for _, s := range m.Structs {
		printStruct(&b, s)
	}
	for _, f := range m.Functions {
		printFunction(&b, f)
	}
	b.WriteString("}\n")
	return b.String()
}

func printStruct(b *strings.Builder, s *Struct) {
	fmt.Fprintf(b, "    struct %s", s.Name)
	if len(s.Abilities) > 0 {
		b.WriteString(" has ")
		for i, a := range s.Abilities {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(string(a))
		}
	}
	b.WriteString(" {\n")
	for _, f := range s.Fields {
		fmt.Fprintf(b, "        %s: %s,\n", f.Name, f.Type.String())
	}
	b.WriteString("    }\n")
}

func printFunction(b *strings.Builder, f *Function) {
	fmt.Fprintf(b, "    %sfun %s(", visPrefix(f.Visibility), f.Name)
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s: %s", p.Name, p.Type.String())
	}
	b.WriteString(")")
	if len(f.Results) == 1 {
		fmt.Fprintf(b, ": %s", f.Results[0].String())
	} else if len(f.Results) > 1 {
		b.WriteString(": (")
		for i, r := range f.Results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(r.String())
		}
		b.WriteString(")")
	}
	b.WriteString(" {\n")
	printStmts(b, f.Body, 2)
	b.WriteString("    }\n")
}

func visPrefix(v Visibility) string {
	switch v {
	case Public:
		return "public "
	case PublicFriend:
		return "public(friend) "
	case Entry:
		return "entry "
	default:
		return ""
	}
}

func printStmts(b *strings.Builder, stmts []Stmt, indent int) {
	pad := strings.Repeat("    ", indent)
	for _, s := range stmts {
		if txt := suppressionComment(s); txt != "" {
			b.WriteString(pad)
			b.WriteString(txt)
			b.WriteString("\n")
		}
		b.WriteString(pad)
		printStmt(b, s, indent)
		b.WriteString("\n")
	}
}

func suppressionComment(s Stmt) string {
	switch v := s.(type) {
	case *Let:
		return suppressionText(v.Suppressed, v.SuppressedRule)
	case *Assign:
		return suppressionText(v.Suppressed, v.SuppressedRule)
	case *Call:
		return suppressionText(v.Suppressed, v.SuppressedRule)
	case *If:
		return suppressionText(v.Suppressed, v.SuppressedRule)
	case *While:
		return suppressionText(v.Suppressed, v.SuppressedRule)
	case *Return:
		return suppressionText(v.Suppressed, v.SuppressedRule)
	case *Block:
		return suppressionText(v.Suppressed, v.SuppressedRule)
	case *Abort:
		return suppressionText(v.Suppressed, v.SuppressedRule)
	case *Assert:
		return suppressionText(v.Suppressed, v.SuppressedRule)
	case *Opaque:
		return suppressionText(v.Suppressed, v.SuppressedRule)
	}
	return ""
}

func suppressionText(reason, rule string) string {
	if rule != "" {
		return fmt.Sprintf("// hydra-ignore-next: %s", rule)
	}
	if reason != "" {
		return fmt.Sprintf("// hydra-ignore: %s", reason)
	}
	return ""
}

func printStmt(b *strings.Builder, s Stmt, indent int) {
	switch v := s.(type) {
	case *Let:
		b.WriteString("let ")
		b.WriteString(v.Name)
		if v.Type != nil {
			b.WriteString(": ")
			b.WriteString(v.Type.String())
		}
		b.WriteString(" = ")
		b.WriteString(printExpr(v.Expr))
		b.WriteString(";")
	case *Assign:
		b.WriteString(printLValue(v.LValue))
		b.WriteString(" = ")
		b.WriteString(printExpr(v.Expr))
		b.WriteString(";")
	case *Call:
		b.WriteString(v.Callee.String())
		b.WriteString("(")
		b.WriteString(printExprList(v.Args))
		b.WriteString(");")
	case *If:
		b.WriteString("if (")
		b.WriteString(printExpr(v.Cond))
		b.WriteString(") {\n")
		printStmts(b, v.Then, indent+1)
		b.WriteString(strings.Repeat("    ", indent))
		b.WriteString("}")
		if len(v.Else) > 0 {
			b.WriteString(" else {\n")
			printStmts(b, v.Else, indent+1)
			b.WriteString(strings.Repeat("    ", indent))
			b.WriteString("}")
		}
	case *While:
		b.WriteString("while (")
		b.WriteString(printExpr(v.Cond))
		b.WriteString(") {\n")
		printStmts(b, v.Body, indent+1)
		b.WriteString(strings.Repeat("    ", indent))
		b.WriteString("}")
	case *Return:
		b.WriteString("return")
		if v.Expr != nil {
			b.WriteString(" ")
			b.WriteString(printExpr(v.Expr))
		}
		b.WriteString(";")
	case *Block:
		b.WriteString("{\n")
		printStmts(b, v.Stmts, indent+1)
		b.WriteString(strings.Repeat("    ", indent))
		b.WriteString("}")
	case *Abort:
		b.WriteString("abort ")
		b.WriteString(printExpr(v.Code))
		b.WriteString(";")
	case *Assert:
		b.WriteString("assert!(")
		b.WriteString(printExpr(v.Cond))
		b.WriteString(", ")
		b.WriteString(printExpr(v.Code))
		b.WriteString(");")
	case *Opaque:
		printOpaque(b, v, indent)
	}
}

// printOpaque re-emits an Opaque statement. "loop" reconstructs a block
// body consisting of its Vars as bare identifier statements rather than the
// (discarded) original body, so that re-parsing the printed text collects
// the same identifier set and the round trip holds at the ast.Opaque level
// that spec §4.7 actually tracks.
func printOpaque(b *strings.Builder, v *Opaque, indent int) {
	if v.Description != "loop" {
		b.WriteString(v.Description)
		b.WriteString(";")
		return
	}
	b.WriteString("loop {\n")
	pad := strings.Repeat("    ", indent+1)
	for _, name := range v.Vars {
		b.WriteString(pad)
		b.WriteString(name)
		b.WriteString(";\n")
	}
	b.WriteString(strings.Repeat("    ", indent))
	b.WriteString("}")
}

func printLValue(lv LValue) string {
	var b strings.Builder
	b.WriteString(lv.Var)
	for _, p := range lv.Path {
		if p.Field != "" {
			b.WriteString(".")
			b.WriteString(p.Field)
		}
	}
	return b.String()
}

func printExprList(exprs []Expr) string {
	var parts []string
	for _, e := range exprs {
		parts = append(parts, printExpr(e))
	}
	return strings.Join(parts, ", ")
}

func printExpr(e Expr) string {
	switch v := e.(type) {
	case *Literal:
		return v.Text
	case *Var:
		return v.Name
	case *FieldAccess:
		return printExpr(v.X) + "." + v.Field
	case *Index:
		return fmt.Sprintf("%s[%s]", printExpr(v.X), printExpr(v.Index))
	case *Borrow:
		if v.Mutable {
			return "&mut " + printExpr(v.X)
		}
		return "&" + printExpr(v.X)
	case *Deref:
		return "*" + printExpr(v.X)
	case *CallExpr:
		return fmt.Sprintf("%s(%s)", v.Callee.String(), printExprList(v.Args))
	case *BinOp:
		return fmt.Sprintf("(%s %s %s)", printExpr(v.L), v.Op, printExpr(v.R))
	case *UnOp:
		return v.Op + printExpr(v.X)
	case *StructCtor:
		var parts []string
		for _, fi := range v.Fields {
			parts = append(parts, fmt.Sprintf("%s: %s", fi.Field, printExpr(fi.Value)))
		}
		return fmt.Sprintf("%s { %s }", v.Struct.String(), strings.Join(parts, ", "))
	case *VectorOp:
		return fmt.Sprintf("%s(%s)", vectorOpName(v.Kind), printExprList(v.Args))
	}
	return ""
}

func vectorOpName(k VectorOpKind) string {
	switch k {
	case VectorPushBack:
		return "vector::push_back"
	case VectorPopBack:
		return "vector::pop_back"
	case VectorBorrow:
		return "vector::borrow"
	case VectorBorrowMut:
		return "vector::borrow_mut"
	case VectorLength:
		return "vector::length"
	case TableAdd:
		return "table::add"
	case TableBorrow:
		return "table::borrow"
	case TableBorrowMut:
		return "table::borrow_mut"
	case DynamicFieldAdd:
		return "dynamic_field::add"
	case DynamicFieldRemove:
		return "dynamic_field::remove"
	case DynamicFieldBorrow:
		return "dynamic_field::borrow"
	default:
		return "?"
	}
}
