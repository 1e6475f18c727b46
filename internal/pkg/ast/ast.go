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

// Package ast defines the in-memory representation of a Sui Move module
// that the analysis engine consumes. It is produced by internal/pkg/parser
// and is otherwise immutable once built: struct and function bodies live in
// indexable arenas on Module, and cross-references (a field's named type, a
// call's callee) are resolved through a module-scoped symbol table rather
// than owning pointers, so cyclic type references never require circular
// construction.
package ast

// Ability is one of the four Move abilities a struct may declare.
type Ability string

const (
	AbilityKey   Ability = "key"
	AbilityStore Ability = "store"
	AbilityCopy  Ability = "copy"
	AbilityDrop  Ability = "drop"
)

// Visibility is a function's declared visibility.
type Visibility int

const (
	Private Visibility = iota
	Public
	PublicFriend
	Entry
)

func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case PublicFriend:
		return "public(friend)"
	case Entry:
		return "entry"
	default:
		return "private"
	}
}

// Module is the root of the AST for a single Move module.
type Module struct {
	Name      string
	Address   string
	Imports   []string
	Structs   []*Struct
	Functions []*Function

	// Symbols resolves names within this module to their declarations.
	// Populated by the parser; never nil on a fully built Module.
	Symbols *SymbolTable
}

// StructByName returns the struct declared with the given name, or nil.
func (m *Module) StructByName(name string) *Struct {
	for _, s := range m.Structs {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// FunctionByName returns the function declared with the given name, or nil.
func (m *Module) FunctionByName(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// QualifiedName identifies a function or struct across module boundaries,
// e.g. "0x2::transfer::transfer" or just "transfer::transfer" when the
// address is elided in source.
type QualifiedName struct {
	Module string // may be empty for an unqualified, module-local reference
	Name   string
}

func (q QualifiedName) String() string {
	if q.Module == "" {
		return q.Name
	}
	return q.Module + "::" + q.Name
}

// Field is a single named, typed struct field.
type Field struct {
	Name string
	Type Type
}

// Struct is a Move struct declaration.
type Struct struct {
	Name      string
	Abilities []Ability
	Fields    []Field

	// UIDField is the index into Fields of the designated object-identity
	// field (conventionally named "id" of type object::UID), or -1 if the
	// struct has none.
	UIDField int
}

// HasAbility reports whether the struct declares the given ability.
func (s *Struct) HasAbility(a Ability) bool {
	for _, have := range s.Abilities {
		if have == a {
			return true
		}
	}
	return false
}

// FieldByName returns the field with the given name, or nil.
func (s *Struct) FieldByName(name string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// Param is a single function parameter.
type Param struct {
	Name string
	Type Type
}

// Function is a Move function declaration.
type Function struct {
	Name       string
	Visibility Visibility
	Params     []Param
	Results    []Type
	Body       []Stmt

	// Owner is set by the parser to the enclosing module's name, so a
	// Function can be decomposed into (module, name) without a back
	// pointer to *Module.
	Owner string

	// IsTest is set when the function carries a #[test] or
	// #[test_only] attribute.
	IsTest bool
}

// ParamRefPositions returns the indices of parameters whose declared type
// is a reference (&T or &mut T).
func (f *Function) ParamRefPositions() []int {
	var out []int
	for i, p := range f.Params {
		if _, ok := p.Type.(*Reference); ok {
			out = append(out, i)
		}
	}
	return out
}

// ResultRefPositions returns the indices of declared return types that are
// references.
func (f *Function) ResultRefPositions() []int {
	var out []int
	for i, t := range f.Results {
		if _, ok := t.(*Reference); ok {
			out = append(out, i)
		}
	}
	return out
}
