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

// SymbolTable resolves names within a single module to their declarations.
// It exists so that struct fields and function signatures can refer to
// other structs (including the enclosing one, for cyclic type references)
// by name rather than by owning pointer.
type SymbolTable struct {
	structs   map[string]*Struct
	functions map[string]*Function
}

// NewSymbolTable builds a table over the given declarations.
func NewSymbolTable(structs []*Struct, functions []*Function) *SymbolTable {
	st := &SymbolTable{
		structs:   make(map[string]*Struct, len(structs)),
		functions: make(map[string]*Function, len(functions)),
	}
	for _, s := range structs {
		st.structs[s.Name] = s
	}
	for _, f := range functions {
		st.functions[f.Name] = f
	}
	return st
}

// Struct resolves a module-local struct name.
func (st *SymbolTable) Struct(name string) (*Struct, bool) {
	s, ok := st.structs[name]
	return s, ok
}

// Function resolves a module-local function name.
func (st *SymbolTable) Function(name string) (*Function, bool) {
	f, ok := st.functions[name]
	return f, ok
}
