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

import "strings"

// Type is the closed sum of Move type forms. Implementations are the
// handful of concrete structs below; callers dispatch on concrete type via
// a type switch rather than through an open, growable interface.
type Type interface {
	isType()
	String() string
}

// PrimKind enumerates Move's primitive value types.
type PrimKind int

const (
	U8 PrimKind = iota
	U64
	U128
	Bool
	Address
	Vector // element type carried separately, see Primitive.Elem
)

// Primitive is a built-in value type, or a vector of some element type.
type Primitive struct {
	Kind PrimKind
	Elem Type // non-nil only when Kind == Vector
}

func (*Primitive) isType() {}

func (p *Primitive) String() string {
	switch p.Kind {
	case U8:
		return "u8"
	case U64:
		return "u64"
	case U128:
		return "u128"
	case Bool:
		return "bool"
	case Address:
		return "address"
	case Vector:
		if p.Elem != nil {
			return "vector<" + p.Elem.String() + ">"
		}
		return "vector<?>"
	default:
		return "?"
	}
}

// Named is a reference to a declared struct, possibly instantiated with
// type arguments. Module may be empty for a module-local struct.
type Named struct {
	Module    string
	Struct    string
	TypeArgs  []Type
}

func (*Named) isType() {}

func (n *Named) String() string {
	var b strings.Builder
	if n.Module != "" {
		b.WriteString(n.Module)
		b.WriteString("::")
	}
	b.WriteString(n.Struct)
	if len(n.TypeArgs) > 0 {
		b.WriteString("<")
		for i, a := range n.TypeArgs {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.String())
		}
		b.WriteString(">")
	}
	return b.String()
}

// Reference is &T or &mut T.
type Reference struct {
	Target  Type
	Mutable bool
}

func (*Reference) isType() {}

func (r *Reference) String() string {
	if r.Mutable {
		return "&mut " + r.Target.String()
	}
	return "&" + r.Target.String()
}

// Tuple is a fixed-arity product type, used for multi-value returns.
type Tuple struct {
	Elems []Type
}

func (*Tuple) isType() {}

func (t *Tuple) String() string {
	var parts []string
	for _, e := range t.Elems {
		parts = append(parts, e.String())
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// TypeParam is a reference to a generic type parameter by name, e.g. T.
type TypeParam struct {
	Name string
}

func (*TypeParam) isType() {}

func (t *TypeParam) String() string { return t.Name }

// Dereference unwraps any number of leading reference layers and returns
// the underlying target type together with whether any layer was mutable.
func Dereference(t Type) (target Type, mutable bool) {
	for {
		r, ok := t.(*Reference)
		if !ok {
			return t, mutable
		}
		mutable = mutable || r.Mutable
		t = r.Target
	}
}

// DecomposeNamed returns the module and struct name of a (possibly
// reference-wrapped) named type, or ("", "") if t does not resolve to one.
func DecomposeNamed(t Type) (module, name string) {
	target, _ := Dereference(t)
	n, ok := target.(*Named)
	if !ok {
		return "", ""
	}
	return n.Module, n.Struct
}
