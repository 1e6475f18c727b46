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

package ximm

import "sort"

// VarState is everything tracked about one live variable: its Ξimm fact,
// and optional object/capability facts (non-nil only for variables whose
// static type makes them relevant — a `key` object or a `*Cap` value).
type VarState struct {
	Ref   RefFact
	Obj   *ObjectFact
	Cap   *CapFact
	Guard *GuardFact
}

// Environment is a mapping from variable identifier to VarState, created at
// function entry, threaded through each statement's transfer function, and
// joined at CFG merges. Predecessor environments are read-only; Join and
// With* always return a fresh Environment, the copy-on-write discipline
// spec §9 calls for.
type Environment struct {
	vars map[string]VarState
}

// New returns an empty environment.
func New() *Environment {
	return &Environment{vars: map[string]VarState{}}
}

// Lookup returns the state for name, or the zero VarState (NonRef, no
// object/cap fact) if name is not live.
func (e *Environment) Lookup(name string) VarState {
	if e == nil {
		return VarState{}
	}
	return e.vars[name]
}

// Has reports whether name has an entry at all (as opposed to defaulting
// to the zero VarState).
func (e *Environment) Has(name string) bool {
	_, ok := e.vars[name]
	return ok
}

// Names returns the live variable names in sorted order, for deterministic
// iteration by callers that need to visit every entry (e.g. to re-derive
// dependent facts).
func (e *Environment) Names() []string {
	out := make([]string, 0, len(e.vars))
	for k := range e.vars {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a shallow copy that can be mutated without affecting e.
func (e *Environment) Clone() *Environment {
	out := make(map[string]VarState, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return &Environment{vars: out}
}

// With returns a new Environment equal to e except that name maps to st.
func (e *Environment) With(name string, st VarState) *Environment {
	out := e.Clone()
	out.vars[name] = st
	return out
}

// WithRef is a convenience wrapper around With for the common case of
// updating only a variable's Ξimm fact.
func (e *Environment) WithRef(name string, ref RefFact) *Environment {
	st := e.Lookup(name)
	st.Ref = ref
	return e.With(name, st)
}

// Join computes the environment at a CFG merge point from its incoming
// predecessor environments. The result is independent of the order
// predecessors are visited in, since JoinValue/JoinObjectFact/JoinCapFact
// are all commutative and associative.
func Join(envs ...*Environment) *Environment {
	out := New()
	seen := map[string]bool{}
	for _, e := range envs {
		if e == nil {
			continue
		}
		for name := range e.vars {
			seen[name] = true
		}
	}
	for name := range seen {
		var acc VarState
		first := true
		for _, e := range envs {
			if e == nil || !e.Has(name) {
				// Not live on this predecessor: joins as the lattice
				// bottom, NonRef, with no object/cap fact.
				st := VarState{}
				if first {
					acc = st
					first = false
				} else {
					acc = joinVarState(acc, st)
				}
				continue
			}
			st := e.Lookup(name)
			if first {
				acc = st
				first = false
			} else {
				acc = joinVarState(acc, st)
			}
		}
		out.vars[name] = acc
	}
	return out
}

func joinVarState(a, b VarState) VarState {
	out := VarState{Ref: JoinRefFact(a.Ref, b.Ref)}
	switch {
	case a.Obj != nil && b.Obj != nil:
		j := JoinObjectFact(*a.Obj, *b.Obj)
		out.Obj = &j
	case a.Obj != nil:
		out.Obj = a.Obj
	case b.Obj != nil:
		out.Obj = b.Obj
	}
	switch {
	case a.Cap != nil && b.Cap != nil:
		j := JoinCapFact(*a.Cap, *b.Cap)
		out.Cap = &j
	case a.Cap != nil:
		out.Cap = a.Cap
	case b.Cap != nil:
		out.Cap = b.Cap
	}
	switch {
	case a.Guard != nil && b.Guard != nil:
		j := JoinGuardFact(*a.Guard, *b.Guard)
		out.Guard = &j
	case a.Guard != nil:
		// Not live on the other path: conjunctive join means unset-on-one-
		// path collapses to unchecked, so Guard stays nil rather than a.Guard.
	case b.Guard != nil:
	}
	return out
}

// Widen returns a new Environment in which every live variable's Ξimm fact
// is raised to InvRef and any object/capability checked bits are cleared,
// per spec §4.7's rule for an unrecognized AST node: the analyzer cannot
// say what the statement did, so it must assume the worst for everything
// currently in scope rather than just the variables it can name.
func (e *Environment) Widen() *Environment {
	out := e.Clone()
	for name, st := range out.vars {
		st.Ref.Value = InvRef
		if st.Obj != nil {
			obj := *st.Obj
			obj.OwnerChecked = false
			obj.ConsensusChecked = false
			obj.TimestampChecked = false
			st.Obj = &obj
		}
		if st.Cap != nil {
			capFact := *st.Cap
			capFact.ExpiryChecked = false
			capFact.ResourceChecked = false
			capFact.MaxAmountChecked = false
			st.Cap = &capFact
		}
		out.vars[name] = st
	}
	return out
}

// Equal reports whether two environments carry the same facts for every
// variable, used by the fixed-point driver to detect convergence.
func Equal(a, b *Environment) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.vars) != len(b.vars) {
		return false
	}
	for k, av := range a.vars {
		bv, ok := b.vars[k]
		if !ok || av.Ref != bv.Ref {
			return false
		}
		if (av.Obj == nil) != (bv.Obj == nil) {
			return false
		}
		if av.Obj != nil && *av.Obj != *bv.Obj {
			return false
		}
		if (av.Cap == nil) != (bv.Cap == nil) {
			return false
		}
		if av.Cap != nil && *av.Cap != *bv.Cap {
			return false
		}
		if (av.Guard == nil) != (bv.Guard == nil) {
			return false
		}
		if av.Guard != nil && *av.Guard != *bv.Guard {
			return false
		}
	}
	return true
}
