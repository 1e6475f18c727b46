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

// Package ximm implements the three-valued reference abstraction lattice
// (Ξimm in spec terms: NonRef ⊏ OkRef ⊏ InvRef) and the Environment that
// threads it, together with object and capability facts, through the
// dataflow fixed point in internal/pkg/escape. Persistent-map discipline
// (copy on write, read-only predecessors) is modeled on the teacher's
// internal/pkg/earpointer heap abstraction.
//
// The lattice intentionally has only the three values spec.md §3 defines.
// spec.md §9 notes that folding "reference into invariant state" and
// "reference that has escaped" into one InvRef value may over-approximate,
// and suggests keeping two bits internally if a future rule pack needs to
// tell them apart. Those two bits (ViaInvariant, Escaped) are carried on
// RefFact purely to make finding messages more precise; they never change
// the 3-value ordering used for Join.
package ximm

// Value is a point in the Ξimm lattice.
type Value int

const (
	NonRef Value = iota
	OkRef
	InvRef
)

func (v Value) String() string {
	switch v {
	case OkRef:
		return "OkRef"
	case InvRef:
		return "InvRef"
	default:
		return "NonRef"
	}
}

// JoinValue computes the least upper bound of two lattice points.
func JoinValue(a, b Value) Value {
	if a > b {
		return a
	}
	return b
}

// RefFact is the abstract fact tracked for a single live variable or field
// path.
type RefFact struct {
	Value Value

	// ViaInvariant records that this value reached InvRef because it
	// points into invariant-protected state, as opposed to having been
	// observed escaping. Both can be true.
	ViaInvariant bool
	Escaped      bool

	// Mutable records whether the reference (if any) was taken as &mut.
	Mutable bool
}

// JoinRefFact joins two facts for the same variable at a CFG merge point.
func JoinRefFact(a, b RefFact) RefFact {
	return RefFact{
		Value:        JoinValue(a.Value, b.Value),
		ViaInvariant: a.ViaInvariant || b.ViaInvariant,
		Escaped:      a.Escaped || b.Escaped,
		Mutable:      a.Mutable || b.Mutable,
	}
}
