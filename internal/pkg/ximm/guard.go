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

// GuardFact records whether some syntactic guard (an assert! recognized by
// shape, e.g. a consensus check or an overflow predicate) has fired on
// every path reaching this program point. Rule packs key these onto
// reserved pseudo-variable names in an Environment (see WithGuard/Guarded)
// rather than adding a dedicated field to Function, so the same
// copy-on-write Join machinery that makes "dominates" sound for ordinary
// variables gives dominance-approximate semantics for free: a guard is
// Checked at a merge only if it was Checked along every incoming edge.
type GuardFact struct {
	Checked bool
}

// JoinGuardFact is conjunctive, matching spec.md §4.2's checked-bit rule.
func JoinGuardFact(a, b GuardFact) GuardFact {
	return GuardFact{Checked: a.Checked && b.Checked}
}

// GuardName builds the reserved pseudo-variable name for a guard kind and
// an optional subject (e.g. GuardName("overflow", "balance") ->
// "$overflow:balance"; GuardName("consensus", "") -> "$consensus").
func GuardName(kind, subject string) string {
	if subject == "" {
		return "$" + kind
	}
	return "$" + kind + ":" + subject
}

// WithGuard returns a new Environment in which the named guard is marked
// Checked.
func (e *Environment) WithGuard(name string) *Environment {
	st := e.Lookup(name)
	st.Guard = &GuardFact{Checked: true}
	return e.With(name, st)
}

// Guarded reports whether the named guard is Checked in e.
func (e *Environment) Guarded(name string) bool {
	st := e.Lookup(name)
	return st.Guard != nil && st.Guard.Checked
}
