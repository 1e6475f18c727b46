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

// ObjectFact is the per-variable lifecycle state for a live `key`-having
// value, per spec §3/§4.6.
type ObjectFact struct {
	CreatedHere bool
	Initialized bool
	Transferred bool
	Shared      bool

	OwnerChecked     bool
	ConsensusChecked bool
	TimestampChecked bool
}

// JoinObjectFact joins facts for the same variable at a CFG merge.
//
// Lifecycle flags (CreatedHere/Initialized/Transferred/Shared) use a
// disjunctive merge: once true on any incoming path the object may have
// reached that state, and spec §4.3's invariant ("once transferred=true or
// shared=true the object must not appear in subsequent use sites") is only
// soundly enforced if a single escaping branch is enough to poison later
// uses.
//
// The *-Checked guard flags use a conjunctive merge, exactly as spec.md
// §4.2 states ("checked remains true only if true on all incoming
// edges — conservative for safety checks"); spec.md's own prose calls this
// a "disjunctive merge" in the same sentence, which is internally
// inconsistent. We follow the explicit, more specific clarifying clause
// (conjunctive) since it is the conservative choice a safety analyzer
// should make — see DESIGN.md.
func JoinObjectFact(a, b ObjectFact) ObjectFact {
	return ObjectFact{
		CreatedHere:      a.CreatedHere || b.CreatedHere,
		Initialized:      a.Initialized || b.Initialized,
		Transferred:      a.Transferred || b.Transferred,
		Shared:           a.Shared || b.Shared,
		OwnerChecked:     a.OwnerChecked && b.OwnerChecked,
		ConsensusChecked: a.ConsensusChecked && b.ConsensusChecked,
		TimestampChecked: a.TimestampChecked && b.TimestampChecked,
	}
}
