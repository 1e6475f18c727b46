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

// CapFact is the per-variable state for a live capability value, per spec
// §3/§4.4.
type CapFact struct {
	PermissionsMask   uint64
	ExpiryChecked     bool
	BoundResourceID   string
	ResourceChecked   bool
	MaxAmountChecked  bool
	DelegatedFrom     string
}

// JoinCapFact joins facts for the same variable at a CFG merge. Checked
// flags are conjunctive for the same reason as ObjectFact's; the
// permissions mask is joined by bitwise OR so a rule consulting the merged
// state sees the superset of permissions observable along either path —
// the conservative choice when deciding whether a mask has been widened.
// BoundResourceID and DelegatedFrom keep whichever side is set; when both
// are set and differ, the lexicographically smaller one is kept, so the
// result does not depend on argument order.
func JoinCapFact(a, b CapFact) CapFact {
	resource := a.BoundResourceID
	if resource == "" || (b.BoundResourceID != "" && b.BoundResourceID < resource) {
		resource = b.BoundResourceID
	}
	delegated := a.DelegatedFrom
	if delegated == "" || (b.DelegatedFrom != "" && b.DelegatedFrom < delegated) {
		delegated = b.DelegatedFrom
	}
	return CapFact{
		PermissionsMask:  a.PermissionsMask | b.PermissionsMask,
		ExpiryChecked:    a.ExpiryChecked && b.ExpiryChecked,
		BoundResourceID:  resource,
		ResourceChecked:  a.ResourceChecked && b.ResourceChecked,
		MaxAmountChecked: a.MaxAmountChecked && b.MaxAmountChecked,
		DelegatedFrom:    delegated,
	}
}

// IsSubsetOf reports whether mask's bits are all present in parent — the
// permission-subset check spec §4.4's delegation rule requires.
func IsSubsetOf(mask, parent uint64) bool {
	return mask&^parent == 0
}
