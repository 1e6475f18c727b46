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

// Package report defines SafetyViolation and AnalysisResult, and the
// aggregator that merges per-function findings into a deterministically
// ordered, deduplicated result, per spec §3 and §5.
package report

import "sort"

// Severity ranks a finding's importance, per spec §3.
type Severity int

const (
	Info Severity = iota
	Low
	Medium
	High
	Critical
)

func (s Severity) String() string {
	switch s {
	case Critical:
		return "Critical"
	case High:
		return "High"
	case Medium:
		return "Medium"
	case Low:
		return "Low"
	default:
		return "Info"
	}
}

// Family groups a Kind into one of five violation families, so the
// aggregator can bucket findings into AnalysisResult's five family slices.
type Family int

const (
	FamilyReference Family = iota
	FamilyObject
	FamilyCapability
	FamilySharedObject
	FamilyDoS
)

// Kind identifies the specific rule that produced a finding.
type Kind string

const (
	KindReferenceEscape      Kind = "ReferenceEscape"
	KindBoundaryCrossing     Kind = "BoundaryCrossing"
	KindStoredReference      Kind = "StoredReference"
	KindUnsafeTransfer       Kind = "UnsafeTransfer"
	KindUseAfterTransfer     Kind = "UseAfterTransfer"
	KindInvalidSharedAccess  Kind = "InvalidSharedAccess"
	KindInvariantViolation   Kind = "InvariantViolation"
	KindUncheckedArithmetic  Kind = "UncheckedArithmetic"
	KindPossibleUnderflow    Kind = "PossibleUnderflow"
	KindDivByZero            Kind = "DivByZero"
	KindResourceLeak         Kind = "ResourceLeak"
	KindDynamicFieldNotRemoved Kind = "DynamicFieldNotRemoved"
	KindCapabilityLeak       Kind = "CapabilityLeak"
	KindUnsafeDelegation     Kind = "UnsafeDelegation"
	KindMissingExpiryCheck   Kind = "MissingExpiryCheck"
	KindCapabilityResourceMismatch Kind = "CapabilityResourceMismatch"
	KindPrivilegeEscalation  Kind = "PrivilegeEscalation"
	KindMissingConsensus     Kind = "MissingConsensus"
	KindMissingTimestampCheck Kind = "MissingTimestampCheck"
	KindUnusedClock          Kind = "UnusedClock"
	KindExternalCallInLoop   Kind = "ExternalCallInLoop"
	KindNestedExternalLoops  Kind = "NestedExternalLoops"
	KindDynamicLoopBound     Kind = "DynamicLoopBound"
	KindModuleSkipped        Kind = "ModuleSkipped"
	KindAnalysisWarning      Kind = "AnalysisWarning"
	KindTimeoutSkipped       Kind = "TimeoutSkipped"
)

// Location pinpoints a finding within the analyzed module, per §3.
type Location struct {
	Module    string
	Function  string
	Statement int
	Line      int
	Column    int
}

// SafetyViolation is a single typed finding.
type SafetyViolation struct {
	Kind          Kind
	Family        Family
	Severity      Severity
	Location      Location
	Message       string
	Context       string
	SuggestedFix  string
}

// Summary is the per-severity finding count.
type Summary struct {
	Critical, High, Medium, Low, Info int
}

// AnalysisResult is the engine's final output for one module, per §3.
// Invariant: every contained violation's Location.Module equals the
// analyzed module's name.
type AnalysisResult struct {
	Module          string
	ReferenceLeaks  []SafetyViolation
	ObjectSafety    []SafetyViolation
	CapabilitySafety []SafetyViolation
	SharedObject    []SafetyViolation
	DoS             []SafetyViolation
	Summary         Summary
}

// All returns every violation across all five family slices, in the
// deterministic order produced by Aggregator.Result.
func (r *AnalysisResult) All() []SafetyViolation {
	var out []SafetyViolation
	out = append(out, r.ReferenceLeaks...)
	out = append(out, r.ObjectSafety...)
	out = append(out, r.CapabilitySafety...)
	out = append(out, r.SharedObject...)
	out = append(out, r.DoS...)
	return out
}

// HighestSeverity returns the most severe finding in the result, or -1 if
// there are none.
func (r *AnalysisResult) HighestSeverity() Severity {
	highest := Severity(-1)
	for _, v := range r.All() {
		if v.Severity > highest {
			highest = v.Severity
		}
	}
	return highest
}

// Aggregator collects violations emitted across a module's functions and
// produces a final, deduplicated, deterministically-ordered
// AnalysisResult. Aggregator is append-only and not safe for concurrent
// use; internal/pkg/engine creates one per module and fills it from a
// single goroutine, so no lock is taken around it.
type Aggregator struct {
	module string
	found  []dedupeKey
	result AnalysisResult
}

type dedupeKey struct {
	kind     Kind
	function string
	stmt     int
}

// NewAggregator creates an aggregator for one module.
func NewAggregator(module string) *Aggregator {
	return &Aggregator{module: module, result: AnalysisResult{Module: module}}
}

// Add appends a violation, silently dropping an exact (kind, function,
// statement) duplicate — the same rule can fire more than once at a merge
// point during fixed-point iteration before the environment stabilizes.
func (a *Aggregator) Add(v SafetyViolation) {
	key := dedupeKey{kind: v.Kind, function: v.Location.Function, stmt: v.Location.Statement}
	for _, k := range a.found {
		if k == key {
			return
		}
	}
	a.found = append(a.found, key)

	switch v.Family {
	case FamilyReference:
		a.result.ReferenceLeaks = append(a.result.ReferenceLeaks, v)
	case FamilyObject:
		a.result.ObjectSafety = append(a.result.ObjectSafety, v)
	case FamilyCapability:
		a.result.CapabilitySafety = append(a.result.CapabilitySafety, v)
	case FamilySharedObject:
		a.result.SharedObject = append(a.result.SharedObject, v)
	case FamilyDoS:
		a.result.DoS = append(a.result.DoS, v)
	}

	switch v.Severity {
	case Critical:
		a.result.Summary.Critical++
	case High:
		a.result.Summary.High++
	case Medium:
		a.result.Summary.Medium++
	case Low:
		a.result.Summary.Low++
	default:
		a.result.Summary.Info++
	}
}

// Result sorts every family slice into deterministic order — function
// name, then statement index, then rule id — and returns the finished
// AnalysisResult. Functions are ordered by name; their position in the
// module source is not used.
func (a *Aggregator) Result() *AnalysisResult {
	sortFamily(a.result.ReferenceLeaks)
	sortFamily(a.result.ObjectSafety)
	sortFamily(a.result.CapabilitySafety)
	sortFamily(a.result.SharedObject)
	sortFamily(a.result.DoS)
	return &a.result
}

func sortFamily(vs []SafetyViolation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.Location.Function != b.Location.Function {
			return a.Location.Function < b.Location.Function
		}
		if a.Location.Statement != b.Location.Statement {
			return a.Location.Statement < b.Location.Statement
		}
		return a.Kind < b.Kind
	})
}
