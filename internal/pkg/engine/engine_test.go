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

package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/engine"
	"github.com/hydra-sh/hydra/internal/pkg/report"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	config.ResetForTest()
	cfg, err := config.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	return cfg
}

// referenceEscapeSource is spec S1: a function that returns a mutable
// reference into a struct field escapes it to the caller.
const referenceEscapeSource = `
module data {
    struct Data has key {
        id: UID,
        value: u64,
    }

    public fun unsafe_ref(data: &mut Data): &mut u64 {
        return &mut data.value;
    }
}
`

// capabilityLeakSource is spec S4: a function that hands back a mutable
// reference to a capability parameter leaks it.
const capabilityLeakSource = `
module admin {
    struct AdminCap has key, store {
        id: UID,
    }

    public fun unsafe_cap_usage(cap: &mut AdminCap): &mut AdminCap {
        return cap;
    }
}
`

const unparsableSource = `module this is not valid move {{{`

func findKind(results []*report.AnalysisResult, kind report.Kind) bool {
	for _, res := range results {
		for _, v := range res.All() {
			if v.Kind == kind {
				return true
			}
		}
	}
	return false
}

func TestAnalyzeAllFindsReferenceEscape(t *testing.T) {
	cfg := testConfig(t)
	results := engine.AnalyzeAll(context.Background(), []engine.Input{
		{Name: "data.move", Source: referenceEscapeSource},
	}, cfg, nil, engine.Options{})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !findKind(results, report.KindReferenceEscape) {
		t.Fatalf("expected a ReferenceEscape finding, got %+v", results[0].All())
	}
}

func TestAnalyzeAllFindsCapabilityLeak(t *testing.T) {
	cfg := testConfig(t)
	results := engine.AnalyzeAll(context.Background(), []engine.Input{
		{Name: "admin.move", Source: capabilityLeakSource},
	}, cfg, nil, engine.Options{})

	if !findKind(results, report.KindCapabilityLeak) {
		t.Fatalf("expected a CapabilityLeak finding, got %+v", results[0].All())
	}
}

func TestAnalyzeAllRunsModulesConcurrentlyAndSortsByName(t *testing.T) {
	cfg := testConfig(t)
	results := engine.AnalyzeAll(context.Background(), []engine.Input{
		{Name: "b.move", Source: capabilityLeakSource},
		{Name: "a.move", Source: referenceEscapeSource},
	}, cfg, nil, engine.Options{Workers: 4})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Module >= results[1].Module {
		t.Fatalf("expected results sorted by module name, got %q then %q", results[0].Module, results[1].Module)
	}
}

func TestAnalyzeAllParseErrorEmitsModuleSkipped(t *testing.T) {
	cfg := testConfig(t)
	results := engine.AnalyzeAll(context.Background(), []engine.Input{
		{Name: "broken.move", Source: unparsableSource},
	}, cfg, nil, engine.Options{})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !findKind(results, report.KindModuleSkipped) {
		t.Fatalf("expected a ModuleSkipped finding for a parse error, got %+v", results[0].All())
	}
}

func TestAnalyzeAllRespectsCancellation(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := engine.AnalyzeAll(ctx, []engine.Input{
		{Name: "data.move", Source: referenceEscapeSource},
	}, cfg, nil, engine.Options{})

	if len(results) != 1 {
		t.Fatalf("expected 1 result even when cancelled, got %d", len(results))
	}
	if findKind(results, report.KindReferenceEscape) {
		t.Fatal("expected cancellation to skip analysis, not find ReferenceEscape")
	}
}

func TestAnalyzeAllTimesOutPathologicalModule(t *testing.T) {
	cfg := testConfig(t)
	results := engine.AnalyzeAll(context.Background(), []engine.Input{
		{Name: "data.move", Source: referenceEscapeSource},
	}, cfg, nil, engine.Options{PerModuleTimeout: 1 * time.Nanosecond})

	if !findKind(results, report.KindTimeoutSkipped) {
		t.Fatalf("expected a TimeoutSkipped finding under a near-zero timeout, got %+v", results[0].All())
	}
}
