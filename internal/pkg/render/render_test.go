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

package render_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/render"
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

func oneResult() []*report.AnalysisResult {
	agg := report.NewAggregator("vault")
	agg.Add(report.SafetyViolation{
		Kind:     report.KindUncheckedArithmetic,
		Family:   report.FamilyObject,
		Severity: report.Medium,
		Location: report.Location{Module: "vault", Function: "withdraw", Statement: 2, Line: 10, Column: 3},
		Message:  "unchecked subtraction on invariant field balance",
	})
	agg.Add(report.SafetyViolation{
		Kind:     report.KindCapabilityLeak,
		Family:   report.FamilyCapability,
		Severity: report.Critical,
		Location: report.Location{Module: "vault", Function: "admin_call", Statement: 0, Line: 20, Column: 1},
		Message:  "AdminCap passed to a cross-module call",
	})
	return []*report.AnalysisResult{agg.Result()}
}

func TestRenderTextIncludesEveryNonInfoFinding(t *testing.T) {
	cfg := testConfig(t)
	var buf bytes.Buffer
	if err := render.Render(&buf, "text", oneResult(), cfg); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "UncheckedArithmetic") || !strings.Contains(out, "CapabilityLeak") {
		t.Fatalf("expected both findings in text output, got %q", out)
	}
	if !strings.Contains(out, "1 critical, 0 high, 1 medium") {
		t.Fatalf("expected summary line with correct counts, got %q", out)
	}
}

func TestRenderJSONProducesSpecShape(t *testing.T) {
	cfg := testConfig(t)
	var buf bytes.Buffer
	if err := render.Render(&buf, "json", oneResult(), cfg); err != nil {
		t.Fatalf("Render: %v", err)
	}

	var doc struct {
		Findings []struct {
			Kind     string `json:"kind"`
			Severity string `json:"severity"`
			Module   string `json:"module"`
			Function string `json:"function"`
			Line     int    `json:"line"`
			Column   int    `json:"column"`
			Message  string `json:"message"`
		} `json:"findings"`
		Summary struct {
			Critical, High, Medium, Low, Info int
		} `json:"summary"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(doc.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(doc.Findings))
	}
	if doc.Summary.Critical != 1 || doc.Summary.Medium != 1 {
		t.Fatalf("unexpected summary: %+v", doc.Summary)
	}
	if doc.Version == "" {
		t.Fatal("expected a non-empty version string")
	}
}

func TestRenderJSONOmitsSuggestionWhenFixesNotRequested(t *testing.T) {
	cfg := testConfig(t)
	agg := report.NewAggregator("vault")
	agg.Add(report.SafetyViolation{
		Kind:         report.KindUncheckedArithmetic,
		Family:       report.FamilyObject,
		Severity:     report.Medium,
		Location:     report.Location{Module: "vault", Function: "withdraw", Statement: 0},
		Message:      "unchecked subtraction",
		SuggestedFix: "add an assert! before the subtraction",
	})

	var buf bytes.Buffer
	if err := render.Render(&buf, "json", []*report.AnalysisResult{agg.Result()}, cfg); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(buf.String(), "suggestion") {
		t.Fatalf("expected no suggestion field when ShowFixes is off, got %s", buf.String())
	}
}

func TestRenderSARIFProducesOneRunWithRulesAndResults(t *testing.T) {
	var buf bytes.Buffer
	if err := render.Render(&buf, "sarif", oneResult(), nil); err != nil {
		t.Fatalf("Render: %v", err)
	}

	var doc struct {
		Version string `json:"version"`
		Runs    []struct {
			Tool struct {
				Driver struct {
					Name  string `json:"name"`
					Rules []struct {
						ID string `json:"id"`
					} `json:"rules"`
				} `json:"driver"`
			} `json:"tool"`
			Results []struct {
				RuleID string `json:"ruleId"`
				Level  string `json:"level"`
			} `json:"results"`
		} `json:"runs"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if doc.Version != "2.1.0" {
		t.Fatalf("expected SARIF version 2.1.0, got %q", doc.Version)
	}
	if len(doc.Runs) != 1 {
		t.Fatalf("expected exactly one run, got %d", len(doc.Runs))
	}
	run := doc.Runs[0]
	if run.Tool.Driver.Name != "hydra" {
		t.Fatalf("expected driver name hydra, got %q", run.Tool.Driver.Name)
	}
	if len(run.Tool.Driver.Rules) != 2 {
		t.Fatalf("expected 2 distinct rules, got %d", len(run.Tool.Driver.Rules))
	}
	if len(run.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(run.Results))
	}

	var levels []string
	for _, r := range run.Results {
		levels = append(levels, r.Level)
	}
	foundError, foundWarning := false, false
	for _, l := range levels {
		if l == "error" {
			foundError = true
		}
		if l == "warning" {
			foundWarning = true
		}
	}
	if !foundError || !foundWarning {
		t.Fatalf("expected one error-level and one warning-level result, got %v", levels)
	}
}

// TestRenderJSONIsDeterministicAcrossRuns guards spec §8's finding-stability
// invariant structurally: two independent renders of the same results must
// decode to identical documents, not merely produce matching byte strings.
func TestRenderJSONIsDeterministicAcrossRuns(t *testing.T) {
	cfg := testConfig(t)

	type finding struct {
		Kind     string `json:"kind"`
		Severity string `json:"severity"`
		Module   string `json:"module"`
		Function string `json:"function"`
		Line     int    `json:"line"`
		Column   int    `json:"column"`
		Message  string `json:"message"`
	}
	type doc struct {
		Findings []finding      `json:"findings"`
		Summary  map[string]int `json:"summary"`
		Version  string         `json:"version"`
	}

	var buf1, buf2 bytes.Buffer
	if err := render.Render(&buf1, "json", oneResult(), cfg); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if err := render.Render(&buf2, "json", oneResult(), cfg); err != nil {
		t.Fatalf("Render: %v", err)
	}

	var first, second doc
	if err := json.Unmarshal(buf1.Bytes(), &first); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if err := json.Unmarshal(buf2.Bytes(), &second); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated renders of the same results diverged (-first +second):\n%s", diff)
	}
	if len(first.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %+v", first.Findings)
	}
}

func TestRenderUnknownFormatErrors(t *testing.T) {
	cfg := testConfig(t)
	var buf bytes.Buffer
	if err := render.Render(&buf, "xml", oneResult(), cfg); err == nil {
		t.Fatal("expected an error for an unrecognized output format")
	}
}
