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

package render

import (
	"encoding/json"
	"io"

	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/report"
)

// jsonFinding is the per-finding JSON shape spec §6 names:
// {kind, severity, module, function, line, column, message, suggestion?}.
type jsonFinding struct {
	Kind       string `json:"kind"`
	Severity   string `json:"severity"`
	Module     string `json:"module"`
	Function   string `json:"function"`
	Line       int    `json:"line"`
	Column     int    `json:"column"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// jsonSummary is the top-level per-severity count object.
type jsonSummary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// jsonOutput is the top-level JSON document:
// {findings: [...], summary: {...}, version}.
type jsonOutput struct {
	Findings []jsonFinding `json:"findings"`
	Summary  jsonSummary   `json:"summary"`
	Version  string        `json:"version"`
}

// RenderJSON writes the combined findings across results as a single JSON
// document, with a stable field and finding order (the order
// report.Aggregator.Result already sorted into) so repeated runs produce
// byte-identical output, per spec §8's finding-stability invariant.
func RenderJSON(w io.Writer, results []*report.AnalysisResult, cfg *config.Config) error {
	out := jsonOutput{Version: Version}
	for _, res := range results {
		for _, v := range res.All() {
			if v.Severity == report.Info && !cfg.Verbose() {
				continue
			}
			f := jsonFinding{
				Kind:     string(v.Kind),
				Severity: v.Severity.String(),
				Module:   v.Location.Module,
				Function: v.Location.Function,
				Line:     v.Location.Line,
				Column:   v.Location.Column,
				Message:  v.Message,
			}
			if cfg.ShowFixes() {
				f.Suggestion = v.SuggestedFix
			}
			out.Findings = append(out.Findings, f)
		}
		out.Summary.Critical += res.Summary.Critical
		out.Summary.High += res.Summary.High
		out.Summary.Medium += res.Summary.Medium
		out.Summary.Low += res.Summary.Low
		out.Summary.Info += res.Summary.Info
	}
	if out.Findings == nil {
		out.Findings = []jsonFinding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
