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

	"github.com/hydra-sh/hydra/internal/pkg/report"
)

// The types below mirror the subset of the SARIF 2.1.0 object model hydra
// needs to emit: one log, one run, one driver, one rule per distinct Kind,
// and one result per finding.

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri,omitempty"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	ShortDescription sarifMessage `json:"shortDescription"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine   int `json:"startLine,omitempty"`
	StartColumn int `json:"startColumn,omitempty"`
}

// sarifLevel maps a hydra severity onto the three SARIF result levels, per
// spec §6: Critical/High -> error, Medium -> warning, Low/Info -> note.
func sarifLevel(sev report.Severity) string {
	switch sev {
	case report.Critical, report.High:
		return "error"
	case report.Medium:
		return "warning"
	default:
		return "note"
	}
}

// RenderSARIF writes results as a single SARIF 2.1.0 log with one run, one
// rule per distinct finding Kind, and one result per finding, the way
// other_examples' golang-vuln sarif types are assembled upstream.
func RenderSARIF(w io.Writer, results []*report.AnalysisResult) error {
	run := sarifRun{
		Tool: sarifTool{
			Driver: sarifDriver{
				Name:           "hydra",
				Version:        Version,
				InformationURI: "https://github.com/hydra-sh/hydra",
			},
		},
	}

	seenRules := map[string]bool{}
	for _, res := range results {
		for _, v := range res.All() {
			ruleID := string(v.Kind)
			if !seenRules[ruleID] {
				seenRules[ruleID] = true
				run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, sarifRule{
					ID:               ruleID,
					ShortDescription: sarifMessage{Text: ruleID},
				})
			}
			run.Results = append(run.Results, sarifResult{
				RuleID:  ruleID,
				Level:   sarifLevel(v.Severity),
				Message: sarifMessage{Text: v.Message},
				Locations: []sarifLocation{{
					PhysicalLocation: sarifPhysicalLocation{
						ArtifactLocation: sarifArtifactLocation{URI: v.Location.Module + ".move"},
						Region: sarifRegion{
							StartLine:   v.Location.Line,
							StartColumn: v.Location.Column,
						},
					},
				}},
			})
		}
	}
	if run.Results == nil {
		run.Results = []sarifResult{}
	}
	if run.Tool.Driver.Rules == nil {
		run.Tool.Driver.Rules = []sarifRule{}
	}

	log := sarifLog{
		Version: "2.1.0",
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Runs:    []sarifRun{run},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(log)
}
