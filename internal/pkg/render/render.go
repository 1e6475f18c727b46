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

// Package render turns one or more report.AnalysisResult values into the
// three output formats spec §6 names: plain text, JSON, and SARIF 2.1.0.
package render

import (
	"fmt"
	"io"

	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/report"
)

// Version is the hydra release string stamped into JSON output.
const Version = "0.1.0"

// Render writes results to w in the named format ("text", "json", or
// "sarif"). For text and JSON, cfg.Verbose() includes Info-severity
// findings and cfg.ShowFixes() includes SuggestedFix text where present;
// SARIF output lists every finding and does not consult cfg.
func Render(w io.Writer, format string, results []*report.AnalysisResult, cfg *config.Config) error {
	switch format {
	case "json":
		return RenderJSON(w, results, cfg)
	case "sarif":
		return RenderSARIF(w, results)
	case "", "text":
		return RenderText(w, results, cfg)
	default:
		return fmt.Errorf("render: unknown output format %q", format)
	}
}
