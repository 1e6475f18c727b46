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
	"fmt"
	"io"
	"strings"

	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/report"
)

// RenderText writes a human-readable finding-per-line report, one block per
// module, in the spirit of the teacher's report() helper in
// internal/pkg/levee/levee.go (strings.Builder plus a single Fprintf).
func RenderText(w io.Writer, results []*report.AnalysisResult, cfg *config.Config) error {
	var total report.Summary
	for _, res := range results {
		for _, v := range res.All() {
			if v.Severity == report.Info && !cfg.Verbose() {
				continue
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%s: %s", v.Severity, v.Kind)
			if v.Location.Module != "" {
				fmt.Fprintf(&b, " in %s::%s", v.Location.Module, v.Location.Function)
			}
			if v.Location.Line > 0 {
				fmt.Fprintf(&b, " (line %d)", v.Location.Line)
			}
			fmt.Fprintf(&b, ": %s", v.Message)
			if cfg.ShowFixes() && v.SuggestedFix != "" {
				fmt.Fprintf(&b, "\n  fix: %s", v.SuggestedFix)
			}
			fmt.Fprintln(w, b.String())
		}
		total.Critical += res.Summary.Critical
		total.High += res.Summary.High
		total.Medium += res.Summary.Medium
		total.Low += res.Summary.Low
		total.Info += res.Summary.Info
	}
	fmt.Fprintf(w, "\n%d critical, %d high, %d medium, %d low, %d info\n",
		total.Critical, total.High, total.Medium, total.Low, total.Info)
	return nil
}
