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

// Package hydra is the public entry point for analyzing Sui Move modules,
// a thin wrapper over internal/pkg/engine the way pkg/levee/levee.go wraps
// the internal levee Analyzer.
package hydra

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/engine"
	"github.com/hydra-sh/hydra/internal/pkg/render"
	"github.com/hydra-sh/hydra/internal/pkg/report"
)

// Source is one Move file to analyze.
type Source = engine.Input

// Config is the decoded hydra.toml plus CLI/flag overrides.
type Config = config.Config

// Result is one module's findings.
type Result = report.AnalysisResult

// RunOptions configures the worker pool and, optionally, a --check-style
// override of which rule families run (taking precedence over hydra.toml's
// [checks] section). A zero value runs every enabled check with default
// concurrency and timeout.
type RunOptions = engine.Options

// ReadConfig loads hydra.toml (or the HYDRA_CONFIG/-config override),
// falling back to defaults when the file is absent.
func ReadConfig() (*Config, error) {
	return config.ReadConfig()
}

// Analyze runs the full parse/dataflow/suppression/aggregation pipeline
// over sources and returns one Result per source, sorted by module name.
func Analyze(ctx context.Context, sources []Source, cfg *Config, logger *zap.SugaredLogger, opts RunOptions) []*Result {
	return engine.AnalyzeAll(ctx, sources, cfg, logger, opts)
}

// Render writes results to w in the given format ("text", "json", or
// "sarif").
func Render(w io.Writer, format string, results []*Result, cfg *Config) error {
	return render.Render(w, format, results, cfg)
}

// HighestSeverity returns the most severe finding across every result, or
// -1 if results contains no findings at all.
func HighestSeverity(results []*Result) report.Severity {
	highest := report.Severity(-1)
	for _, res := range results {
		if s := res.HighestSeverity(); s > highest {
			highest = s
		}
	}
	return highest
}
