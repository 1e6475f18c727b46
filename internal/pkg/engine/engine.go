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

// Package engine drives a batch of modules through parse, dataflow
// analysis, suppression, and aggregation, spreading the work across a
// worker pool as spec §5 describes: analysis is embarrassingly parallel at
// module granularity, each module runs in isolation, and the only shared
// mutable state is the append-only result aggregator.
package engine

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hydra-sh/hydra/internal/pkg/ast"
	"github.com/hydra-sh/hydra/internal/pkg/callsummary"
	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/escape"
	"github.com/hydra-sh/hydra/internal/pkg/parser"
	"github.com/hydra-sh/hydra/internal/pkg/report"
	"github.com/hydra-sh/hydra/internal/pkg/safety"
	"github.com/hydra-sh/hydra/internal/pkg/suppression"
)

// Input is one source file to analyze. Name is used as the result's module
// name if parsing fails before a module name is known.
type Input struct {
	Name   string
	Source string
}

// Options configures the worker pool. A zero Options uses Workers =
// runtime.GOMAXPROCS(0) and PerModuleTimeout = 5s, matching spec §5's
// default.
type Options struct {
	Workers          int
	PerModuleTimeout time.Duration

	// EnabledChecks, when non-nil, overrides hydra.toml's [checks] section
	// for this run (the CLI's --check flag takes precedence over config, the
	// way a flag overrides a config file everywhere else in this codebase).
	// Keys are the same family names as hydra.toml's [checks] table.
	EnabledChecks map[string]bool
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.PerModuleTimeout <= 0 {
		o.PerModuleTimeout = 5 * time.Second
	}
	return o
}

// AnalyzeAll parses and analyzes every input, spreading them across a pool
// of worker goroutines, and returns one AnalysisResult per input, sorted by
// module name (spec §5's inter-module ordering guarantee). ctx cancellation
// is polled between modules, not within one: a module already in progress
// runs to completion, per spec §5.
func AnalyzeAll(ctx context.Context, inputs []Input, cfg *config.Config, logger *zap.SugaredLogger, opts Options) []*report.AnalysisResult {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	jobs := make(chan Input)
	var mu sync.Mutex
	var results []*report.AnalysisResult

	var wg sync.WaitGroup
	workers := opts.Workers
	if workers > len(inputs) {
		workers = len(inputs)
	}
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for in := range jobs {
				select {
				case <-ctx.Done():
					mu.Lock()
					results = append(results, cancelledResult(in, ctx.Err()))
					mu.Unlock()
					continue
				default:
				}
				res := analyzeOneWithTimeout(ctx, in, cfg, logger, opts)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(jobs)
		// Every input is handed to a worker even after cancellation, so
		// each one still yields a (cancelled) result.
		for _, in := range inputs {
			jobs <- in
		}
	}()

	wg.Wait()

	sortByModule(results)
	return results
}

func cancelledResult(in Input, err error) *report.AnalysisResult {
	agg := report.NewAggregator(in.Name)
	agg.Add(report.SafetyViolation{
		Kind:     report.KindModuleSkipped,
		Family:   report.FamilyDoS,
		Severity: report.Info,
		Location: report.Location{Module: in.Name},
		Message:  "analysis cancelled: " + err.Error(),
	})
	return agg.Result()
}

// analyzeOneWithTimeout runs analyzeOne on its own goroutine and races it
// against a per-module timeout, emitting TimeoutSkipped rather than
// blocking the worker indefinitely on a pathological input.
func analyzeOneWithTimeout(ctx context.Context, in Input, cfg *config.Config, logger *zap.SugaredLogger, opts Options) *report.AnalysisResult {
	done := make(chan *report.AnalysisResult, 1)
	go func() {
		done <- analyzeOne(in, cfg, logger, opts)
	}()

	select {
	case res := <-done:
		return res
	case <-time.After(opts.PerModuleTimeout):
		agg := report.NewAggregator(in.Name)
		agg.Add(report.SafetyViolation{
			Kind:     report.KindTimeoutSkipped,
			Family:   report.FamilyDoS,
			Severity: report.Info,
			Location: report.Location{Module: in.Name},
			Message:  "module analysis exceeded the per-module timeout",
		})
		return agg.Result()
	}
}

func analyzeOne(in Input, cfg *config.Config, logger *zap.SugaredLogger, opts Options) *report.AnalysisResult {
	mod, err := parser.Parse(in.Source)
	if err != nil {
		logger.Warnw("parse error, module abandoned", "module", in.Name, "error", err)
		agg := report.NewAggregator(in.Name)
		agg.Add(report.SafetyViolation{
			Kind:     report.KindModuleSkipped,
			Family:   report.FamilyDoS,
			Severity: report.Info,
			Location: report.Location{Module: in.Name},
			Message:  "parse error: " + err.Error(),
		})
		return agg.Result()
	}

	agg := report.NewAggregator(mod.Name)

	if size := moduleSize(mod); cfg.MaxModuleSize() > 0 && size > cfg.MaxModuleSize() {
		logger.Warnw("module exceeds configured size budget, skipping", "module", mod.Name, "statements", size)
		agg.Add(report.SafetyViolation{
			Kind:     report.KindModuleSkipped,
			Family:   report.FamilyDoS,
			Severity: report.Info,
			Location: report.Location{Module: mod.Name},
			Message:  "module exceeds configured max_module_size, skipped",
		})
		return agg.Result()
	}

	analyzeModuleBody(mod, cfg, logger, agg, opts)
	return agg.Result()
}

// analyzeModuleBody runs every function's dataflow pass and feeds its
// findings into agg, recovering from an internal panic (an otherwise-fatal
// invariant violation, per spec §7's "panic-equivalent internal invariant
// violation" fatal class) so that a defect in one module cannot abort the
// rest of the batch: the driver never panics across a module boundary, it
// recovers and converts to a ModuleSkipped finding instead.
func analyzeModuleBody(mod *ast.Module, cfg *config.Config, logger *zap.SugaredLogger, agg *report.Aggregator, opts Options) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("recovered from panic analyzing module", "module", mod.Name, "panic", r)
			agg.Add(report.SafetyViolation{
				Kind:     report.KindModuleSkipped,
				Family:   report.FamilyDoS,
				Severity: report.Info,
				Location: report.Location{Module: mod.Name},
				Message:  "internal error during analysis, module skipped",
			})
		}
	}()

	idx := suppression.BuildIndex(mod)
	summaries := callsummary.Build(mod)
	if logger.Desugar().Core().Enabled(zap.DebugLevel) {
		logger.Debugw("cross-module call graph", "module", mod.Name, "dot", callsummary.DOT(summaries))
	}
	for _, fn := range mod.Functions {
		if fn.IsTest && cfg.IgnoreTests() {
			continue
		}
		violations := escape.AnalyzeFunction(mod, fn, cfg, summaries)
		violations = filterByCheck(violations, cfg, opts.EnabledChecks)
		violations = suppression.Apply(idx, violations)
		for _, v := range violations {
			if cfg.Strict() && v.Severity == report.Medium {
				v.Severity = report.High
			}
			if cfg.Strict() && v.Kind == report.KindAnalysisWarning {
				v.Severity = report.Low
			}
			agg.Add(v)
		}
	}

	// Dynamic-field add/remove pairing (S7) is a module-wide property: a
	// remove matching an add in a different function is the common case, so
	// this runs once over the whole module rather than per function.
	dfViolations := safety.DynamicFieldFindings(mod)
	dfViolations = filterByCheck(dfViolations, cfg, opts.EnabledChecks)
	dfViolations = suppression.Apply(idx, dfViolations)
	for _, v := range dfViolations {
		agg.Add(v)
	}
}

// checkFamilyName maps a report.Family onto the hydra.toml [checks] key
// that gates it.
func checkFamilyName(f report.Family) string {
	switch f {
	case report.FamilyReference:
		return "reference_escape"
	case report.FamilyObject:
		return "object_safety"
	case report.FamilyCapability:
		return "capability"
	case report.FamilySharedObject:
		return "shared_object"
	case report.FamilyDoS:
		return "dos"
	default:
		return ""
	}
}

func filterByCheck(vs []report.SafetyViolation, cfg *config.Config, override map[string]bool) []report.SafetyViolation {
	out := make([]report.SafetyViolation, 0, len(vs))
	for _, v := range vs {
		name := checkFamilyName(v.Family)
		enabled := cfg.IsCheckEnabled(name)
		if override != nil {
			enabled, _ = override[name]
		}
		if enabled {
			out = append(out, v)
		}
	}
	return out
}

func moduleSize(mod *ast.Module) int {
	n := 0
	for _, fn := range mod.Functions {
		n += countStmts(fn.Body)
	}
	return n
}

func countStmts(stmts []ast.Stmt) int {
	n := len(stmts)
	for _, s := range stmts {
		switch v := s.(type) {
		case *ast.If:
			n += countStmts(v.Then)
			n += countStmts(v.Else)
		case *ast.While:
			n += countStmts(v.Body)
		case *ast.Block:
			n += countStmts(v.Stmts)
		}
	}
	return n
}

func sortByModule(results []*report.AnalysisResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j-1].Module > results[j].Module; j-- {
			results[j-1], results[j] = results[j], results[j-1]
		}
	}
}
