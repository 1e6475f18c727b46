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

// Command hydra is the static safety analyzer for Sui Move modules. It is a
// minimal flag-based CLI in the same spirit as cmd/levee and cmd/sourcetype,
// generalized from a single go/analysis.Analyzer invocation to a hand-rolled
// "analyze" subcommand, since Hydra ships as a standalone tool rather than a
// go vet-pluggable pass.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hydra-sh/hydra/internal/pkg/config"
	"github.com/hydra-sh/hydra/internal/pkg/report"
	"github.com/hydra-sh/hydra/pkg/hydra"
)

// Exit codes, per spec §6: 0 no findings (or all Info), 1 findings at
// Low+, 2 findings at High+, 3 fatal error (parse, I/O).
const (
	exitClean = 0
	exitLow   = 1
	exitHigh  = 2
	exitFatal = 3
)

// checkFamilies maps the --check values from spec §6 onto hydra.toml's
// [checks] family names. transfer and arithmetic findings both come out of
// the object-safety rule pack, so they share one family here.
var checkFamilies = map[string]string{
	"transfer":   "object_safety",
	"arithmetic": "object_safety",
	"capability": "capability",
	"shared":     "shared_object",
	"reference":  "reference_escape",
	"dos":        "dos",
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 || args[0] != "analyze" {
		fmt.Fprintln(os.Stderr, "usage: hydra analyze [flags] <path>")
		return exitFatal
	}

	flagSet := &config.FlagSet
	format := flagSet.String("format", "text", "output format: text, json, or sarif")
	verbose := flagSet.Bool("verbose", false, "include Info-severity findings in output")
	strict := flagSet.Bool("strict", false, "promote Medium findings to High")
	fixes := flagSet.Bool("fixes", false, "include suggested fixes in output")
	ignoreTests := flagSet.Bool("ignore-tests", false, "skip #[test] and #[test_only] functions")
	check := flagSet.String("check", "", "comma-separated list of checks to run: transfer,capability,shared,reference,dos,arithmetic")

	if err := flagSet.Parse(args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "hydra:", err)
		return exitFatal
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: hydra analyze [flags] <path>")
		return exitFatal
	}

	logger := newLogger()
	defer logger.Sync()

	cfg, err := hydra.ReadConfig()
	if err != nil {
		logger.Errorw("could not load configuration", "error", err)
		return exitFatal
	}

	// A flag explicitly set on the command line always wins over
	// hydra.toml; flagSet.Visit only calls back for flags the user
	// actually passed, leaving unset ones at the config file's value.
	var setFormat *string
	var setVerbose, setStrict, setFixes, setIgnoreTests *bool
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "format":
			setFormat = format
		case "verbose":
			setVerbose = verbose
		case "strict":
			setStrict = strict
		case "fixes":
			setFixes = fixes
		case "ignore-tests":
			setIgnoreTests = ignoreTests
		}
	})
	cfg.Override(setFormat, setVerbose, setStrict, setFixes, setIgnoreTests)

	sources, err := collectSources(flagSet.Arg(0))
	if err != nil {
		logger.Errorw("could not read sources", "path", flagSet.Arg(0), "error", err)
		return exitFatal
	}
	if len(sources) == 0 {
		logger.Errorw("no .move sources found", "path", flagSet.Arg(0))
		return exitFatal
	}

	var opts hydra.RunOptions
	if *check != "" {
		opts.EnabledChecks = parseChecks(*check)
	}

	results := hydra.Analyze(context.Background(), sources, cfg, logger, opts)

	if err := hydra.Render(os.Stdout, cfg.OutputFormat(), results, cfg); err != nil {
		logger.Errorw("could not render results", "error", err)
		return exitFatal
	}

	if allModulesSkipped(results) {
		logger.Errorw("every module failed to analyze", "count", len(results))
		return exitFatal
	}

	return exitCodeFor(hydra.HighestSeverity(results))
}

func newLogger() *zap.SugaredLogger {
	level := strings.ToLower(os.Getenv("HYDRA_LOG"))
	zapCfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "warn", "warning":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	default:
		zapCfg.Level.SetLevel(zap.InfoLevel)
	}
	l, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

func parseChecks(list string) map[string]bool {
	enabled := map[string]bool{
		"reference_escape": false,
		"object_safety":    false,
		"capability":       false,
		"shared_object":    false,
		"dos":              false,
	}
	for _, name := range strings.Split(list, ",") {
		if family, ok := checkFamilies[strings.TrimSpace(name)]; ok {
			enabled[family] = true
		}
	}
	return enabled
}

// collectSources reads path: a single .move file, or every .move file under
// a directory tree.
func collectSources(path string) ([]hydra.Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return []hydra.Source{{Name: path, Source: string(data)}}, nil
	}

	var sources []hydra.Source
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".move") {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		sources = append(sources, hydra.Source{Name: p, Source: string(data)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// allModulesSkipped reports whether every result is a ModuleSkipped or
// TimeoutSkipped stand-in rather than a real analysis, matching spec §7's "a
// run that cannot analyze any module exits 3."
func allModulesSkipped(results []*hydra.Result) bool {
	if len(results) == 0 {
		return true
	}
	for _, res := range results {
		skipped := false
		for _, v := range res.All() {
			if v.Kind == report.KindModuleSkipped || v.Kind == report.KindTimeoutSkipped {
				skipped = true
				break
			}
		}
		if !skipped {
			return false
		}
	}
	return true
}

// exitCodeFor maps the highest severity seen across a run onto spec §6's
// exit codes: 0 none-or-Info, 1 Low+, 2 High+.
func exitCodeFor(highest report.Severity) int {
	switch {
	case highest < report.Low:
		return exitClean
	case highest < report.High:
		return exitLow
	default:
		return exitHigh
	}
}
