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

// Package config reads hydra.toml and exposes a Config with the methods the
// rest of the analyzer consults to decide whether a check is enabled and
// whether a name matches one of the user's configured patterns.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/hydra-sh/hydra/internal/pkg/config/regexp"
)

// FlagSet is shared by cmd/hydra so every entry point gets the same -config
// flag with the same default.
var FlagSet flag.FlagSet
var configFile string

func init() {
	FlagSet.StringVar(&configFile, "config", "hydra.toml", "path to hydra.toml configuration file")
	if env := os.Getenv("HYDRA_CONFIG"); env != "" {
		configFile = env
	}
}

// File is the raw shape of hydra.toml.
type File struct {
	Hydra  HydraSection  `toml:"hydra"`
	Checks ChecksSection `toml:"checks"`
	Output OutputSection `toml:"output"`
	Rules  RulesSection  `toml:"rules"`
}

// HydraSection holds the top-level run options, settable from hydra.toml or
// overridden by the matching cmd/hydra flag.
type HydraSection struct {
	Strict        bool `toml:"strict"`
	IgnoreTests   bool `toml:"ignore_tests"`
	MaxModuleSize int  `toml:"max_module_size"`
}

// ChecksSection enables or disables individual rule families. A nil entry
// means "unset"; Config.IsCheckEnabled treats unset as enabled, so a user
// only has to name the checks they want to turn off.
type ChecksSection struct {
	ReferenceEscape *bool `toml:"reference_escape"`
	ObjectSafety    *bool `toml:"object_safety"`
	Capability      *bool `toml:"capability"`
	SharedObject    *bool `toml:"shared_object"`
	DoS             *bool `toml:"dos"`
}

// OutputSection controls how findings are rendered.
type OutputSection struct {
	Format    string `toml:"format"`
	Verbose   bool   `toml:"verbose"`
	ShowFixes bool   `toml:"show_fixes"`
}

// RulesSection lets a user extend the heuristics the built-in rule packs use
// to recognize project-specific conventions, rather than hardcoding them.
type RulesSection struct {
	// RecipientAssertionHelpers names additional functions, beyond the
	// built-in `assert_recipient`/`assert_sender`-style guards, that count
	// as a dominating ownership check for the object-safety rule pack.
	RecipientAssertionHelpers []string `toml:"recipient_assertion_helpers"`

	// InvariantFieldPatterns matches struct field names that should be
	// treated as carrying an invariant (see spec family ObjectSafety),
	// beyond the built-in "balance"/"supply"/"total_" prefixes.
	InvariantFieldPatterns []regexp.Regexp `toml:"invariant_field_patterns"`

	// CapabilityTypeSuffixes names struct name suffixes, beyond "Cap", that
	// mark a struct as a capability for the capability rule pack.
	CapabilityTypeSuffixes []string `toml:"capability_type_suffixes"`
}

// Config wraps a decoded File with the defaults filled in and exposes the
// query methods the rule packs call during analysis.
type Config struct {
	file File
}

func withDefaults(f File) File {
	if f.Output.Format == "" {
		f.Output.Format = "text"
	}
	if f.Hydra.MaxModuleSize <= 0 {
		f.Hydra.MaxModuleSize = 2000
	}
	// Configured suffixes and helpers extend the built-ins rather than
	// replacing them.
	f.Rules.CapabilityTypeSuffixes = append([]string{"Cap"}, f.Rules.CapabilityTypeSuffixes...)
	f.Rules.RecipientAssertionHelpers = append([]string{"assert_recipient", "assert_sender", "assert_owner"}, f.Rules.RecipientAssertionHelpers...)
	return f
}

// IsCheckEnabled reports whether the named rule family should run. An
// unconfigured family defaults to enabled.
func (c *Config) IsCheckEnabled(family string) bool {
	var v *bool
	switch family {
	case "reference_escape":
		v = c.file.Checks.ReferenceEscape
	case "object_safety":
		v = c.file.Checks.ObjectSafety
	case "capability":
		v = c.file.Checks.Capability
	case "shared_object":
		v = c.file.Checks.SharedObject
	case "dos":
		v = c.file.Checks.DoS
	default:
		return true
	}
	return v == nil || *v
}

// IsInvariantField reports whether fieldName matches one of the built-in
// invariant-carrying prefixes or a configured InvariantFieldPatterns entry.
func (c *Config) IsInvariantField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, prefix := range []string{"balance", "supply", "total_", "amount"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	for _, re := range c.file.Rules.InvariantFieldPatterns {
		if re.MatchString(fieldName) {
			return true
		}
	}
	return false
}

// IsCapabilityTypeName reports whether a struct name marks a capability
// type, per the built-in "Cap" suffix or a configured suffix.
func (c *Config) IsCapabilityTypeName(structName string) bool {
	for _, suffix := range c.file.Rules.CapabilityTypeSuffixes {
		if strings.HasSuffix(structName, suffix) {
			return true
		}
	}
	return false
}

// RecipientHelperNames returns the configured set of function names that
// count as a dominating recipient/ownership assertion.
func (c *Config) RecipientHelperNames() []string {
	return c.file.Rules.RecipientAssertionHelpers
}

// Strict reports whether strict mode is on (promotes Medium findings to
// High, per spec §6, so the exit-code threshold at High+ catches them).
func (c *Config) Strict() bool { return c.file.Hydra.Strict }

// IgnoreTests reports whether #[test] functions should be skipped.
func (c *Config) IgnoreTests() bool { return c.file.Hydra.IgnoreTests }

// MaxModuleSize returns the statement-count ceiling above which a module is
// skipped with a ModuleSkipped finding rather than analyzed.
func (c *Config) MaxModuleSize() int { return c.file.Hydra.MaxModuleSize }

// OutputFormat returns the configured renderer name ("text", "json", or
// "sarif"), defaulting to "text".
func (c *Config) OutputFormat() string { return c.file.Output.Format }

// Verbose reports whether low-severity informational findings should be
// included in rendered output.
func (c *Config) Verbose() bool { return c.file.Output.Verbose }

// ShowFixes reports whether SuggestedFix text should be rendered.
func (c *Config) ShowFixes() bool { return c.file.Output.ShowFixes }

// Override applies cmd/hydra flag values on top of the loaded hydra.toml.
// A nil pointer means "flag not passed on the command line," leaving the
// config file's value in place; a non-nil pointer always wins, matching
// HydraSection's field comments ("overridden by the matching cmd/hydra
// flag").
func (c *Config) Override(format *string, verbose, strict, showFixes, ignoreTests *bool) {
	if format != nil {
		c.file.Output.Format = *format
	}
	if verbose != nil {
		c.file.Output.Verbose = *verbose
	}
	if strict != nil {
		c.file.Hydra.Strict = *strict
	}
	if showFixes != nil {
		c.file.Output.ShowFixes = *showFixes
	}
	if ignoreTests != nil {
		c.file.Hydra.IgnoreTests = *ignoreTests
	}
}

var readFileOnce sync.Once
var readConfigCached *Config
var readConfigCachedErr error

// ReadConfig loads and decodes configFile (set by the -config flag or
// HYDRA_CONFIG) exactly once per process; later calls return the cached
// result. A missing file is not an error — it yields an all-defaults Config,
// since hydra.toml is optional.
func ReadConfig() (*Config, error) {
	readFileOnce.Do(func() {
		var f File
		data, err := os.ReadFile(configFile)
		if err != nil {
			if os.IsNotExist(err) {
				readConfigCached = &Config{file: withDefaults(File{})}
				return
			}
			readConfigCachedErr = fmt.Errorf("error reading hydra config: %w", err)
			return
		}

		meta, err := toml.Decode(string(data), &f)
		if err != nil {
			readConfigCachedErr = fmt.Errorf("error parsing hydra config: %w", err)
			return
		}
		for _, key := range meta.Undecoded() {
			fmt.Fprintf(os.Stderr, "hydra: warning: unknown config key %q in %s\n", key, configFile)
		}

		readConfigCached = &Config{file: withDefaults(f)}
	})
	return readConfigCached, readConfigCachedErr
}

// ResetForTest clears the sync.Once cache so tests can load different
// hydra.toml fixtures against a fresh configFile value.
func ResetForTest() {
	readFileOnce = sync.Once{}
	readConfigCached = nil
	readConfigCachedErr = nil
}

// SetConfigFileForTest points configFile at path, for use with ResetForTest.
func SetConfigFileForTest(path string) {
	configFile = path
}
