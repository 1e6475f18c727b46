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

// Package regexp wraps regexp.Regexp with a TOML/text-unmarshalable type
// whose zero value matches everything, so a config matcher with an unset
// field (e.g. no FieldRE given) acts as a wildcard rather than a parse
// error. Adapted from the teacher's internal/pkg/config/regexp package.
package regexp

import "regexp"

// Regexp is a *regexp.Regexp that matches every string when unset.
type Regexp struct {
	re *regexp.Regexp
}

// MustCompile builds a Regexp from a pattern, panicking on an invalid one;
// used for built-in defaults constructed at init time.
func MustCompile(pattern string) Regexp {
	return Regexp{re: regexp.MustCompile(pattern)}
}

// MatchString reports whether s matches the pattern. An unset Regexp
// matches every string.
func (r Regexp) MatchString(s string) bool {
	if r.re == nil {
		return true
	}
	return r.re.MatchString(s)
}

// UnmarshalText implements encoding.TextUnmarshaler so BurntSushi/toml can
// decode a TOML string directly into a Regexp field.
func (r *Regexp) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		r.re = nil
		return nil
	}
	compiled, err := regexp.Compile(string(text))
	if err != nil {
		return err
	}
	r.re = compiled
	return nil
}

// String returns the source pattern, or "" for an unset Regexp.
func (r Regexp) String() string {
	if r.re == nil {
		return ""
	}
	return r.re.String()
}
