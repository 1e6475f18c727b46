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

package callsummary

import "github.com/hydra-sh/hydra/internal/pkg/graphprinter"

// DOT renders t's cross-module call graph as Graphviz DOT source, for
// HYDRA_LOG=debug diagnostics: a function that returns one of its
// parameters is colored as a possible escape origin, a function that
// forwards a parameter to another module is colored as a leak point, and a
// function that only tucks a parameter away into a struct field is colored
// as contained.
func DOT(t Table) string {
	graph := make(map[string]map[string]bool, len(t))
	for fn, s := range t {
		edges := make(map[string]bool, len(s.CrossModuleCallees))
		for callee := range s.CrossModuleCallees {
			edges[callee] = true
		}
		graph[fn] = edges
	}

	isOrigin := func(fn string) bool {
		s := t[fn]
		return s != nil && len(s.Returned) > 0
	}
	isContained := func(fn string) bool {
		s := t[fn]
		return s != nil && len(s.StoredIntoField) > 0
	}
	isLeak := func(fn string) bool {
		s := t[fn]
		return s != nil && len(s.ForwardedCrossModule) > 0
	}

	return graphprinter.Print(graph, isOrigin, isContained, isLeak)
}
