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

package ast_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/hydra-sh/hydra/internal/pkg/ast"
	"github.com/hydra-sh/hydra/internal/pkg/parser"
)

// ignorePositions drops Line/Column from the comparison (Print reflows
// statements onto its own lines and columns, so a round trip is judged on
// structure, not on source position) and Module.Symbols (a derived index
// with unexported maps, rebuilt fresh by every Parse call, not itself part
// of the round-trip property).
var ignorePositions = cmp.Options{
	cmpopts.IgnoreFields(ast.StmtBase{}, "Line", "Column"),
	cmpopts.IgnoreFields(ast.Module{}, "Symbols"),
}

func mustParse(t *testing.T, src string) *ast.Module {
	t.Helper()
	mod, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return mod
}

func TestPrintRoundTripsStructsAndControlFlow(t *testing.T) {
	src := `module 0x1::wallet {
    struct Wallet has key, store {
        id: address,
        balance: u64,
    }

    public fun adjust(w: &mut Wallet, recipient: address): u64 {
        let r = w.balance;
        if (r == 0) {
            w.balance = 1;
        } else {
            w.balance = 2;
        }
        while (r < 10) {
            r = r + 1;
        }
        assert!(r == 0, 1);
        abort 1;
    }
}
`
	mod := mustParse(t, src)
	printed := ast.Print(mod)
	reparsed := mustParse(t, printed)

	if diff := cmp.Diff(mod, reparsed, ignorePositions); diff != "" {
		t.Fatalf("Print -> Parse did not round trip (-original +reparsed):\n%s", diff)
	}

	// Printing the re-parsed module should reproduce the same text: a
	// second pass over already-printed output must be a no-op.
	if second := ast.Print(reparsed); second != printed {
		t.Fatalf("Print is not idempotent after a round trip:\nfirst:\n%s\nsecond:\n%s", printed, second)
	}
}

func TestPrintRoundTripsSuppressionComments(t *testing.T) {
	src := `module 0x1::wallet {
    fun noop() {
        // hydra-ignore: test fixture
        return;
    }
}
`
	mod := mustParse(t, src)
	printed := ast.Print(mod)
	if !strings.Contains(printed, "hydra-ignore: test fixture") {
		t.Fatalf("expected suppression comment to survive printing, got:\n%s", printed)
	}

	reparsed := mustParse(t, printed)
	if diff := cmp.Diff(mod, reparsed, ignorePositions); diff != "" {
		t.Fatalf("Print -> Parse did not round trip suppressed statement (-original +reparsed):\n%s", diff)
	}
}

func TestPrintRoundTripsOpaqueStatements(t *testing.T) {
	src := `module 0x1::wallet {
    fun skip(): bool {
        loop {
            x;
            y;
        }
        continue;
        return true;
    }
}
`
	mod := mustParse(t, src)
	printed := ast.Print(mod)
	reparsed := mustParse(t, printed)

	if diff := cmp.Diff(mod, reparsed, ignorePositions); diff != "" {
		t.Fatalf("Print -> Parse did not round trip opaque statements (-original +reparsed):\n%s", diff)
	}
}
