/* Copyright 2026 The Orca Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package policy

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/renlab/orca/res"
)

func newScript(t *testing.T, src string, units int) *Script {
	t.Helper()
	s, err := NewScript(src, newPool(units, false), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestScriptGrant(t *testing.T) {
	s := newScript(t, `function (bid) { return "grant"; }`, 10)
	r := newBid(s.Inventory, 4)

	out, err := s.Bind(r)
	if err != nil {
		t.Fatal(err)
	}
	if out != res.Granted {
		t.Fatalf("got %s, want Granted", out)
	}
	if s.Available() != 6 {
		t.Fatalf("available %d, want 6", s.Available())
	}
}

func TestScriptDeny(t *testing.T) {
	s := newScript(t, `function (bid) {
		if (bid.units > 4) return "deny";
		return "grant";
	}`, 10)

	if out, _ := s.Bind(newBid(s.Inventory, 5)); out != res.Denied {
		t.Fatalf("got %s, want Denied", out)
	}
	if out, _ := s.Bind(newBid(s.Inventory, 4)); out != res.Granted {
		t.Fatalf("got %s, want Granted", out)
	}
}

func TestScriptDefer(t *testing.T) {
	s := newScript(t, `function (bid) {
		if (bid.available < bid.units) return "defer";
		return "grant";
	}`, 3)

	if out, _ := s.Bind(newBid(s.Inventory, 5)); out != res.Deferred {
		t.Fatalf("got %s, want Deferred", out)
	}
}

func TestScriptTrim(t *testing.T) {
	s := newScript(t, `function (bid) {
		if (bid.units > 4) return {outcome: "grant", units: 4};
		return "grant";
	}`, 10)
	r := newBid(s.Inventory, 9)

	out, err := s.Bind(r)
	if err != nil {
		t.Fatal(err)
	}
	if out != res.Granted {
		t.Fatalf("got %s, want Granted", out)
	}
	if r.Requested().Units() != 4 {
		t.Fatalf("requested %d after trim, want 4", r.Requested().Units())
	}
	if s.Available() != 6 {
		t.Fatalf("available %d, want 6", s.Available())
	}
}

func TestScriptBadSource(t *testing.T) {
	if _, err := NewScript(`this is not javascript`, newPool(1, false), zerolog.Nop()); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := NewScript(`42`, newPool(1, false), zerolog.Nop()); err == nil {
		t.Fatal("expected non-function error")
	}
}

func TestScriptBadOutcome(t *testing.T) {
	s := newScript(t, `function (bid) { return "maybe"; }`, 10)
	if _, err := s.Bind(newBid(s.Inventory, 1)); err == nil {
		t.Fatal("expected outcome error")
	}
}
