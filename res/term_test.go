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

package res

import (
	"testing"
	"time"
)

func TestTermExtends(t *testing.T) {
	start := time.Now().UTC()
	base := Term{Start: start, End: start.Add(time.Hour)}

	longer := Term{Start: start, End: start.Add(2 * time.Hour)}
	if !longer.Extends(base) {
		t.Fatal("longer term does not extend")
	}

	shifted := Term{Start: start.Add(time.Hour), End: start.Add(3 * time.Hour)}
	if !shifted.Extends(base) {
		t.Fatal("later window does not extend")
	}

	earlier := Term{Start: start.Add(-time.Hour), End: start.Add(2 * time.Hour)}
	if earlier.Extends(base) {
		t.Fatal("earlier start accepted as extension")
	}

	shorter := Term{Start: start, End: start.Add(30 * time.Minute)}
	if shorter.Extends(base) {
		t.Fatal("shorter term accepted as extension")
	}
}

func TestTermExpired(t *testing.T) {
	start := time.Now().UTC()
	term := Term{Start: start, End: start.Add(time.Hour)}
	if term.Expired(start.Add(30 * time.Minute)) {
		t.Fatal("mid-window term expired")
	}
	if !term.Expired(start.Add(2 * time.Hour)) {
		t.Fatal("past term not expired")
	}
	if (Term{}).Expired(start) {
		t.Fatal("zero term expired")
	}
}

func TestUpdateDataFirstErrorWins(t *testing.T) {
	var u UpdateData
	u.Error("first")
	u.Error("second")
	if u.Message != "first" {
		t.Fatalf("message %q", u.Message)
	}
	if len(u.Events) != 1 || u.Events[0] != "second" {
		t.Fatalf("events %v", u.Events)
	}

	var in UpdateData
	in.Post("note")
	u.Absorb(in)
	if len(u.Events) != 2 {
		t.Fatalf("events %v", u.Events)
	}
}

func TestUpdateDataCopyIsolated(t *testing.T) {
	var u UpdateData
	u.Post("a")
	c := u.Copy()
	u.Events[0] = "mutated"
	if c.Events[0] != "a" {
		t.Fatal("copy shares the events slice")
	}
}
