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
	"fmt"
	"time"
)

// Term is an allocation window.  A Term is immutable once captured for
// a negotiation round; an extension carries a fresh Term.
type Term struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTerm makes a term of the given length starting now.
func NewTerm(length time.Duration) Term {
	start := time.Now().UTC()
	return Term{Start: start, End: start.Add(length)}
}

// Zero reports whether the term was never set.
func (t Term) Zero() bool {
	return t.Start.IsZero() && t.End.IsZero()
}

// Length is the duration of the window.
func (t Term) Length() time.Duration {
	return t.End.Sub(t.Start)
}

// Expired reports whether the window has passed at the given time.
func (t Term) Expired(now time.Time) bool {
	return !t.Zero() && t.End.Before(now)
}

// Extends reports whether t is a valid extension of prev: same or
// later start, strictly later end.
func (t Term) Extends(prev Term) bool {
	return !t.Start.Before(prev.Start) && t.End.After(prev.End)
}

func (t Term) String() string {
	return fmt.Sprintf("[%s,%s]", t.Start.Format(time.RFC3339), t.End.Format(time.RFC3339))
}
