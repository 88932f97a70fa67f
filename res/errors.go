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

import "fmt"

// These errors are protocol errors, not internal errors.

// StateError occurs when an operation is invalid in the reservation's
// current (state, pending) pair.
type StateError struct {
	ID      string
	Op      Op
	State   State
	Pending Pending
}

func (e *StateError) Error() string {
	return fmt.Sprintf("reservation %s: %s invalid in %s/%s", e.ID, e.Op, e.State, e.Pending)
}

// RoleError occurs when an operation belongs to a different role than
// the reservation's.
type RoleError struct {
	ID   string
	Op   Op
	Role Role
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("reservation %s: %s not valid for %s role", e.ID, e.Op, e.Role)
}
