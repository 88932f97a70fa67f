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

// UpdateData is the bag of notices and errors attached to an outbound
// protocol update.  It is reset at the start of each negotiation
// round.
type UpdateData struct {
	Failed  bool     `json:"failed,omitempty"`
	Message string   `json:"message,omitempty"`
	Events  []string `json:"events,omitempty"`
}

// Post appends an informational notice.
func (u *UpdateData) Post(notice string) {
	u.Events = append(u.Events, notice)
}

// Error records a failure notice.  The first error wins; later ones
// are kept as plain notices.
func (u *UpdateData) Error(msg string) {
	if !u.Failed {
		u.Failed = true
		u.Message = msg
		return
	}
	u.Post(msg)
}

// Clear resets the bag for a new round.
func (u *UpdateData) Clear() {
	u.Failed = false
	u.Message = ""
	u.Events = nil
}

// Absorb merges notices from an inbound update.
func (u *UpdateData) Absorb(in UpdateData) {
	if in.Failed {
		u.Error(in.Message)
	}
	u.Events = append(u.Events, in.Events...)
}

// Copy returns a snapshot safe to hand to another goroutine.
func (u UpdateData) Copy() UpdateData {
	events := make([]string, len(u.Events))
	copy(events, u.Events)
	u.Events = events
	return u
}
