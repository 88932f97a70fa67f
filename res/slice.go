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

import "github.com/google/uuid"

// SliceKind says what a slice contains.
type SliceKind int

const (
	InventorySlice SliceKind = iota
	ClientSlice
	BrokerClientSlice
)

func (k SliceKind) String() string {
	switch k {
	case InventorySlice:
		return "inventory"
	case ClientSlice:
		return "client"
	case BrokerClientSlice:
		return "broker-client"
	}
	return "unknown"
}

// Slice is a named container of related reservations under one owner.
// A slice is created via the Kernel and removed once its reservation
// set is empty.  Only the owning actor's thread touches it.
type Slice struct {
	id           string
	name         string
	kind         SliceKind
	reservations map[string]*Reservation
}

// NewSlice makes an empty slice with a fresh id.
func NewSlice(name string, kind SliceKind) *Slice {
	return &Slice{
		id:           uuid.NewString(),
		name:         name,
		kind:         kind,
		reservations: make(map[string]*Reservation, 8),
	}
}

// RestoreSlice rebuilds a slice with a known id during recovery.
func RestoreSlice(id, name string, kind SliceKind) *Slice {
	s := NewSlice(name, kind)
	s.id = id
	return s
}

func (s *Slice) ID() string      { return s.id }
func (s *Slice) Name() string    { return s.name }
func (s *Slice) Kind() SliceKind { return s.kind }

// Count is the number of reservations in the slice.
func (s *Slice) Count() int { return len(s.reservations) }

// Empty reports whether the slice holds no reservations.
func (s *Slice) Empty() bool { return len(s.reservations) == 0 }

// Add indexes a reservation in the slice.
func (s *Slice) Add(r *Reservation) { s.reservations[r.ID()] = r }

// Remove drops a reservation from the slice.
func (s *Slice) Remove(id string) { delete(s.reservations, id) }

// Each calls f for every reservation in the slice.
func (s *Slice) Each(f func(r *Reservation)) {
	for _, r := range s.reservations {
		f(r)
	}
}
