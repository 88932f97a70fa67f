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
	"errors"
	"fmt"
)

// Resources is the concrete-resource layer a reservation manipulates
// but does not implement: an abstract count of units of some type,
// optionally backed by real substrate resources.
type Resources interface {
	// Type is the resource type label (e.g. "vm").
	Type() string

	// Units is the current unit count.
	Units() int

	// AbstractClone copies the abstract part (type and count) with
	// none of the concrete state.
	AbstractClone() Resources

	// Update applies a granted allocation to this set.
	Update(granted Resources) error

	// ServiceReserve, ServiceExtend, and ServiceModify perform the
	// deferred side effect of the corresponding completed
	// sub-operation.  Each is called exactly once per completed
	// operation.
	ServiceReserve() error
	ServiceExtend() error
	ServiceModify() error

	// ServiceClose initiates teardown of the concrete units.
	ServiceClose()

	// CollectReleased harvests units that were released or failed
	// since the last call.  Returns nil when there is nothing.
	CollectReleased() Resources

	// IsActive reports whether all concrete units are live.
	IsActive() bool

	// IsClosed reports whether teardown has finished.
	IsClosed() bool
}

// UnitSet is the in-memory Resources implementation used by the
// inventory policy and by tests.  Real deployments wrap substrate
// drivers behind the same interface.
type UnitSet struct {
	kind     string
	units    int
	active   bool
	closed   bool
	released int
}

var _ Resources = (*UnitSet)(nil)

// NewUnitSet makes a set of count abstract units of the given type.
func NewUnitSet(kind string, count int) *UnitSet {
	return &UnitSet{kind: kind, units: count}
}

func (u *UnitSet) Type() string { return u.kind }

func (u *UnitSet) Units() int { return u.units }

func (u *UnitSet) AbstractClone() Resources {
	return &UnitSet{kind: u.kind, units: u.units}
}

func (u *UnitSet) Update(granted Resources) error {
	if granted == nil {
		return errors.New("nil granted resources")
	}
	if granted.Type() != u.kind {
		return fmt.Errorf("resource type mismatch: have %q, granted %q", u.kind, granted.Type())
	}
	u.units = granted.Units()
	return nil
}

func (u *UnitSet) ServiceReserve() error {
	if u.closed {
		return errors.New("reserve on closed units")
	}
	u.active = true
	return nil
}

func (u *UnitSet) ServiceExtend() error {
	if u.closed {
		return errors.New("extend on closed units")
	}
	u.active = true
	return nil
}

func (u *UnitSet) ServiceModify() error {
	if u.closed {
		return errors.New("modify on closed units")
	}
	return nil
}

func (u *UnitSet) ServiceClose() {
	u.active = false
	u.closed = true
}

func (u *UnitSet) CollectReleased() Resources {
	if u.released == 0 {
		return nil
	}
	n := u.released
	u.released = 0
	return &UnitSet{kind: u.kind, units: n}
}

func (u *UnitSet) IsActive() bool { return u.active }

func (u *UnitSet) IsClosed() bool { return u.closed }

// FailUnits simulates n units failing out of the set.  They will be
// harvested by the next CollectReleased call.
func (u *UnitSet) FailUnits(n int) {
	if n > u.units {
		n = u.units
	}
	u.units -= n
	u.released += n
}

// Activate marks the units live, as a substrate driver would once
// priming completes.
func (u *UnitSet) Activate() { u.active = true }

func (u *UnitSet) String() string {
	return fmt.Sprintf("%d %s", u.units, u.kind)
}
