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

// Outcome is the three-way result of a policy consultation.
type Outcome int

const (
	// Granted: the request is satisfied; the reservation may
	// materialize its resources and prime.
	Granted Outcome = iota

	// Deferred: not yet; the reservation stays bid-pending and the
	// caller must re-consult on a later tick.
	Deferred

	// Denied: the request cannot be satisfied; the reservation
	// fails with the policy's notice.
	Denied
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "Granted"
	case Deferred:
		return "Deferred"
	case Denied:
		return "Denied"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Policy is the pluggable allocation policy an actor consults.  All
// methods are called only on the owning actor's thread.
type Policy interface {
	// Bind decides an initial ticket or redeem request.  A non-nil
	// error means the decision itself failed (distinct from a
	// clean Denied).
	Bind(r *Reservation) (Outcome, error)

	// Extend decides an extension of an existing ticket or lease.
	Extend(r *Reservation) (Outcome, error)

	// Close tells the policy a reservation is closing so it can
	// release any accounting.  The reservation's ClosedInPriming
	// flag distinguishes a close that interrupted priming from the
	// close of an already-granted allocation.
	Close(r *Reservation)

	// CorrectDeficit asks the policy to make up the difference
	// between requested and concrete units, typically by adjusting
	// inventory before the reservation retries via an extension.
	CorrectDeficit(r *Reservation) error

	// Donate adds inventory to the policy's pool.
	Donate(rs Resources) error

	// Eject forcibly removes inventory.
	Eject(rs Resources) error

	// Release returns units harvested from closed or failed
	// reservations to the pool.
	Release(rs Resources) error

	// Free returns ticketed-but-never-redeemed units to the pool.
	Free(units int) error

	// Prepare and Finish bracket each clock cycle.
	Prepare(cycle int64)
	Finish(cycle int64)
}
