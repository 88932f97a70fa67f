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

// NewAuthorityReservation makes the authority-server side of a lease
// negotiation.  It starts in Ticketed: the requester already holds a
// broker ticket for the units.
func NewAuthorityReservation(id string, slice *Slice, ticketed Resources, term Term, cb Callback, deps Deps) *Reservation {
	r := AdoptReservation(id, RoleAuthority, slice, ticketed, term, deps)
	r.state = Ticketed
	r.callback = cb
	return r
}

// Redeem converts a ticket into a lease: Ticketed -> [Redeeming], then
// on a granted bind through Priming to Active.
func (r *Reservation) Redeem() error {
	if err := r.checkRole(OpRedeem, RoleAuthority); err != nil {
		return err
	}
	if err := r.checkOp(OpRedeem, Ticketed, None); err != nil {
		return err
	}
	r.update.Clear()
	r.bid(false)
	return nil
}

// ExtendLease extends an active lease for a new term: Active ->
// [ExtendingLease] -> Priming -> Active.
func (r *Reservation) ExtendLease() error {
	if err := r.checkRole(OpExtendLease, RoleAuthority); err != nil {
		return err
	}
	if err := r.checkOp(OpExtendLease, Active, None); err != nil {
		return err
	}
	r.update.Clear()
	r.bid(true)
	return nil
}

// ModifyLease reconfigures an active lease without changing its term:
// Active -> [ModifyingLease] -> Priming -> Active.  No policy consult;
// the units are already granted.
func (r *Reservation) ModifyLease() error {
	if err := r.checkRole(OpModifyLease, RoleAuthority); err != nil {
		return err
	}
	if err := r.checkOp(OpModifyLease, Active, None); err != nil {
		return err
	}
	r.update.Clear()
	r.transition(Active, ModifyingLease)
	return nil
}
