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

// NewClientReservation makes the controller-side view of a negotiation
// with a fresh id.
func NewClientReservation(slice *Slice, requested Resources, term Term, deps Deps) *Reservation {
	return NewReservation(RoleClient, slice, requested, term, deps)
}

// RequestTicket marks an outbound ticket request in flight.  The RPC
// layer dispatches the request itself.
func (r *Reservation) RequestTicket() error {
	if err := r.checkRole(OpTicket, RoleClient); err != nil {
		return err
	}
	if err := r.checkOp(OpTicket, Nascent, None); err != nil {
		return err
	}
	r.update.Clear()
	r.transition(Nascent, Ticketing)
	r.ticketSeqOut++
	return nil
}

// RequestExtendTicket marks an outbound ticket extension in flight.
func (r *Reservation) RequestExtendTicket() error {
	if err := r.checkRole(OpExtendTicket, RoleClient); err != nil {
		return err
	}
	if r.state != Ticketed && r.state != Active {
		return &StateError{ID: r.id, Op: OpExtendTicket, State: r.state, Pending: r.pending}
	}
	if r.pending != None {
		return &StateError{ID: r.id, Op: OpExtendTicket, State: r.state, Pending: r.pending}
	}
	r.update.Clear()
	r.transition(r.state, ExtendingTicket)
	r.ticketSeqOut++
	return nil
}

// RequestRedeem marks an outbound redeem in flight.
func (r *Reservation) RequestRedeem() error {
	if err := r.checkRole(OpRedeem, RoleClient); err != nil {
		return err
	}
	if err := r.checkOp(OpRedeem, Ticketed, None); err != nil {
		return err
	}
	r.update.Clear()
	r.transition(Ticketed, Redeeming)
	r.leaseSeqOut++
	return nil
}

// RequestExtendLease marks an outbound lease extension in flight.
func (r *Reservation) RequestExtendLease() error {
	if err := r.checkRole(OpExtendLease, RoleClient); err != nil {
		return err
	}
	if err := r.checkOp(OpExtendLease, Active, None); err != nil {
		return err
	}
	r.update.Clear()
	r.transition(Active, ExtendingLease)
	r.leaseSeqOut++
	return nil
}

// AbsorbTicketUpdate applies an inbound update_ticket.  The kernel has
// already resolved sequence ordering.
func (r *Reservation) AbsorbTicketUpdate(granted Resources, term Term, u UpdateData) error {
	if err := r.checkRole(OpUpdateTicket, RoleClient); err != nil {
		return err
	}
	if r.state.Terminal() {
		// A late update must not reopen a dead reservation.
		return &StateError{ID: r.id, Op: OpUpdateTicket, State: r.state, Pending: r.pending}
	}
	r.transition(r.state, AbsorbUpdate)
	if u.Failed {
		r.update.Absorb(u)
		r.lastErr = u.Message
		r.transition(Failed, None)
		return nil
	}
	r.approved = granted
	r.approvedTerm = term
	r.update.Absorb(u)
	if r.state == Active || r.state == ActiveTicketed {
		r.transition(ActiveTicketed, None)
	} else {
		r.transition(Ticketed, None)
	}
	return nil
}

// AbsorbLeaseUpdate applies an inbound update_lease.
func (r *Reservation) AbsorbLeaseUpdate(leased Resources, term Term, u UpdateData) error {
	if err := r.checkRole(OpUpdateLease, RoleClient); err != nil {
		return err
	}
	if r.state.Terminal() {
		return &StateError{ID: r.id, Op: OpUpdateLease, State: r.state, Pending: r.pending}
	}
	r.transition(r.state, AbsorbUpdate)
	if u.Failed {
		r.update.Absorb(u)
		r.lastErr = u.Message
		r.transition(Failed, None)
		return nil
	}
	r.leased = leased
	r.approvedTerm = term
	r.update.Absorb(u)
	if leased == nil || leased.IsClosed() {
		r.transition(Closed, None)
	} else {
		r.transition(Active, None)
	}
	return nil
}
