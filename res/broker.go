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

// NewBrokerReservation makes the broker-server side of a ticket
// negotiation.  The id comes from the requesting client so both sides
// index the same negotiation.  cb is nil for a locally exported
// will-call reservation.
func NewBrokerReservation(id string, slice *Slice, requested Resources, term Term, cb Callback, deps Deps) *Reservation {
	r := AdoptReservation(id, RoleBroker, slice, requested, term, deps)
	r.callback = cb
	return r
}

// Ticket starts a ticket negotiation: Nascent -> [Ticketing], then on
// a granted bind through Priming to Ticketed.
func (r *Reservation) Ticket() error {
	if err := r.checkRole(OpTicket, RoleBroker); err != nil {
		return err
	}
	if err := r.checkOp(OpTicket, Nascent, None); err != nil {
		return err
	}
	r.update.Clear()
	r.bid(false)
	return nil
}

// ExtendTicket extends an existing ticket for a new term: Ticketed ->
// [ExtendingTicket] -> Priming -> Ticketed.
func (r *Reservation) ExtendTicket() error {
	if err := r.checkRole(OpExtendTicket, RoleBroker); err != nil {
		return err
	}
	if err := r.checkOp(OpExtendTicket, Ticketed, None); err != nil {
		return err
	}
	r.update.Clear()
	r.bid(true)
	return nil
}

// Claim binds an exported will-call reservation to a client callback
// and sends the current ticket.  Claiming with the identity already
// bound just resends; a different identity is rejected.
func (r *Reservation) Claim(cb Callback) error {
	if err := r.checkRole(OpClaim, RoleBroker); err != nil {
		return err
	}
	if r.state.Terminal() {
		return &StateError{ID: r.id, Op: OpClaim, State: r.state, Pending: r.pending}
	}
	if r.callback != nil {
		if r.callback.Identity() != cb.Identity() {
			return fmt.Errorf("reservation %s already claimed by %q", r.id, r.callback.Identity())
		}
		r.GenerateUpdate()
		return nil
	}
	r.callback = cb
	r.dirty = true
	r.logger.Info().Str("client", cb.Identity()).Msg("claimed")
	r.GenerateUpdate()
	return nil
}

// Relinquish gives up a claimed or exported reservation.
func (r *Reservation) Relinquish() error {
	if err := r.checkRole(OpRelinquish, RoleBroker); err != nil {
		return err
	}
	r.Close()
	return nil
}

// HandleDuplicate resends the last update for a request whose sequence
// number did not advance kernel state, instead of re-consulting the
// policy.  Nothing happens mid-recovery.
//
// The broker resends while idle or priming; the authority only while
// idle.  The asymmetry is protocol behavior, not an accident.
func (r *Reservation) HandleDuplicate(op Op) {
	if r.recovering {
		return
	}
	switch r.role {
	case RoleBroker:
		if r.pending == None || r.pending == Priming {
			r.GenerateUpdate()
		}
	case RoleAuthority:
		if r.pending == None {
			r.GenerateUpdate()
		}
	default:
		r.logger.Warn().Str("op", op.String()).Msg("duplicate request on client reservation")
	}
}
