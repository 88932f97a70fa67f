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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Callback is the outbound half of the protocol: the proxy used to
// send ticket/lease updates back to the requesting peer.
type Callback interface {
	// Identity is the remote identity this callback was registered
	// with.  RPC failures claiming a different identity are
	// rejected.
	Identity() string

	UpdateTicket(r *Reservation, u UpdateData, seq int64) error
	UpdateLease(r *Reservation, u UpdateData, seq int64) error
}

// Deps are the collaborators a reservation needs.  They are never
// persisted; recovery re-injects fresh ones.
type Deps struct {
	Policy Policy
	Logger zerolog.Logger
}

// Reservation is one ticket or lease negotiation tracked end-to-end.
// One struct serves all three roles; the role tag dispatches the
// role-specific behavior.
//
// A reservation belongs to exactly one slice and is indexed in exactly
// one kernel reservation table.  It is mutated only by the owning
// actor's single thread.
type Reservation struct {
	id    string
	role  Role
	slice *Slice

	state      State
	pending    Pending
	bidPending bool

	// service remembers which completed sub-operation still owes
	// its deferred side effect.  None when nothing is owed.
	service Pending

	requested Resources
	approved  Resources
	leased    Resources

	requestedTerm Term
	approvedTerm  Term
	previousTerm  Term

	ticketSeqIn  int64
	ticketSeqOut int64
	leaseSeqIn   int64
	leaseSeqOut  int64

	// callback is nil for locally exported "will-call"
	// reservations that have not been claimed.
	callback Callback

	policy Policy
	logger zerolog.Logger

	update UpdateData

	closedInPriming bool
	sendWithDeficit bool
	approvedFresh   bool
	retryUpdate     bool
	recovering      bool
	closeOnRecover  bool

	lastErr       string
	savedCallback string
	dirty         bool
}

// NewReservation makes a reservation in Nascent with a fresh id.
func NewReservation(role Role, slice *Slice, requested Resources, term Term, deps Deps) *Reservation {
	return adopt(uuid.NewString(), role, slice, requested, term, deps)
}

// AdoptReservation makes a reservation with an id assigned by the
// requesting peer, so both sides index the same negotiation.
func AdoptReservation(id string, role Role, slice *Slice, requested Resources, term Term, deps Deps) *Reservation {
	return adopt(id, role, slice, requested, term, deps)
}

func adopt(id string, role Role, slice *Slice, requested Resources, term Term, deps Deps) *Reservation {
	r := &Reservation{
		id:            id,
		role:          role,
		slice:         slice,
		state:         Nascent,
		pending:       None,
		requested:     requested,
		requestedTerm: term,
		policy:        deps.Policy,
		logger:        deps.Logger.With().Str("rsv", id).Str("role", role.String()).Logger(),
		dirty:         true,
	}
	if slice != nil {
		slice.Add(r)
	}
	return r
}

func (r *Reservation) ID() string           { return r.id }
func (r *Reservation) Role() Role           { return r.role }
func (r *Reservation) Slice() *Slice        { return r.slice }
func (r *Reservation) State() State         { return r.state }
func (r *Reservation) Pending() Pending     { return r.pending }
func (r *Reservation) BidPending() bool     { return r.bidPending }
func (r *Reservation) Requested() Resources { return r.requested }
func (r *Reservation) Approved() Resources  { return r.approved }
func (r *Reservation) Leased() Resources    { return r.leased }
func (r *Reservation) RequestedTerm() Term  { return r.requestedTerm }
func (r *Reservation) ApprovedTerm() Term   { return r.approvedTerm }
func (r *Reservation) PreviousTerm() Term   { return r.previousTerm }
func (r *Reservation) LastError() string    { return r.lastErr }

// ClosedInPriming reports whether a close interrupted priming, so the
// policy's close handler can tell this apart from closing an
// already-granted allocation.
func (r *Reservation) ClosedInPriming() bool { return r.closedInPriming }

// IsFailed reports whether the reservation is in the Failed state.
func (r *Reservation) IsFailed() bool { return r.state == Failed }

// IsClosed reports whether the reservation reached terminal Closed.
func (r *Reservation) IsClosed() bool { return r.state == Closed }

// IsTerminal reports whether no further negotiation is possible.
func (r *Reservation) IsTerminal() bool { return r.state.Terminal() }

// HasPending reports whether a sub-operation is in flight.
func (r *Reservation) HasPending() bool { return r.pending != None }

// Exported reports whether this is a will-call reservation with no
// callback bound yet.
func (r *Reservation) Exported() bool { return r.callback == nil }

// CallbackIdentity is the registered remote identity, or "" when the
// reservation is exported.
func (r *Reservation) CallbackIdentity() string {
	if r.callback == nil {
		return ""
	}
	return r.callback.Identity()
}

// SetCallback binds the outbound proxy.  Used at construction and by
// Claim.
func (r *Reservation) SetCallback(cb Callback) {
	r.callback = cb
}

// SetBidSatisfied marks a deferred bid as granted.  Called by the
// policy when inventory becomes available; the next probe advances the
// reservation without re-consulting the policy.
func (r *Reservation) SetBidSatisfied() {
	r.bidPending = false
	r.dirty = true
}

// SetSendWithDeficit lets the policy allow promotion to Active despite
// a nonzero deficit.
func (r *Reservation) SetSendWithDeficit(ok bool) {
	r.sendWithDeficit = ok
}

// SendWithDeficit reports whether the policy allowed a short
// allocation to go Active.
func (r *Reservation) SendWithDeficit() bool { return r.sendWithDeficit }

// Notices is the current outbound notice bag.
func (r *Reservation) Notices() UpdateData { return r.update.Copy() }

// Dirty reports whether state changed since the last ClearDirty.  The
// kernel persists dirty reservations before running side effects.
func (r *Reservation) Dirty() bool { return r.dirty }

// ClearDirty is called by the kernel after a successful persist.
func (r *Reservation) ClearDirty() { r.dirty = false }

func (r *Reservation) transition(s State, p Pending) {
	r.logger.Debug().
		Str("from", fmt.Sprintf("%s/%s", r.state, r.pending)).
		Str("to", fmt.Sprintf("%s/%s", s, p)).
		Msg("transition")
	r.state = s
	r.pending = p
	if p == None {
		r.bidPending = false
	}
	r.dirty = true
}

// FailNotify records a failure in-band: the reservation goes Failed
// and the notice rides out on the next update, since the party that
// must learn of the failure is usually remote.
func (r *Reservation) FailNotify(msg string) {
	r.logger.Warn().Str("reason", msg).Msg("reservation failed")
	r.update.Error(msg)
	r.lastErr = msg
	r.service = None
	r.transition(Failed, None)
	r.GenerateUpdate()
}

// failf is FailNotify with formatting.
func (r *Reservation) failf(format string, args ...interface{}) {
	r.FailNotify(fmt.Sprintf(format, args...))
}

// targetPending maps an initial or extending request to its pending
// sub-state for this role.
func (r *Reservation) targetPending(extend bool) Pending {
	switch r.role {
	case RoleBroker:
		if extend {
			return ExtendingTicket
		}
		return Ticketing
	case RoleAuthority:
		if extend {
			return ExtendingLease
		}
		return Redeeming
	}
	if extend {
		return ExtendingTicket
	}
	return Ticketing
}

// mapAndUpdate consults the policy (unless the bid was already
// satisfied) and, on a grant, materializes the concrete resource set
// and advances to Priming.  Returns true when the reservation
// advanced.
//
// A Deferred outcome leaves bidPending true and the pending sub-state
// unchanged; the next probe re-invokes.  Any error during binding or
// materialization fails the reservation rather than propagating to the
// protocol layer.
func (r *Reservation) mapAndUpdate(extend bool) bool {
	if r.state == Failed {
		// Reset the peer rather than silently drop.
		r.GenerateUpdate()
		return false
	}

	if r.pending == None {
		r.pending = r.targetPending(extend)
		r.bidPending = true
		r.dirty = true
	}

	if r.bidPending {
		if r.policy == nil {
			r.failf("no policy for %s bid", r.pending)
			return false
		}
		var (
			out Outcome
			err error
		)
		if extend {
			out, err = r.policy.Extend(r)
		} else {
			out, err = r.policy.Bind(r)
		}
		if err != nil {
			r.failf("policy %s: %s", r.pending, err)
			return false
		}
		switch out {
		case Deferred:
			return false
		case Denied:
			r.failf("policy denied %s", r.pending)
			return false
		}
		r.bidPending = false
		r.dirty = true
	}

	if err := r.materialize(extend); err != nil {
		r.failf("materialize: %s", err)
		return false
	}

	switch r.role {
	case RoleBroker:
		r.transition(Ticketed, Priming)
	default:
		r.transition(r.state, Priming)
	}
	return true
}

// SetApproved records the policy's grant when it differs from the
// request.  Without a call, a grant approves the request as-is.
func (r *Reservation) SetApproved(rs Resources, term Term) {
	r.approved = rs
	r.approvedTerm = term
	r.approvedFresh = true
	r.dirty = true
}

// materialize captures the approved term and resources for this round
// and folds them into the concrete set that priming will activate.
func (r *Reservation) materialize(extend bool) error {
	if extend {
		r.previousTerm = r.approvedTerm
	}
	if !r.approvedFresh {
		r.approved = r.requested.AbstractClone()
		r.approvedTerm = r.requestedTerm
	}
	r.approvedFresh = false
	if r.leased == nil {
		r.leased = r.approved.AbstractClone()
	}
	return r.leased.Update(r.approved)
}

// reap collects released or failed concrete units and returns them to
// the policy's pool.
func (r *Reservation) reap() {
	if r.leased == nil {
		return
	}
	released := r.leased.CollectReleased()
	if released == nil {
		return
	}
	r.logger.Info().Int("units", released.Units()).Msg("reaped released units")
	if r.policy != nil {
		if err := r.policy.Release(released); err != nil {
			r.logger.Error().Err(err).Msg("policy release")
		}
	}
	r.dirty = true
}

// ProbePending is invoked once per clock cycle by the kernel.  It
// collects released units, then inspects the pending sub-operation for
// completion.
func (r *Reservation) ProbePending() {
	r.reap()

	if r.state == Failed && r.retryUpdate {
		r.retryUpdate = false
		r.GenerateUpdate()
		return
	}

	switch r.pending {
	case Ticketing, Redeeming:
		// A client's request completes when the peer's update is
		// absorbed, not by bidding here.
		if r.role == RoleClient {
			return
		}
		r.bid(false)
	case ExtendingTicket, ExtendingLease:
		if r.role == RoleClient {
			return
		}
		r.bid(true)
	case ModifyingLease:
		r.service = ModifyingLease
		r.transition(r.state, Priming)
	case Priming:
		r.probePriming()
	case Closing:
		if r.leased == nil || r.leased.IsClosed() {
			r.transition(Closed, None)
			r.recovering = false
			r.closeOnRecover = false
			r.GenerateUpdate()
		}
	}
}

// bid runs mapAndUpdate and, when the reservation advanced to
// Priming, queues the deferred side effect of the completed bid.
func (r *Reservation) bid(extend bool) {
	if r.mapAndUpdate(extend) {
		r.service = r.serviceOrigin(extend)
	}
}

// serviceOrigin records which operation owes its deferred side effect.
func (r *Reservation) serviceOrigin(extend bool) Pending {
	switch r.role {
	case RoleAuthority:
		if extend {
			return ExtendingLease
		}
		return Redeeming
	default:
		if extend {
			return ExtendingTicket
		}
		return Ticketing
	}
}

// probePriming checks whether the concrete set finished turning
// abstract units into usable resources.
func (r *Reservation) probePriming() {
	if r.leased == nil || !r.leased.IsActive() {
		return
	}

	deficit := r.requested.Units() - r.leased.Units()
	if deficit != 0 && !r.sendWithDeficit {
		if r.policy != nil {
			if err := r.policy.CorrectDeficit(r); err != nil {
				r.failf("correct deficit of %d: %s", deficit, err)
				return
			}
		}
		// Retry the shortfall as an extension.
		r.logger.Info().Int("deficit", deficit).Msg("retrying deficit")
		r.bidPending = true
		r.transition(r.state, ExtendingLease)
		return
	}

	if r.leased.Units() == 0 {
		r.failf("no units primed: %s", r.update.Message)
		return
	}

	switch r.role {
	case RoleAuthority:
		r.transition(Active, None)
	default:
		r.transition(Ticketed, None)
	}
	r.GenerateUpdate()
}

// ServiceProbe performs the queued side effect of a completed
// sub-operation, exactly once.  An error here fails the reservation
// with a post-operation notice.
func (r *Reservation) ServiceProbe() {
	op := r.service
	r.service = None
	if op == None {
		return
	}

	var err error
	switch op {
	case Redeeming, Ticketing:
		err = r.leased.ServiceReserve()
	case ExtendingLease, ExtendingTicket:
		err = r.leased.ServiceExtend()
	case ModifyingLease:
		err = r.leased.ServiceModify()
	}
	if err != nil {
		r.failf("post-%s service: %s", op, err)
	}
}

// GenerateUpdate dispatches an update-ticket or update-lease call to
// the registered callback.  A reservation exported for will-call has
// no callback; that is not an error.  A dispatch failure is logged but
// does not fail the reservation: the next probe retries.
func (r *Reservation) GenerateUpdate() {
	if r.callback == nil {
		r.logger.Warn().Msg("no callback registered; not sending update")
		return
	}

	var err error
	switch r.role {
	case RoleAuthority:
		r.leaseSeqOut++
		r.dirty = true
		err = r.callback.UpdateLease(r, r.update.Copy(), r.leaseSeqOut)
	default:
		r.ticketSeqOut++
		r.dirty = true
		err = r.callback.UpdateTicket(r, r.update.Copy(), r.ticketSeqOut)
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("update dispatch failed; will retry on probe")
	}
}

// Close moves any reservation not already closed toward Closed,
// including a Failed one, which still owes its policy accounting.  An
// authority reservation with live concrete units passes through
// Closing until teardown finishes; other roles close immediately.
func (r *Reservation) Close() {
	if r.state == Closed || r.pending == Closing {
		return
	}

	if r.pending == Priming {
		r.closedInPriming = true
	}
	if r.policy != nil {
		r.policy.Close(r)
	}

	if r.role == RoleAuthority && r.leased != nil && !r.leased.IsClosed() && r.leased.Units() > 0 {
		r.transition(r.state, Closing)
		r.leased.ServiceClose()
		return
	}

	r.transition(Closed, None)
	r.GenerateUpdate()
}

// checkOp returns a StateError unless the reservation is at the given
// (state, pending) pair.
func (r *Reservation) checkOp(op Op, state State, pending Pending) error {
	if r.state != state || r.pending != pending {
		return &StateError{ID: r.id, Op: op, State: r.state, Pending: r.pending}
	}
	return nil
}

// checkRole returns a RoleError unless the reservation has the given
// role.
func (r *Reservation) checkRole(op Op, role Role) error {
	if r.role != role {
		return &RoleError{ID: r.id, Op: op, Role: r.role}
	}
	return nil
}
