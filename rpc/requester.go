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

package rpc

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renlab/orca/kernel"
	"github.com/renlab/orca/res"
)

// Requester is a controller's outbound side: it marks the request in
// flight on the local reservation, ships the envelope to the serving
// peer, and arms the timeout watch.  All methods run on the owning
// actor's thread.
type Requester struct {
	local     string
	broker    string
	authority string

	tr      Transport
	monitor *Monitor
	k       *kernel.Kernel
	logger  zerolog.Logger
}

// NewRequester makes a requester talking to the named broker and
// authority.
func NewRequester(local, broker, authority string, tr Transport, monitor *Monitor, k *kernel.Kernel, logger zerolog.Logger) *Requester {
	return &Requester{
		local:     local,
		broker:    broker,
		authority: authority,
		tr:        tr,
		monitor:   monitor,
		k:         k,
		logger:    logger.With().Str("rpc", "requester").Logger(),
	}
}

// Ticket requests a broker ticket for the reservation.
func (q *Requester) Ticket(r *res.Reservation) error {
	r.SetCallback(NewPeerProxy(q.broker, q.logger))
	if err := q.k.Reserve(r); err != nil {
		return err
	}
	return q.send(res.OpTicket, r, q.broker, r.Requested(), r.RequestedTerm(), res.SeqTicket)
}

// ExtendTicket requests a ticket extension for a new term.
func (q *Requester) ExtendTicket(r *res.Reservation) error {
	if err := q.k.ExtendTicket(r); err != nil {
		return err
	}
	return q.send(res.OpExtendTicket, r, q.broker, r.Requested(), r.RequestedTerm(), res.SeqTicket)
}

// Redeem asks the authority to convert the held ticket into a lease.
// Lease-side updates and failures now come from the authority, so the
// reservation's peer switches with the request.
func (q *Requester) Redeem(r *res.Reservation) error {
	r.SetCallback(NewPeerProxy(q.authority, q.logger))
	if err := q.k.Redeem(r); err != nil {
		return err
	}
	rs := r.Approved()
	if rs == nil {
		rs = r.Requested()
	}
	term := r.ApprovedTerm()
	if term.Zero() {
		term = r.RequestedTerm()
	}
	return q.send(res.OpRedeem, r, q.authority, rs, term, res.SeqLease)
}

// ExtendLease requests a lease extension for a new term.
func (q *Requester) ExtendLease(r *res.Reservation) error {
	if err := q.k.ExtendLease(r); err != nil {
		return err
	}
	return q.send(res.OpExtendLease, r, q.authority, r.Requested(), r.RequestedTerm(), res.SeqLease)
}

// Claim asks the broker for a will-call reservation exported under the
// given id.
func (q *Requester) Claim(r *res.Reservation) error {
	r.SetCallback(NewPeerProxy(q.broker, q.logger))
	return q.sendBare(res.OpClaim, r.ID(), q.broker)
}

// Relinquish tells the broker the ticket is given up, then closes the
// local reservation.
func (q *Requester) Relinquish(r *res.Reservation) error {
	if err := q.sendBare(res.OpRelinquish, r.ID(), q.broker); err != nil {
		q.logger.Warn().Err(err).Str("rsv", r.ID()).Msg("relinquish dispatch")
	}
	return q.k.Close(r)
}

// Close tells the authority to tear the lease down, then closes the
// local reservation.
func (q *Requester) Close(r *res.Reservation) error {
	if err := q.sendBare(res.OpClose, r.ID(), q.authority); err != nil {
		q.logger.Warn().Err(err).Str("rsv", r.ID()).Msg("close dispatch")
	}
	return q.k.Close(r)
}

func (q *Requester) send(op res.Op, r *res.Reservation, to string, rs res.Resources, term res.Term, kind res.SeqKind) error {
	env := Envelope{
		Op:          op.String(),
		MessageID:   uuid.NewString(),
		Reservation: r.ID(),
		Slice:       sliceName(r),
		From:        q.local,
		To:          to,
		Seq:         r.SequenceOut(kind),
		Term:        term,
	}
	if rs != nil {
		env.Type = rs.Type()
		env.Units = rs.Units()
	}

	// Arm before sending so a fast failure cannot race the watch.
	// The claimed identity of a synthesized timeout is the peer the
	// reservation is bound to, which by construction passes the
	// callback check.
	if q.monitor != nil {
		q.monitor.Arm(op, r.ID(), env.MessageID, r.CallbackIdentity())
	}

	if err := q.tr.Send(env); err != nil {
		q.logger.Error().Err(err).Str("op", env.Op).Str("rsv", r.ID()).Msg("dispatch failed")
		if q.monitor != nil {
			q.monitor.Satisfy(r.ID(), kind)
		}
		return q.k.FailRPC(r, res.RPCFailure{
			Op:             op,
			MessageID:      env.MessageID,
			RemoteIdentity: r.CallbackIdentity(),
			Err:            err,
		})
	}
	return nil
}

// sendBare ships an envelope that carries no resources and no
// sequencing: claim, relinquish, close.
func (q *Requester) sendBare(op res.Op, rsv, to string) error {
	env := Envelope{
		Op:          op.String(),
		MessageID:   uuid.NewString(),
		Reservation: rsv,
		From:        q.local,
		To:          to,
	}
	return q.tr.Send(env)
}

func sliceName(r *res.Reservation) string {
	if s := r.Slice(); s != nil {
		return s.Name()
	}
	return ""
}
