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

	"github.com/renlab/orca/res"
)

// RemoteCallback is the serving side's outbound proxy: a broker or
// authority pushes ticket and lease updates through it back to the
// requesting peer.
type RemoteCallback struct {
	local  string
	remote string
	tr     Transport
	logger zerolog.Logger
}

var _ res.Callback = (*RemoteCallback)(nil)

// NewRemoteCallback makes a proxy from local to remote.
func NewRemoteCallback(local, remote string, tr Transport, logger zerolog.Logger) *RemoteCallback {
	return &RemoteCallback{
		local:  local,
		remote: remote,
		tr:     tr,
		logger: logger.With().Str("peer", remote).Logger(),
	}
}

func (c *RemoteCallback) Identity() string { return c.remote }

func (c *RemoteCallback) UpdateTicket(r *res.Reservation, u res.UpdateData, seq int64) error {
	return c.send(res.OpUpdateTicket, r, r.Approved(), r.ApprovedTerm(), u, seq)
}

func (c *RemoteCallback) UpdateLease(r *res.Reservation, u res.UpdateData, seq int64) error {
	return c.send(res.OpUpdateLease, r, r.Leased(), r.ApprovedTerm(), u, seq)
}

func (c *RemoteCallback) send(op res.Op, r *res.Reservation, rs res.Resources, term res.Term, u res.UpdateData, seq int64) error {
	env := Envelope{
		Op:          op.String(),
		MessageID:   uuid.NewString(),
		Reservation: r.ID(),
		From:        c.local,
		To:          c.remote,
		Seq:         seq,
		Term:        term,
		Update:      u,
	}
	if rs != nil {
		env.Type = rs.Type()
		env.Units = rs.Units()
		env.Active = rs.IsActive()
		env.Closed = rs.IsClosed()
	}
	if r.IsClosed() {
		env.Closed = true
	}
	c.logger.Debug().
		Str("op", env.Op).
		Str("rsv", env.Reservation).
		Int64("seq", seq).
		Msg("sending update")
	return c.tr.Send(env)
}

// PeerProxy is the client side's callback stand-in.  It carries the
// peer identity that inbound failures are validated against; a client
// never publishes updates, so the update methods only log.
type PeerProxy struct {
	remote string
	logger zerolog.Logger
}

var _ res.Callback = (*PeerProxy)(nil)

// NewPeerProxy makes a proxy naming the peer a client reservation
// currently talks to.
func NewPeerProxy(remote string, logger zerolog.Logger) *PeerProxy {
	return &PeerProxy{remote: remote, logger: logger}
}

func (p *PeerProxy) Identity() string { return p.remote }

func (p *PeerProxy) UpdateTicket(r *res.Reservation, u res.UpdateData, seq int64) error {
	p.logger.Debug().Str("rsv", r.ID()).Msg("client reservation has no update recipient")
	return nil
}

func (p *PeerProxy) UpdateLease(r *res.Reservation, u res.UpdateData, seq int64) error {
	p.logger.Debug().Str("rsv", r.ID()).Msg("client reservation has no update recipient")
	return nil
}
