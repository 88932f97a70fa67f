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
	"errors"

	"github.com/rs/zerolog"

	"github.com/renlab/orca/actor"
	"github.com/renlab/orca/kernel"
	"github.com/renlab/orca/res"
)

// Service is one actor's inbound protocol endpoint.  The transport
// delivers envelopes from its own goroutines; the service queues each
// one onto the actor loop and dispatches there, so kernel and policy
// state is only ever touched on the actor thread.
type Service struct {
	identity string
	a        *actor.Actor
	tr       Transport

	// monitor is non-nil on controller actors, which watch their
	// outbound calls for missing replies.
	monitor *Monitor

	logger zerolog.Logger
}

// NewService makes an endpoint for the actor under the given identity.
func NewService(identity string, a *actor.Actor, tr Transport, monitor *Monitor, logger zerolog.Logger) *Service {
	return &Service{
		identity: identity,
		a:        a,
		tr:       tr,
		monitor:  monitor,
		logger:   logger.With().Str("rpc", identity).Logger(),
	}
}

// Start subscribes the service to its identity's envelopes.
func (s *Service) Start() error {
	return s.tr.Subscribe(s.identity, func(env Envelope) {
		s.a.Runtime().Queue(func() { s.dispatch(env) })
	})
}

// dispatch runs on the actor thread.
func (s *Service) dispatch(env Envelope) {
	log := s.logger.With().
		Str("op", env.Op).
		Str("rsv", env.Reservation).
		Str("from", env.From).
		Int64("seq", env.Seq).
		Logger()

	if env.Op == OpFailed {
		s.dispatchFailure(env, log)
		return
	}

	op, err := res.ParseOp(env.Op)
	if err != nil {
		log.Warn().Msg("unknown operation")
		return
	}

	k := s.a.Kernel()
	r, err := k.Get(env.Reservation)

	switch op {
	case res.OpTicket:
		if err != nil {
			s.adoptTicket(env, log)
			return
		}
		s.sequenced(r, op, env, log, func() error { return k.Ticket(r) })

	case res.OpExtendTicket:
		if err != nil {
			log.Warn().Msg("extend for unknown reservation")
			return
		}
		s.sequenced(r, op, env, log, func() error { return k.ExtendTicket(r) })

	case res.OpClaim:
		if err != nil {
			log.Warn().Msg("claim for unknown reservation")
			return
		}
		cb := NewRemoteCallback(s.identity, env.From, s.tr, s.logger)
		if err := k.Claim(r, cb); err != nil {
			log.Warn().Err(err).Msg("claim rejected")
		}

	case res.OpRelinquish:
		if err != nil {
			return
		}
		if err := k.Relinquish(r); err != nil {
			log.Warn().Err(err).Msg("relinquish rejected")
		}

	case res.OpRedeem:
		if err != nil {
			s.adoptRedeem(env, log)
			return
		}
		s.sequenced(r, op, env, log, func() error { return k.Redeem(r) })

	case res.OpExtendLease:
		if err != nil {
			log.Warn().Msg("extend for unknown reservation")
			return
		}
		s.sequenced(r, op, env, log, func() error { return k.ExtendLease(r) })

	case res.OpModifyLease:
		if err != nil {
			log.Warn().Msg("modify for unknown reservation")
			return
		}
		s.sequenced(r, op, env, log, func() error { return k.ModifyLease(r) })

	case res.OpClose:
		if err != nil {
			return
		}
		if err := k.Close(r); err != nil {
			log.Warn().Err(err).Msg("close rejected")
		}

	case res.OpUpdateTicket:
		if err != nil {
			log.Warn().Msg("update for unknown reservation")
			return
		}
		if s.monitor != nil {
			s.monitor.Satisfy(r.ID(), res.SeqTicket)
		}
		if err := k.UpdateTicket(r, env.Resources(), env.Term, env.Update, env.Seq); err != nil {
			log.Warn().Err(err).Msg("update_ticket rejected")
		}

	case res.OpUpdateLease:
		if err != nil {
			log.Warn().Msg("update for unknown reservation")
			return
		}
		if s.monitor != nil {
			s.monitor.Satisfy(r.ID(), res.SeqLease)
		}
		if err := k.UpdateLease(r, env.Resources(), env.Term, env.Update, env.Seq); err != nil {
			log.Warn().Err(err).Msg("update_lease rejected")
		}

	default:
		log.Warn().Msg("operation not served here")
	}
}

// dispatchFailure handles an explicit negative reply from a peer.  The
// claimed identity is the sender's; the kernel rejects claims that do
// not match the reservation's bound peer.
func (s *Service) dispatchFailure(env Envelope, log zerolog.Logger) {
	k := s.a.Kernel()
	r, err := k.Get(env.Reservation)
	if err != nil {
		log.Warn().Msg("failure for unknown reservation")
		return
	}

	op, err := res.ParseOp(env.FailedOp)
	if err != nil {
		log.Warn().Str("failedOp", env.FailedOp).Msg("failure names unknown operation")
		return
	}
	if s.monitor != nil {
		s.monitor.Satisfy(r.ID(), res.KindForOp(op))
	}

	f := res.RPCFailure{
		Op:             op,
		MessageID:      env.MessageID,
		RemoteIdentity: env.From,
		Err:            errors.New(env.Reason),
	}
	if err := k.FailRPC(r, f); err != nil {
		var authErr *res.AuthError
		if errors.As(err, &authErr) {
			log.Warn().Err(err).Msg("failure claims wrong identity; dropped")
			return
		}
		log.Warn().Err(err).Msg("failure not applied")
	}
}

// sequenced resolves the envelope's sequence number against the
// reservation, then runs the verb only when the message is new.
func (s *Service) sequenced(r *res.Reservation, op res.Op, env Envelope, log zerolog.Logger, verb func() error) {
	k := s.a.Kernel()
	in := kernel.Incoming{
		Op:        op,
		Seq:       env.Seq,
		Requested: env.Resources(),
		Term:      env.Term,
	}
	switch k.CompareAndUpdate(r, in) {
	case kernel.SeqSmaller:
		log.Debug().Msg("stale request ignored")
	case kernel.SeqHeld:
		log.Debug().Msg("request held while pending")
	case kernel.SeqEqual:
		if err := k.HandleDuplicate(r, op); err != nil {
			log.Warn().Err(err).Msg("duplicate handling")
		}
	case kernel.SeqGreater:
		if err := verb(); err != nil {
			log.Warn().Err(err).Msg("request rejected")
		}
	}
}

// adoptTicket builds the broker-side reservation for a first-contact
// ticket request.
func (s *Service) adoptTicket(env Envelope, log zerolog.Logger) {
	k := s.a.Kernel()
	slice, err := s.sliceFor(env, res.ClientSlice)
	if err != nil {
		log.Error().Err(err).Msg("slice for ticket")
		return
	}

	cb := NewRemoteCallback(s.identity, env.From, s.tr, s.logger)
	deps := res.Deps{Policy: s.a.Policy(), Logger: s.logger}
	r := res.NewBrokerReservation(env.Reservation, slice, env.Resources(), env.Term, cb, deps)
	r.SetSequenceIn(res.SeqTicket, env.Seq)

	if err := k.Register(r); err != nil {
		log.Error().Err(err).Msg("register ticket reservation")
		return
	}
	if err := k.Ticket(r); err != nil {
		log.Warn().Err(err).Msg("ticket rejected")
	}
}

// adoptRedeem builds the authority-side reservation for a first-contact
// redeem of a broker ticket.
func (s *Service) adoptRedeem(env Envelope, log zerolog.Logger) {
	k := s.a.Kernel()
	slice, err := s.sliceFor(env, res.BrokerClientSlice)
	if err != nil {
		log.Error().Err(err).Msg("slice for redeem")
		return
	}

	cb := NewRemoteCallback(s.identity, env.From, s.tr, s.logger)
	deps := res.Deps{Policy: s.a.Policy(), Logger: s.logger}
	r := res.NewAuthorityReservation(env.Reservation, slice, env.Resources(), env.Term, cb, deps)
	r.SetSequenceIn(res.SeqLease, env.Seq)

	if err := k.Register(r); err != nil {
		log.Error().Err(err).Msg("register redeem reservation")
		return
	}
	if err := k.Redeem(r); err != nil {
		log.Warn().Err(err).Msg("redeem rejected")
	}
}

// sliceFor finds or creates the per-requester slice grouping this
// peer's reservations.
func (s *Service) sliceFor(env Envelope, kind res.SliceKind) (*res.Slice, error) {
	name := env.Slice
	if name == "" {
		name = env.From
	}
	k := s.a.Kernel()
	for _, info := range k.Slices() {
		if info.Name == name {
			return k.GetSlice(info.ID)
		}
	}
	slice := res.NewSlice(name, kind)
	if err := k.RegisterSlice(slice); err != nil {
		return nil, err
	}
	return slice, nil
}
