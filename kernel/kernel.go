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

// Package kernel owns the per-actor slice and reservation tables and
// drives state-machine operations against them.
//
// Every mutating operation follows one fixed order: state-machine
// transition, then persist, then the deferred side effect -- and the
// side effect only if the reservation did not just fail.  A crash
// after persistence but before the side effect is recoverable (the
// persisted state says what remains to be done); a crash before
// persistence means the operation never started.
//
// The tables are exclusively mutated by the one actor thread that owns
// this kernel.  The table lock and the quiescent condition exist only
// so that foreign threads can take consistent snapshots and wait for
// "nothing pending".
package kernel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/renlab/orca/metrics"
	"github.com/renlab/orca/res"
)

var (
	ErrExists        = errors.New("id exists")
	ErrNotFound      = errors.New("not found")
	ErrNotTerminal   = errors.New("reservation not terminal")
	ErrSliceNotEmpty = errors.New("slice not empty")
)

// Database is the persistence plugin.  Implementations must round-trip
// the property maps produced by res.Save.
type Database interface {
	AddReservation(r *res.Reservation) error
	UpdateReservation(r *res.Reservation) error
	RemoveReservation(id string) error
	AddSlice(s *res.Slice) error
	RemoveSlice(id string) error
}

// EventKind classifies lifecycle events.
type EventKind int

const (
	EventPurged EventKind = iota
	EventFailed
	EventSliceRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventPurged:
		return "purged"
	case EventFailed:
		return "failed"
	case EventSliceRemoved:
		return "slice-removed"
	}
	return "unknown"
}

// Event is a lifecycle notification dispatched by the kernel.
type Event struct {
	Kind        EventKind `json:"kind"`
	Reservation string    `json:"reservation,omitempty"`
	Slice       string    `json:"slice,omitempty"`
	State       string    `json:"state,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
}

// Listener receives lifecycle events, on the actor thread.  Keep it
// fast; hand off to a channel for anything slow.
type Listener func(Event)

// Kernel registers, transitions, and tick-drives the actor's
// reservations.
type Kernel struct {
	mu        sync.Mutex
	quiescent *sync.Cond

	slices       map[string]*res.Slice
	reservations map[string]*res.Reservation

	// deferredClose holds reservations marked for defensive
	// closure during recovery, flushed on the first tick.
	deferredClose []*res.Reservation

	db       Database
	listener Listener
	logger   zerolog.Logger
	metrics  *metrics.Set
}

// New makes a kernel.  db may be nil for purely in-memory use (tests,
// tools); listener and m may be nil.
func New(db Database, listener Listener, logger zerolog.Logger, m *metrics.Set) *Kernel {
	k := &Kernel{
		slices:       make(map[string]*res.Slice, 8),
		reservations: make(map[string]*res.Reservation, 64),
		db:           db,
		listener:     listener,
		logger:       logger,
		metrics:      m,
	}
	k.quiescent = sync.NewCond(&k.mu)
	return k
}

// RegisterSlice adds and persists a slice.
func (k *Kernel) RegisterSlice(s *res.Slice) error {
	k.mu.Lock()
	if _, have := k.slices[s.ID()]; have {
		k.mu.Unlock()
		return fmt.Errorf("slice %s: %w", s.ID(), ErrExists)
	}
	k.slices[s.ID()] = s
	k.mu.Unlock()

	if k.db != nil {
		if err := k.db.AddSlice(s); err != nil {
			k.mu.Lock()
			delete(k.slices, s.ID())
			k.mu.Unlock()
			return err
		}
	}
	return nil
}

// GetSlice looks up a slice by id.
func (k *Kernel) GetSlice(id string) (*res.Slice, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, have := k.slices[id]
	if !have {
		return nil, fmt.Errorf("slice %s: %w", id, ErrNotFound)
	}
	return s, nil
}

// RemoveSlice removes an empty slice.
func (k *Kernel) RemoveSlice(id string) error {
	k.mu.Lock()
	s, have := k.slices[id]
	if !have {
		k.mu.Unlock()
		return fmt.Errorf("slice %s: %w", id, ErrNotFound)
	}
	if !s.Empty() {
		k.mu.Unlock()
		return fmt.Errorf("slice %s: %w", id, ErrSliceNotEmpty)
	}
	delete(k.slices, id)
	k.mu.Unlock()

	if k.db != nil {
		if err := k.db.RemoveSlice(id); err != nil {
			return err
		}
	}
	k.dispatch(Event{Kind: EventSliceRemoved, Slice: id})
	return nil
}

// Register adds a reservation to the table and persists it.
// Registering an already-registered id or a closed reservation is
// rejected.  If persistence fails, registration is rolled back so no
// orphaned in-memory reservation remains.
func (k *Kernel) Register(r *res.Reservation) error {
	if r.IsClosed() {
		return fmt.Errorf("reservation %s: register closed reservation", r.ID())
	}

	k.mu.Lock()
	if _, have := k.reservations[r.ID()]; have {
		k.mu.Unlock()
		return fmt.Errorf("reservation %s: %w", r.ID(), ErrExists)
	}
	k.reservations[r.ID()] = r
	k.mu.Unlock()

	if k.db != nil {
		if err := k.db.AddReservation(r); err != nil {
			k.UnregisterNoCheck(r.ID())
			return err
		}
	}
	r.ClearDirty()
	k.metrics.Registered()
	return nil
}

// Unregister removes a terminal (Closed, Failed, or CloseWait)
// reservation from the table.
func (k *Kernel) Unregister(r *res.Reservation) error {
	switch r.State() {
	case res.Closed, res.Failed, res.CloseWait:
	default:
		return fmt.Errorf("reservation %s in %s: %w", r.ID(), r.State(), ErrNotTerminal)
	}
	k.UnregisterNoCheck(r.ID())
	return nil
}

// UnregisterNoCheck removes a reservation regardless of state.  Used
// to roll back a failed registration.
func (k *Kernel) UnregisterNoCheck(id string) {
	k.mu.Lock()
	delete(k.reservations, id)
	k.mu.Unlock()
}

// Get looks up a reservation by id.
func (k *Kernel) Get(id string) (*res.Reservation, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, have := k.reservations[id]
	if !have {
		return nil, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// Count is the number of registered reservations.
func (k *Kernel) Count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.reservations)
}

// persist writes a dirty reservation through the database plugin.
func (k *Kernel) persist(r *res.Reservation) error {
	if k.db == nil || !r.Dirty() {
		return nil
	}
	if err := k.db.UpdateReservation(r); err != nil {
		return err
	}
	r.ClearDirty()
	return nil
}

// apply runs one state-machine transition under the kernel's fixed
// ordering: transition, persist, then the deferred side effect unless
// the reservation just failed.  Transition errors are logged here and
// re-raised to the caller; the RPC service layer converts them to
// protocol-level error results.
func (k *Kernel) apply(r *res.Reservation, op string, transition func() error) error {
	wasFailed := r.IsFailed()
	if err := transition(); err != nil {
		k.logger.Error().Err(err).Str("rsv", r.ID()).Str("op", op).Msg("kernel operation")
		return err
	}
	if err := k.persist(r); err != nil {
		return err
	}
	if !r.IsFailed() {
		r.ServiceProbe()
		if err := k.persist(r); err != nil {
			return err
		}
	} else if !wasFailed {
		k.metrics.Failed()
		k.dispatch(Event{
			Kind:        EventFailed,
			Reservation: r.ID(),
			Slice:       sliceID(r),
			State:       r.State().String(),
			LastError:   r.LastError(),
		})
	}
	return nil
}

// Reserve starts a negotiation for this role: a broker tickets, an
// authority redeems.
func (k *Kernel) Reserve(r *res.Reservation) error {
	switch r.Role() {
	case res.RoleBroker:
		return k.Ticket(r)
	case res.RoleAuthority:
		return k.Redeem(r)
	}
	return k.apply(r, res.OpTicket.String(), r.RequestTicket)
}

// Ticket runs the broker ticket operation.
func (k *Kernel) Ticket(r *res.Reservation) error {
	return k.apply(r, res.OpTicket.String(), r.Ticket)
}

// ExtendTicket runs the ticket-extension operation: the broker bids,
// a client marks its outbound request in flight.
func (k *Kernel) ExtendTicket(r *res.Reservation) error {
	if r.Role() == res.RoleClient {
		return k.apply(r, res.OpExtendTicket.String(), r.RequestExtendTicket)
	}
	return k.apply(r, res.OpExtendTicket.String(), r.ExtendTicket)
}

// Claim binds an exported reservation to a client callback.
func (k *Kernel) Claim(r *res.Reservation, cb res.Callback) error {
	return k.apply(r, res.OpClaim.String(), func() error { return r.Claim(cb) })
}

// Relinquish releases a claimed or exported reservation.
func (k *Kernel) Relinquish(r *res.Reservation) error {
	return k.apply(r, res.OpRelinquish.String(), r.Relinquish)
}

// Redeem runs the redeem operation: the authority bids, a client marks
// its outbound request in flight.
func (k *Kernel) Redeem(r *res.Reservation) error {
	if r.Role() == res.RoleClient {
		return k.apply(r, res.OpRedeem.String(), r.RequestRedeem)
	}
	return k.apply(r, res.OpRedeem.String(), r.Redeem)
}

// ExtendLease runs the lease-extension operation: the authority bids,
// a client marks its outbound request in flight.
func (k *Kernel) ExtendLease(r *res.Reservation) error {
	if r.Role() == res.RoleClient {
		return k.apply(r, res.OpExtendLease.String(), r.RequestExtendLease)
	}
	return k.apply(r, res.OpExtendLease.String(), r.ExtendLease)
}

// ModifyLease runs the authority lease-modification operation.
func (k *Kernel) ModifyLease(r *res.Reservation) error {
	return k.apply(r, res.OpModifyLease.String(), r.ModifyLease)
}

// Close moves a reservation toward Closed.
func (k *Kernel) Close(r *res.Reservation) error {
	return k.apply(r, res.OpClose.String(), func() error {
		r.Close()
		return nil
	})
}

// UpdateTicket applies an inbound update_ticket to a client
// reservation.
func (k *Kernel) UpdateTicket(r *res.Reservation, granted res.Resources, term res.Term, u res.UpdateData, seq int64) error {
	switch k.CompareAndUpdateIgnorePending(r, Incoming{Op: res.OpUpdateTicket, Seq: seq}) {
	case SeqSmaller:
		k.logger.Debug().Str("rsv", r.ID()).Int64("seq", seq).Msg("stale update_ticket ignored")
		return nil
	case SeqEqual:
		k.logger.Debug().Str("rsv", r.ID()).Int64("seq", seq).Msg("duplicate update_ticket ignored")
		return nil
	}
	return k.apply(r, res.OpUpdateTicket.String(), func() error {
		return r.AbsorbTicketUpdate(granted, term, u)
	})
}

// UpdateLease applies an inbound update_lease to a client reservation.
func (k *Kernel) UpdateLease(r *res.Reservation, leased res.Resources, term res.Term, u res.UpdateData, seq int64) error {
	switch k.CompareAndUpdateIgnorePending(r, Incoming{Op: res.OpUpdateLease, Seq: seq}) {
	case SeqSmaller:
		k.logger.Debug().Str("rsv", r.ID()).Int64("seq", seq).Msg("stale update_lease ignored")
		return nil
	case SeqEqual:
		k.logger.Debug().Str("rsv", r.ID()).Int64("seq", seq).Msg("duplicate update_lease ignored")
		return nil
	}
	return k.apply(r, res.OpUpdateLease.String(), func() error {
		return r.AbsorbLeaseUpdate(leased, term, u)
	})
}

// FailRPC records a failed or timed-out outbound call against its
// reservation.  An identity mismatch comes back as an AuthError with
// the reservation unchanged.
func (k *Kernel) FailRPC(r *res.Reservation, f res.RPCFailure) error {
	return k.apply(r, f.Op.String(), func() error {
		return r.HandleFailedRPC(f)
	})
}

// ProbePending probes one reservation outside the tick cycle, with the
// same persist-then-service ordering.
func (k *Kernel) ProbePending(r *res.Reservation) error {
	return k.apply(r, "probe", func() error {
		r.ProbePending()
		return nil
	})
}

// DeferClose queues a recovered reservation for defensive closure on
// the first tick.
func (k *Kernel) DeferClose(r *res.Reservation) {
	k.deferredClose = append(k.deferredClose, r)
}

// FlushDeferredClose closes every reservation queued during recovery
// and lifts the recovery mark from the rest, re-enabling duplicate
// resends.  Runs on the first tick after a restart.
func (k *Kernel) FlushDeferredClose() {
	for _, r := range k.deferredClose {
		k.logger.Info().Str("rsv", r.ID()).Msg("defensive close after recovery")
		if err := k.Close(r); err != nil {
			k.logger.Error().Err(err).Str("rsv", r.ID()).Msg("deferred close")
		}
		r.FinishRecovery()
	}
	k.deferredClose = nil

	k.mu.Lock()
	all := make([]*res.Reservation, 0, len(k.reservations))
	for _, r := range k.reservations {
		all = append(all, r)
	}
	k.mu.Unlock()
	for _, r := range all {
		if r.Recovering() {
			r.FinishRecovery()
			if err := k.persist(r); err != nil {
				k.logger.Error().Err(err).Str("rsv", r.ID()).Msg("recovery persist")
			}
		}
	}
}

// Tick probes every registered reservation exactly once, purges every
// reservation in terminal Closed state, removes emptied slices, and
// signals the quiescent condition if nothing remains pending.
func (k *Kernel) Tick() {
	k.metrics.Tick()

	k.mu.Lock()
	all := make([]*res.Reservation, 0, len(k.reservations))
	for _, r := range k.reservations {
		all = append(all, r)
	}
	k.mu.Unlock()

	for _, r := range all {
		wasFailed := r.IsFailed()
		r.ProbePending()
		if err := k.persist(r); err != nil {
			k.logger.Error().Err(err).Str("rsv", r.ID()).Msg("tick persist")
			continue
		}
		if !r.IsFailed() {
			r.ServiceProbe()
			if err := k.persist(r); err != nil {
				k.logger.Error().Err(err).Str("rsv", r.ID()).Msg("tick persist")
			}
		} else if !wasFailed {
			k.metrics.Failed()
			k.dispatch(Event{
				Kind:        EventFailed,
				Reservation: r.ID(),
				Slice:       sliceID(r),
				State:       r.State().String(),
				LastError:   r.LastError(),
			})
		}
	}

	for _, r := range all {
		if r.IsClosed() {
			k.Purge(r)
		}
	}

	k.mu.Lock()
	pending := 0
	for _, r := range k.reservations {
		if r.HasPending() {
			pending++
		}
	}
	k.metrics.Pending(pending)
	if pending == 0 {
		k.quiescent.Broadcast()
	}
	k.mu.Unlock()
}

// Purge removes a terminal Closed reservation from both tables and
// dispatches its lifecycle-end event.  An emptied slice is removed
// with it.
func (k *Kernel) Purge(r *res.Reservation) {
	if err := k.Unregister(r); err != nil {
		k.logger.Error().Err(err).Str("rsv", r.ID()).Msg("purge")
		return
	}
	if k.db != nil {
		if err := k.db.RemoveReservation(r.ID()); err != nil {
			k.logger.Error().Err(err).Str("rsv", r.ID()).Msg("purge remove")
		}
	}

	s := r.Slice()
	if s != nil {
		s.Remove(r.ID())
	}
	k.metrics.Purged()
	k.dispatch(Event{
		Kind:        EventPurged,
		Reservation: r.ID(),
		Slice:       sliceID(r),
		State:       r.State().String(),
		LastError:   r.LastError(),
	})

	if s != nil && s.Empty() {
		if err := k.RemoveSlice(s.ID()); err != nil && !errors.Is(err, ErrNotFound) {
			k.logger.Error().Err(err).Str("slice", s.ID()).Msg("remove emptied slice")
		}
	}
}

// AwaitNothingPending blocks the calling (foreign) thread until no
// registered reservation has an in-flight sub-operation.  Used before
// shutdown.
func (k *Kernel) AwaitNothingPending() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for {
		pending := false
		for _, r := range k.reservations {
			if r.HasPending() {
				pending = true
				break
			}
		}
		if !pending {
			return
		}
		k.quiescent.Wait()
	}
}

func (k *Kernel) dispatch(ev Event) {
	if k.listener != nil {
		k.listener(ev)
	}
}

func sliceID(r *res.Reservation) string {
	if s := r.Slice(); s != nil {
		return s.ID()
	}
	return ""
}
