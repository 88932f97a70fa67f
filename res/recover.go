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

// RecoverAction is what the kernel must do with a recovered
// reservation.
type RecoverAction int

const (
	// RecoverNone: nothing was in flight; resume as-is.
	RecoverNone RecoverAction = iota

	// RecoverRetry: a bid was in flight; the next tick re-consults
	// the policy through the normal probe path.
	RecoverRetry

	// RecoverClose: a side effect may or may not have landed before
	// the crash; close defensively rather than resume
	// optimistically.
	RecoverClose
)

func (a RecoverAction) String() string {
	switch a {
	case RecoverNone:
		return "none"
	case RecoverRetry:
		return "retry"
	case RecoverClose:
		return "close"
	}
	return "unknown"
}

// Recover decides the next action purely from the persisted
// (state, pending) pair.
//
// A reservation recovered mid-Priming is marked for defensive re-close:
// whether resources were actually primed before the crash is unknown.
// A reservation recovered mid-bid retries; the policy consultation is
// idempotent until granted.
func (r *Reservation) Recover() RecoverAction {
	if r.state.Terminal() {
		r.recovering = false
		return RecoverNone
	}

	switch r.pending {
	case None:
		r.recovering = false
		return RecoverNone
	case Ticketing, Redeeming, ExtendingTicket, ExtendingLease:
		r.bidPending = true
		r.dirty = true
		return RecoverRetry
	case Priming, Closing, ModifyingLease, AbsorbUpdate, SendUpdate:
		r.closeOnRecover = true
		r.dirty = true
		return RecoverClose
	}
	return RecoverNone
}

// CloseOnRecover reports whether recovery marked this reservation for
// defensive closure.
func (r *Reservation) CloseOnRecover() bool { return r.closeOnRecover }

// Recovering reports whether the reservation is mid-recovery, which
// suppresses duplicate-request resends.
func (r *Reservation) Recovering() bool { return r.recovering }

// FinishRecovery clears the recovery flags once the kernel has flushed
// the deferred-close queue on the first tick.
func (r *Reservation) FinishRecovery() {
	r.recovering = false
	r.dirty = true
}
