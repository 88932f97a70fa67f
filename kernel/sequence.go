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

package kernel

import "github.com/renlab/orca/res"

// Sequence is the outcome of resolving an inbound message against a
// reservation's sequence counter.
type Sequence int

const (
	// SeqSmaller: stale; ignore the message.
	SeqSmaller Sequence = iota

	// SeqEqual: duplicate; resend the last update via
	// HandleDuplicate instead of re-consulting the policy.
	SeqEqual

	// SeqGreater: new; the requested term and resources were
	// applied.
	SeqGreater

	// SeqHeld: newer than current, but an operation is pending so
	// the request was not applied.  The peer will retry.
	SeqHeld
)

func (s Sequence) String() string {
	switch s {
	case SeqSmaller:
		return "smaller"
	case SeqEqual:
		return "equal"
	case SeqGreater:
		return "greater"
	case SeqHeld:
		return "held"
	}
	return "unknown"
}

// Incoming is the sequence-relevant part of an inbound protocol
// message.
type Incoming struct {
	Op        res.Op
	Seq       int64
	Requested res.Resources
	Term      res.Term
}

// CompareAndUpdate resolves a duplicate or out-of-order inbound
// request.  A greater sequence number applies the new requested term
// and resources, but only when nothing is currently pending.
func (k *Kernel) CompareAndUpdate(r *res.Reservation, in Incoming) Sequence {
	kind := res.KindForOp(in.Op)
	cur := r.SequenceIn(kind)
	switch {
	case in.Seq < cur:
		return SeqSmaller
	case in.Seq == cur:
		return SeqEqual
	}
	if r.HasPending() {
		k.logger.Debug().
			Str("rsv", r.ID()).
			Int64("seq", in.Seq).
			Str("pending", r.Pending().String()).
			Msg("newer request held while pending")
		return SeqHeld
	}
	k.applyIncoming(r, kind, in)
	return SeqGreater
}

// CompareAndUpdateIgnorePending is CompareAndUpdate for messages that
// may legitimately arrive while an operation is in flight (update
// replies to our own requests).
func (k *Kernel) CompareAndUpdateIgnorePending(r *res.Reservation, in Incoming) Sequence {
	kind := res.KindForOp(in.Op)
	cur := r.SequenceIn(kind)
	switch {
	case in.Seq < cur:
		return SeqSmaller
	case in.Seq == cur:
		return SeqEqual
	}
	k.applyIncoming(r, kind, in)
	return SeqGreater
}

func (k *Kernel) applyIncoming(r *res.Reservation, kind res.SeqKind, in Incoming) {
	if in.Requested != nil {
		r.SetRequested(in.Requested, in.Term)
	}
	r.SetSequenceIn(kind, in.Seq)
}

// HandleDuplicate resends the reservation's last update for a request
// that did not advance kernel state.
func (k *Kernel) HandleDuplicate(r *res.Reservation, op res.Op) error {
	return k.apply(r, op.String(), func() error {
		r.HandleDuplicate(op)
		return nil
	})
}
