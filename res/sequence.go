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

// SeqKind picks one of the two sequence-counter pairs: ticket messages
// or lease messages.  The counters order protocol messages per
// reservation atop an unordered transport.
type SeqKind int

const (
	SeqTicket SeqKind = iota
	SeqLease
)

// KindForOp maps a protocol operation to the counter pair it rides on.
func KindForOp(op Op) SeqKind {
	switch op {
	case OpRedeem, OpExtendLease, OpModifyLease, OpClose, OpUpdateLease:
		return SeqLease
	}
	return SeqTicket
}

// SequenceIn is the highest inbound sequence number applied so far.
func (r *Reservation) SequenceIn(k SeqKind) int64 {
	if k == SeqLease {
		return r.leaseSeqIn
	}
	return r.ticketSeqIn
}

// SetSequenceIn records a newly applied inbound sequence number.
func (r *Reservation) SetSequenceIn(k SeqKind, v int64) {
	if k == SeqLease {
		r.leaseSeqIn = v
	} else {
		r.ticketSeqIn = v
	}
	r.dirty = true
}

// SequenceOut is the last outbound sequence number used.
func (r *Reservation) SequenceOut(k SeqKind) int64 {
	if k == SeqLease {
		return r.leaseSeqOut
	}
	return r.ticketSeqOut
}

// SetRequested replaces the requested term and resources when an
// inbound request with a greater sequence number is applied.
func (r *Reservation) SetRequested(rs Resources, term Term) {
	r.requested = rs
	r.requestedTerm = term
	r.dirty = true
}
