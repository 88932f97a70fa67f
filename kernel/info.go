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

// ReservationInfo is the management-facing snapshot of one
// reservation.
type ReservationInfo struct {
	ID             string `json:"id"`
	Slice          string `json:"slice,omitempty"`
	Role           string `json:"role"`
	State          string `json:"state"`
	Pending        string `json:"pending"`
	BidPending     bool   `json:"bidPending,omitempty"`
	RequestedUnits int    `json:"requestedUnits"`
	LeasedUnits    int    `json:"leasedUnits"`
	TicketSeqIn    int64  `json:"ticketSeqIn,omitempty"`
	TicketSeqOut   int64  `json:"ticketSeqOut,omitempty"`
	LeaseSeqIn     int64  `json:"leaseSeqIn,omitempty"`
	LeaseSeqOut    int64  `json:"leaseSeqOut,omitempty"`
	LastError      string `json:"lastError,omitempty"`
}

// SliceInfo is the management-facing snapshot of one slice.
type SliceInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Reservations int    `json:"reservations"`
}

// Snapshot builds the info view of one reservation.  Call on the
// owning actor's thread.
func Snapshot(r *res.Reservation) ReservationInfo {
	info := ReservationInfo{
		ID:           r.ID(),
		Slice:        sliceID(r),
		Role:         r.Role().String(),
		State:        r.State().String(),
		Pending:      r.Pending().String(),
		BidPending:   r.BidPending(),
		TicketSeqIn:  r.SequenceIn(res.SeqTicket),
		TicketSeqOut: r.SequenceOut(res.SeqTicket),
		LeaseSeqIn:   r.SequenceIn(res.SeqLease),
		LeaseSeqOut:  r.SequenceOut(res.SeqLease),
		LastError:    r.LastError(),
	}
	if rs := r.Requested(); rs != nil {
		info.RequestedUnits = rs.Units()
	}
	if rs := r.Leased(); rs != nil {
		info.LeasedUnits = rs.Units()
	}
	return info
}

// Reservations snapshots every registered reservation.  Call on the
// owning actor's thread; the table lock alone does not make the
// reservation fields safe to read elsewhere.
func (k *Kernel) Reservations() []ReservationInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	acc := make([]ReservationInfo, 0, len(k.reservations))
	for _, r := range k.reservations {
		acc = append(acc, Snapshot(r))
	}
	return acc
}

// Slices snapshots every registered slice.  Call on the owning actor's
// thread.
func (k *Kernel) Slices() []SliceInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	acc := make([]SliceInfo, 0, len(k.slices))
	for _, s := range k.slices {
		acc = append(acc, SliceInfo{
			ID:           s.ID(),
			Name:         s.Name(),
			Kind:         s.Kind().String(),
			Reservations: s.Count(),
		})
	}
	return acc
}
