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
	"strconv"
	"time"
)

// PropMap is a flat key-prefixed property map: the persisted form of
// reservations, slices, and pool descriptors.  Save and Restore are
// symmetric (field -> prefix+key), so any storage engine that can
// round-trip a string map can carry them.
type PropMap map[string]string

func (p PropMap) SetString(key, v string) { p[key] = v }

func (p PropMap) SetInt(key string, v int64) { p[key] = strconv.FormatInt(v, 10) }

func (p PropMap) SetBool(key string, v bool) { p[key] = strconv.FormatBool(v) }

func (p PropMap) SetTime(key string, v time.Time) {
	if v.IsZero() {
		return
	}
	p[key] = strconv.FormatInt(v.UnixNano(), 10)
}

func (p PropMap) GetString(key string) string { return p[key] }

func (p PropMap) GetInt(key string) (int64, error) {
	v, have := p[key]
	if !have {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func (p PropMap) GetBool(key string) bool {
	v, _ := strconv.ParseBool(p[key])
	return v
}

func (p PropMap) GetTime(key string) (time.Time, error) {
	v, have := p[key]
	if !have {
		return time.Time{}, nil
	}
	ns, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, ns).UTC(), nil
}

func saveTerm(p PropMap, prefix string, t Term) {
	p.SetTime(prefix+"start", t.Start)
	p.SetTime(prefix+"end", t.End)
}

func restoreTerm(p PropMap, prefix string) (Term, error) {
	start, err := p.GetTime(prefix + "start")
	if err != nil {
		return Term{}, err
	}
	end, err := p.GetTime(prefix + "end")
	if err != nil {
		return Term{}, err
	}
	return Term{Start: start, End: end}, nil
}

func saveUnits(p PropMap, prefix string, rs Resources) {
	if rs == nil {
		return
	}
	p.SetString(prefix+"type", rs.Type())
	p.SetInt(prefix+"units", int64(rs.Units()))
	p.SetBool(prefix+"active", rs.IsActive())
	p.SetBool(prefix+"closed", rs.IsClosed())
}

func restoreUnits(p PropMap, prefix string) (Resources, error) {
	kind, have := p[prefix+"type"]
	if !have {
		return nil, nil
	}
	units, err := p.GetInt(prefix + "units")
	if err != nil {
		return nil, err
	}
	u := NewUnitSet(kind, int(units))
	u.active = p.GetBool(prefix + "active")
	u.closed = p.GetBool(prefix + "closed")
	return u, nil
}

// Save writes the reservation's durable fields under the given key
// prefix.  Transient handles (logger, policy, callback) are never
// serialized; the callback's identity is kept so recovery can rebind a
// proxy.
func (r *Reservation) Save(p PropMap, prefix string) {
	p.SetString(prefix+"id", r.id)
	p.SetString(prefix+"role", r.role.String())
	if r.slice != nil {
		p.SetString(prefix+"slice", r.slice.ID())
	}
	p.SetInt(prefix+"state", int64(r.state))
	p.SetInt(prefix+"pending", int64(r.pending))
	p.SetBool(prefix+"bid", r.bidPending)
	p.SetInt(prefix+"service", int64(r.service))

	p.SetInt(prefix+"seq.ticket.in", r.ticketSeqIn)
	p.SetInt(prefix+"seq.ticket.out", r.ticketSeqOut)
	p.SetInt(prefix+"seq.lease.in", r.leaseSeqIn)
	p.SetInt(prefix+"seq.lease.out", r.leaseSeqOut)

	saveTerm(p, prefix+"term.requested.", r.requestedTerm)
	saveTerm(p, prefix+"term.approved.", r.approvedTerm)
	saveTerm(p, prefix+"term.previous.", r.previousTerm)

	saveUnits(p, prefix+"rset.requested.", r.requested)
	saveUnits(p, prefix+"rset.approved.", r.approved)
	saveUnits(p, prefix+"rset.leased.", r.leased)

	p.SetBool(prefix+"closed-in-priming", r.closedInPriming)
	p.SetBool(prefix+"send-with-deficit", r.sendWithDeficit)
	p.SetString(prefix+"last-error", r.lastErr)
	p.SetString(prefix+"cbid", r.CallbackIdentity())
}

// Restore is the inverse of Save.  The reservation comes back marked
// recovering; the caller runs Recover to decide the next action and
// rebinds a callback from the saved identity.
func Restore(p PropMap, prefix string, slice *Slice, deps Deps) (*Reservation, error) {
	id := p.GetString(prefix + "id")
	if id == "" {
		return nil, fmt.Errorf("property map missing %sid", prefix)
	}
	role, err := ParseRole(p.GetString(prefix + "role"))
	if err != nil {
		return nil, err
	}

	requested, err := restoreUnits(p, prefix+"rset.requested.")
	if err != nil {
		return nil, err
	}
	if requested == nil {
		return nil, fmt.Errorf("reservation %s: no requested resources", id)
	}
	reqTerm, err := restoreTerm(p, prefix+"term.requested.")
	if err != nil {
		return nil, err
	}

	r := AdoptReservation(id, role, slice, requested, reqTerm, deps)

	state, err := p.GetInt(prefix + "state")
	if err != nil {
		return nil, err
	}
	pending, err := p.GetInt(prefix + "pending")
	if err != nil {
		return nil, err
	}
	service, err := p.GetInt(prefix + "service")
	if err != nil {
		return nil, err
	}
	r.state = State(state)
	r.pending = Pending(pending)
	r.service = Pending(service)
	r.bidPending = p.GetBool(prefix + "bid")

	if r.ticketSeqIn, err = p.GetInt(prefix + "seq.ticket.in"); err != nil {
		return nil, err
	}
	if r.ticketSeqOut, err = p.GetInt(prefix + "seq.ticket.out"); err != nil {
		return nil, err
	}
	if r.leaseSeqIn, err = p.GetInt(prefix + "seq.lease.in"); err != nil {
		return nil, err
	}
	if r.leaseSeqOut, err = p.GetInt(prefix + "seq.lease.out"); err != nil {
		return nil, err
	}

	if r.approvedTerm, err = restoreTerm(p, prefix+"term.approved."); err != nil {
		return nil, err
	}
	if r.previousTerm, err = restoreTerm(p, prefix+"term.previous."); err != nil {
		return nil, err
	}
	if r.approved, err = restoreUnits(p, prefix+"rset.approved."); err != nil {
		return nil, err
	}
	if r.leased, err = restoreUnits(p, prefix+"rset.leased."); err != nil {
		return nil, err
	}

	r.closedInPriming = p.GetBool(prefix + "closed-in-priming")
	r.sendWithDeficit = p.GetBool(prefix + "send-with-deficit")
	r.lastErr = p.GetString(prefix + "last-error")
	r.savedCallback = p.GetString(prefix + "cbid")
	r.recovering = true
	r.dirty = false

	return r, nil
}

// SavedCallbackIdentity is the callback identity captured at the last
// Save, available after Restore so the transport can rebind a proxy.
func (r *Reservation) SavedCallbackIdentity() string { return r.savedCallback }

// SaveSlice writes a slice's durable fields under the given prefix.
func SaveSlice(p PropMap, prefix string, s *Slice) {
	p.SetString(prefix+"id", s.id)
	p.SetString(prefix+"name", s.name)
	p.SetInt(prefix+"kind", int64(s.kind))
}

// RestoreSliceProps is the inverse of SaveSlice.
func RestoreSliceProps(p PropMap, prefix string) (*Slice, error) {
	id := p.GetString(prefix + "id")
	if id == "" {
		return nil, fmt.Errorf("property map missing %sid", prefix)
	}
	kind, err := p.GetInt(prefix + "kind")
	if err != nil {
		return nil, err
	}
	return RestoreSlice(id, p.GetString(prefix+"name"), SliceKind(kind)), nil
}
