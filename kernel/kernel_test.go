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

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/renlab/orca/res"
)

// grantPolicy approves everything as requested.
type grantPolicy struct {
	outcome  res.Outcome
	binds    int
	released int
}

func (p *grantPolicy) Bind(r *res.Reservation) (res.Outcome, error) {
	p.binds++
	return p.outcome, nil
}
func (p *grantPolicy) Extend(r *res.Reservation) (res.Outcome, error) { return p.outcome, nil }
func (p *grantPolicy) Close(r *res.Reservation)                       {}
func (p *grantPolicy) CorrectDeficit(r *res.Reservation) error        { return nil }
func (p *grantPolicy) Donate(rs res.Resources) error                  { return nil }
func (p *grantPolicy) Eject(rs res.Resources) error                   { return nil }
func (p *grantPolicy) Free(units int) error                           { return nil }
func (p *grantPolicy) Prepare(cycle int64)                            {}
func (p *grantPolicy) Finish(cycle int64)                             {}
func (p *grantPolicy) Release(rs res.Resources) error {
	p.released += rs.Units()
	return nil
}

// fakeDB counts persistence calls and can fail on demand.
type fakeDB struct {
	addErr    error
	updateErr error

	adds, updates, removes int
	slices, sliceRemoves   int
}

func (d *fakeDB) AddReservation(r *res.Reservation) error {
	if d.addErr != nil {
		return d.addErr
	}
	d.adds++
	return nil
}

func (d *fakeDB) UpdateReservation(r *res.Reservation) error {
	if d.updateErr != nil {
		return d.updateErr
	}
	d.updates++
	return nil
}

func (d *fakeDB) RemoveReservation(id string) error { d.removes++; return nil }
func (d *fakeDB) AddSlice(s *res.Slice) error       { d.slices++; return nil }
func (d *fakeDB) RemoveSlice(id string) error       { d.sliceRemoves++; return nil }

// noUpdates is a callback that swallows outbound updates.
type noUpdates struct{ identity string }

func (c *noUpdates) Identity() string { return c.identity }
func (c *noUpdates) UpdateTicket(r *res.Reservation, u res.UpdateData, seq int64) error {
	return nil
}
func (c *noUpdates) UpdateLease(r *res.Reservation, u res.UpdateData, seq int64) error {
	return nil
}

func newBroker(t *testing.T, k *Kernel, pol res.Policy, id string, units int) *res.Reservation {
	t.Helper()
	slice := res.NewSlice("tenant-a", res.ClientSlice)
	r := res.NewBrokerReservation(id, slice,
		res.NewUnitSet("vm", units), res.NewTerm(time.Hour), &noUpdates{identity: "ctrl-1"},
		res.Deps{Policy: pol, Logger: zerolog.Nop()})
	if err := k.RegisterSlice(slice); err != nil {
		t.Fatal(err)
	}
	if err := k.Register(r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestTicketThroughTickToPurge(t *testing.T) {
	db := &fakeDB{}
	var events []Event
	k := New(db, func(ev Event) { events = append(events, ev) }, zerolog.Nop(), nil)

	pol := &grantPolicy{outcome: res.Granted}
	r := newBroker(t, k, pol, "rsv-1", 3)

	if err := k.Ticket(r); err != nil {
		t.Fatal(err)
	}
	if r.State() != res.Ticketed || r.Pending() != res.Priming {
		t.Fatalf("%s/%s", r.State(), r.Pending())
	}

	k.Tick()
	if r.Pending() != res.None {
		t.Fatalf("pending %s after tick", r.Pending())
	}

	if err := k.Close(r); err != nil {
		t.Fatal(err)
	}
	k.Tick()

	if _, err := k.Get("rsv-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("purged reservation still registered: %v", err)
	}
	if db.removes != 1 {
		t.Fatalf("%d db removes", db.removes)
	}
	// The emptied slice goes with it.
	if len(k.Slices()) != 0 {
		t.Fatalf("slices %v", k.Slices())
	}

	var kinds []EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) != 2 || kinds[0] != EventPurged || kinds[1] != EventSliceRemoved {
		t.Fatalf("events %v", kinds)
	}
}

func TestRegisterRollsBackOnPersistError(t *testing.T) {
	db := &fakeDB{addErr: errors.New("disk full")}
	k := New(db, nil, zerolog.Nop(), nil)

	slice := res.NewSlice("tenant-a", res.ClientSlice)
	r := res.NewBrokerReservation("rsv-1", slice,
		res.NewUnitSet("vm", 1), res.NewTerm(time.Hour), nil,
		res.Deps{Logger: zerolog.Nop()})

	if err := k.Register(r); err == nil {
		t.Fatal("register succeeded with failing db")
	}
	if _, err := k.Get("rsv-1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("failed registration left the reservation in the table")
	}
}

func TestRegisterRejectsDuplicatesAndClosed(t *testing.T) {
	k := New(nil, nil, zerolog.Nop(), nil)
	pol := &grantPolicy{outcome: res.Granted}
	r := newBroker(t, k, pol, "rsv-1", 1)

	if err := k.Register(r); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate register: %v", err)
	}

	if err := k.Close(r); err != nil {
		t.Fatal(err)
	}
	k.UnregisterNoCheck(r.ID())
	if err := k.Register(r); err == nil {
		t.Fatal("closed reservation registered")
	}
}

func TestUnregisterRequiresTerminal(t *testing.T) {
	k := New(nil, nil, zerolog.Nop(), nil)
	r := newBroker(t, k, &grantPolicy{outcome: res.Granted}, "rsv-1", 1)
	if err := k.Unregister(r); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("unregister live reservation: %v", err)
	}
}

func TestRemoveSliceRequiresEmpty(t *testing.T) {
	k := New(nil, nil, zerolog.Nop(), nil)
	r := newBroker(t, k, &grantPolicy{outcome: res.Granted}, "rsv-1", 1)
	if err := k.RemoveSlice(r.Slice().ID()); !errors.Is(err, ErrSliceNotEmpty) {
		t.Fatalf("removed occupied slice: %v", err)
	}
}

func TestFailedBidDispatchesEventOnce(t *testing.T) {
	var events []Event
	k := New(nil, func(ev Event) { events = append(events, ev) }, zerolog.Nop(), nil)
	pol := &grantPolicy{outcome: res.Denied}
	r := newBroker(t, k, pol, "rsv-1", 1)

	if err := k.Ticket(r); err != nil {
		t.Fatal(err)
	}
	if !r.IsFailed() {
		t.Fatalf("state %s", r.State())
	}
	k.Tick()
	k.Tick()

	failures := 0
	for _, ev := range events {
		if ev.Kind == EventFailed {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("%d failure events", failures)
	}
	if events[0].LastError == "" {
		t.Fatal("failure event without reason")
	}
}

func TestCompareAndUpdateOrdering(t *testing.T) {
	k := New(nil, nil, zerolog.Nop(), nil)
	pol := &grantPolicy{outcome: res.Granted}
	r := newBroker(t, k, pol, "rsv-1", 2)

	in := Incoming{Op: res.OpTicket, Seq: 1,
		Requested: res.NewUnitSet("vm", 2), Term: res.NewTerm(time.Hour)}
	if got := k.CompareAndUpdate(r, in); got != SeqGreater {
		t.Fatalf("first request %s", got)
	}
	if r.SequenceIn(res.SeqTicket) != 1 {
		t.Fatalf("seq in %d", r.SequenceIn(res.SeqTicket))
	}

	if got := k.CompareAndUpdate(r, in); got != SeqEqual {
		t.Fatalf("replay %s", got)
	}
	if got := k.CompareAndUpdate(r, Incoming{Op: res.OpTicket, Seq: 0}); got != SeqSmaller {
		t.Fatalf("stale %s", got)
	}

	// A newer request is held while a sub-operation is in flight.
	if err := k.Ticket(r); err != nil {
		t.Fatal(err)
	}
	bigger := Incoming{Op: res.OpTicket, Seq: 2,
		Requested: res.NewUnitSet("vm", 5), Term: res.NewTerm(time.Hour)}
	if got := k.CompareAndUpdate(r, bigger); got != SeqHeld {
		t.Fatalf("held %s", got)
	}
	if r.Requested().Units() != 2 {
		t.Fatal("held request mutated the reservation")
	}
	if r.SequenceIn(res.SeqTicket) != 1 {
		t.Fatal("held request advanced the sequence")
	}

	// Once idle again, the retry applies.
	k.Tick()
	if got := k.CompareAndUpdate(r, bigger); got != SeqGreater {
		t.Fatalf("retry %s", got)
	}
	if r.Requested().Units() != 5 {
		t.Fatalf("requested %d", r.Requested().Units())
	}
}

func TestLeaseAndTicketCountersIndependent(t *testing.T) {
	k := New(nil, nil, zerolog.Nop(), nil)
	r := newBroker(t, k, &grantPolicy{outcome: res.Granted}, "rsv-1", 2)

	k.CompareAndUpdate(r, Incoming{Op: res.OpTicket, Seq: 3})
	if got := k.CompareAndUpdate(r, Incoming{Op: res.OpRedeem, Seq: 1}); got != SeqGreater {
		t.Fatalf("lease counter coupled to ticket counter: %s", got)
	}
}

func TestFailRPCRejectsWrongIdentity(t *testing.T) {
	k := New(nil, nil, zerolog.Nop(), nil)
	r := newBroker(t, k, &grantPolicy{outcome: res.Granted}, "rsv-1", 1)

	err := k.FailRPC(r, res.RPCFailure{Op: res.OpUpdateTicket, RemoteIdentity: "mallory"})
	var authErr *res.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error %v", err)
	}
	if r.IsFailed() {
		t.Fatal("spoofed failure changed state")
	}

	if err := k.FailRPC(r, res.RPCFailure{Op: res.OpUpdateTicket, RemoteIdentity: "ctrl-1"}); err != nil {
		t.Fatal(err)
	}
	if !r.IsFailed() {
		t.Fatalf("state %s", r.State())
	}
}

func TestPersistOnlyWhenDirty(t *testing.T) {
	db := &fakeDB{}
	k := New(db, nil, zerolog.Nop(), nil)
	r := newBroker(t, k, &grantPolicy{outcome: res.Granted}, "rsv-1", 1)

	if err := k.Ticket(r); err != nil {
		t.Fatal(err)
	}
	k.Tick()
	settled := db.updates

	// Nothing changes on an idle tick, so nothing is written.
	k.Tick()
	if db.updates != settled {
		t.Fatalf("idle tick wrote %d updates", db.updates-settled)
	}
}

func TestFlushDeferredClose(t *testing.T) {
	k := New(nil, nil, zerolog.Nop(), nil)
	pol := &grantPolicy{outcome: res.Granted}

	// One reservation queued for defensive closure, one merely
	// recovering.
	victim := newBroker(t, k, pol, "rsv-1", 1)
	survivor := restoredTicketed(t, k, pol, "rsv-2")

	k.DeferClose(victim)
	k.FlushDeferredClose()

	if !victim.IsClosed() {
		t.Fatalf("victim %s", victim.State())
	}
	if survivor.Recovering() {
		t.Fatal("survivor still marked recovering")
	}
}

// restoredTicketed registers a reservation as recovery would: restored
// from a property map, so it carries the recovery mark.
func restoredTicketed(t *testing.T, k *Kernel, pol res.Policy, id string) *res.Reservation {
	t.Helper()
	slice := res.NewSlice("tenant-b", res.ClientSlice)
	src := res.NewBrokerReservation(id, slice,
		res.NewUnitSet("vm", 1), res.NewTerm(time.Hour), &noUpdates{identity: "ctrl-1"},
		res.Deps{Policy: pol, Logger: zerolog.Nop()})
	p := res.PropMap{}
	src.Save(p, "")

	r, err := res.Restore(p, "", res.RestoreSlice(slice.ID(), slice.Name(), slice.Kind()),
		res.Deps{Policy: pol, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if err := k.RegisterSlice(r.Slice()); err != nil {
		t.Fatal(err)
	}
	if err := k.Register(r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestAwaitNothingPending(t *testing.T) {
	k := New(nil, nil, zerolog.Nop(), nil)
	r := newBroker(t, k, &grantPolicy{outcome: res.Granted}, "rsv-1", 1)
	if err := k.Ticket(r); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		k.AwaitNothingPending()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("returned while priming")
	case <-time.After(20 * time.Millisecond):
	}

	k.Tick()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("never woke up")
	}
}

func TestSnapshotReflectsState(t *testing.T) {
	k := New(nil, nil, zerolog.Nop(), nil)
	r := newBroker(t, k, &grantPolicy{outcome: res.Granted}, "rsv-1", 3)
	if err := k.Ticket(r); err != nil {
		t.Fatal(err)
	}
	k.Tick()

	info := Snapshot(r)
	if info.ID != "rsv-1" || info.Role != "broker" {
		t.Fatalf("%+v", info)
	}
	if info.State != "Ticketed" || info.Pending != "None" {
		t.Fatalf("%s/%s", info.State, info.Pending)
	}
	if info.RequestedUnits != 3 || info.LeasedUnits != 3 {
		t.Fatalf("units %d/%d", info.RequestedUnits, info.LeasedUnits)
	}
	if info.TicketSeqOut != 1 {
		t.Fatalf("seq out %d", info.TicketSeqOut)
	}
}
