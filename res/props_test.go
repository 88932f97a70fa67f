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
	"testing"
	"time"
)

func TestSaveRestoreReservation(t *testing.T) {
	pol := &fakePolicy{}
	cb := &sink{identity: "ctrl-1"}
	r := newBrokerTicket(pol, cb, 4)
	if err := r.Ticket(); err != nil {
		t.Fatal(err)
	}
	step(r) // Ticketed/None, one update out

	p := PropMap{}
	r.Save(p, "")

	slice := RestoreSlice(r.Slice().ID(), "tenant-a", ClientSlice)
	got, err := Restore(p, "", slice, testDeps(pol))
	if err != nil {
		t.Fatal(err)
	}

	if got.ID() != "rsv-1" || got.Role() != RoleBroker {
		t.Fatalf("%s/%s", got.ID(), got.Role())
	}
	if got.State() != Ticketed || got.Pending() != None {
		t.Fatalf("%s/%s", got.State(), got.Pending())
	}
	if got.Leased() == nil || got.Leased().Units() != 4 {
		t.Fatalf("leased %v", got.Leased())
	}
	if !got.Leased().IsActive() {
		t.Fatal("leased units not active after restore")
	}
	if got.SequenceOut(SeqTicket) != 1 {
		t.Fatalf("seq out %d", got.SequenceOut(SeqTicket))
	}
	if got.SavedCallbackIdentity() != "ctrl-1" {
		t.Fatalf("cbid %q", got.SavedCallbackIdentity())
	}
	if !got.Recovering() {
		t.Fatal("restored reservation not marked recovering")
	}
	if got.RequestedTerm().Length() != r.RequestedTerm().Length() {
		t.Fatalf("term length %s", got.RequestedTerm().Length())
	}
	if got.Slice() == nil || got.Slice().Count() != 1 {
		t.Fatal("not indexed in the slice")
	}
}

func TestRestoreRejectsEmptyMap(t *testing.T) {
	if _, err := Restore(PropMap{}, "", nil, testDeps(nil)); err == nil {
		t.Fatal("empty map accepted")
	}
}

func TestSaveRestoreSlice(t *testing.T) {
	s := NewSlice("tenant-a", BrokerClientSlice)
	p := PropMap{}
	SaveSlice(p, "", s)

	got, err := RestoreSliceProps(p, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID() != s.ID() || got.Name() != "tenant-a" || got.Kind() != BrokerClientSlice {
		t.Fatalf("slice %s/%s/%s", got.ID(), got.Name(), got.Kind())
	}
}

// restoreAt round-trips a reservation pinned at the given pending
// sub-state.
func restoreAt(t *testing.T, state State, pending Pending) *Reservation {
	t.Helper()
	r := newBrokerTicket(&fakePolicy{}, &sink{identity: "ctrl-1"}, 2)
	p := PropMap{}
	r.Save(p, "")
	p.SetInt("state", int64(state))
	p.SetInt("pending", int64(pending))
	got, err := Restore(p, "", NewSlice("tenant-a", ClientSlice), testDeps(&fakePolicy{}))
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestRecoverActions(t *testing.T) {
	for _, c := range []struct {
		state   State
		pending Pending
		want    RecoverAction
	}{
		{Ticketed, None, RecoverNone},
		{Closed, Priming, RecoverNone},
		{Failed, Ticketing, RecoverNone},
		{Nascent, Ticketing, RecoverRetry},
		{Ticketed, Redeeming, RecoverRetry},
		{Ticketed, ExtendingTicket, RecoverRetry},
		{Active, ExtendingLease, RecoverRetry},
		{Ticketed, Priming, RecoverClose},
		{Active, ModifyingLease, RecoverClose},
		{Active, Closing, RecoverClose},
	} {
		r := restoreAt(t, c.state, c.pending)
		if got := r.Recover(); got != c.want {
			t.Errorf("%s/%s: %s, want %s", c.state, c.pending, got, c.want)
			continue
		}
		switch c.want {
		case RecoverRetry:
			if !r.BidPending() {
				t.Errorf("%s/%s: retry without bid pending", c.state, c.pending)
			}
			if !r.Recovering() {
				t.Errorf("%s/%s: retry cleared recovery mark", c.state, c.pending)
			}
		case RecoverClose:
			if !r.CloseOnRecover() {
				t.Errorf("%s/%s: close not marked", c.state, c.pending)
			}
		case RecoverNone:
			if r.Recovering() {
				t.Errorf("%s/%s: still recovering", c.state, c.pending)
			}
		}
	}
}

func TestRecoveringSuppressesResend(t *testing.T) {
	r := restoreAt(t, Ticketed, None)
	cb := &sink{identity: "ctrl-1"}
	r.SetCallback(cb)
	r.recovering = true

	r.HandleDuplicate(OpTicket)
	if len(cb.tickets) != 0 {
		t.Fatal("resent mid-recovery")
	}
	r.FinishRecovery()
	r.HandleDuplicate(OpTicket)
	if len(cb.tickets) != 1 {
		t.Fatal("resend missing after recovery")
	}
}

func TestPropMapTimes(t *testing.T) {
	p := PropMap{}
	now := time.Now().UTC().Truncate(time.Nanosecond)
	p.SetTime("t", now)
	got, err := p.GetTime("t")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(now) {
		t.Fatalf("%s != %s", got, now)
	}

	// Zero times are omitted, not stored as zero.
	p.SetTime("z", time.Time{})
	if _, have := p["z"]; have {
		t.Fatal("zero time stored")
	}
}
