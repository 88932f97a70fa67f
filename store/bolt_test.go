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

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/renlab/orca/kernel"
	"github.com/renlab/orca/policy"
	"github.com/renlab/orca/res"
)

func openTemp(t *testing.T) *Bolt {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "orca.db"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func grantingPool(units int) *policy.Inventory {
	return policy.NewInventory(policy.InventoryConfig{Type: "vm", Units: units}, zerolog.Nop())
}

type recordedUpdate struct {
	identity string
}

func (c *recordedUpdate) Identity() string { return c.identity }
func (c *recordedUpdate) UpdateTicket(*res.Reservation, res.UpdateData, int64) error {
	return nil
}
func (c *recordedUpdate) UpdateLease(*res.Reservation, res.UpdateData, int64) error {
	return nil
}

func TestReservationRoundTrip(t *testing.T) {
	s := openTemp(t)
	pool := grantingPool(10)

	slice := res.NewSlice("tenant-a", res.ClientSlice)
	if err := s.AddSlice(slice); err != nil {
		t.Fatal(err)
	}

	r := res.NewBrokerReservation("rsv-1", slice,
		res.NewUnitSet("vm", 4), res.NewTerm(time.Hour),
		&recordedUpdate{identity: "ctrl-1"},
		res.Deps{Policy: pool, Logger: zerolog.Nop()})
	if err := r.Ticket(); err != nil {
		t.Fatal(err)
	}
	if err := s.AddReservation(r); err != nil {
		t.Fatal(err)
	}

	k := kernel.New(nil, nil, zerolog.Nop(), nil)
	var rebound string
	err := s.Revisit(k, res.Deps{Policy: pool, Logger: zerolog.Nop()}, func(identity string) res.Callback {
		rebound = identity
		return &recordedUpdate{identity: identity}
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := k.Get("rsv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State() != res.Ticketed || got.Pending() != res.Priming {
		t.Fatalf("restored %s/%s", got.State(), got.Pending())
	}
	if got.Requested().Units() != 4 || got.Requested().Type() != "vm" {
		t.Fatalf("restored requested %v", got.Requested())
	}
	if got.Leased() == nil || got.Leased().Units() != 4 {
		t.Fatalf("restored leased %v", got.Leased())
	}
	if rebound != "ctrl-1" || got.CallbackIdentity() != "ctrl-1" {
		t.Fatalf("callback rebound to %q / %q", rebound, got.CallbackIdentity())
	}
	if got.Slice() == nil || got.Slice().ID() != slice.ID() {
		t.Fatal("slice not reattached")
	}
}

func TestRevisitClosesMidPriming(t *testing.T) {
	s := openTemp(t)
	pool := grantingPool(10)

	slice := res.NewSlice("tenant-a", res.ClientSlice)
	if err := s.AddSlice(slice); err != nil {
		t.Fatal(err)
	}

	r := res.NewBrokerReservation("rsv-1", slice,
		res.NewUnitSet("vm", 2), res.NewTerm(time.Hour), nil,
		res.Deps{Policy: pool, Logger: zerolog.Nop()})
	if err := r.Ticket(); err != nil {
		t.Fatal(err)
	}
	if r.Pending() != res.Priming {
		t.Fatalf("pending %s, want Priming", r.Pending())
	}
	if err := s.AddReservation(r); err != nil {
		t.Fatal(err)
	}

	// A fresh pool: the old process's accounting is gone.
	pool2 := grantingPool(10)
	k := kernel.New(s, nil, zerolog.Nop(), nil)
	if err := s.Revisit(k, res.Deps{Policy: pool2, Logger: zerolog.Nop()}, nil); err != nil {
		t.Fatal(err)
	}

	got, err := k.Get("rsv-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.CloseOnRecover() {
		t.Fatal("mid-priming reservation not marked for defensive close")
	}

	// First tick flushes the deferred close.
	k.FlushDeferredClose()
	if !got.IsClosed() {
		t.Fatalf("state %s after flush, want Closed", got.State())
	}
}

func TestRevisitRetriesMidBid(t *testing.T) {
	s := openTemp(t)

	// Deferred on shortage: the bid is persisted still pending.
	starved := policy.NewInventory(policy.InventoryConfig{
		Type: "vm", Units: 1, DeferOnShortage: true,
	}, zerolog.Nop())

	r := res.NewBrokerReservation("rsv-1", nil,
		res.NewUnitSet("vm", 5), res.NewTerm(time.Hour), nil,
		res.Deps{Policy: starved, Logger: zerolog.Nop()})
	if err := r.Ticket(); err != nil {
		t.Fatal(err)
	}
	if r.Pending() != res.Ticketing || !r.BidPending() {
		t.Fatalf("got %s bid=%v, want Ticketing bid-pending", r.Pending(), r.BidPending())
	}
	if err := s.AddReservation(r); err != nil {
		t.Fatal(err)
	}

	// After restart there is room; the recovered bid retries on the
	// next probe.
	pool := grantingPool(10)
	k := kernel.New(s, nil, zerolog.Nop(), nil)
	if err := s.Revisit(k, res.Deps{Policy: pool, Logger: zerolog.Nop()}, nil); err != nil {
		t.Fatal(err)
	}

	got, err := k.Get("rsv-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.BidPending() {
		t.Fatal("recovered bid not marked pending")
	}

	k.FlushDeferredClose()
	k.Tick()
	if got.Pending() != res.Priming {
		t.Fatalf("pending %s after tick, want Priming", got.Pending())
	}
	if pool.Available() != 5 {
		t.Fatalf("available %d, want 5", pool.Available())
	}
}

func TestTerminalRecordsDropped(t *testing.T) {
	s := openTemp(t)
	pool := grantingPool(10)

	r := res.NewBrokerReservation("rsv-1", nil,
		res.NewUnitSet("vm", 1), res.NewTerm(time.Hour), nil,
		res.Deps{Policy: pool, Logger: zerolog.Nop()})
	r.FailNotify("broken")
	if err := s.AddReservation(r); err != nil {
		t.Fatal(err)
	}

	k := kernel.New(nil, nil, zerolog.Nop(), nil)
	if err := s.Revisit(k, res.Deps{Logger: zerolog.Nop()}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Get("rsv-1"); err == nil {
		t.Fatal("terminal reservation was re-registered")
	}

	// The record itself is gone too.
	n := 0
	err := s.each(reservationsBucket, func(res.PropMap) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("%d records left, want 0", n)
	}
}
