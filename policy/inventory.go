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

// Package policy provides allocation policies for brokers and
// authorities: a unit-counting inventory policy and a script policy
// that delegates bid decisions to ECMAScript.
package policy

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/renlab/orca/res"
)

// InventoryConfig configures an Inventory policy.
type InventoryConfig struct {
	// Type is the resource type label this pool serves.
	Type string `yaml:"type"`

	// Units is the initial pool size.
	Units int `yaml:"units"`

	// DeferOnShortage queues requests that do not fit instead of
	// denying them.  Queued requests are satisfied FIFO as units
	// come back.
	DeferOnShortage bool `yaml:"deferOnShortage"`
}

// Inventory is a unit-counting allocation policy over a single
// resource type.  It runs only on the owning actor's thread, so it
// carries no locking.
type Inventory struct {
	kind      string
	total     int
	available int

	// held maps reservation id to the units currently charged to it.
	held map[string]int

	// waiting is the FIFO of deferred bids.
	waiting []*waiter
	waiters map[string]*waiter

	deferOnShortage bool

	logger zerolog.Logger
}

type waiter struct {
	r      *res.Reservation
	units  int
	extend bool
}

var _ res.Policy = (*Inventory)(nil)

// NewInventory makes an inventory policy from its config.
func NewInventory(cfg InventoryConfig, logger zerolog.Logger) *Inventory {
	return &Inventory{
		kind:            cfg.Type,
		total:           cfg.Units,
		available:       cfg.Units,
		held:            map[string]int{},
		waiters:         map[string]*waiter{},
		deferOnShortage: cfg.DeferOnShortage,
		logger:          logger.With().Str("policy", "inventory").Str("type", cfg.Type).Logger(),
	}
}

// Available is the current free unit count.
func (i *Inventory) Available() int { return i.available }

// Total is the pool size including held units.
func (i *Inventory) Total() int { return i.total }

// Held is the unit count charged to the given reservation.
func (i *Inventory) Held(id string) int { return i.held[id] }

func (i *Inventory) check(r *res.Reservation) (int, error) {
	rs := r.Requested()
	if rs == nil {
		return 0, fmt.Errorf("reservation %s has no requested resources", r.ID())
	}
	if rs.Type() != i.kind {
		return 0, fmt.Errorf("resource type %q not served by this pool (%q)", rs.Type(), i.kind)
	}
	return rs.Units(), nil
}

// Bind decides an initial ticket or redeem bid against the pool.
func (i *Inventory) Bind(r *res.Reservation) (res.Outcome, error) {
	n, err := i.check(r)
	if err != nil {
		return res.Denied, err
	}
	if n <= 0 {
		return res.Denied, nil
	}
	if n <= i.available {
		i.grant(r, n)
		return res.Granted, nil
	}
	return i.shortage(r, n, false)
}

// Extend decides an extension.  A changed unit count adjusts the
// reservation's charge by the difference.
func (i *Inventory) Extend(r *res.Reservation) (res.Outcome, error) {
	n, err := i.check(r)
	if err != nil {
		return res.Denied, err
	}
	if n <= 0 {
		return res.Denied, nil
	}
	if t := r.RequestedTerm(); !r.ApprovedTerm().Zero() && !t.Zero() && !t.Extends(r.ApprovedTerm()) && t != r.ApprovedTerm() {
		return res.Denied, fmt.Errorf("term %s does not extend %s", t, r.ApprovedTerm())
	}

	delta := n - i.held[r.ID()]
	if delta <= i.available {
		i.grant(r, n)
		return res.Granted, nil
	}
	return i.shortage(r, n, true)
}

// grant charges the pool and records the approval on the reservation.
func (i *Inventory) grant(r *res.Reservation, n int) {
	id := r.ID()
	i.available -= n - i.held[id]
	i.held[id] = n
	i.dropWaiter(id)
	r.SetApproved(res.NewUnitSet(i.kind, n), r.RequestedTerm())
	i.logger.Debug().Str("rsv", id).Int("units", n).Int("available", i.available).Msg("granted")
}

func (i *Inventory) shortage(r *res.Reservation, n int, extend bool) (res.Outcome, error) {
	if !i.deferOnShortage {
		return res.Denied, nil
	}
	id := r.ID()
	if w, ok := i.waiters[id]; ok {
		w.units, w.extend = n, extend
		return res.Deferred, nil
	}
	w := &waiter{r: r, units: n, extend: extend}
	i.waiters[id] = w
	i.waiting = append(i.waiting, w)
	i.logger.Debug().Str("rsv", id).Int("units", n).Msg("deferred on shortage")
	return res.Deferred, nil
}

// Close returns a closing reservation's units to the pool.  Units that
// already failed out of the allocation came back through Release, so
// only the live count is credited.
func (i *Inventory) Close(r *res.Reservation) {
	id := r.ID()
	n, ok := i.held[id]
	if !ok {
		i.dropWaiter(id)
		return
	}
	live := n
	if ls := r.Leased(); ls != nil && ls.Units() < live {
		live = ls.Units()
	}
	i.available += live
	delete(i.held, id)
	i.dropWaiter(id)
	i.logger.Debug().Str("rsv", id).Int("units", live).Int("available", i.available).Msg("released on close")
}

// CorrectDeficit is consulted when priming came up short.  The pool has
// nothing concrete to repair; the reservation retries the shortfall as
// an extension.
func (i *Inventory) CorrectDeficit(r *res.Reservation) error {
	return nil
}

// Donate grows the pool.
func (i *Inventory) Donate(rs res.Resources) error {
	if rs.Type() != i.kind {
		return fmt.Errorf("cannot donate %q units to a %q pool", rs.Type(), i.kind)
	}
	i.total += rs.Units()
	i.available += rs.Units()
	return nil
}

// Eject forcibly shrinks the pool by the given units.
func (i *Inventory) Eject(rs res.Resources) error {
	if rs.Type() != i.kind {
		return fmt.Errorf("cannot eject %q units from a %q pool", rs.Type(), i.kind)
	}
	n := rs.Units()
	if n > i.available {
		return fmt.Errorf("eject %d: only %d available", n, i.available)
	}
	i.total -= n
	i.available -= n
	return nil
}

// Release returns harvested units to the pool.  The holder's charge is
// left alone; Close reconciles it by crediting only the units still
// live on the leased set.
func (i *Inventory) Release(rs res.Resources) error {
	if rs.Type() != i.kind {
		return fmt.Errorf("cannot release %q units to a %q pool", rs.Type(), i.kind)
	}
	i.available += rs.Units()
	return nil
}

// Free returns ticketed-but-never-redeemed units to the pool.
func (i *Inventory) Free(units int) error {
	if units < 0 {
		return fmt.Errorf("free %d units", units)
	}
	i.available += units
	return nil
}

// Prepare satisfies deferred bids FIFO from whatever came back since
// the last cycle.  A satisfied waiter advances on its next probe
// without another consultation.
func (i *Inventory) Prepare(cycle int64) {
	if len(i.waiting) == 0 {
		return
	}
	var still []*waiter
	for _, w := range i.waiting {
		if _, ok := i.waiters[w.r.ID()]; !ok {
			continue
		}
		if w.r.IsTerminal() {
			delete(i.waiters, w.r.ID())
			continue
		}
		delta := w.units - i.held[w.r.ID()]
		if delta <= i.available {
			i.grant(w.r, w.units)
			w.r.SetBidSatisfied()
			continue
		}
		still = append(still, w)
	}
	i.waiting = still
}

// Finish has nothing to do for a unit pool.
func (i *Inventory) Finish(cycle int64) {}

func (i *Inventory) dropWaiter(id string) {
	if _, ok := i.waiters[id]; !ok {
		return
	}
	delete(i.waiters, id)
	for n, w := range i.waiting {
		if w.r.ID() == id {
			i.waiting = append(i.waiting[:n], i.waiting[n+1:]...)
			break
		}
	}
}
