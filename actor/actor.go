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

package actor

import (
	"github.com/rs/zerolog"

	"github.com/renlab/orca/kernel"
	"github.com/renlab/orca/res"
)

// Actor ties one runtime to one kernel and one policy: an authority,
// broker, or controller participant.
type Actor struct {
	name   string
	role   res.Role
	rt     *Runtime
	kernel *kernel.Kernel
	policy res.Policy
	logger zerolog.Logger

	// TickHook, if set, runs once per processed cycle between the
	// policy's Prepare and Finish.  Role-specific work (inventory
	// sweeps, expiring terms) goes here.
	TickHook func(cycle int64)

	firstTick bool
	lastCycle int64
}

// New makes an actor around an already-constructed runtime and kernel.
func New(name string, role res.Role, rt *Runtime, k *kernel.Kernel, policy res.Policy, logger zerolog.Logger) *Actor {
	return &Actor{
		name:      name,
		role:      role,
		rt:        rt,
		kernel:    k,
		policy:    policy,
		logger:    logger.With().Str("actor", name).Logger(),
		firstTick: true,
	}
}

func (a *Actor) Name() string           { return a.name }
func (a *Actor) Role() res.Role         { return a.role }
func (a *Actor) Runtime() *Runtime      { return a.rt }
func (a *Actor) Kernel() *kernel.Kernel { return a.kernel }
func (a *Actor) Policy() res.Policy     { return a.policy }

// Start spawns the actor's goroutine.
func (a *Actor) Start() { a.rt.Start() }

// Stop joins the actor's goroutine.
func (a *Actor) Stop() { a.rt.Stop() }

// ExternalTick enqueues a tick event so that clock advancement is
// serialized through the same queue as everything else.
func (a *Actor) ExternalTick(cycle int64) {
	a.rt.Queue(func() { a.tick(cycle) })
}

// tick replays every missed cycle one at a time; a cycle is never
// skipped.  On the first processed tick, reservations queued for
// deferred closure during recovery are flushed.
func (a *Actor) tick(cycle int64) {
	for c := a.lastCycle + 1; c <= cycle; c++ {
		if a.policy != nil {
			a.policy.Prepare(c)
		}
		if a.firstTick {
			a.kernel.FlushDeferredClose()
			a.firstTick = false
		}
		if a.TickHook != nil {
			a.TickHook(c)
		}
		if a.policy != nil {
			a.policy.Finish(c)
		}
		a.kernel.Tick()
		a.lastCycle = c
	}
}

// LastCycle is the most recently processed cycle.  Call on the actor
// thread (e.g. via ExecuteAndWait).
func (a *Actor) LastCycle() int64 { return a.lastCycle }
