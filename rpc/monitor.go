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

package rpc

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renlab/orca/actor"
	"github.com/renlab/orca/res"
)

// ErrTimeout is the synthesized error for a reply that never arrived.
var ErrTimeout = errors.New("rpc timeout")

// FailureSink receives synthesized and explicit RPC failures for one
// reservation.  The service behind it queues onto the owning actor.
type FailureSink func(reservation string, f res.RPCFailure)

// Monitor watches outstanding outbound calls.  A call is keyed by
// reservation and sequence kind: an update of the right kind satisfies
// the oldest outstanding call for that reservation, and a call that is
// never satisfied fires a synthesized timeout failure through the
// sink.
//
// Timers run on the owning actor's timer queue, so a timeout and the
// reply it races with are serialized by the actor loop.
type Monitor struct {
	rt      *actor.Runtime
	sink    FailureSink
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[callKey]*call
}

type callKey struct {
	reservation string
	kind        res.SeqKind
}

type call struct {
	op        res.Op
	messageID string
	remote    string
	timer     *actor.Timer
}

// NewMonitor makes a monitor delivering failures through sink after
// timeout.
func NewMonitor(rt *actor.Runtime, sink FailureSink, timeout time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		rt:      rt,
		sink:    sink,
		timeout: timeout,
		logger:  logger.With().Str("rpc", "monitor").Logger(),
		pending: map[callKey]*call{},
	}
}

// Arm starts the clock on an outbound call.  Re-arming the same
// (reservation, kind) replaces the older watch; the protocol allows at
// most one in-flight operation per kind.
func (m *Monitor) Arm(op res.Op, reservation, messageID, remote string) {
	if m.timeout <= 0 {
		return
	}
	key := callKey{reservation: reservation, kind: res.KindForOp(op)}

	c := &call{op: op, messageID: messageID, remote: remote}
	c.timer = m.rt.AddTimer(m.timeout, func() {
		m.expire(key, c)
	})

	m.mu.Lock()
	if old, have := m.pending[key]; have {
		old.timer.Cancel()
	}
	m.pending[key] = c
	m.mu.Unlock()
}

// Satisfy cancels the watch for the given reservation and kind.
// Returns false when nothing was outstanding.
func (m *Monitor) Satisfy(reservation string, kind res.SeqKind) bool {
	key := callKey{reservation: reservation, kind: kind}
	m.mu.Lock()
	c, have := m.pending[key]
	if have {
		delete(m.pending, key)
	}
	m.mu.Unlock()
	if !have {
		return false
	}
	c.timer.Cancel()
	return true
}

// expire runs on the actor thread when a watch fires.
func (m *Monitor) expire(key callKey, c *call) {
	m.mu.Lock()
	cur, have := m.pending[key]
	if !have || cur != c {
		// Already satisfied or replaced.
		m.mu.Unlock()
		return
	}
	delete(m.pending, key)
	m.mu.Unlock()

	m.logger.Warn().
		Str("rsv", key.reservation).
		Str("op", c.op.String()).
		Str("msg-id", c.messageID).
		Msg("call timed out")

	m.sink(key.reservation, res.RPCFailure{
		Op:             c.op,
		MessageID:      c.messageID,
		RemoteIdentity: c.remote,
		Err:            ErrTimeout,
	})
}

// Outstanding is the number of watched calls.
func (m *Monitor) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// KernelSink makes the standard failure sink: apply the failure to the
// actor's kernel.  Monitor timers already run on the actor thread, so
// no re-queueing is needed here.
func KernelSink(a *actor.Actor, logger zerolog.Logger) FailureSink {
	return func(reservation string, f res.RPCFailure) {
		k := a.Kernel()
		r, err := k.Get(reservation)
		if err != nil {
			logger.Warn().Str("rsv", reservation).Msg("failure for unknown reservation")
			return
		}
		if err := k.FailRPC(r, f); err != nil {
			logger.Warn().Err(err).Str("rsv", reservation).Msg("failure not applied")
		}
	}
}
