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

// Package actor implements the single-threaded actor execution model:
// one goroutine per actor, an event queue and a timer queue under one
// lock, and a tick loop that calls into the kernel.
//
// Cross-thread callers never touch kernel or policy state directly;
// everything funnels through Queue or ExecuteAndWait, which serialize
// all mutation on the actor's goroutine and eliminate the need for
// locking inside the kernel and policies.
package actor

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renlab/orca/metrics"
)

// ErrStopped is returned by ExecuteAndWait after the loop has exited.
var ErrStopped = errors.New("actor stopped")

// Task is one unit of queued work.
type Task func()

// Runtime is the per-actor work loop.  Events and timer tasks are two
// FIFO queues sharing one lock and condition; the loop drains both
// atomically, then executes every item outside the lock, logging (not
// propagating) any panic so one bad item cannot kill the loop.
type Runtime struct {
	name    string
	logger  zerolog.Logger
	metrics *metrics.Set

	mu     sync.Mutex
	cond   *sync.Cond
	events []Task
	timers []Task

	stopped bool
	exited  bool
	done    chan struct{}
	gid     uint64
}

// NewRuntime makes a runtime; call Start to spawn its goroutine.
func NewRuntime(name string, logger zerolog.Logger, m *metrics.Set) *Runtime {
	rt := &Runtime{
		name:    name,
		logger:  logger.With().Str("actor", name).Logger(),
		metrics: m,
		done:    make(chan struct{}),
	}
	rt.cond = sync.NewCond(&rt.mu)
	return rt
}

func (rt *Runtime) Name() string { return rt.name }

// Start spawns the actor goroutine.
func (rt *Runtime) Start() {
	go rt.loop()
}

func (rt *Runtime) loop() {
	rt.mu.Lock()
	rt.gid = gid()
	rt.mu.Unlock()

	for {
		rt.mu.Lock()
		for len(rt.events) == 0 && len(rt.timers) == 0 && !rt.stopped {
			rt.cond.Wait()
		}
		if rt.stopped {
			rt.exited = true
			rt.mu.Unlock()
			break
		}
		events, timers := rt.events, rt.timers
		rt.events, rt.timers = nil, nil
		rt.metrics.QueueDepth(0)
		rt.mu.Unlock()

		for _, f := range timers {
			rt.run(f)
			rt.metrics.Timer()
		}
		for _, f := range events {
			rt.run(f)
			rt.metrics.Event()
		}
	}
	close(rt.done)
}

// run executes one work item, containing any panic.
func (rt *Runtime) run(f Task) {
	defer func() {
		if x := recover(); x != nil {
			rt.logger.Error().Interface("panic", x).Msg("work item panicked")
		}
	}()
	f()
}

// Queue appends an event.  After the loop has exited this is a silent
// no-op.
func (rt *Runtime) Queue(f Task) {
	rt.queue(&rt.events, f)
}

// queueTimer appends a fired timer's task to the timer queue.
func (rt *Runtime) queueTimer(f Task) bool {
	return rt.queue(&rt.timers, f)
}

func (rt *Runtime) queue(q *[]Task, f Task) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.stopped {
		return false
	}
	*q = append(*q, f)
	rt.metrics.QueueDepth(len(rt.events) + len(rt.timers))
	rt.cond.Signal()
	return true
}

// Stop sets the stopped flag, wakes the loop, and joins the goroutine.
// Work already dequeued runs to completion.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	if rt.stopped {
		rt.mu.Unlock()
		<-rt.done
		return
	}
	rt.stopped = true
	rt.cond.Broadcast()
	rt.mu.Unlock()
	<-rt.done
}

// OnActorThread reports whether the caller is the actor's own
// goroutine.
func (rt *Runtime) OnActorThread() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.gid != 0 && rt.gid == gid()
}

// ExecuteAndWait runs f on the actor thread and returns its result.
// Called from the actor's own goroutine it runs f synchronously in
// place (no deadlock); from a foreign goroutine it queues f with a
// completion signal and blocks until the actor processes it.  The
// task's error (or panic, converted) comes back to the caller.
func (rt *Runtime) ExecuteAndWait(f func() (interface{}, error)) (interface{}, error) {
	if rt.OnActorThread() {
		return f()
	}

	type outcome struct {
		v   interface{}
		err error
	}
	ch := make(chan outcome, 1)

	ok := rt.queue(&rt.events, func() {
		defer func() {
			if x := recover(); x != nil {
				ch <- outcome{nil, fmt.Errorf("task panic: %v", x)}
			}
		}()
		v, err := f()
		ch <- outcome{v, err}
	})
	if !ok {
		return nil, ErrStopped
	}

	select {
	case out := <-ch:
		return out.v, out.err
	case <-rt.done:
		// Stopped with our task still queued.
		select {
		case out := <-ch:
			return out.v, out.err
		default:
			return nil, ErrStopped
		}
	}
}

// Timer is a cancellable scheduled task.
type Timer struct {
	rt *Runtime
	t  *time.Timer

	mu     sync.Mutex
	queued bool
}

// AddTimer schedules f to run on the actor thread after d.
func (rt *Runtime) AddTimer(d time.Duration, f Task) *Timer {
	tm := &Timer{rt: rt}
	tm.t = time.AfterFunc(d, func() {
		tm.mu.Lock()
		tm.queued = true
		tm.mu.Unlock()
		rt.queueTimer(f)
	})
	return tm
}

// Cancel stops the timer.  Returns false when the task already reached
// the timer queue; a dequeued item cannot be cancelled, only run.
func (tm *Timer) Cancel() bool {
	stopped := tm.t.Stop()
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return stopped && !tm.queued
}

// gid parses the current goroutine's id from its stack header
// ("goroutine N [running]:").  Used only to detect re-entrant
// ExecuteAndWait calls.
func gid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
