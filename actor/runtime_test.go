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
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt := NewRuntime("test", zerolog.Nop(), nil)
	rt.Start()
	t.Cleanup(rt.Stop)
	return rt
}

// sync waits until the runtime has drained everything queued so far.
func syncRuntime(t *testing.T, rt *Runtime) {
	t.Helper()
	if _, err := rt.ExecuteAndWait(func() (interface{}, error) { return nil, nil }); err != nil {
		t.Fatal(err)
	}
}

func TestTimersRunBeforeEvents(t *testing.T) {
	rt := newTestRuntime(t)

	var order []string
	gate := make(chan struct{})

	// Hold the loop so both queues fill behind it.
	rt.Queue(func() { <-gate })
	rt.Queue(func() { order = append(order, "event") })
	rt.AddTimer(time.Millisecond, func() { order = append(order, "timer") })

	time.Sleep(50 * time.Millisecond) // let the timer reach its queue
	close(gate)
	syncRuntime(t, rt)

	if len(order) != 2 || order[0] != "timer" || order[1] != "event" {
		t.Fatalf("order %v", order)
	}
}

func TestExecuteAndWaitReturnsResult(t *testing.T) {
	rt := newTestRuntime(t)

	v, err := rt.ExecuteAndWait(func() (interface{}, error) { return 42, nil })
	if err != nil || v.(int) != 42 {
		t.Fatalf("%v, %v", v, err)
	}

	want := errors.New("nope")
	if _, err := rt.ExecuteAndWait(func() (interface{}, error) { return nil, want }); err != want {
		t.Fatalf("error %v", err)
	}
}

func TestExecuteAndWaitReentrant(t *testing.T) {
	rt := newTestRuntime(t)

	// A nested call from the actor thread must run in place instead of
	// deadlocking on its own queue.
	v, err := rt.ExecuteAndWait(func() (interface{}, error) {
		if !rt.OnActorThread() {
			t.Error("outer task off the actor thread")
		}
		return rt.ExecuteAndWait(func() (interface{}, error) { return "nested", nil })
	})
	if err != nil || v.(string) != "nested" {
		t.Fatalf("%v, %v", v, err)
	}
}

func TestExecuteAndWaitConvertsPanic(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.ExecuteAndWait(func() (interface{}, error) { panic("boom") })
	if err == nil {
		t.Fatal("panic lost")
	}
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Queue(func() { panic("boom") })
	syncRuntime(t, rt) // the loop must still be alive
}

func TestStoppedRuntime(t *testing.T) {
	rt := NewRuntime("test", zerolog.Nop(), nil)
	rt.Start()
	rt.Stop()
	rt.Stop() // idempotent

	if _, err := rt.ExecuteAndWait(func() (interface{}, error) { return nil, nil }); err != ErrStopped {
		t.Fatalf("error %v", err)
	}
	rt.Queue(func() { t.Error("queued after stop ran") })
	time.Sleep(20 * time.Millisecond)
}

func TestTimerCancel(t *testing.T) {
	rt := newTestRuntime(t)

	ran := make(chan struct{}, 1)
	tm := rt.AddTimer(time.Hour, func() { ran <- struct{}{} })
	if !tm.Cancel() {
		t.Fatal("pending timer not cancelled")
	}

	tm = rt.AddTimer(time.Millisecond, func() { ran <- struct{}{} })
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	if tm.Cancel() {
		t.Fatal("fired timer reported cancelled")
	}
}
