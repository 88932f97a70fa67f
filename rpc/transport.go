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
	"fmt"
	"sync"
)

// Handler receives inbound envelopes.  Transports call it from their
// own goroutines; the service queues onto the actor before touching
// any state.
type Handler func(Envelope)

// Transport moves envelopes between actor identities.
type Transport interface {
	// Send delivers an envelope to its To identity.
	Send(env Envelope) error

	// Subscribe registers the handler for an identity's inbound
	// envelopes.
	Subscribe(identity string, h Handler) error

	// Close tears the transport down.
	Close() error
}

// Local is the in-process transport: actors in one process exchange
// envelopes through a handler table.  Delivery is synchronous; the
// receiving service immediately queues onto its own actor, so senders
// never block on remote work.
type Local struct {
	mu       sync.Mutex
	handlers map[string]Handler
	closed   bool
}

var _ Transport = (*Local)(nil)

// NewLocal makes an empty in-process transport.
func NewLocal() *Local {
	return &Local{handlers: map[string]Handler{}}
}

func (l *Local) Subscribe(identity string, h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("transport closed")
	}
	if _, have := l.handlers[identity]; have {
		return fmt.Errorf("identity %q already subscribed", identity)
	}
	l.handlers[identity] = h
	return nil
}

func (l *Local) Send(env Envelope) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("transport closed")
	}
	h, have := l.handlers[env.To]
	l.mu.Unlock()
	if !have {
		return fmt.Errorf("no subscriber for identity %q", env.To)
	}
	h(env)
	return nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handlers = map[string]Handler{}
	return nil
}
