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

// Package mgmt is the management surface: an HTTP API over the actors'
// kernels, prometheus metrics, and a websocket feed of reservation
// lifecycle events.
package mgmt

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/renlab/orca/kernel"
)

// FeedEvent is one lifecycle event on the wire, tagged with the actor
// it came from.
type FeedEvent struct {
	Actor string `json:"actor"`
	kernel.Event
}

// Feed fans kernel lifecycle events out to websocket subscribers.
// Kernel listeners run on actor threads, so publishing never blocks:
// a subscriber that cannot keep up is dropped.
type Feed struct {
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[chan FeedEvent]struct{}
}

// NewFeed makes an empty feed.
func NewFeed(logger zerolog.Logger) *Feed {
	return &Feed{
		logger: logger.With().Str("mgmt", "feed").Logger(),
		subs:   map[chan FeedEvent]struct{}{},
	}
}

// Listener makes the kernel listener publishing one actor's events
// into the feed.
func (f *Feed) Listener(actor string) kernel.Listener {
	return func(ev kernel.Event) {
		f.publish(FeedEvent{Actor: actor, Event: ev})
	}
}

func (f *Feed) publish(ev FeedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
			f.logger.Warn().Msg("dropping slow event subscriber")
			close(ch)
			delete(f.subs, ch)
		}
	}
}

func (f *Feed) subscribe() chan FeedEvent {
	ch := make(chan FeedEvent, 64)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *Feed) unsubscribe(ch chan FeedEvent) {
	f.mu.Lock()
	if _, have := f.subs[ch]; have {
		delete(f.subs, ch)
		close(ch)
	}
	f.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is operator-facing; same-origin enforcement happens at
	// the deployment's proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serve upgrades the request and streams events until the client goes
// away or falls behind.
func (f *Feed) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	ch := f.subscribe()
	defer f.unsubscribe(ch)

	// Reader loop just to notice closure.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
