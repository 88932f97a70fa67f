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

package mgmt

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/renlab/orca/actor"
	"github.com/renlab/orca/kernel"
	"github.com/renlab/orca/metrics"
	"github.com/renlab/orca/policy"
	"github.com/renlab/orca/res"
)

func newTestServer(t *testing.T) (*Server, *actor.Actor, *res.Reservation) {
	t.Helper()
	log := zerolog.Nop()

	m := metrics.New("broker-1")
	pool := policy.NewInventory(policy.InventoryConfig{Type: "vm", Units: 10}, log)
	rt := actor.NewRuntime("broker-1", log, m)
	feed := NewFeed(log)
	k := kernel.New(nil, feed.Listener("broker-1"), log, m)
	a := actor.New("broker-1", res.RoleBroker, rt, k, pool, log)
	a.Start()
	t.Cleanup(a.Stop)

	slice := res.NewSlice("tenant-a", res.ClientSlice)
	r := res.NewBrokerReservation("rsv-1", slice,
		res.NewUnitSet("vm", 3), res.NewTerm(time.Hour), nil,
		res.Deps{Policy: pool, Logger: log})

	if _, err := rt.ExecuteAndWait(func() (interface{}, error) {
		if err := k.RegisterSlice(slice); err != nil {
			return nil, err
		}
		if err := k.Register(r); err != nil {
			return nil, err
		}
		return nil, k.Ticket(r)
	}); err != nil {
		t.Fatal(err)
	}

	s := NewServer("127.0.0.1:0", feed, log)
	s.Register(a, m.Registry)
	return s, a, r
}

func get(t *testing.T, h http.Handler, path string, into interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if into != nil && w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
			t.Fatalf("%s: %s", path, err)
		}
	}
	return w
}

func TestListActorsAndReservations(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	var actors []actorInfo
	if w := get(t, h, "/actors", &actors); w.Code != http.StatusOK {
		t.Fatalf("/actors: %d", w.Code)
	}
	if len(actors) != 1 || actors[0].Name != "broker-1" || actors[0].Role != "broker" {
		t.Fatalf("actors %+v", actors)
	}
	if actors[0].Reservations != 1 {
		t.Fatalf("reservations %d, want 1", actors[0].Reservations)
	}

	var rsvs []kernel.ReservationInfo
	if w := get(t, h, "/actors/broker-1/reservations", &rsvs); w.Code != http.StatusOK {
		t.Fatalf("/reservations: %d", w.Code)
	}
	if len(rsvs) != 1 || rsvs[0].ID != "rsv-1" {
		t.Fatalf("reservations %+v", rsvs)
	}
	if rsvs[0].State != "Ticketed" || rsvs[0].Pending != "Priming" {
		t.Fatalf("snapshot %s/%s", rsvs[0].State, rsvs[0].Pending)
	}

	var one kernel.ReservationInfo
	if w := get(t, h, "/actors/broker-1/reservations/rsv-1", &one); w.Code != http.StatusOK {
		t.Fatalf("single reservation: %d", w.Code)
	}
	if one.RequestedUnits != 3 {
		t.Fatalf("requested units %d", one.RequestedUnits)
	}

	if w := get(t, h, "/actors/nobody/reservations", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown actor: %d", w.Code)
	}
}

func TestCloseReservation(t *testing.T) {
	s, a, r := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest("POST", "/actors/broker-1/reservations/rsv-1/close", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("close: %d %s", w.Code, w.Body.String())
	}

	if _, err := a.Runtime().ExecuteAndWait(func() (interface{}, error) {
		if !r.IsClosed() {
			t.Errorf("state %s, want Closed", r.State())
		}
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, a, _ := newTestServer(t)
	a.ExternalTick(1)

	h := s.Handler()
	w := get(t, h, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "orca_reservations_registered_total") {
		t.Fatal("registered counter missing from exposition")
	}
}
