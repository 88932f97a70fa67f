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

// Package metrics holds the prometheus instrumentation shared by the
// kernel and the actor runtime.  A nil *Set is a no-op everywhere, so
// tests and tools can skip instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Set struct {
	Registry *prometheus.Registry

	registered prometheus.Counter
	purged     prometheus.Counter
	failed     prometheus.Counter
	ticks      prometheus.Counter
	events     prometheus.Counter
	timers     prometheus.Counter
	rpcFails   prometheus.Counter
	queueDepth prometheus.Gauge
	pending    prometheus.Gauge
}

// New makes a Set registered on its own registry.
func New(actor string) *Set {
	labels := prometheus.Labels{"actor": actor}
	s := &Set{
		Registry: prometheus.NewRegistry(),
		registered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orca_reservations_registered_total", Help: "Reservations registered with the kernel.", ConstLabels: labels}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orca_reservations_purged_total", Help: "Closed reservations purged.", ConstLabels: labels}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orca_reservations_failed_total", Help: "Reservations that entered Failed.", ConstLabels: labels}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orca_kernel_ticks_total", Help: "Kernel tick cycles processed.", ConstLabels: labels}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orca_actor_events_total", Help: "Events executed by the actor loop.", ConstLabels: labels}),
		timers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orca_actor_timers_total", Help: "Timer tasks executed by the actor loop.", ConstLabels: labels}),
		rpcFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orca_rpc_failures_total", Help: "RPC failures delivered, including synthesized timeouts.", ConstLabels: labels}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orca_actor_queue_depth", Help: "Work items waiting in the actor queues.", ConstLabels: labels}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orca_reservations_pending", Help: "Reservations with an in-flight sub-operation.", ConstLabels: labels}),
	}
	s.Registry.MustRegister(s.registered, s.purged, s.failed, s.ticks,
		s.events, s.timers, s.rpcFails, s.queueDepth, s.pending)
	return s
}

func (s *Set) Registered() {
	if s != nil {
		s.registered.Inc()
	}
}

func (s *Set) Purged() {
	if s != nil {
		s.purged.Inc()
	}
}

func (s *Set) Failed() {
	if s != nil {
		s.failed.Inc()
	}
}

func (s *Set) Tick() {
	if s != nil {
		s.ticks.Inc()
	}
}

func (s *Set) Event() {
	if s != nil {
		s.events.Inc()
	}
}

func (s *Set) Timer() {
	if s != nil {
		s.timers.Inc()
	}
}

func (s *Set) RPCFailure() {
	if s != nil {
		s.rpcFails.Inc()
	}
}

func (s *Set) QueueDepth(n int) {
	if s != nil {
		s.queueDepth.Set(float64(n))
	}
}

func (s *Set) Pending(n int) {
	if s != nil {
		s.pending.Set(float64(n))
	}
}
