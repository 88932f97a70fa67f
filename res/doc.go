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

// Package res implements the per-reservation ticket/lease state
// machine shared by the broker and authority roles.
//
// A Reservation tracks one ticket or lease negotiation end-to-end: a
// terminal state (Nascent, Ticketed, Active, ...), at most one pending
// sub-operation (Ticketing, Redeeming, Priming, ...), requested versus
// approved terms and resources, and a pair of sequence counters for
// ticket and lease messages.
//
// All mutation of a Reservation happens on its owning actor's single
// thread.  Nothing in this package locks.
package res
