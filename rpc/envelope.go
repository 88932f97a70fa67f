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

// Package rpc carries the leasing protocol between actors: JSON
// envelopes over a pluggable transport (in-process or MQTT), an
// inbound dispatch service per actor, outbound callback proxies, and a
// timeout monitor that synthesizes failures for missing replies.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/renlab/orca/res"
)

// OpFailed is the envelope op for an explicit negative reply.  It is
// not a reservation operation; the failing op rides in FailedOp.
const OpFailed = "failed"

// Envelope is one protocol message on the wire.
type Envelope struct {
	// Op is a res.Op name, or OpFailed.
	Op string `json:"op"`

	// MessageID identifies this message for logging and correlation.
	MessageID string `json:"msgID"`

	// Reservation is the negotiation id shared by both sides.
	Reservation string `json:"rsv"`

	// Slice names the requesting side's slice, carried so the
	// serving side can group its view the same way.
	Slice string `json:"slice,omitempty"`

	// From is the sender's identity; replies and failures go back
	// to it.
	From string `json:"from"`

	// To is the destination identity.
	To string `json:"to"`

	// Seq is the sender's outbound sequence number for this message
	// kind.
	Seq int64 `json:"seq"`

	// Type and Units describe the requested or granted resources.
	Type  string `json:"type,omitempty"`
	Units int    `json:"units,omitempty"`

	// Active and Closed carry the granted set's concrete state on
	// updates, so the receiving side rebuilds it exactly.
	Active bool `json:"active,omitempty"`
	Closed bool `json:"closed,omitempty"`

	// Term is the requested or granted allocation window.
	Term res.Term `json:"term,omitempty"`

	// Update carries failure flags and notices on updates.
	Update res.UpdateData `json:"update,omitempty"`

	// FailedOp names the operation that failed when Op is OpFailed.
	FailedOp string `json:"failedOp,omitempty"`

	// Reason is the failure description when Op is OpFailed.
	Reason string `json:"reason,omitempty"`
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode unmarshals a wire payload.
func Decode(payload []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Op == "" {
		return Envelope{}, fmt.Errorf("envelope without op")
	}
	if e.Reservation == "" && e.Op != OpFailed {
		return Envelope{}, fmt.Errorf("envelope %q without reservation", e.Op)
	}
	return e, nil
}

// Resources rebuilds the envelope's resource set, or nil when it
// carries none.
func (e Envelope) Resources() res.Resources {
	if e.Type == "" {
		return nil
	}
	u := res.NewUnitSet(e.Type, e.Units)
	if e.Active {
		u.Activate()
	}
	if e.Closed {
		u.ServiceClose()
	}
	return u
}
