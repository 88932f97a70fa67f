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

package res

import "fmt"

// RPCFailure is a failed or missing RPC reply, delivered to the owning
// actor's event queue like any other event.  A synthesized timeout and
// an explicit negative reply arrive through the same path.
type RPCFailure struct {
	Op             Op
	MessageID      string
	RemoteIdentity string
	Err            error
}

// AuthError occurs when an RPC failure claims a remote identity that
// does not match the reservation's registered callback identity.
type AuthError struct {
	ID         string
	Claimed    string
	Registered string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("reservation %s: failure claims identity %q, callback registered %q",
		e.ID, e.Claimed, e.Registered)
}

// HandleFailedRPC validates the claimed remote identity and, when it
// matches, records the failure.  A mismatch returns an AuthError and
// leaves the reservation unchanged.
//
// Retry is tick-driven: the next ProbePending either regenerates the
// outbound update or leaves the reservation failed.  There is no
// immediate re-dispatch here.
func (r *Reservation) HandleFailedRPC(f RPCFailure) error {
	if r.CallbackIdentity() != f.RemoteIdentity {
		return &AuthError{ID: r.id, Claimed: f.RemoteIdentity, Registered: r.CallbackIdentity()}
	}

	msg := fmt.Sprintf("%s failed", f.Op)
	if f.Err != nil {
		msg = fmt.Sprintf("%s failed: %s", f.Op, f.Err)
	}
	r.logger.Warn().Str("op", f.Op.String()).Str("msg-id", f.MessageID).Msg("rpc failure accepted")

	r.update.Error(msg)
	r.lastErr = msg
	r.service = None
	r.retryUpdate = true
	r.transition(Failed, None)
	return nil
}
