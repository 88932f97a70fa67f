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

package store

import (
	"github.com/renlab/orca/kernel"
	"github.com/renlab/orca/res"
)

// Rebinder rebuilds an outbound callback proxy from a persisted peer
// identity.
type Rebinder func(identity string) res.Callback

// Revisit replays the database into a fresh kernel: slices first, then
// reservations.  Each reservation comes back marked recovering; its
// Recover decision either resumes it, queues a bid retry for the next
// tick, or defers a defensive close to the first tick.
//
// Terminal records are dropped from the database instead of being
// re-registered.
func (s *Bolt) Revisit(k *kernel.Kernel, deps res.Deps, rebind Rebinder) error {
	err := s.each(slicesBucket, func(p res.PropMap) error {
		sl, err := res.RestoreSliceProps(p, "")
		if err != nil {
			return err
		}
		return k.RegisterSlice(sl)
	})
	if err != nil {
		return err
	}

	var drop []string
	err = s.each(reservationsBucket, func(p res.PropMap) error {
		var slice *res.Slice
		if sid := p.GetString("slice"); sid != "" {
			var gerr error
			if slice, gerr = k.GetSlice(sid); gerr != nil {
				s.logger.Warn().Str("slice", sid).Msg("reservation names unknown slice")
				slice = nil
			}
		}

		r, err := res.Restore(p, "", slice, deps)
		if err != nil {
			return err
		}
		if r.IsTerminal() {
			drop = append(drop, r.ID())
			return nil
		}

		if id := r.SavedCallbackIdentity(); id != "" && rebind != nil {
			r.SetCallback(rebind(id))
		}

		action := r.Recover()
		if err := k.Register(r); err != nil {
			return err
		}
		if action == res.RecoverClose {
			k.DeferClose(r)
		}
		s.logger.Info().
			Str("rsv", r.ID()).
			Str("state", r.State().String()).
			Str("pending", r.Pending().String()).
			Str("action", action.String()).
			Msg("revisited")
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range drop {
		if err := s.RemoveReservation(id); err != nil {
			s.logger.Warn().Err(err).Str("rsv", id).Msg("dropping terminal record")
		}
	}
	return nil
}
