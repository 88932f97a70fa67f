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

package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"github.com/renlab/orca/res"
)

// Script wraps an Inventory with an ECMAScript admission gate.  The
// script sees each bid before the pool does and can grant, defer, deny,
// or trim the request.
//
// The script source must evaluate to a function:
//
//	function (bid) {
//	    // bid: {id, role, type, units, held, available, total,
//	    //       extend, start, end}
//	    if (bid.units > 4) return {outcome: "grant", units: 4};
//	    return "grant";     // or "defer", "deny"
//	}
//
// Returning "grant" passes the (possibly trimmed) bid to the pool,
// which still applies its own capacity check.
type Script struct {
	*Inventory

	vm     *goja.Runtime
	decide goja.Callable
	logger zerolog.Logger
}

var _ res.Policy = (*Script)(nil)

// NewScript compiles src and wraps the given inventory pool.
func NewScript(src string, pool *Inventory, logger zerolog.Logger) (*Script, error) {
	vm := goja.New()
	wrapped := fmt.Sprintf("(function() {\nreturn %s\n}());\n", strings.TrimSpace(src))
	v, err := vm.RunScript("policy", wrapped)
	if err != nil {
		return nil, fmt.Errorf("compile policy script: %w", err)
	}
	decide, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("policy script did not evaluate to a function")
	}
	return &Script{
		Inventory: pool,
		vm:        vm,
		decide:    decide,
		logger:    logger.With().Str("policy", "script").Logger(),
	}, nil
}

// decision is what the script returned, normalized.
type decision struct {
	outcome res.Outcome
	units   int // 0 means leave the request alone
}

func (s *Script) consult(r *res.Reservation, extend bool) (decision, error) {
	rs := r.Requested()
	if rs == nil {
		return decision{}, fmt.Errorf("reservation %s has no requested resources", r.ID())
	}
	bid := map[string]interface{}{
		"id":        r.ID(),
		"role":      r.Role().String(),
		"type":      rs.Type(),
		"units":     rs.Units(),
		"held":      s.Held(r.ID()),
		"available": s.Available(),
		"total":     s.Total(),
		"extend":    extend,
	}
	if t := r.RequestedTerm(); !t.Zero() {
		bid["start"] = t.Start.Format(time.RFC3339)
		bid["end"] = t.End.Format(time.RFC3339)
	}

	v, err := s.decide(goja.Undefined(), s.vm.ToValue(bid))
	if err != nil {
		return decision{}, fmt.Errorf("policy script: %w", err)
	}
	return s.normalize(v)
}

func (s *Script) normalize(v goja.Value) (decision, error) {
	var name string
	var units int64
	switch x := v.Export().(type) {
	case string:
		name = x
	case map[string]interface{}:
		if o, ok := x["outcome"].(string); ok {
			name = o
		}
		switch u := x["units"].(type) {
		case int64:
			units = u
		case float64:
			units = int64(u)
		}
	default:
		return decision{}, fmt.Errorf("policy script returned %T", x)
	}

	d := decision{units: int(units)}
	switch strings.ToLower(name) {
	case "grant", "granted":
		d.outcome = res.Granted
	case "defer", "deferred":
		d.outcome = res.Deferred
	case "deny", "denied":
		d.outcome = res.Denied
	default:
		return decision{}, fmt.Errorf("policy script returned outcome %q", name)
	}
	return d, nil
}

// Bind runs the script gate, then the pool.
func (s *Script) Bind(r *res.Reservation) (res.Outcome, error) {
	return s.gated(r, false)
}

// Extend runs the script gate, then the pool.
func (s *Script) Extend(r *res.Reservation) (res.Outcome, error) {
	return s.gated(r, true)
}

func (s *Script) gated(r *res.Reservation, extend bool) (res.Outcome, error) {
	d, err := s.consult(r, extend)
	if err != nil {
		return res.Denied, err
	}
	switch d.outcome {
	case res.Deferred:
		return res.Deferred, nil
	case res.Denied:
		return res.Denied, nil
	}
	if d.units > 0 && d.units < r.Requested().Units() {
		s.logger.Debug().Str("rsv", r.ID()).
			Int("requested", r.Requested().Units()).
			Int("trimmed", d.units).
			Msg("script trimmed bid")
		r.SetRequested(res.NewUnitSet(r.Requested().Type(), d.units), r.RequestedTerm())
	}
	if extend {
		return s.Inventory.Extend(r)
	}
	return s.Inventory.Bind(r)
}
