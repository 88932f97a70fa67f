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

// State is a reservation's terminal (major) phase.
type State int

const (
	Nascent State = iota
	Ticketed
	Active
	ActiveTicketed
	Closed
	CloseWait
	Failed
)

var stateNames = map[State]string{
	Nascent:        "Nascent",
	Ticketed:       "Ticketed",
	Active:         "Active",
	ActiveTicketed: "ActiveTicketed",
	Closed:         "Closed",
	CloseWait:      "CloseWait",
	Failed:         "Failed",
}

func (s State) String() string {
	if name, have := stateNames[s]; have {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further negotiation is possible.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// Pending is a reservation's in-flight sub-operation.  At most one is
// active at any time.
type Pending int

const (
	None Pending = iota
	Ticketing
	ExtendingTicket
	Redeeming
	ExtendingLease
	ModifyingLease
	Priming
	Closing
	AbsorbUpdate
	SendUpdate
)

var pendingNames = map[Pending]string{
	None:            "None",
	Ticketing:       "Ticketing",
	ExtendingTicket: "ExtendingTicket",
	Redeeming:       "Redeeming",
	ExtendingLease:  "ExtendingLease",
	ModifyingLease:  "ModifyingLease",
	Priming:         "Priming",
	Closing:         "Closing",
	AbsorbUpdate:    "AbsorbUpdate",
	SendUpdate:      "SendUpdate",
}

func (p Pending) String() string {
	if name, have := pendingNames[p]; have {
		return name
	}
	return fmt.Sprintf("Pending(%d)", int(p))
}

// Role says which side of the protocol a reservation is on.
type Role int

const (
	RoleClient Role = iota
	RoleBroker
	RoleAuthority
)

var roleNames = map[Role]string{
	RoleClient:    "client",
	RoleBroker:    "broker",
	RoleAuthority: "authority",
}

func (r Role) String() string {
	if name, have := roleNames[r]; have {
		return name
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseRole is the inverse of Role.String.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Op names a protocol operation for duplicate-request handling and
// RPC failure reporting.
type Op int

const (
	OpTicket Op = iota
	OpExtendTicket
	OpClaim
	OpRelinquish
	OpRedeem
	OpExtendLease
	OpModifyLease
	OpClose
	OpUpdateTicket
	OpUpdateLease
)

var opNames = map[Op]string{
	OpTicket:       "ticket",
	OpExtendTicket: "extend_ticket",
	OpClaim:        "claim",
	OpRelinquish:   "relinquish",
	OpRedeem:       "redeem",
	OpExtendLease:  "extend_lease",
	OpModifyLease:  "modify_lease",
	OpClose:        "close",
	OpUpdateTicket: "update_ticket",
	OpUpdateLease:  "update_lease",
}

func (o Op) String() string {
	if name, have := opNames[o]; have {
		return name
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// ParseOp is the inverse of Op.String.
func ParseOp(s string) (Op, error) {
	for o, name := range opNames {
		if name == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}
