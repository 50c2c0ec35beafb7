/*
 * Copyright 2026 The Inkwell Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package time provides the logical clock used to order CRDT operations.
package time

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
)

// InitialLamport is the initial value of the Lamport timestamp.
const InitialLamport = 0

// Ticket is the logical clock identifying a CRDT operation and the node it
// created. Tickets are totally ordered by (Lamport, Client) so concurrent
// operations resolve the same way on every replica. A ticket cannot tell
// whether two operations were causally related or concurrent.
type Ticket struct {
	Lamport int64  `cbor:"1,keyasint" json:"lamport"`
	Client  uint32 `cbor:"2,keyasint" json:"client"`
}

// InitialTicket is the ticket of the sentinel head node.
var InitialTicket = Ticket{Lamport: InitialLamport, Client: 0}

// NewTicket creates a ticket with the given lamport value and client id.
func NewTicket(lamport int64, client uint32) Ticket {
	return Ticket{Lamport: lamport, Client: client}
}

// After returns true if this ticket orders after the given ticket.
func (t Ticket) After(other Ticket) bool {
	if t.Lamport != other.Lamport {
		return t.Lamport > other.Lamport
	}
	return t.Client > other.Client
}

// Key returns a string representation usable in logs and debug output.
func (t Ticket) Key() string {
	return strconv.FormatInt(t.Lamport, 10) + ":" + strconv.FormatUint(uint64(t.Client), 10)
}

// NewClientID generates a random client id distinguishing concurrent
// editors of the same document. Zero is reserved for the sentinel.
func NewClientID() uint32 {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			panic("client id entropy unavailable: " + err.Error())
		}
		if id := binary.BigEndian.Uint32(buf[:]); id != 0 {
			return id
		}
	}
}
