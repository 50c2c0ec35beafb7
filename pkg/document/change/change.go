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

// Package change defines the update fragments exchanged between replicas
// and their binary encoding.
package change

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/inkwell-team/inkwell/pkg/document/time"
)

// ErrEmptyUpdate is returned when decoding an update that carries no
// operations.
var ErrEmptyUpdate = errors.New("change: update has no operations")

// Insert adds a single rune after the node identified by Prev.
type Insert struct {
	ID    time.Ticket `cbor:"1,keyasint"`
	Prev  time.Ticket `cbor:"2,keyasint"`
	Value string      `cbor:"3,keyasint"`
}

// Delete tombstones the node identified by Target.
type Delete struct {
	Target time.Ticket `cbor:"1,keyasint"`
}

// Op is a tagged union of the operation kinds. Exactly one field is set.
type Op struct {
	Insert *Insert `cbor:"1,keyasint,omitempty"`
	Delete *Delete `cbor:"2,keyasint,omitempty"`
}

// Update is one CRDT update fragment: the operations produced by a single
// edit on one replica, tagged with the session's client id.
type Update struct {
	ClientID uint32 `cbor:"1,keyasint"`
	Ops      []Op   `cbor:"2,keyasint"`
}

// Encode returns the binary encoding of this update.
func (u *Update) Encode() ([]byte, error) {
	bytes, err := cbor.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return bytes, nil
}

// Decode parses an encoded update fragment.
func Decode(bytes []byte) (*Update, error) {
	u := &Update{}
	if err := cbor.Unmarshal(bytes, u); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	if len(u.Ops) == 0 {
		return nil, ErrEmptyUpdate
	}
	return u, nil
}
