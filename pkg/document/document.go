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

// Package document provides the CRDT-backed text document replica shared
// between collaboration sessions.
package document

import (
	"errors"
	"fmt"
	"sync"

	"github.com/inkwell-team/inkwell/pkg/document/change"
	"github.com/inkwell-team/inkwell/pkg/document/crdt"
	"github.com/inkwell-team/inkwell/pkg/document/time"
)

// Origin tells a merge where an update came from. The update listener
// receives it so that remote updates are never re-broadcast, which breaks
// the echo loop between two live sessions.
type Origin int

const (
	// OriginLocal marks an update produced by an edit on this replica.
	OriginLocal Origin = iota

	// OriginRemote marks an update delivered by the remote update log or
	// replayed from the durable replica.
	OriginRemote
)

// UpdateListener observes every update merged into a replica together with
// its origin.
type UpdateListener func(u *change.Update, origin Origin)

// ErrRangeInvalid is returned when an edit range does not fit the current
// visible text.
var ErrRangeInvalid = errors.New("document: edit range out of bounds")

// Document is one replica of a collaborative text document. Applying the
// same fragment twice, or two fragments in either order, converges to the
// same state by RGA construction.
type Document struct {
	mu sync.Mutex

	id       string
	clientID uint32
	lamport  int64
	rga      *crdt.RGA
	listener UpdateListener
}

// New creates an empty replica for the given document id with a fresh
// client id.
func New(id string) *Document {
	return &Document{
		id:       id,
		clientID: time.NewClientID(),
		lamport:  time.InitialLamport,
		rga:      crdt.NewRGA(),
	}
}

// ID returns the document id this replica belongs to.
func (d *Document) ID() string {
	return d.id
}

// ClientID returns the replica's client id.
func (d *Document) ClientID() uint32 {
	return d.clientID
}

// SetUpdateListener registers the listener invoked after each merged
// update. A nil listener disables notification.
func (d *Document) SetUpdateListener(listener UpdateListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener = listener
}

// Text returns the visible contents.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rga.String()
}

// Len returns the number of visible runes.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rga.Len()
}

// Edit replaces the visible range [from, to) with content and returns the
// update fragment that was merged. A zero-length range is an insert; empty
// content is a delete.
func (d *Document) Edit(from, to int, content string) (*change.Update, error) {
	d.mu.Lock()

	if from < 0 || to < from || to > d.rga.Len() {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrRangeInvalid, from, to, d.rga.Len())
	}

	var ops []change.Op

	// Collect delete targets before mutating so indexes stay stable.
	var targets []time.Ticket
	for i := from; i < to; i++ {
		id, ok := d.rga.IDAt(i)
		if !ok {
			d.mu.Unlock()
			return nil, fmt.Errorf("%w: index %d", ErrRangeInvalid, i)
		}
		targets = append(targets, id)
	}
	for _, target := range targets {
		d.rga.Remove(target)
		ops = append(ops, change.Op{Delete: &change.Delete{Target: target}})
	}

	prev, ok := d.rga.IDAt(from - 1)
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: index %d", ErrRangeInvalid, from-1)
	}
	for _, r := range content {
		d.lamport++
		id := time.NewTicket(d.lamport, d.clientID)
		if err := d.rga.InsertAfter(prev, id, r); err != nil {
			d.mu.Unlock()
			return nil, err
		}
		ops = append(ops, change.Op{Insert: &change.Insert{
			ID:    id,
			Prev:  prev,
			Value: string(r),
		}})
		prev = id
	}

	if len(ops) == 0 {
		d.mu.Unlock()
		return nil, nil
	}

	u := &change.Update{ClientID: d.clientID, Ops: ops}
	listener := d.listener
	d.mu.Unlock()

	if listener != nil {
		listener(u, OriginLocal)
	}
	return u, nil
}

// ApplyUpdate merges the given fragment into this replica as one atomic
// transaction under the document lock, then notifies the update listener
// with the given origin so the caller can decide whether to re-broadcast.
func (d *Document) ApplyUpdate(u *change.Update, origin Origin) error {
	d.mu.Lock()

	for _, op := range u.Ops {
		switch {
		case op.Insert != nil:
			var value rune
			for _, r := range op.Insert.Value {
				value = r
				break
			}
			if err := d.rga.InsertAfter(op.Insert.Prev, op.Insert.ID, value); err != nil {
				d.mu.Unlock()
				return err
			}
			if op.Insert.ID.Lamport > d.lamport {
				d.lamport = op.Insert.ID.Lamport
			}
		case op.Delete != nil:
			d.rga.Remove(op.Delete.Target)
		default:
			d.mu.Unlock()
			return errors.New("document: op has no kind")
		}
	}

	listener := d.listener
	d.mu.Unlock()

	if listener != nil {
		listener(u, origin)
	}
	return nil
}

// ApplyEncoded decodes and merges an encoded fragment.
func (d *Document) ApplyEncoded(bytes []byte, origin Origin) error {
	u, err := change.Decode(bytes)
	if err != nil {
		return err
	}
	return d.ApplyUpdate(u, origin)
}
