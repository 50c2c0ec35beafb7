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

// Package crdt provides the replicated data structure backing collaborative
// text documents.
package crdt

import (
	"errors"
	"strings"

	"github.com/inkwell-team/inkwell/pkg/document/time"
)

// ErrMissingOrigin is returned when an insert references a node this
// replica has never seen. Deliveries are causally ordered per client, so
// this indicates a corrupted update log.
var ErrMissingOrigin = errors.New("crdt: origin node not found")

type rgaNode struct {
	id        time.Ticket
	value     rune
	isRemoved bool
	prev      *rgaNode
	next      *rgaNode
}

func newNodeAfter(prev *rgaNode, id time.Ticket, value rune) *rgaNode {
	newNode := &rgaNode{id: id, value: value}
	prevNext := prev.next

	prev.next = newNode
	newNode.prev = prev
	newNode.next = prevNext
	if prevNext != nil {
		prevNext.prev = newNode
	}

	return newNode
}

// RGA is a replicated growable array of runes. Removed nodes stay in the
// list as tombstones so later inserts can still anchor on them. Inserting
// after the same origin is resolved by skipping successors with a greater
// ticket, which makes concurrent inserts converge in the same relative
// order on every replica.
type RGA struct {
	nodeMapByID map[time.Ticket]*rgaNode
	head        *rgaNode
	size        int
}

// NewRGA creates an empty array with a sentinel head node.
func NewRGA() *RGA {
	head := &rgaNode{id: time.InitialTicket}
	return &RGA{
		nodeMapByID: map[time.Ticket]*rgaNode{head.id: head},
		head:        head,
	}
}

// InsertAfter inserts value with the given id after the node prev. It is
// idempotent: a duplicate id is ignored.
func (a *RGA) InsertAfter(prev, id time.Ticket, value rune) error {
	if _, ok := a.nodeMapByID[id]; ok {
		return nil
	}

	node, ok := a.nodeMapByID[prev]
	if !ok {
		return ErrMissingOrigin
	}
	for node.next != nil && node.next.id.After(id) {
		node = node.next
	}

	a.nodeMapByID[id] = newNodeAfter(node, id, value)
	a.size++
	return nil
}

// Remove marks the node with the given id as removed. Removing an unknown
// or already removed node is a no-op, keeping deletes idempotent.
func (a *RGA) Remove(id time.Ticket) {
	node, ok := a.nodeMapByID[id]
	if !ok || node == a.head || node.isRemoved {
		return
	}
	node.isRemoved = true
	a.size--
}

// Contains returns whether a node with the given id has ever been inserted.
func (a *RGA) Contains(id time.Ticket) bool {
	_, ok := a.nodeMapByID[id]
	return ok
}

// Len returns the number of visible runes.
func (a *RGA) Len() int {
	return a.size
}

// String returns the visible contents.
func (a *RGA) String() string {
	sb := strings.Builder{}
	for node := a.head.next; node != nil; node = node.next {
		if !node.isRemoved {
			sb.WriteRune(node.value)
		}
	}
	return sb.String()
}

// IDAt returns the id of the idx-th visible node. Index -1 addresses the
// sentinel head, which anchors inserts at the front.
func (a *RGA) IDAt(idx int) (time.Ticket, bool) {
	if idx == -1 {
		return a.head.id, true
	}
	if idx < 0 || idx >= a.size {
		return time.Ticket{}, false
	}

	i := 0
	for node := a.head.next; node != nil; node = node.next {
		if node.isRemoved {
			continue
		}
		if i == idx {
			return node.id, true
		}
		i++
	}
	return time.Ticket{}, false
}

// MaxLamport returns the largest lamport value seen by this array.
func (a *RGA) MaxLamport() int64 {
	max := int64(time.InitialLamport)
	for id := range a.nodeMapByID {
		if id.Lamport > max {
			max = id.Lamport
		}
	}
	return max
}
