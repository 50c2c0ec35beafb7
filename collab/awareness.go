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

package collab

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/inkwell-team/inkwell/pkg/types"
)

// Awareness tracks the last known presence state of each peer in a
// session. States go stale after the TTL and disappear from Peers.
type Awareness struct {
	mu     sync.RWMutex
	clock  clock.Clock
	ttl    int64
	states map[uint32]types.PresenceRecord
}

// NewAwareness returns an empty awareness map with the given TTL in
// milliseconds.
func NewAwareness(clk clock.Clock, ttl int64) *Awareness {
	return &Awareness{
		clock:  clk,
		ttl:    ttl,
		states: make(map[uint32]types.PresenceRecord),
	}
}

// Apply merges one incoming state. Older deliveries for the same client
// are dropped.
func (a *Awareness) Apply(record types.PresenceRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if current, ok := a.states[record.ClientID]; ok && current.UpdatedAt > record.UpdatedAt {
		return
	}
	a.states[record.ClientID] = record
}

// Forget drops a client's state, for explicit departures.
func (a *Awareness) Forget(clientID uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.states, clientID)
}

// Peers returns the live states ordered by client id. Expired entries are
// swept out.
func (a *Awareness) Peers() []types.PresenceRecord {
	deadline := a.clock.Now().UnixMilli() - a.ttl

	a.mu.Lock()
	defer a.mu.Unlock()

	peers := make([]types.PresenceRecord, 0, len(a.states))
	for id, record := range a.states {
		if record.UpdatedAt < deadline {
			delete(a.states, id)
			continue
		}
		peers = append(peers, record)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ClientID < peers[j].ClientID })
	return peers
}
