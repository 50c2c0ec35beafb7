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

// Package connectivity tracks whether the process currently has a usable
// network path and notifies subscribers on transitions.
package connectivity

import "sync"

// Listener is called with the new state after each transition.
type Listener func(online bool)

// Monitor is an observable online/offline flag. The initial state is
// online; embedders report transitions via SetOnline.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	nextID    int
	listeners map[int]Listener
}

// NewMonitor returns a monitor in the online state.
func NewMonitor() *Monitor {
	return &Monitor{
		online:    true,
		listeners: make(map[int]Listener),
	}
}

// Online returns the current state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a transition and notifies subscribers. Setting the
// current state again is a no-op.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online

	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(online)
	}
}

// Subscribe registers a listener and returns its cancel function.
func (m *Monitor) Subscribe(listener Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}
