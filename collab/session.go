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

// Package collab runs per-document collaborative sessions: a CRDT replica
// kept durable in the local store, live update exchange with the authority
// and peer awareness. Sessions are plain values owned by the caller.
package collab

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/inkwell-team/inkwell/documents"
	"github.com/inkwell-team/inkwell/internal/logging"
	"github.com/inkwell-team/inkwell/localdb"
	"github.com/inkwell-team/inkwell/pkg/document"
	"github.com/inkwell-team/inkwell/pkg/document/change"
	"github.com/inkwell-team/inkwell/pkg/types"
	"github.com/inkwell-team/inkwell/remote"
)

// SessionState is the session lifecycle phase.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateMigrating    SessionState = "migrating"
	StateLive         SessionState = "live"
)

// ErrClosed is returned on edits after the session was torn down.
var ErrClosed = errors.New("collab: session closed")

// Sessions in one process share a per-document lock over the open window
// so concurrent opens cannot both decide to seed the same legacy snapshot.
var (
	openLocksMu sync.Mutex
	openLocks   = make(map[string]*sync.Mutex)
)

func openLock(docID string) *sync.Mutex {
	openLocksMu.Lock()
	defer openLocksMu.Unlock()
	lock, ok := openLocks[docID]
	if !ok {
		lock = &sync.Mutex{}
		openLocks[docID] = lock
	}
	return lock
}

// Config carries the session tunables. Zero values fall back to defaults.
type Config struct {
	PresenceInterval time.Duration
	PresenceDebounce time.Duration
	PresenceTTL      time.Duration
}

func (c Config) withDefaults() Config {
	if c.PresenceInterval == 0 {
		c.PresenceInterval = 5 * time.Second
	}
	if c.PresenceDebounce == 0 {
		c.PresenceDebounce = 200 * time.Millisecond
	}
	if c.PresenceTTL == 0 {
		c.PresenceTTL = 10 * time.Second
	}
	return c
}

// PeersListener is notified with the full live peer list after each
// awareness change.
type PeersListener func(peers []types.PresenceRecord)

// Session is one open collaborative document.
type Session struct {
	conf   Config
	docID  string
	db     localdb.Database
	remote remote.CollabService
	docs   *documents.Service
	clock  clock.Clock
	logger logging.Logger

	doc       *document.Document
	awareness *Awareness

	mu            sync.Mutex
	state         SessionState
	active        bool
	seen          map[[sha256.Size]byte]struct{}
	presence      json.RawMessage
	peersListener PeersListener
	debounce      *clock.Timer

	cancel context.CancelFunc
	pushCh chan []byte
	wg     sync.WaitGroup
}

// OpenSession loads the document's durable replica, migrates legacy
// content into CRDT history if the replica is empty, and goes live on the
// authority's update and presence feeds.
func OpenSession(
	ctx context.Context,
	docID string,
	db localdb.Database,
	svc remote.CollabService,
	docsSvc *documents.Service,
	clk clock.Clock,
	conf Config,
) (*Session, error) {
	conf = conf.withDefaults()
	s := &Session{
		conf:      conf,
		docID:     docID,
		db:        db,
		remote:    svc,
		docs:      docsSvc,
		clock:     clk,
		logger:    logging.New("collab"),
		doc:       document.New(docID),
		awareness: NewAwareness(clk, conf.PresenceTTL.Milliseconds()),
		state:     StateConnecting,
		seen:      make(map[[sha256.Size]byte]struct{}),
		pushCh:    make(chan []byte, 64),
	}

	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}

	// Local edits flow to the durable replica and out to peers; remote
	// merges come back with OriginRemote and are left alone here.
	s.doc.SetUpdateListener(func(u *change.Update, origin document.Origin) {
		if origin != document.OriginLocal {
			return
		}
		s.onLocalUpdate(u)
	})

	sessionCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	updates, err := svc.SubscribeUpdates(sessionCtx, docID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe updates: %w", err)
	}
	peers, err := svc.SubscribePresence(sessionCtx, docID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}

	s.mu.Lock()
	s.active = true
	s.state = StateLive
	s.mu.Unlock()

	s.wg.Add(3)
	go s.pushLoop(sessionCtx)
	go s.receiveLoop(sessionCtx, updates, peers)
	go s.presenceLoop(sessionCtx)

	return s, nil
}

// bootstrap loads the durable replica and runs the one-time legacy
// migration. The per-document lock covers the whole window so a second
// open in this process sees the first one's decision.
func (s *Session) bootstrap(ctx context.Context) error {
	lock := openLock(s.docID)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.docs.Get(ctx, s.docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	fragments, err := s.db.ListDocumentUpdates(ctx, s.docID)
	if err != nil {
		return fmt.Errorf("load replica: %w", err)
	}
	for _, fragment := range fragments {
		if err := s.doc.ApplyEncoded(fragment, document.OriginRemote); err != nil {
			return fmt.Errorf("replay replica: %w", err)
		}
		s.seen[sha256.Sum256(fragment)] = struct{}{}
	}

	if len(fragments) == 0 && meta.Content.Text() != "" {
		return s.migrate(ctx, meta.Content.Text())
	}
	return nil
}

// migrate seeds the CRDT history from a legacy plain snapshot, then clears
// the snapshot so the emptied content syncs out. The authority accepts one
// seed per document; a losing device drops its candidate and replays the
// winner's history from the subscription backlog.
func (s *Session) migrate(ctx context.Context, text string) error {
	s.mu.Lock()
	s.state = StateMigrating
	s.mu.Unlock()

	u, err := s.doc.Edit(0, 0, text)
	if err != nil {
		return fmt.Errorf("migrate legacy content: %w", err)
	}
	encoded, err := u.Encode()
	if err != nil {
		return fmt.Errorf("encode seed: %w", err)
	}

	err = s.remote.SeedUpdate(ctx, s.docID, encoded)
	if errors.Is(err, remote.ErrRejected) {
		// Another device seeded first. Start over from an empty replica,
		// keeping the local snapshot until the cleared state syncs in.
		s.doc = document.New(s.docID)
		s.logger.Debugf("seed for %s lost, replaying shared history", s.docID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed history: %w", err)
	}

	if err := s.db.AppendDocumentUpdate(ctx, s.docID, encoded); err != nil {
		return fmt.Errorf("persist seed: %w", err)
	}
	s.seen[sha256.Sum256(encoded)] = struct{}{}

	if _, err := s.docs.ClearContent(ctx, s.docID); err != nil {
		return fmt.Errorf("clear legacy content: %w", err)
	}

	s.logger.Debugf("migrated %d legacy characters on %s", len([]rune(text)), s.docID)
	return nil
}

// Close tears the session down. It is idempotent and safe on a session
// that never finished connecting.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.state = StateDisconnected
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// State returns the lifecycle phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ClientID returns the session's CRDT client id.
func (s *Session) ClientID() uint32 {
	return s.doc.ClientID()
}

// Text returns the replica's visible text.
func (s *Session) Text() string {
	return s.doc.Text()
}

// Edit applies a local text change. The resulting fragment lands in the
// durable replica and goes out to peers.
func (s *Session) Edit(from, to int, content string) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return ErrClosed
	}

	if _, err := s.doc.Edit(from, to, content); err != nil {
		return err
	}
	s.schedulePresence()
	return nil
}

// SetPresence updates the state published to peers, debounced.
func (s *Session) SetPresence(state json.RawMessage) {
	s.mu.Lock()
	s.presence = state
	s.mu.Unlock()
	s.schedulePresence()
}

// Peers returns the live peer states, never including this session.
func (s *Session) Peers() []types.PresenceRecord {
	return s.awareness.Peers()
}

// OnPeersChanged registers the awareness listener.
func (s *Session) OnPeersChanged(listener PeersListener) {
	s.mu.Lock()
	s.peersListener = listener
	s.mu.Unlock()
}

func (s *Session) onLocalUpdate(u *change.Update) {
	encoded, err := u.Encode()
	if err != nil {
		s.logger.Errorf("encode update: %v", err)
		return
	}
	if err := s.db.AppendDocumentUpdate(context.Background(), s.docID, encoded); err != nil {
		s.logger.Errorf("persist fragment: %v", err)
		return
	}

	s.mu.Lock()
	s.seen[sha256.Sum256(encoded)] = struct{}{}
	s.mu.Unlock()

	select {
	case s.pushCh <- encoded:
	default:
		s.logger.Warnf("push backlog full on %s, dropping broadcast", s.docID)
	}
}

func (s *Session) pushLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case fragment := <-s.pushCh:
			if err := s.remote.PushUpdate(ctx, s.docID, fragment); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warnf("push fragment: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) receiveLoop(ctx context.Context, updates <-chan remote.UpdateEvent, peers <-chan types.PresenceRecord) {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-updates:
			if !ok {
				return
			}
			s.onRemoteUpdate(ev)
		case record, ok := <-peers:
			if !ok {
				return
			}
			s.onRemotePresence(record)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) onRemoteUpdate(ev remote.UpdateEvent) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	digest := sha256.Sum256(ev.Update)
	if _, dup := s.seen[digest]; dup {
		// Our own broadcast echoed back, or a replayed fragment the
		// replica already holds.
		s.mu.Unlock()
		return
	}
	s.seen[digest] = struct{}{}
	s.mu.Unlock()

	u, err := change.Decode(ev.Update)
	if err != nil {
		s.logger.Warnf("drop undecodable fragment: %v", err)
		return
	}
	if u.ClientID == s.doc.ClientID() {
		return
	}

	if err := s.doc.ApplyUpdate(u, document.OriginRemote); err != nil {
		s.logger.Errorf("merge fragment: %v", err)
		return
	}
	if err := s.db.AppendDocumentUpdate(context.Background(), s.docID, ev.Update); err != nil {
		s.logger.Errorf("persist remote fragment: %v", err)
	}
}

func (s *Session) onRemotePresence(record types.PresenceRecord) {
	s.mu.Lock()
	active := s.active
	listener := s.peersListener
	s.mu.Unlock()
	if !active || record.ClientID == s.doc.ClientID() {
		return
	}

	s.awareness.Apply(record)
	if listener != nil {
		listener(s.awareness.Peers())
	}
}

// schedulePresence arms the debounce timer; bursts of local activity
// collapse into one publication.
func (s *Session) schedulePresence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.debounce != nil {
		return
	}
	s.debounce = s.clock.AfterFunc(s.conf.PresenceDebounce, func() {
		s.mu.Lock()
		s.debounce = nil
		s.mu.Unlock()
		s.publishPresence()
	})
}

func (s *Session) presenceLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := s.clock.Ticker(s.conf.PresenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.publishPresence()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) publishPresence() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	state := s.presence
	s.mu.Unlock()
	if state == nil {
		return
	}

	record := types.PresenceRecord{
		DocumentID: s.docID,
		ClientID:   s.doc.ClientID(),
		State:      state,
		UpdatedAt:  s.clock.Now().UnixMilli(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.remote.UpdatePresence(ctx, record); err != nil {
		s.logger.Debugf("publish presence: %v", err)
	}
}
