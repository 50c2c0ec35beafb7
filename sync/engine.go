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

// Package sync drives the exchange between the local store and the remote
// authority: FIFO push of queued mutations and a live pull cursor at the
// persisted watermark.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	gosync "sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/inkwell-team/inkwell/internal/connectivity"
	"github.com/inkwell-team/inkwell/internal/logging"
	"github.com/inkwell-team/inkwell/localdb"
	"github.com/inkwell-team/inkwell/pkg/types"
	"github.com/inkwell-team/inkwell/remote"
)

// Status is the engine's externally visible state.
type Status string

const (
	StatusOffline Status = "offline"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// State is one status notification. LastSyncedAt is Unix milliseconds of
// the last successful exchange, zero if none happened yet.
type State struct {
	Status       Status
	LastSyncedAt int64
}

// Listener receives state transitions.
type Listener func(State)

// Config carries the engine's tunables. Zero values fall back to defaults.
type Config struct {
	HeartbeatInterval time.Duration
	PushTimeout       time.Duration
	DelayedRetry      time.Duration
	PullBackoffMin    time.Duration
	PullBackoffMax    time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.PushTimeout == 0 {
		c.PushTimeout = 10 * time.Second
	}
	if c.DelayedRetry == 0 {
		c.DelayedRetry = 500 * time.Millisecond
	}
	if c.PullBackoffMin == 0 {
		c.PullBackoffMin = time.Second
	}
	if c.PullBackoffMax == 0 {
		c.PullBackoffMax = 30 * time.Second
	}
	return c
}

// uploadRefPattern matches placeholder references inside document content
// that still wait for an image upload to finish.
var uploadRefPattern = regexp.MustCompile(`upload://([0-9A-Za-z-]+)`)

// Engine synchronizes the local store with the authority for one signed-in
// user at a time.
type Engine struct {
	conf    Config
	db      localdb.Database
	remote  remote.SyncService
	monitor *connectivity.Monitor
	clock   clock.Clock
	logger  logging.Logger

	mu            gosync.Mutex
	userID        string
	status        Status
	lastSyncedAt  int64
	nextListener  int
	listeners     map[int]Listener
	pullCancel    context.CancelFunc
	retryTimer    *clock.Timer
	cancelMonitor func()

	pushCh    chan struct{}
	done      chan struct{}
	closeOnce gosync.Once
	wg        gosync.WaitGroup
}

// NewEngine returns a stopped engine. Call Start before any trigger.
func NewEngine(
	db localdb.Database,
	svc remote.SyncService,
	monitor *connectivity.Monitor,
	clk clock.Clock,
	conf Config,
) *Engine {
	return &Engine{
		conf:      conf.withDefaults(),
		db:        db,
		remote:    svc,
		monitor:   monitor,
		clock:     clk,
		logger:    logging.New("sync"),
		status:    StatusOffline,
		listeners: make(map[int]Listener),
		pushCh:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the push worker and the heartbeat and hooks connectivity
// transitions.
func (e *Engine) Start() {
	e.cancelMonitor = e.monitor.Subscribe(func(online bool) {
		if online {
			e.logger.Debug("network is back, reopening cursor and requesting sync")
			e.resumePull()
			e.RequestSync()
			return
		}
		e.suspendPull()
		e.setState(StatusOffline)
	})

	e.wg.Add(2)
	go e.pushLoop()
	go e.heartbeatLoop()
}

// Close stops every loop. It does not purge the store.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.pullCancel != nil {
		e.pullCancel()
		e.pullCancel = nil
	}
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.mu.Unlock()

	if e.cancelMonitor != nil {
		e.cancelMonitor()
	}
	e.closeOnce.Do(func() { close(e.done) })
	e.wg.Wait()
}

// SetUser signs a user in: the pull cursor opens at the persisted
// watermark and queued work is pushed on their behalf.
func (e *Engine) SetUser(userID string) {
	e.mu.Lock()
	if e.pullCancel != nil {
		e.pullCancel()
		e.pullCancel = nil
	}
	e.userID = userID
	if e.monitor.Online() {
		e.startPullLocked(userID)
	}
	e.mu.Unlock()

	e.RequestSync()
}

func (e *Engine) startPullLocked(userID string) {
	ctx, cancel := context.WithCancel(context.Background())
	e.pullCancel = cancel
	e.wg.Add(1)
	go e.pullLoop(ctx, userID)
}

// suspendPull closes the pull cursor without signing the user out. A
// delivery landing after the offline transition must not flip the status.
func (e *Engine) suspendPull() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pullCancel != nil {
		e.pullCancel()
		e.pullCancel = nil
	}
}

// resumePull reopens the cursor at the persisted watermark for the
// signed-in user, if none is active.
func (e *Engine) resumePull() {
	select {
	case <-e.done:
		return
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.userID == "" || e.pullCancel != nil {
		return
	}
	e.startPullLocked(e.userID)
}

// SignOut closes the pull cursor and purges every synced entity and the
// watermark so the next account starts clean.
func (e *Engine) SignOut(ctx context.Context) error {
	e.mu.Lock()
	if e.pullCancel != nil {
		e.pullCancel()
		e.pullCancel = nil
	}
	e.userID = ""
	e.mu.Unlock()

	if err := e.db.PurgeSynced(ctx); err != nil {
		return fmt.Errorf("purge store: %w", err)
	}
	e.setState(StatusOffline)
	return nil
}

// RequestSync asks for a push round. Concurrent requests coalesce.
func (e *Engine) RequestSync() {
	select {
	case e.pushCh <- struct{}{}:
	default:
	}
}

// State returns the current status snapshot.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{Status: e.status, LastSyncedAt: e.lastSyncedAt}
}

// Subscribe registers a state listener and returns its cancel function.
// The listener immediately receives the current state.
func (e *Engine) Subscribe(listener Listener) func() {
	e.mu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = listener
	state := State{Status: e.status, LastSyncedAt: e.lastSyncedAt}
	e.mu.Unlock()

	listener(state)
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *Engine) setState(status Status) {
	e.setStateAt(status, -1)
}

func (e *Engine) setStateAt(status Status, syncedAt int64) {
	e.mu.Lock()
	if syncedAt >= 0 {
		e.lastSyncedAt = syncedAt
	}
	if e.status == status && syncedAt < 0 {
		e.mu.Unlock()
		return
	}
	e.status = status
	state := State{Status: e.status, LastSyncedAt: e.lastSyncedAt}
	listeners := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}

func (e *Engine) pushLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.pushCh:
			e.push()
		case <-e.done:
			return
		}
	}
}

func (e *Engine) heartbeatLoop() {
	defer e.wg.Done()
	ticker := e.clock.Ticker(e.conf.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			count, err := e.db.CountSyncQueue(context.Background())
			if err != nil {
				e.logger.Warnf("heartbeat queue count: %v", err)
				continue
			}
			if count > 0 {
				e.RequestSync()
			}
		case <-e.done:
			return
		}
	}
}

// push sends one FIFO batch. Items still referencing a pending upload are
// held back; exactly the sent sequence numbers are removed on ack.
func (e *Engine) push() {
	e.mu.Lock()
	userID := e.userID
	e.mu.Unlock()

	if userID == "" || !e.monitor.Online() {
		e.setState(StatusOffline)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.conf.PushTimeout)
	defer cancel()

	items, err := e.db.ListSyncQueue(ctx)
	if err != nil {
		e.logger.Errorf("snapshot queue: %v", err)
		e.setState(StatusError)
		return
	}
	if len(items) == 0 {
		e.setStateAt(StatusSynced, e.clock.Now().UnixMilli())
		return
	}

	e.setState(StatusSyncing)

	var (
		seqs      []uint64
		mutations []remote.Mutation
		delayed   int
	)
	for _, item := range items {
		blocked, err := e.blockedByUpload(ctx, item)
		if err != nil {
			e.logger.Errorf("inspect queue item %d: %v", item.Seq, err)
			e.setState(StatusError)
			return
		}
		if blocked {
			delayed++
			continue
		}

		data, err := claimOwner(item, userID)
		if err != nil {
			e.logger.Errorf("claim owner on item %d: %v", item.Seq, err)
			e.setState(StatusError)
			return
		}
		seqs = append(seqs, item.Seq)
		mutations = append(mutations, remote.Mutation{
			EntityType: item.EntityType,
			EntityID:   item.EntityID,
			Action:     item.Action,
			Data:       data,
		})
	}

	if delayed > 0 {
		e.scheduleRetry()
	}
	if len(mutations) == 0 {
		return
	}

	if err := e.remote.PushChanges(ctx, userID, mutations); err != nil {
		e.logger.Warnf("push %d mutations: %v", len(mutations), err)
		e.setState(StatusError)
		return
	}
	if err := e.db.DeleteSyncItems(context.Background(), seqs); err != nil {
		e.logger.Errorf("drop acked items: %v", err)
		e.setState(StatusError)
		return
	}

	e.logger.Debugf("pushed %d mutations, %d delayed", len(mutations), delayed)
	e.setStateAt(StatusSynced, e.clock.Now().UnixMilli())
}

// blockedByUpload reports whether the item's payload references an image
// upload that has not finished yet.
func (e *Engine) blockedByUpload(ctx context.Context, item types.SyncQueueItem) (bool, error) {
	if item.EntityType != types.EntityDocument || len(item.Data) == 0 {
		return false, nil
	}

	for _, match := range uploadRefPattern.FindAllSubmatch(item.Data, -1) {
		upload, err := e.db.FindUpload(ctx, string(match[1]))
		if errors.Is(err, localdb.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if upload.Status == types.UploadPending || upload.Status == types.UploadUploading {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) scheduleRetry() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retryTimer != nil {
		return
	}
	e.retryTimer = e.clock.AfterFunc(e.conf.DelayedRetry, func() {
		e.mu.Lock()
		e.retryTimer = nil
		e.mu.Unlock()
		e.RequestSync()
	})
}

// claimOwner rewrites the anonymous local owner to the signed-in user.
func claimOwner(item types.SyncQueueItem, userID string) (json.RawMessage, error) {
	if len(item.Data) == 0 {
		return nil, nil
	}

	switch item.EntityType {
	case types.EntityFolder:
		var folder types.Folder
		if err := json.Unmarshal(item.Data, &folder); err != nil {
			return nil, fmt.Errorf("decode folder snapshot: %w", err)
		}
		if folder.OwnerID != types.LocalOwnerID {
			return item.Data, nil
		}
		folder.OwnerID = userID
		return json.Marshal(folder)
	case types.EntityDocument:
		var doc types.Document
		if err := json.Unmarshal(item.Data, &doc); err != nil {
			return nil, fmt.Errorf("decode document snapshot: %w", err)
		}
		if doc.OwnerID != types.LocalOwnerID {
			return item.Data, nil
		}
		doc.OwnerID = userID
		return json.Marshal(doc)
	default:
		return item.Data, nil
	}
}

// pullLoop keeps a live cursor open at the persisted watermark and applies
// each delivery atomically. Subscription failures back off exponentially.
func (e *Engine) pullLoop(ctx context.Context, userID string) {
	defer e.wg.Done()

	backoff := e.conf.PullBackoffMin
	for {
		since, err := e.db.Watermark(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Errorf("read watermark: %v", err)
			e.setState(StatusError)
			if !e.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, e.conf.PullBackoffMax)
			continue
		}

		deliveries, err := e.remote.SubscribePull(ctx, userID, since)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warnf("subscribe pull at %d: %v", since, err)
			e.setState(StatusError)
			if !e.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, e.conf.PullBackoffMax)
			continue
		}
		backoff = e.conf.PullBackoffMin

		for set := range deliveries {
			if ctx.Err() != nil {
				return
			}
			if err := e.db.ApplyChangeSet(ctx, localdb.ChangeSet{
				Folders:   set.Folders,
				Documents: set.Documents,
				Watermark: set.Watermark,
			}); err != nil {
				e.logger.Errorf("apply delivery at %d: %v", set.Watermark, err)
				e.setState(StatusError)
				continue
			}
			e.setStateAt(StatusSynced, e.clock.Now().UnixMilli())
		}

		if ctx.Err() != nil {
			return
		}
		e.logger.Debug("pull cursor closed, resubscribing")
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	timer := e.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
