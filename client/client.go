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

// Package client assembles the offline-first editor core: durable local
// store, entity services, sync engine, upload queue and collaborative
// sessions behind one facade.
package client

import (
	"bytes"
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/xid"

	"github.com/inkwell-team/inkwell/collab"
	"github.com/inkwell-team/inkwell/documents"
	"github.com/inkwell-team/inkwell/folders"
	"github.com/inkwell-team/inkwell/internal/connectivity"
	"github.com/inkwell-team/inkwell/internal/logging"
	"github.com/inkwell-team/inkwell/localdb"
	"github.com/inkwell-team/inkwell/localdb/memory"
	"github.com/inkwell-team/inkwell/localdb/sqlite"
	"github.com/inkwell-team/inkwell/pkg/types"
	"github.com/inkwell-team/inkwell/remote"
	"github.com/inkwell-team/inkwell/sync"
	"github.com/inkwell-team/inkwell/uploads"
)

// Client is the assembled editor core. Folders and Documents expose the
// entity services directly.
type Client struct {
	conf    *Config
	logger  logging.Logger
	db      localdb.Database
	remote  remote.Service
	monitor *connectivity.Monitor
	clock   clock.Clock

	engine  *sync.Engine
	uploadQ *uploads.Queue

	Folders   *folders.Service
	Documents *documents.Service
}

// New wires a client over the given authority. Call Activate to start the
// background workers.
func New(conf *Config, svc remote.Service) (*Client, error) {
	if conf == nil {
		conf = NewConfig()
	} else {
		conf.ensureDefaults()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := logging.SetLogLevel(conf.LogLevel); err != nil {
		return nil, err
	}

	var (
		db  localdb.Database
		err error
	)
	if conf.DBPath == "" {
		db, err = memory.New()
	} else {
		db, err = sqlite.Open(conf.DBPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	clk := clock.New()
	monitor := connectivity.NewMonitor()

	c := &Client{
		conf:      conf,
		logger:    logging.New("client"),
		db:        db,
		remote:    svc,
		monitor:   monitor,
		clock:     clk,
		Folders:   folders.NewService(db, clk),
		Documents: documents.NewService(db, clk),
	}
	c.engine = sync.NewEngine(db, svc, monitor, clk, sync.Config{
		HeartbeatInterval: conf.HeartbeatInterval,
		PushTimeout:       conf.PushTimeout,
		DelayedRetry:      conf.DelayedRetry,
		PullBackoffMin:    conf.PullBackoffMin,
		PullBackoffMax:    conf.PullBackoffMax,
	})
	c.uploadQ = uploads.NewQueue(db, svc, monitor, clk, c.onUploadComplete)
	return c, nil
}

// Activate starts the sync engine and the upload worker and resumes
// uploads interrupted by the last shutdown.
func (c *Client) Activate(ctx context.Context) error {
	c.engine.Start()
	c.uploadQ.Start()
	if err := c.uploadQ.Restore(ctx); err != nil {
		return fmt.Errorf("restore uploads: %w", err)
	}
	return nil
}

// Close stops the workers and releases the store. Queued work stays
// durable for the next start.
func (c *Client) Close() error {
	c.engine.Close()
	c.uploadQ.Close()
	return c.db.Close()
}

// SignIn starts syncing on behalf of the user.
func (c *Client) SignIn(userID string) {
	c.engine.SetUser(userID)
}

// SignOut stops syncing and purges everything the account owned.
func (c *Client) SignOut(ctx context.Context) error {
	return c.engine.SignOut(ctx)
}

// RequestSync asks for an immediate push round.
func (c *Client) RequestSync() {
	c.engine.RequestSync()
}

// SyncState returns the engine's status snapshot.
func (c *Client) SyncState() sync.State {
	return c.engine.State()
}

// SubscribeSyncState registers a status listener.
func (c *Client) SubscribeSyncState(listener sync.Listener) func() {
	return c.engine.Subscribe(listener)
}

// SetOnline reports a connectivity transition from the embedder.
func (c *Client) SetOnline(online bool) {
	c.monitor.SetOnline(online)
}

// OpenDocument starts a collaborative session on the document.
func (c *Client) OpenDocument(ctx context.Context, docID string) (*collab.Session, error) {
	return collab.OpenSession(ctx, docID, c.db, c.remote, c.Documents, c.clock, collab.Config{
		PresenceInterval: c.conf.PresenceInterval,
		PresenceDebounce: c.conf.PresenceDebounce,
		PresenceTTL:      c.conf.PresenceTTL,
	})
}

// AttachImage queues an image for upload and returns the placeholder
// reference to embed in content until the final URL arrives.
func (c *Client) AttachImage(ctx context.Context, docID string, meta types.FileMeta, blob []byte) (string, error) {
	tempID := xid.New().String()
	if err := c.uploadQ.Add(ctx, tempID, blob, meta, docID); err != nil {
		return "", err
	}
	return placeholder(tempID), nil
}

// RemoveImage cancels a queued upload.
func (c *Client) RemoveImage(ctx context.Context, tempID string) error {
	return c.uploadQ.Remove(ctx, tempID)
}

// RetryImage requeues a terminally failed upload.
func (c *Client) RetryImage(ctx context.Context, tempID string) error {
	return c.uploadQ.Retry(ctx, tempID)
}

func placeholder(tempID string) string {
	return "upload://" + tempID
}

// onUploadComplete swaps the placeholder for the final URL in every
// document still referencing it, then pushes the rewritten snapshots.
func (c *Client) onUploadComplete(tempID, url string) {
	ctx := context.Background()
	ref := []byte(placeholder(tempID))

	docs, err := c.db.ListDocuments(ctx)
	if err != nil {
		c.logger.Errorf("list documents after upload: %v", err)
		return
	}
	archived, err := c.db.ListArchivedDocuments(ctx)
	if err != nil {
		c.logger.Errorf("list archived documents after upload: %v", err)
		return
	}
	docs = append(docs, archived...)

	for _, doc := range docs {
		if doc.Content == nil || !bytes.Contains(doc.Content.Data, ref) {
			continue
		}
		rewritten := &types.Content{
			Kind: doc.Content.Kind,
			Data: bytes.ReplaceAll(doc.Content.Data, ref, []byte(url)),
		}
		if _, err := c.Documents.Update(ctx, doc.ID, documents.UpdateParams{Content: rewritten}); err != nil {
			c.logger.Errorf("rewrite upload reference in %s: %v", doc.ID, err)
			continue
		}
		c.logger.Debugf("replaced %s with %s in %s", tempID, url, doc.ID)
	}

	c.RequestSync()
}
