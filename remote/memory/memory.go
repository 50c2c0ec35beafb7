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

// Package memory implements the remote authority in process. It backs the
// sync and collaboration tests and the local development mode; every
// subscription is live against commits.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-memdb"
	"github.com/rs/xid"

	"github.com/inkwell-team/inkwell/pkg/types"
	"github.com/inkwell-team/inkwell/remote"
)

const presenceTTL = int64(10_000)

const (
	tblFolders   = "folders"
	tblDocuments = "documents"
)

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblFolders: {
			Name: tblFolders,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"owner": {
					Name:    "owner",
					Indexer: &memdb.StringFieldIndex{Field: "Owner"},
				},
			},
		},
		tblDocuments: {
			Name: tblDocuments,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"owner": {
					Name:    "owner",
					Indexer: &memdb.StringFieldIndex{Field: "Owner"},
				},
			},
		},
	},
}

// folderRecord is a stored folder with the watermark of its last change.
type folderRecord struct {
	ID        string
	Owner     string
	Watermark int64
	Folder    types.Folder
}

type documentRecord struct {
	ID        string
	Owner     string
	Watermark int64
	Document  types.Document
}

type pullSub struct {
	userID string
	since  int64
	wake   chan struct{}
	out    chan remote.ChangeSet
	done   chan struct{}
}

type updateSub struct {
	out  chan remote.UpdateEvent
	done chan struct{}
}

type presenceSub struct {
	out  chan types.PresenceRecord
	done chan struct{}
}

// DB is an in-process remote authority.
type DB struct {
	clock clock.Clock
	db    *memdb.MemDB

	mu           sync.Mutex
	watermark    int64
	nextSub      int
	pullSubs     map[int]*pullSub
	updateSubs   map[string]map[int]*updateSub
	presenceSubs map[string]map[int]*presenceSub
	updates      map[string][][]byte
	presence     map[string]map[uint32]types.PresenceRecord
	blobs        map[string][]byte
}

var _ remote.Service = (*DB)(nil)

// New returns an empty authority on the wall clock.
func New() (*DB, error) {
	return NewWithClock(clock.New())
}

// NewWithClock returns an empty authority on the given clock. Tests pass a
// mock clock to drive presence expiry.
func NewWithClock(clk clock.Clock) (*DB, error) {
	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}

	return &DB{
		clock:        clk,
		db:           memDB,
		pullSubs:     make(map[int]*pullSub),
		updateSubs:   make(map[string]map[int]*updateSub),
		presenceSubs: make(map[string]map[int]*presenceSub),
		updates:      make(map[string][][]byte),
		presence:     make(map[string]map[uint32]types.PresenceRecord),
		blobs:        make(map[string][]byte),
	}, nil
}

// PushChanges applies the batch in one transaction and wakes the user's
// pull cursors.
func (d *DB) PushChanges(_ context.Context, userID string, mutations []remote.Mutation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	watermark := d.watermark + 1

	txn := d.db.Txn(true)
	for _, m := range mutations {
		if err := d.applyMutation(txn, userID, watermark, m); err != nil {
			txn.Abort()
			return err
		}
	}
	txn.Commit()

	d.watermark = watermark
	for _, sub := range d.pullSubs {
		if sub.userID != userID {
			continue
		}
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

func (d *DB) applyMutation(txn *memdb.Txn, userID string, watermark int64, m remote.Mutation) error {
	switch m.EntityType {
	case types.EntityFolder:
		if m.Action == types.ActionDelete {
			raw, err := txn.First(tblFolders, "id", m.EntityID)
			if err != nil {
				return fmt.Errorf("find folder: %w", err)
			}
			if raw != nil {
				if err := txn.Delete(tblFolders, raw); err != nil {
					return fmt.Errorf("delete folder: %w", err)
				}
			}
			return nil
		}

		var folder types.Folder
		if err := json.Unmarshal(m.Data, &folder); err != nil {
			return fmt.Errorf("%w: decode folder: %v", remote.ErrRejected, err)
		}
		return txn.Insert(tblFolders, &folderRecord{
			ID:        folder.ID,
			Owner:     userID,
			Watermark: watermark,
			Folder:    folder,
		})
	case types.EntityDocument:
		if m.Action == types.ActionDelete {
			raw, err := txn.First(tblDocuments, "id", m.EntityID)
			if err != nil {
				return fmt.Errorf("find document: %w", err)
			}
			if raw != nil {
				if err := txn.Delete(tblDocuments, raw); err != nil {
					return fmt.Errorf("delete document: %w", err)
				}
			}
			return nil
		}

		var doc types.Document
		if err := json.Unmarshal(m.Data, &doc); err != nil {
			return fmt.Errorf("%w: decode document: %v", remote.ErrRejected, err)
		}
		return txn.Insert(tblDocuments, &documentRecord{
			ID:        doc.ID,
			Owner:     userID,
			Watermark: watermark,
			Document:  doc,
		})
	default:
		return fmt.Errorf("%w: unknown entity type %q", remote.ErrRejected, m.EntityType)
	}
}

// SubscribePull opens a live cursor. The first delivery reflects the
// current state even when empty; later ones follow commits, coalesced.
func (d *DB) SubscribePull(ctx context.Context, userID string, since int64) (<-chan remote.ChangeSet, error) {
	sub := &pullSub{
		userID: userID,
		since:  since,
		wake:   make(chan struct{}, 1),
		out:    make(chan remote.ChangeSet),
		done:   make(chan struct{}),
	}

	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.pullSubs[id] = sub
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.pullSubs, id)
			d.mu.Unlock()
			close(sub.done)
			close(sub.out)
		}()

		for {
			set := d.changesSince(sub.userID, sub.since)
			select {
			case sub.out <- set:
				sub.since = set.Watermark
			case <-ctx.Done():
				return
			}

			select {
			case <-sub.wake:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub.out, nil
}

func (d *DB) changesSince(userID string, since int64) remote.ChangeSet {
	d.mu.Lock()
	watermark := d.watermark
	d.mu.Unlock()

	set := remote.ChangeSet{Watermark: watermark}

	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblFolders, "owner", userID)
	if err == nil {
		for raw := it.Next(); raw != nil; raw = it.Next() {
			record := raw.(*folderRecord)
			if record.Watermark > since {
				set.Folders = append(set.Folders, record.Folder)
			}
		}
	}

	it, err = txn.Get(tblDocuments, "owner", userID)
	if err == nil {
		for raw := it.Next(); raw != nil; raw = it.Next() {
			record := raw.(*documentRecord)
			if record.Watermark > since {
				set.Documents = append(set.Documents, record.Document)
			}
		}
	}

	return set
}

// PushUpdate appends the fragment to the document's log and broadcasts it.
func (d *DB) PushUpdate(_ context.Context, docID string, update []byte) error {
	return d.appendUpdate(docID, update, false)
}

// SeedUpdate appends the fragment only while the document's log is empty.
// Concurrent legacy migrations collapse to one accepted seed.
func (d *DB) SeedUpdate(_ context.Context, docID string, update []byte) error {
	return d.appendUpdate(docID, update, true)
}

func (d *DB) appendUpdate(docID string, update []byte, seed bool) error {
	buf := make([]byte, len(update))
	copy(buf, update)

	d.mu.Lock()
	if seed && len(d.updates[docID]) > 0 {
		d.mu.Unlock()
		return fmt.Errorf("%w: document %s already has history", remote.ErrRejected, docID)
	}
	d.updates[docID] = append(d.updates[docID], buf)
	subs := make([]*updateSub, 0, len(d.updateSubs[docID]))
	for _, sub := range d.updateSubs[docID] {
		subs = append(subs, sub)
	}
	d.mu.Unlock()

	ev := remote.UpdateEvent{DocumentID: docID, Update: buf}
	for _, sub := range subs {
		select {
		case sub.out <- ev:
		case <-sub.done:
		}
	}
	return nil
}

// SubscribeUpdates replays the document's log, then streams live fragments.
func (d *DB) SubscribeUpdates(ctx context.Context, docID string) (<-chan remote.UpdateEvent, error) {
	sub := &updateSub{
		out:  make(chan remote.UpdateEvent, 64),
		done: make(chan struct{}),
	}

	d.mu.Lock()
	backlog := make([][]byte, len(d.updates[docID]))
	copy(backlog, d.updates[docID])
	id := d.nextSub
	d.nextSub++
	if d.updateSubs[docID] == nil {
		d.updateSubs[docID] = make(map[int]*updateSub)
	}
	d.updateSubs[docID][id] = sub
	d.mu.Unlock()

	out := make(chan remote.UpdateEvent)
	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.updateSubs[docID], id)
			d.mu.Unlock()
			close(sub.done)
			close(out)
		}()

		for _, update := range backlog {
			select {
			case out <- remote.UpdateEvent{DocumentID: docID, Update: update}:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case ev := <-sub.out:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// UpdatePresence records the client's awareness state and broadcasts it.
func (d *DB) UpdatePresence(_ context.Context, record types.PresenceRecord) error {
	record.UpdatedAt = d.clock.Now().UnixMilli()

	d.mu.Lock()
	if d.presence[record.DocumentID] == nil {
		d.presence[record.DocumentID] = make(map[uint32]types.PresenceRecord)
	}
	d.presence[record.DocumentID][record.ClientID] = record
	subs := make([]*presenceSub, 0, len(d.presenceSubs[record.DocumentID]))
	for _, sub := range d.presenceSubs[record.DocumentID] {
		subs = append(subs, sub)
	}
	d.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.out <- record:
		case <-sub.done:
		}
	}
	return nil
}

// SubscribePresence replays the document's live states, then streams
// changes. States older than the presence TTL are dropped.
func (d *DB) SubscribePresence(ctx context.Context, docID string) (<-chan types.PresenceRecord, error) {
	sub := &presenceSub{
		out:  make(chan types.PresenceRecord, 64),
		done: make(chan struct{}),
	}

	now := d.clock.Now().UnixMilli()
	d.mu.Lock()
	var backlog []types.PresenceRecord
	for _, record := range d.presence[docID] {
		if now-record.UpdatedAt <= presenceTTL {
			backlog = append(backlog, record)
		}
	}
	id := d.nextSub
	d.nextSub++
	if d.presenceSubs[docID] == nil {
		d.presenceSubs[docID] = make(map[int]*presenceSub)
	}
	d.presenceSubs[docID][id] = sub
	d.mu.Unlock()

	out := make(chan types.PresenceRecord)
	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.presenceSubs[docID], id)
			d.mu.Unlock()
			close(sub.done)
			close(out)
		}()

		for _, record := range backlog {
			select {
			case out <- record:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case record := <-sub.out:
				select {
				case out <- record:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// GenerateUploadURL issues an in-process destination for the named file.
func (d *DB) GenerateUploadURL(_ context.Context, meta types.FileMeta) (*remote.UploadURL, error) {
	storageID := xid.New().String()
	return &remote.UploadURL{
		URL:       "mem://uploads/" + storageID + "/" + meta.Name,
		StorageID: storageID,
	}, nil
}

// Upload stores the blob under the issued destination.
func (d *DB) Upload(_ context.Context, dest *remote.UploadURL, blob []byte) error {
	buf := make([]byte, len(blob))
	copy(buf, blob)

	d.mu.Lock()
	d.blobs[dest.StorageID] = buf
	d.mu.Unlock()
	return nil
}

// SaveImage attaches the stored blob to the document and returns its URL.
func (d *DB) SaveImage(_ context.Context, storageID, docID string) (string, error) {
	d.mu.Lock()
	_, ok := d.blobs[storageID]
	d.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: no blob for storage id %s", remote.ErrRejected, storageID)
	}

	return "https://images.inkwell.dev/" + docID + "/" + storageID, nil
}

// Blob returns a stored blob. Test helper.
func (d *DB) Blob(storageID string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	blob, ok := d.blobs[storageID]
	return blob, ok
}

// Updates returns the document's fragment log. Test helper.
func (d *DB) Updates(docID string) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	log := make([][]byte, len(d.updates[docID]))
	copy(log, d.updates[docID])
	return log
}
