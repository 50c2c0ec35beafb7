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

// Package localdb defines the durable client-side store shared by the
// entity services, the sync engine, the upload queue and the collaboration
// layer. It has no network behavior.
package localdb

import (
	"context"
	"errors"

	"github.com/inkwell-team/inkwell/pkg/types"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	// Callers treat it as an explicit miss, not control flow.
	ErrNotFound = errors.New("localdb: not found")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("localdb: closed")
)

// ChangeSet is one pull delivery: every folder and document changed since
// the previous watermark, plus the new watermark.
type ChangeSet struct {
	Folders   []types.Folder
	Documents []types.Document
	Watermark int64
}

// Empty returns true if the delivery carries no entity changes.
func (c ChangeSet) Empty() bool {
	return len(c.Folders) == 0 && len(c.Documents) == 0
}

// Database is the local persistent store. Implementations must provide
// atomic multi-table transactions for ApplyChangeSet and secondary lookups
// for the filtered queries below.
type Database interface {
	// PutFolder upserts a folder by id.
	PutFolder(ctx context.Context, folder types.Folder) error

	// FindFolder returns the folder with the given id or ErrNotFound.
	FindFolder(ctx context.Context, id string) (*types.Folder, error)

	// ListFolders returns every folder.
	ListFolders(ctx context.Context) ([]types.Folder, error)

	// FindFoldersByParent returns the children of the given parent; a nil
	// parent selects root folders.
	FindFoldersByParent(ctx context.Context, parentID *string) ([]types.Folder, error)

	// DeleteFolder removes the folder with the given id.
	DeleteFolder(ctx context.Context, id string) error

	// PutDocument upserts a document by id.
	PutDocument(ctx context.Context, doc types.Document) error

	// FindDocument returns the document with the given id or ErrNotFound.
	FindDocument(ctx context.Context, id string) (*types.Document, error)

	// ListDocuments returns non-archived documents.
	ListDocuments(ctx context.Context) ([]types.Document, error)

	// FindDocumentsByFolder returns non-archived documents in the given
	// folder; a nil folder selects unfiled documents.
	FindDocumentsByFolder(ctx context.Context, folderID *string) ([]types.Document, error)

	// FindDocumentsByType returns non-archived documents of the given type.
	FindDocumentsByType(ctx context.Context, docType types.DocType) ([]types.Document, error)

	// ListArchivedDocuments returns archived documents.
	ListArchivedDocuments(ctx context.Context) ([]types.Document, error)

	// DeleteDocument removes the document with the given id.
	DeleteDocument(ctx context.Context, id string) error

	// EnqueueSyncItem appends an item to the outbound mutation log and
	// returns its sequence number.
	EnqueueSyncItem(ctx context.Context, item types.SyncQueueItem) (uint64, error)

	// ListSyncQueue returns the whole queue in FIFO order.
	ListSyncQueue(ctx context.Context) ([]types.SyncQueueItem, error)

	// DeleteSyncItems removes exactly the items with the given sequence
	// numbers.
	DeleteSyncItems(ctx context.Context, seqs []uint64) error

	// CountSyncQueue returns the number of queued items.
	CountSyncQueue(ctx context.Context) (int, error)

	// PutUpload upserts an upload queue item by temp id.
	PutUpload(ctx context.Context, item types.UploadQueueItem) error

	// FindUpload returns the upload item with the given temp id or
	// ErrNotFound.
	FindUpload(ctx context.Context, tempID string) (*types.UploadQueueItem, error)

	// ListUploads returns every upload queue item ordered by creation.
	ListUploads(ctx context.Context) ([]types.UploadQueueItem, error)

	// DeleteUpload removes the upload item with the given temp id.
	DeleteUpload(ctx context.Context, tempID string) error

	// AppendDocumentUpdate appends one encoded CRDT fragment to the
	// durable replica of the given document.
	AppendDocumentUpdate(ctx context.Context, docID string, update []byte) error

	// ListDocumentUpdates returns the replica's fragments in append order.
	ListDocumentUpdates(ctx context.Context, docID string) ([][]byte, error)

	// DeleteDocumentUpdates drops the durable replica of the document.
	DeleteDocumentUpdates(ctx context.Context, docID string) error

	// Watermark returns the last-pulled watermark, zero if never synced.
	Watermark(ctx context.Context) (int64, error)

	// SetWatermark persists the watermark.
	SetWatermark(ctx context.Context, watermark int64) error

	// ApplyChangeSet upserts the delivery's folders and documents and
	// advances the watermark in one atomic transaction. A delivery whose
	// watermark is not greater than the persisted one is ignored.
	ApplyChangeSet(ctx context.Context, set ChangeSet) error

	// PurgeSynced removes every entity that is not local-only, their
	// replicas, the sync queue and the watermark. Used on sign-out so a
	// following user never sees the previous account's cached data.
	PurgeSynced(ctx context.Context) error

	// Close releases the store.
	Close() error
}
