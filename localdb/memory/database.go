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

// Package memory implements the local store interface using an in-memory
// database. It is used in tests and as an ephemeral store; durability is
// provided by the sqlite backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"

	"github.com/inkwell-team/inkwell/localdb"
	"github.com/inkwell-team/inkwell/pkg/types"
)

const rootKey = "(root)"

const metaWatermark = "watermark"

// folderRecord wraps a folder with flattened index fields.
type folderRecord struct {
	ID        string
	ParentKey string
	Folder    types.Folder
}

// documentRecord wraps a document with flattened index fields.
type documentRecord struct {
	ID        string
	FolderKey string
	DocType   string
	Archived  bool
	Document  types.Document
}

// updateRecord is one appended CRDT fragment of a document replica.
type updateRecord struct {
	Seq   uint64
	DocID string
	Bytes []byte
}

type metaRecord struct {
	Key   string
	Value string
}

// DB is an in-memory local store.
type DB struct {
	db        *memdb.MemDB
	nextSeq   uint64
	updateSeq uint64
}

// New returns a new in-memory local store.
func New() (*DB, error) {
	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}

	return &DB{db: memDB}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return nil
}

func parentKey(parentID *string) string {
	if parentID == nil {
		return rootKey
	}
	return *parentID
}

// PutFolder upserts a folder by id.
func (d *DB) PutFolder(_ context.Context, folder types.Folder) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(tblFolders, &folderRecord{
		ID:        folder.ID,
		ParentKey: parentKey(folder.ParentID),
		Folder:    folder,
	}); err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}

	txn.Commit()
	return nil
}

// FindFolder returns the folder with the given id.
func (d *DB) FindFolder(_ context.Context, id string) (*types.Folder, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblFolders, "id", id)
	if err != nil {
		return nil, fmt.Errorf("find folder: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("folder %s: %w", id, localdb.ErrNotFound)
	}

	folder := raw.(*folderRecord).Folder
	return &folder, nil
}

// ListFolders returns every folder.
func (d *DB) ListFolders(_ context.Context) ([]types.Folder, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblFolders, "id")
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}

	var folders []types.Folder
	for raw := it.Next(); raw != nil; raw = it.Next() {
		folders = append(folders, raw.(*folderRecord).Folder)
	}
	return folders, nil
}

// FindFoldersByParent returns the children of the given parent.
func (d *DB) FindFoldersByParent(_ context.Context, parentID *string) ([]types.Folder, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblFolders, "parent_key", parentKey(parentID))
	if err != nil {
		return nil, fmt.Errorf("find folders by parent: %w", err)
	}

	var folders []types.Folder
	for raw := it.Next(); raw != nil; raw = it.Next() {
		folders = append(folders, raw.(*folderRecord).Folder)
	}
	return folders, nil
}

// DeleteFolder removes the folder with the given id.
func (d *DB) DeleteFolder(_ context.Context, id string) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblFolders, "id", id)
	if err != nil {
		return fmt.Errorf("find folder: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("folder %s: %w", id, localdb.ErrNotFound)
	}
	if err := txn.Delete(tblFolders, raw); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}

	txn.Commit()
	return nil
}

// PutDocument upserts a document by id.
func (d *DB) PutDocument(_ context.Context, doc types.Document) error {
	if err := doc.Content.Validate(doc.DocType); err != nil {
		return err
	}

	txn := d.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(tblDocuments, newDocumentRecord(doc)); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	txn.Commit()
	return nil
}

func newDocumentRecord(doc types.Document) *documentRecord {
	return &documentRecord{
		ID:        doc.ID,
		FolderKey: parentKey(doc.FolderID),
		DocType:   string(doc.DocType),
		Archived:  doc.IsArchived,
		Document:  doc,
	}
}

// FindDocument returns the document with the given id.
func (d *DB) FindDocument(_ context.Context, id string) (*types.Document, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblDocuments, "id", id)
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("document %s: %w", id, localdb.ErrNotFound)
	}

	doc := raw.(*documentRecord).Document
	return &doc, nil
}

// ListDocuments returns non-archived documents.
func (d *DB) ListDocuments(_ context.Context) ([]types.Document, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblDocuments, "archived", false)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var docs []types.Document
	for raw := it.Next(); raw != nil; raw = it.Next() {
		docs = append(docs, raw.(*documentRecord).Document)
	}
	return docs, nil
}

// FindDocumentsByFolder returns non-archived documents in the folder.
func (d *DB) FindDocumentsByFolder(_ context.Context, folderID *string) ([]types.Document, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblDocuments, "folder_key", parentKey(folderID))
	if err != nil {
		return nil, fmt.Errorf("find documents by folder: %w", err)
	}

	var docs []types.Document
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*documentRecord)
		if rec.Archived {
			continue
		}
		docs = append(docs, rec.Document)
	}
	return docs, nil
}

// FindDocumentsByType returns non-archived documents of the given type.
func (d *DB) FindDocumentsByType(_ context.Context, docType types.DocType) ([]types.Document, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblDocuments, "doc_type", string(docType))
	if err != nil {
		return nil, fmt.Errorf("find documents by type: %w", err)
	}

	var docs []types.Document
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*documentRecord)
		if rec.Archived {
			continue
		}
		docs = append(docs, rec.Document)
	}
	return docs, nil
}

// ListArchivedDocuments returns archived documents.
func (d *DB) ListArchivedDocuments(_ context.Context) ([]types.Document, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblDocuments, "archived", true)
	if err != nil {
		return nil, fmt.Errorf("list archived documents: %w", err)
	}

	var docs []types.Document
	for raw := it.Next(); raw != nil; raw = it.Next() {
		docs = append(docs, raw.(*documentRecord).Document)
	}
	return docs, nil
}

// DeleteDocument removes the document with the given id.
func (d *DB) DeleteDocument(_ context.Context, id string) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblDocuments, "id", id)
	if err != nil {
		return fmt.Errorf("find document: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("document %s: %w", id, localdb.ErrNotFound)
	}
	if err := txn.Delete(tblDocuments, raw); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	txn.Commit()
	return nil
}

// EnqueueSyncItem appends an item to the outbound mutation log.
func (d *DB) EnqueueSyncItem(_ context.Context, item types.SyncQueueItem) (uint64, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	item.Seq = atomic.AddUint64(&d.nextSeq, 1)
	if err := txn.Insert(tblSyncQueue, &item); err != nil {
		return 0, fmt.Errorf("insert sync item: %w", err)
	}

	txn.Commit()
	return item.Seq, nil
}

// ListSyncQueue returns the whole queue in FIFO order.
func (d *DB) ListSyncQueue(_ context.Context) ([]types.SyncQueueItem, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblSyncQueue, "id")
	if err != nil {
		return nil, fmt.Errorf("list sync queue: %w", err)
	}

	var items []types.SyncQueueItem
	for raw := it.Next(); raw != nil; raw = it.Next() {
		items = append(items, *raw.(*types.SyncQueueItem))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items, nil
}

// DeleteSyncItems removes exactly the items with the given sequence numbers.
func (d *DB) DeleteSyncItems(_ context.Context, seqs []uint64) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	for _, seq := range seqs {
		raw, err := txn.First(tblSyncQueue, "id", seq)
		if err != nil {
			return fmt.Errorf("find sync item: %w", err)
		}
		if raw == nil {
			continue
		}
		if err := txn.Delete(tblSyncQueue, raw); err != nil {
			return fmt.Errorf("delete sync item: %w", err)
		}
	}

	txn.Commit()
	return nil
}

// CountSyncQueue returns the number of queued items.
func (d *DB) CountSyncQueue(_ context.Context) (int, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblSyncQueue, "id")
	if err != nil {
		return 0, fmt.Errorf("count sync queue: %w", err)
	}

	count := 0
	for raw := it.Next(); raw != nil; raw = it.Next() {
		count++
	}
	return count, nil
}

// PutUpload upserts an upload queue item by temp id.
func (d *DB) PutUpload(_ context.Context, item types.UploadQueueItem) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(tblUploads, &item); err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}

	txn.Commit()
	return nil
}

// FindUpload returns the upload item with the given temp id.
func (d *DB) FindUpload(_ context.Context, tempID string) (*types.UploadQueueItem, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblUploads, "id", tempID)
	if err != nil {
		return nil, fmt.Errorf("find upload: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("upload %s: %w", tempID, localdb.ErrNotFound)
	}

	item := *raw.(*types.UploadQueueItem)
	return &item, nil
}

// ListUploads returns every upload queue item ordered by creation.
func (d *DB) ListUploads(_ context.Context) ([]types.UploadQueueItem, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblUploads, "id")
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}

	var items []types.UploadQueueItem
	for raw := it.Next(); raw != nil; raw = it.Next() {
		items = append(items, *raw.(*types.UploadQueueItem))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt < items[j].CreatedAt })
	return items, nil
}

// DeleteUpload removes the upload item with the given temp id.
func (d *DB) DeleteUpload(_ context.Context, tempID string) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblUploads, "id", tempID)
	if err != nil {
		return fmt.Errorf("find upload: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("upload %s: %w", tempID, localdb.ErrNotFound)
	}
	if err := txn.Delete(tblUploads, raw); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}

	txn.Commit()
	return nil
}

// AppendDocumentUpdate appends one encoded CRDT fragment to the replica.
func (d *DB) AppendDocumentUpdate(_ context.Context, docID string, update []byte) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	bytes := make([]byte, len(update))
	copy(bytes, update)

	if err := txn.Insert(tblUpdates, &updateRecord{
		Seq:   atomic.AddUint64(&d.updateSeq, 1),
		DocID: docID,
		Bytes: bytes,
	}); err != nil {
		return fmt.Errorf("insert update: %w", err)
	}

	txn.Commit()
	return nil
}

// ListDocumentUpdates returns the replica's fragments in append order.
func (d *DB) ListDocumentUpdates(_ context.Context, docID string) ([][]byte, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblUpdates, "doc_id", docID)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}

	var records []*updateRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		records = append(records, raw.(*updateRecord))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	updates := make([][]byte, 0, len(records))
	for _, rec := range records {
		updates = append(updates, rec.Bytes)
	}
	return updates, nil
}

// DeleteDocumentUpdates drops the durable replica of the document.
func (d *DB) DeleteDocumentUpdates(_ context.Context, docID string) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(tblUpdates, "doc_id", docID); err != nil {
		return fmt.Errorf("delete updates: %w", err)
	}

	txn.Commit()
	return nil
}

// Watermark returns the last-pulled watermark.
func (d *DB) Watermark(_ context.Context) (int64, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	return watermarkInTxn(txn)
}

func watermarkInTxn(txn *memdb.Txn) (int64, error) {
	raw, err := txn.First(tblMeta, "id", metaWatermark)
	if err != nil {
		return 0, fmt.Errorf("find watermark: %w", err)
	}
	if raw == nil {
		return 0, nil
	}

	watermark, err := strconv.ParseInt(raw.(*metaRecord).Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse watermark: %w", err)
	}
	return watermark, nil
}

// SetWatermark persists the watermark.
func (d *DB) SetWatermark(_ context.Context, watermark int64) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	if err := setWatermarkInTxn(txn, watermark); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

func setWatermarkInTxn(txn *memdb.Txn, watermark int64) error {
	if err := txn.Insert(tblMeta, &metaRecord{
		Key:   metaWatermark,
		Value: strconv.FormatInt(watermark, 10),
	}); err != nil {
		return fmt.Errorf("insert watermark: %w", err)
	}
	return nil
}

// ApplyChangeSet upserts the delivery in one atomic transaction.
func (d *DB) ApplyChangeSet(_ context.Context, set localdb.ChangeSet) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	current, err := watermarkInTxn(txn)
	if err != nil {
		return err
	}
	if set.Watermark <= current {
		return nil
	}

	for _, folder := range set.Folders {
		if err := txn.Insert(tblFolders, &folderRecord{
			ID:        folder.ID,
			ParentKey: parentKey(folder.ParentID),
			Folder:    folder,
		}); err != nil {
			return fmt.Errorf("apply folder: %w", err)
		}
	}
	for _, doc := range set.Documents {
		if err := txn.Insert(tblDocuments, newDocumentRecord(doc)); err != nil {
			return fmt.Errorf("apply document: %w", err)
		}
	}
	if err := setWatermarkInTxn(txn, set.Watermark); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// PurgeSynced removes every entity that is not local-only, their replicas,
// the sync queue and the watermark.
func (d *DB) PurgeSynced(_ context.Context) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(tblFolders, "id")
	if err != nil {
		return fmt.Errorf("purge folders: %w", err)
	}
	var folderRecs []*folderRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		folderRecs = append(folderRecs, raw.(*folderRecord))
	}
	for _, rec := range folderRecs {
		if err := txn.Delete(tblFolders, rec); err != nil {
			return fmt.Errorf("purge folder: %w", err)
		}
	}

	it, err = txn.Get(tblDocuments, "id")
	if err != nil {
		return fmt.Errorf("purge documents: %w", err)
	}
	var docRecs []*documentRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*documentRecord)
		if rec.Document.IsLocalOnly {
			continue
		}
		docRecs = append(docRecs, rec)
	}
	for _, rec := range docRecs {
		if err := txn.Delete(tblDocuments, rec); err != nil {
			return fmt.Errorf("purge document: %w", err)
		}
		if _, err := txn.DeleteAll(tblUpdates, "doc_id", rec.ID); err != nil {
			return fmt.Errorf("purge replica: %w", err)
		}
	}

	it, err = txn.Get(tblSyncQueue, "id")
	if err != nil {
		return fmt.Errorf("purge sync queue: %w", err)
	}
	var queueRecs []*types.SyncQueueItem
	for raw := it.Next(); raw != nil; raw = it.Next() {
		queueRecs = append(queueRecs, raw.(*types.SyncQueueItem))
	}
	for _, rec := range queueRecs {
		if err := txn.Delete(tblSyncQueue, rec); err != nil {
			return fmt.Errorf("purge sync item: %w", err)
		}
	}

	if _, err := txn.DeleteAll(tblMeta, "id", metaWatermark); err != nil {
		return fmt.Errorf("purge watermark: %w", err)
	}

	txn.Commit()
	return nil
}
