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

// Package sqlite implements the local store interface on an embedded
// SQLite database so local state survives process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/inkwell-team/inkwell/localdb"
	"github.com/inkwell-team/inkwell/pkg/types"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS folders (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	doc_type   TEXT NOT NULL,
	parent_id  TEXT,
	owner_id   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);

CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	doc_type      TEXT NOT NULL,
	title         TEXT NOT NULL,
	content       TEXT,
	folder_id     TEXT,
	owner_id      TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	is_archived   INTEGER NOT NULL DEFAULT 0,
	is_local_only INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_documents_folder ON documents(folder_id);
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(doc_type);
CREATE INDEX IF NOT EXISTS idx_documents_archived ON documents(is_archived);

CREATE TABLE IF NOT EXISTS sync_queue (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	action      TEXT NOT NULL,
	data        TEXT,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS upload_queue (
	temp_id     TEXT PRIMARY KEY,
	blob        BLOB NOT NULL,
	name        TEXT NOT NULL,
	mime        TEXT NOT NULL,
	document_id TEXT NOT NULL,
	retries     INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_upload_queue_status ON upload_queue(status);

CREATE TABLE IF NOT EXISTS doc_updates (
	seq    INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id TEXT NOT NULL,
	bytes  BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_doc_updates_doc ON doc_updates(doc_id);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// DB is a durable local store backed by an embedded SQLite database.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the store at the given path. The caller must call
// Close when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn, path: path}

	// WAL keeps readers unblocked while the sync engine writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func encodeContent(content *types.Content) (sql.NullString, error) {
	if content == nil {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(content)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode content: %w", err)
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func decodeContent(raw sql.NullString) (*types.Content, error) {
	if !raw.Valid {
		return nil, nil
	}
	content := &types.Content{}
	if err := json.Unmarshal([]byte(raw.String), content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return content, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullable(raw sql.NullString) *string {
	if !raw.Valid {
		return nil
	}
	s := raw.String
	return &s
}

// PutFolder upserts a folder by id.
func (d *DB) PutFolder(ctx context.Context, folder types.Folder) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO folders (id, name, doc_type, parent_id, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			doc_type = excluded.doc_type,
			parent_id = excluded.parent_id,
			owner_id = excluded.owner_id,
			updated_at = excluded.updated_at`,
		folder.ID, folder.Name, string(folder.DocType), nullable(folder.ParentID),
		folder.OwnerID, folder.CreatedAt, folder.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put folder: %w", err)
	}
	return nil
}

func scanFolder(row interface{ Scan(...any) error }) (*types.Folder, error) {
	var folder types.Folder
	var docType string
	var parentID sql.NullString
	if err := row.Scan(
		&folder.ID, &folder.Name, &docType, &parentID,
		&folder.OwnerID, &folder.CreatedAt, &folder.UpdatedAt,
	); err != nil {
		return nil, err
	}
	folder.DocType = types.DocType(docType)
	folder.ParentID = fromNullable(parentID)
	return &folder, nil
}

const folderColumns = "id, name, doc_type, parent_id, owner_id, created_at, updated_at"

// FindFolder returns the folder with the given id.
func (d *DB) FindFolder(ctx context.Context, id string) (*types.Folder, error) {
	row := d.conn.QueryRowContext(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE id = ?", id)
	folder, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("folder %s: %w", id, localdb.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find folder: %w", err)
	}
	return folder, nil
}

func (d *DB) queryFolders(ctx context.Context, query string, args ...any) ([]types.Folder, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var folders []types.Folder
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, *folder)
	}
	return folders, rows.Err()
}

// ListFolders returns every folder.
func (d *DB) ListFolders(ctx context.Context) ([]types.Folder, error) {
	return d.queryFolders(ctx, "SELECT "+folderColumns+" FROM folders ORDER BY created_at")
}

// FindFoldersByParent returns the children of the given parent.
func (d *DB) FindFoldersByParent(ctx context.Context, parentID *string) ([]types.Folder, error) {
	if parentID == nil {
		return d.queryFolders(ctx,
			"SELECT "+folderColumns+" FROM folders WHERE parent_id IS NULL ORDER BY created_at")
	}
	return d.queryFolders(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE parent_id = ? ORDER BY created_at", *parentID)
}

// DeleteFolder removes the folder with the given id.
func (d *DB) DeleteFolder(ctx context.Context, id string) error {
	res, err := d.conn.ExecContext(ctx, "DELETE FROM folders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("folder %s: %w", id, localdb.ErrNotFound)
	}
	return nil
}

const documentColumns = "id, doc_type, title, content, folder_id, owner_id, " +
	"created_at, updated_at, is_archived, is_local_only"

// PutDocument upserts a document by id.
func (d *DB) PutDocument(ctx context.Context, doc types.Document) error {
	if err := doc.Content.Validate(doc.DocType); err != nil {
		return err
	}
	content, err := encodeContent(doc.Content)
	if err != nil {
		return err
	}

	_, err = d.conn.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc_type = excluded.doc_type,
			title = excluded.title,
			content = excluded.content,
			folder_id = excluded.folder_id,
			owner_id = excluded.owner_id,
			updated_at = excluded.updated_at,
			is_archived = excluded.is_archived,
			is_local_only = excluded.is_local_only`,
		doc.ID, string(doc.DocType), doc.Title, content, nullable(doc.FolderID),
		doc.OwnerID, doc.CreatedAt, doc.UpdatedAt, doc.IsArchived, doc.IsLocalOnly,
	)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

func scanDocument(row interface{ Scan(...any) error }) (*types.Document, error) {
	var doc types.Document
	var docType string
	var content, folderID sql.NullString
	if err := row.Scan(
		&doc.ID, &docType, &doc.Title, &content, &folderID,
		&doc.OwnerID, &doc.CreatedAt, &doc.UpdatedAt, &doc.IsArchived, &doc.IsLocalOnly,
	); err != nil {
		return nil, err
	}
	doc.DocType = types.DocType(docType)
	doc.FolderID = fromNullable(folderID)

	decoded, err := decodeContent(content)
	if err != nil {
		return nil, err
	}
	doc.Content = decoded
	return &doc, nil
}

// FindDocument returns the document with the given id.
func (d *DB) FindDocument(ctx context.Context, id string) (*types.Document, error) {
	row := d.conn.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, localdb.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	return doc, nil
}

func (d *DB) queryDocuments(ctx context.Context, query string, args ...any) ([]types.Document, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// ListDocuments returns non-archived documents.
func (d *DB) ListDocuments(ctx context.Context) ([]types.Document, error) {
	return d.queryDocuments(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE is_archived = 0 ORDER BY created_at")
}

// FindDocumentsByFolder returns non-archived documents in the folder.
func (d *DB) FindDocumentsByFolder(ctx context.Context, folderID *string) ([]types.Document, error) {
	if folderID == nil {
		return d.queryDocuments(ctx,
			"SELECT "+documentColumns+" FROM documents WHERE folder_id IS NULL AND is_archived = 0 ORDER BY created_at")
	}
	return d.queryDocuments(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE folder_id = ? AND is_archived = 0 ORDER BY created_at", *folderID)
}

// FindDocumentsByType returns non-archived documents of the given type.
func (d *DB) FindDocumentsByType(ctx context.Context, docType types.DocType) ([]types.Document, error) {
	return d.queryDocuments(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE doc_type = ? AND is_archived = 0 ORDER BY created_at",
		string(docType))
}

// ListArchivedDocuments returns archived documents.
func (d *DB) ListArchivedDocuments(ctx context.Context) ([]types.Document, error) {
	return d.queryDocuments(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE is_archived = 1 ORDER BY created_at")
}

// DeleteDocument removes the document with the given id.
func (d *DB) DeleteDocument(ctx context.Context, id string) error {
	res, err := d.conn.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %s: %w", id, localdb.ErrNotFound)
	}
	return nil
}

// EnqueueSyncItem appends an item to the outbound mutation log.
func (d *DB) EnqueueSyncItem(ctx context.Context, item types.SyncQueueItem) (uint64, error) {
	var data sql.NullString
	if len(item.Data) > 0 {
		data = sql.NullString{String: string(item.Data), Valid: true}
	}

	res, err := d.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (entity_type, entity_id, action, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(item.EntityType), item.EntityID, string(item.Action), data, item.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue sync item: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue sync item: %w", err)
	}
	return uint64(seq), nil
}

// ListSyncQueue returns the whole queue in FIFO order.
func (d *DB) ListSyncQueue(ctx context.Context) ([]types.SyncQueueItem, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT seq, entity_type, entity_id, action, data, created_at
		FROM sync_queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list sync queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []types.SyncQueueItem
	for rows.Next() {
		var item types.SyncQueueItem
		var entityType, action string
		var data sql.NullString
		if err := rows.Scan(
			&item.Seq, &entityType, &item.EntityID, &action, &data, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sync item: %w", err)
		}
		item.EntityType = types.EntityType(entityType)
		item.Action = types.SyncAction(action)
		if data.Valid {
			item.Data = json.RawMessage(data.String)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteSyncItems removes exactly the items with the given sequence numbers.
func (d *DB) DeleteSyncItems(ctx context.Context, seqs []uint64) error {
	if len(seqs) == 0 {
		return nil
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, seq := range seqs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE seq = ?", seq); err != nil {
			return fmt.Errorf("delete sync item: %w", err)
		}
	}
	return tx.Commit()
}

// CountSyncQueue returns the number of queued items.
func (d *DB) CountSyncQueue(ctx context.Context) (int, error) {
	var count int
	if err := d.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_queue").Scan(&count); err != nil {
		return 0, fmt.Errorf("count sync queue: %w", err)
	}
	return count, nil
}

// PutUpload upserts an upload queue item by temp id.
func (d *DB) PutUpload(ctx context.Context, item types.UploadQueueItem) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO upload_queue (temp_id, blob, name, mime, document_id, retries, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(temp_id) DO UPDATE SET
			retries = excluded.retries,
			status = excluded.status`,
		item.TempID, item.Blob, item.Meta.Name, item.Meta.MIME,
		item.DocumentID, item.Retries, string(item.Status), item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put upload: %w", err)
	}
	return nil
}

func scanUpload(row interface{ Scan(...any) error }) (*types.UploadQueueItem, error) {
	var item types.UploadQueueItem
	var status string
	if err := row.Scan(
		&item.TempID, &item.Blob, &item.Meta.Name, &item.Meta.MIME,
		&item.DocumentID, &item.Retries, &status, &item.CreatedAt,
	); err != nil {
		return nil, err
	}
	item.Status = types.UploadStatus(status)
	return &item, nil
}

// FindUpload returns the upload item with the given temp id.
func (d *DB) FindUpload(ctx context.Context, tempID string) (*types.UploadQueueItem, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT temp_id, blob, name, mime, document_id, retries, status, created_at
		FROM upload_queue WHERE temp_id = ?`, tempID)
	item, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("upload %s: %w", tempID, localdb.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find upload: %w", err)
	}
	return item, nil
}

// ListUploads returns every upload queue item ordered by creation.
func (d *DB) ListUploads(ctx context.Context) ([]types.UploadQueueItem, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT temp_id, blob, name, mime, document_id, retries, status, created_at
		FROM upload_queue ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []types.UploadQueueItem
	for rows.Next() {
		item, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// DeleteUpload removes the upload item with the given temp id.
func (d *DB) DeleteUpload(ctx context.Context, tempID string) error {
	res, err := d.conn.ExecContext(ctx, "DELETE FROM upload_queue WHERE temp_id = ?", tempID)
	if err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("upload %s: %w", tempID, localdb.ErrNotFound)
	}
	return nil
}

// AppendDocumentUpdate appends one encoded CRDT fragment to the replica.
func (d *DB) AppendDocumentUpdate(ctx context.Context, docID string, update []byte) error {
	if _, err := d.conn.ExecContext(ctx,
		"INSERT INTO doc_updates (doc_id, bytes) VALUES (?, ?)", docID, update); err != nil {
		return fmt.Errorf("append update: %w", err)
	}
	return nil
}

// ListDocumentUpdates returns the replica's fragments in append order.
func (d *DB) ListDocumentUpdates(ctx context.Context, docID string) ([][]byte, error) {
	rows, err := d.conn.QueryContext(ctx,
		"SELECT bytes FROM doc_updates WHERE doc_id = ? ORDER BY seq", docID)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var updates [][]byte
	for rows.Next() {
		var bytes []byte
		if err := rows.Scan(&bytes); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		updates = append(updates, bytes)
	}
	return updates, rows.Err()
}

// DeleteDocumentUpdates drops the durable replica of the document.
func (d *DB) DeleteDocumentUpdates(ctx context.Context, docID string) error {
	if _, err := d.conn.ExecContext(ctx,
		"DELETE FROM doc_updates WHERE doc_id = ?", docID); err != nil {
		return fmt.Errorf("delete updates: %w", err)
	}
	return nil
}

// Watermark returns the last-pulled watermark.
func (d *DB) Watermark(ctx context.Context) (int64, error) {
	var value int64
	err := d.conn.QueryRowContext(ctx,
		"SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'watermark'").Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	return value, nil
}

// SetWatermark persists the watermark.
func (d *DB) SetWatermark(ctx context.Context, watermark int64) error {
	if _, err := d.conn.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('watermark', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", watermark),
	); err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// ApplyChangeSet upserts the delivery in one atomic transaction.
func (d *DB) ApplyChangeSet(ctx context.Context, set localdb.ChangeSet) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx,
		"SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'watermark'").Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read watermark: %w", err)
	}
	if set.Watermark <= current {
		return nil
	}

	for _, folder := range set.Folders {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO folders (id, name, doc_type, parent_id, owner_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				doc_type = excluded.doc_type,
				parent_id = excluded.parent_id,
				owner_id = excluded.owner_id,
				updated_at = excluded.updated_at`,
			folder.ID, folder.Name, string(folder.DocType), nullable(folder.ParentID),
			folder.OwnerID, folder.CreatedAt, folder.UpdatedAt,
		); err != nil {
			return fmt.Errorf("apply folder: %w", err)
		}
	}
	for _, doc := range set.Documents {
		content, err := encodeContent(doc.Content)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (`+documentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				doc_type = excluded.doc_type,
				title = excluded.title,
				content = excluded.content,
				folder_id = excluded.folder_id,
				owner_id = excluded.owner_id,
				updated_at = excluded.updated_at,
				is_archived = excluded.is_archived`,
			doc.ID, string(doc.DocType), doc.Title, content, nullable(doc.FolderID),
			doc.OwnerID, doc.CreatedAt, doc.UpdatedAt, doc.IsArchived, doc.IsLocalOnly,
		); err != nil {
			return fmt.Errorf("apply document: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('watermark', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", set.Watermark),
	); err != nil {
		return fmt.Errorf("apply watermark: %w", err)
	}

	return tx.Commit()
}

// PurgeSynced removes every entity that is not local-only, their replicas,
// the sync queue and the watermark.
func (d *DB) PurgeSynced(ctx context.Context) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM folders"); err != nil {
		return fmt.Errorf("purge folders: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM doc_updates WHERE doc_id IN
			(SELECT id FROM documents WHERE is_local_only = 0)`); err != nil {
		return fmt.Errorf("purge replicas: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM documents WHERE is_local_only = 0"); err != nil {
		return fmt.Errorf("purge documents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue"); err != nil {
		return fmt.Errorf("purge sync queue: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM meta WHERE key = 'watermark'"); err != nil {
		return fmt.Errorf("purge watermark: %w", err)
	}

	return tx.Commit()
}
