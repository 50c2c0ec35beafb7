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

// Package types provides the domain model shared by the local store, the
// entity services and the sync engine.
package types

import "encoding/json"

// LocalOwnerID is the owner recorded on entities created before sign-in.
// Push rewrites it to the signed-in user.
const LocalOwnerID = "local"

// DocType is the kind of a document and of the folder tree it lives in.
type DocType string

const (
	TypeNote   DocType = "note"
	TypeCanvas DocType = "canvas"
	TypeERD    DocType = "erd"
)

// Valid returns whether the doc type is one of the known kinds.
func (t DocType) Valid() bool {
	switch t {
	case TypeNote, TypeCanvas, TypeERD:
		return true
	default:
		return false
	}
}

// Folder is a node of the per-type folder tree. A nil ParentID means the
// folder sits at the root of its tree.
type Folder struct {
	ID        string  `json:"id" validate:"required"`
	Name      string  `json:"name" validate:"required"`
	DocType   DocType `json:"doc_type" validate:"required"`
	ParentID  *string `json:"parent_id,omitempty"`
	OwnerID   string  `json:"owner_id"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

// Document is a single editable document. Timestamps are Unix milliseconds.
type Document struct {
	ID          string   `json:"id" validate:"required"`
	DocType     DocType  `json:"doc_type" validate:"required"`
	Title       string   `json:"title"`
	Content     *Content `json:"content,omitempty"`
	FolderID    *string  `json:"folder_id,omitempty"`
	OwnerID     string   `json:"owner_id"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
	IsArchived  bool     `json:"is_archived"`
	IsLocalOnly bool     `json:"is_local_only"`
}

// EntityType identifies which entity a sync queue item refers to.
type EntityType string

const (
	EntityFolder   EntityType = "folder"
	EntityDocument EntityType = "document"
)

// SyncAction is the mutation a sync queue item carries.
type SyncAction string

const (
	ActionCreate SyncAction = "create"
	ActionUpdate SyncAction = "update"
	ActionDelete SyncAction = "delete"
)

// SyncQueueItem is one pending outbound mutation. Seq is assigned by the
// store and orders the queue.
type SyncQueueItem struct {
	Seq        uint64          `json:"seq"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     SyncAction      `json:"action"`
	Data       json.RawMessage `json:"data,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// UploadStatus is the lifecycle state of a queued image upload.
type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadSuccess   UploadStatus = "success"
	UploadError     UploadStatus = "error"
)

// FileMeta describes the original file of a queued upload.
type FileMeta struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
}

// UploadQueueItem is one image blob waiting to be uploaded. TempID is the
// placeholder referenced from document content until the real URL arrives.
type UploadQueueItem struct {
	TempID     string       `json:"temp_id"`
	Blob       []byte       `json:"blob"`
	Meta       FileMeta     `json:"meta"`
	DocumentID string       `json:"document_id"`
	Retries    int          `json:"retries"`
	Status     UploadStatus `json:"status"`
	CreatedAt  int64        `json:"created_at"`
}

// PresenceRecord is the last known awareness state of one client in a
// collaborative session.
type PresenceRecord struct {
	DocumentID string          `json:"document_id"`
	ClientID   uint32          `json:"client_id"`
	State      json.RawMessage `json:"state"`
	UpdatedAt  int64           `json:"updated_at"`
}
