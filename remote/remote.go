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

// Package remote defines the authority the sync engine, the upload queue
// and collaborative sessions talk to. Subscriptions deliver on a channel
// and end when the given context is canceled.
package remote

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/inkwell-team/inkwell/pkg/types"
)

var (
	// ErrUnavailable is returned when the authority cannot be reached.
	ErrUnavailable = errors.New("remote: unavailable")

	// ErrRejected is returned when the authority refused a batch.
	ErrRejected = errors.New("remote: rejected")
)

// Mutation is one entity change inside a push batch, in queue order.
type Mutation struct {
	EntityType types.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Action     types.SyncAction `json:"action"`
	Data       json.RawMessage  `json:"data,omitempty"`
}

// ChangeSet is one pull delivery. The watermark is the authority's clock
// after the last change included.
type ChangeSet struct {
	Folders   []types.Folder   `json:"folders"`
	Documents []types.Document `json:"documents"`
	Watermark int64            `json:"watermark"`
}

// SyncService moves entity snapshots between the client and the authority.
type SyncService interface {
	// PushChanges applies the batch atomically on behalf of the user.
	// Either every mutation is applied or none is.
	PushChanges(ctx context.Context, userID string, mutations []Mutation) error

	// SubscribePull opens a live cursor at the given watermark. The first
	// delivery carries everything changed since the watermark; later
	// deliveries follow commits. The channel closes when ctx ends or the
	// cursor breaks.
	SubscribePull(ctx context.Context, userID string, since int64) (<-chan ChangeSet, error)
}

// UpdateEvent is one CRDT fragment broadcast for a document.
type UpdateEvent struct {
	DocumentID string `json:"document_id"`
	Update     []byte `json:"update"`
}

// CollabService relays CRDT updates and presence between session peers.
type CollabService interface {
	// PushUpdate appends a fragment to the document's shared log and
	// broadcasts it to subscribers.
	PushUpdate(ctx context.Context, docID string, update []byte) error

	// SeedUpdate writes the document's first fragment. The authority
	// accepts exactly one seed: once the shared log has history the call
	// fails with ErrRejected, so two devices migrating the same legacy
	// snapshot cannot both land theirs.
	SeedUpdate(ctx context.Context, docID string, update []byte) error

	// SubscribeUpdates streams fragments appended by any client,
	// including this one. The channel closes when ctx ends.
	SubscribeUpdates(ctx context.Context, docID string) (<-chan UpdateEvent, error)

	// UpdatePresence publishes the client's awareness state.
	UpdatePresence(ctx context.Context, record types.PresenceRecord) error

	// SubscribePresence streams presence states of the document's peers.
	// Expired states are filtered by the authority.
	SubscribePresence(ctx context.Context, docID string) (<-chan types.PresenceRecord, error)
}

// UploadURL is an issued destination for one binary transfer.
type UploadURL struct {
	URL       string `json:"url"`
	StorageID string `json:"storage_id"`
}

// ImageService moves image blobs to remote storage.
type ImageService interface {
	// GenerateUploadURL issues a destination for the named file.
	GenerateUploadURL(ctx context.Context, meta types.FileMeta) (*UploadURL, error)

	// Upload transfers the blob to the issued destination.
	Upload(ctx context.Context, dest *UploadURL, blob []byte) error

	// SaveImage attaches the stored blob to a document and returns its
	// final public URL.
	SaveImage(ctx context.Context, storageID, docID string) (string, error)
}

// Service is the full remote authority surface.
type Service interface {
	SyncService
	CollabService
	ImageService
}
