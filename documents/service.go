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

// Package documents manages document lifecycle: create, edit metadata,
// archive and delete. Mutations land in the local store and the outbound
// sync queue without touching the network.
package documents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/inkwell-team/inkwell/internal/logging"
	"github.com/inkwell-team/inkwell/localdb"
	"github.com/inkwell-team/inkwell/pkg/types"
)

// Service owns document mutations and reads.
type Service struct {
	db     localdb.Database
	clock  clock.Clock
	logger logging.Logger
}

// NewService returns a document service over the given store.
func NewService(db localdb.Database, clk clock.Clock) *Service {
	return &Service{
		db:     db,
		clock:  clk,
		logger: logging.New("documents"),
	}
}

// CreateParams describes a new document. A LocalOnly document never enters
// the sync queue; seeded welcome content uses it.
type CreateParams struct {
	DocType   types.DocType
	Title     string
	Content   *types.Content
	FolderID  *string
	LocalOnly bool
}

// Create makes a document and, unless it is local-only, queues its full
// snapshot for push.
func (s *Service) Create(ctx context.Context, p CreateParams) (*types.Document, error) {
	if !p.DocType.Valid() {
		return nil, fmt.Errorf("unknown doc type %q", p.DocType)
	}
	if p.FolderID != nil {
		if _, err := s.db.FindFolder(ctx, *p.FolderID); err != nil {
			return nil, fmt.Errorf("find folder: %w", err)
		}
	}

	now := s.clock.Now().UnixMilli()
	doc := types.Document{
		ID:          uuid.NewString(),
		DocType:     p.DocType,
		Title:       p.Title,
		Content:     p.Content,
		FolderID:    p.FolderID,
		OwnerID:     types.LocalOwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsLocalOnly: p.LocalOnly,
	}
	if err := s.db.PutDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("put document: %w", err)
	}
	if !doc.IsLocalOnly {
		if err := s.enqueue(ctx, types.ActionCreate, doc); err != nil {
			return nil, err
		}
	}

	s.logger.Debugf("created document %s (%s)", doc.ID, doc.DocType)
	return &doc, nil
}

// UpdateParams carries the fields to merge. Nil fields keep their current
// value.
type UpdateParams struct {
	Title   *string
	Content *types.Content
}

// Update merges the given fields, bumps the modification time and queues
// the post-merge snapshot.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (*types.Document, error) {
	doc, err := s.db.FindDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}

	if p.Title != nil {
		doc.Title = *p.Title
	}
	if p.Content != nil {
		doc.Content = p.Content
	}
	doc.UpdatedAt = s.clock.Now().UnixMilli()

	if err := s.db.PutDocument(ctx, *doc); err != nil {
		return nil, fmt.Errorf("put document: %w", err)
	}
	if err := s.enqueueUnlessLocal(ctx, *doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ClearContent drops the document body. Collaboration sessions call it
// after migrating a legacy snapshot into CRDT history.
func (s *Service) ClearContent(ctx context.Context, id string) (*types.Document, error) {
	doc, err := s.db.FindDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}

	doc.Content = nil
	doc.UpdatedAt = s.clock.Now().UnixMilli()
	if err := s.db.PutDocument(ctx, *doc); err != nil {
		return nil, fmt.Errorf("put document: %w", err)
	}
	if err := s.enqueueUnlessLocal(ctx, *doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Move refiles the document; a nil folder unfiles it.
func (s *Service) Move(ctx context.Context, id string, folderID *string) (*types.Document, error) {
	doc, err := s.db.FindDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	if folderID != nil {
		folder, err := s.db.FindFolder(ctx, *folderID)
		if err != nil {
			return nil, fmt.Errorf("find folder: %w", err)
		}
		if folder.DocType != doc.DocType {
			return nil, fmt.Errorf("folder %s holds %s documents", folder.ID, folder.DocType)
		}
	}

	doc.FolderID = folderID
	doc.UpdatedAt = s.clock.Now().UnixMilli()
	if err := s.db.PutDocument(ctx, *doc); err != nil {
		return nil, fmt.Errorf("put document: %w", err)
	}
	if err := s.enqueueUnlessLocal(ctx, *doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Archive soft-deletes the document. It disappears from the main listings
// but keeps its content and replica.
func (s *Service) Archive(ctx context.Context, id string) (*types.Document, error) {
	return s.setArchived(ctx, id, true)
}

// Restore brings an archived document back.
func (s *Service) Restore(ctx context.Context, id string) (*types.Document, error) {
	return s.setArchived(ctx, id, false)
}

func (s *Service) setArchived(ctx context.Context, id string, archived bool) (*types.Document, error) {
	doc, err := s.db.FindDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	if doc.IsArchived == archived {
		return doc, nil
	}

	doc.IsArchived = archived
	doc.UpdatedAt = s.clock.Now().UnixMilli()
	if err := s.db.PutDocument(ctx, *doc); err != nil {
		return nil, fmt.Errorf("put document: %w", err)
	}
	if err := s.enqueueUnlessLocal(ctx, *doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Remove hard-deletes the document, drops its replica and queues the
// deletion.
func (s *Service) Remove(ctx context.Context, id string) error {
	doc, err := s.db.FindDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("find document: %w", err)
	}

	if err := s.db.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.db.DeleteDocumentUpdates(ctx, id); err != nil {
		return fmt.Errorf("delete document updates: %w", err)
	}
	if doc.IsLocalOnly {
		return nil
	}

	if _, err := s.db.EnqueueSyncItem(ctx, types.SyncQueueItem{
		EntityType: types.EntityDocument,
		EntityID:   id,
		Action:     types.ActionDelete,
		CreatedAt:  s.clock.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("enqueue document delete: %w", err)
	}
	return nil
}

// Get returns the document with the given id.
func (s *Service) Get(ctx context.Context, id string) (*types.Document, error) {
	return s.db.FindDocument(ctx, id)
}

// GetAll returns every non-archived document.
func (s *Service) GetAll(ctx context.Context) ([]types.Document, error) {
	return s.db.ListDocuments(ctx)
}

// GetByFolder returns non-archived documents in the folder; nil selects
// unfiled documents.
func (s *Service) GetByFolder(ctx context.Context, folderID *string) ([]types.Document, error) {
	return s.db.FindDocumentsByFolder(ctx, folderID)
}

// GetByType returns non-archived documents of the given type.
func (s *Service) GetByType(ctx context.Context, docType types.DocType) ([]types.Document, error) {
	return s.db.FindDocumentsByType(ctx, docType)
}

// GetArchived returns archived documents.
func (s *Service) GetArchived(ctx context.Context) ([]types.Document, error) {
	return s.db.ListArchivedDocuments(ctx)
}

func (s *Service) enqueueUnlessLocal(ctx context.Context, doc types.Document) error {
	if doc.IsLocalOnly {
		return nil
	}
	return s.enqueue(ctx, types.ActionUpdate, doc)
}

func (s *Service) enqueue(ctx context.Context, action types.SyncAction, doc types.Document) error {
	// The local-only flag never leaves the device.
	doc.IsLocalOnly = false

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document snapshot: %w", err)
	}
	if _, err := s.db.EnqueueSyncItem(ctx, types.SyncQueueItem{
		EntityType: types.EntityDocument,
		EntityID:   doc.ID,
		Action:     action,
		Data:       data,
		CreatedAt:  s.clock.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("enqueue document %s: %w", action, err)
	}
	return nil
}
