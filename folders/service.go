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

// Package folders manages the per-type folder trees. Every mutation lands
// in the local store and the outbound sync queue; nothing here touches the
// network.
package folders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/inkwell-team/inkwell/internal/logging"
	"github.com/inkwell-team/inkwell/localdb"
	"github.com/inkwell-team/inkwell/pkg/types"
)

var (
	// ErrCycle is returned when a move would make a folder its own
	// ancestor.
	ErrCycle = errors.New("folders: move would create a cycle")

	// ErrTypeMismatch is returned when a folder is parented under a tree
	// of another document type.
	ErrTypeMismatch = errors.New("folders: parent has a different doc type")
)

// Service owns folder tree mutations and reads.
type Service struct {
	db     localdb.Database
	clock  clock.Clock
	logger logging.Logger
}

// NewService returns a folder service over the given store.
func NewService(db localdb.Database, clk clock.Clock) *Service {
	return &Service{
		db:     db,
		clock:  clk,
		logger: logging.New("folders"),
	}
}

// Create makes a folder under the given parent, or at the root when the
// parent is nil, and queues it for push.
func (s *Service) Create(ctx context.Context, name string, docType types.DocType, parentID *string) (*types.Folder, error) {
	if !docType.Valid() {
		return nil, fmt.Errorf("unknown doc type %q", docType)
	}
	if parentID != nil {
		parent, err := s.db.FindFolder(ctx, *parentID)
		if err != nil {
			return nil, fmt.Errorf("find parent: %w", err)
		}
		if parent.DocType != docType {
			return nil, ErrTypeMismatch
		}
	}

	now := s.clock.Now().UnixMilli()
	folder := types.Folder{
		ID:        uuid.NewString(),
		Name:      name,
		DocType:   docType,
		ParentID:  parentID,
		OwnerID:   types.LocalOwnerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.PutFolder(ctx, folder); err != nil {
		return nil, fmt.Errorf("put folder: %w", err)
	}
	if err := s.enqueue(ctx, types.ActionCreate, folder); err != nil {
		return nil, err
	}

	s.logger.Debugf("created folder %s (%s)", folder.ID, folder.Name)
	return &folder, nil
}

// Rename changes the folder's name and queues the new snapshot.
func (s *Service) Rename(ctx context.Context, id, name string) (*types.Folder, error) {
	folder, err := s.db.FindFolder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find folder: %w", err)
	}

	folder.Name = name
	folder.UpdatedAt = s.clock.Now().UnixMilli()
	if err := s.db.PutFolder(ctx, *folder); err != nil {
		return nil, fmt.Errorf("put folder: %w", err)
	}
	if err := s.enqueue(ctx, types.ActionUpdate, *folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// Move reparents the folder. A nil parent moves it to the root. Moves that
// would put a folder under itself or under a tree of another type are
// rejected.
func (s *Service) Move(ctx context.Context, id string, newParentID *string) (*types.Folder, error) {
	folder, err := s.db.FindFolder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find folder: %w", err)
	}

	if newParentID != nil {
		parent, err := s.db.FindFolder(ctx, *newParentID)
		if err != nil {
			return nil, fmt.Errorf("find parent: %w", err)
		}
		if parent.DocType != folder.DocType {
			return nil, ErrTypeMismatch
		}

		// Walk up from the new parent; hitting the moved folder means
		// the move would close a loop.
		for ancestor := parent; ; {
			if ancestor.ID == id {
				return nil, ErrCycle
			}
			if ancestor.ParentID == nil {
				break
			}
			ancestor, err = s.db.FindFolder(ctx, *ancestor.ParentID)
			if err != nil {
				return nil, fmt.Errorf("walk ancestors: %w", err)
			}
		}
	}

	folder.ParentID = newParentID
	folder.UpdatedAt = s.clock.Now().UnixMilli()
	if err := s.db.PutFolder(ctx, *folder); err != nil {
		return nil, fmt.Errorf("put folder: %w", err)
	}
	if err := s.enqueue(ctx, types.ActionUpdate, *folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// Remove deletes the folder and everything beneath it, depth first. Every
// removed entity gets its own delete queue item; the folder itself goes
// last so the remote applies children before parents.
func (s *Service) Remove(ctx context.Context, id string) error {
	folder, err := s.db.FindFolder(ctx, id)
	if err != nil {
		return fmt.Errorf("find folder: %w", err)
	}
	return s.removeTree(ctx, folder)
}

func (s *Service) removeTree(ctx context.Context, folder *types.Folder) error {
	children, err := s.db.FindFoldersByParent(ctx, &folder.ID)
	if err != nil {
		return fmt.Errorf("list children: %w", err)
	}
	for i := range children {
		if err := s.removeTree(ctx, &children[i]); err != nil {
			return err
		}
	}

	docs, err := s.documentsIn(ctx, folder.ID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := s.db.DeleteDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if err := s.db.DeleteDocumentUpdates(ctx, doc.ID); err != nil {
			return fmt.Errorf("delete document updates: %w", err)
		}
		if doc.IsLocalOnly {
			continue
		}
		if _, err := s.db.EnqueueSyncItem(ctx, types.SyncQueueItem{
			EntityType: types.EntityDocument,
			EntityID:   doc.ID,
			Action:     types.ActionDelete,
			CreatedAt:  s.clock.Now().UnixMilli(),
		}); err != nil {
			return fmt.Errorf("enqueue document delete: %w", err)
		}
	}

	if err := s.db.DeleteFolder(ctx, folder.ID); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if _, err := s.db.EnqueueSyncItem(ctx, types.SyncQueueItem{
		EntityType: types.EntityFolder,
		EntityID:   folder.ID,
		Action:     types.ActionDelete,
		CreatedAt:  s.clock.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("enqueue folder delete: %w", err)
	}

	s.logger.Debugf("removed folder %s with %d documents", folder.ID, len(docs))
	return nil
}

// documentsIn returns every document filed in the folder, archived ones
// included, so a cascade leaves no orphans behind.
func (s *Service) documentsIn(ctx context.Context, folderID string) ([]types.Document, error) {
	docs, err := s.db.FindDocumentsByFolder(ctx, &folderID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	archived, err := s.db.ListArchivedDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list archived documents: %w", err)
	}
	for _, doc := range archived {
		if doc.FolderID != nil && *doc.FolderID == folderID {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// Get returns the folder with the given id.
func (s *Service) Get(ctx context.Context, id string) (*types.Folder, error) {
	return s.db.FindFolder(ctx, id)
}

// GetAll returns every folder.
func (s *Service) GetAll(ctx context.Context) ([]types.Folder, error) {
	return s.db.ListFolders(ctx)
}

// GetChildren returns a folder's direct children; nil selects root folders.
func (s *Service) GetChildren(ctx context.Context, parentID *string) ([]types.Folder, error) {
	return s.db.FindFoldersByParent(ctx, parentID)
}

func (s *Service) enqueue(ctx context.Context, action types.SyncAction, folder types.Folder) error {
	data, err := json.Marshal(folder)
	if err != nil {
		return fmt.Errorf("marshal folder snapshot: %w", err)
	}
	if _, err := s.db.EnqueueSyncItem(ctx, types.SyncQueueItem{
		EntityType: types.EntityFolder,
		EntityID:   folder.ID,
		Action:     action,
		Data:       data,
		CreatedAt:  s.clock.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("enqueue folder %s: %w", action, err)
	}
	return nil
}
