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

// Package dbtest provides the conformance suite every local store backend
// must pass.
package dbtest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-team/inkwell/localdb"
	"github.com/inkwell-team/inkwell/pkg/types"
)

// Factory builds a fresh store for one subtest.
type Factory func(t *testing.T) localdb.Database

func newFolder(name string, parentID *string) types.Folder {
	return types.Folder{
		ID:        uuid.NewString(),
		Name:      name,
		DocType:   types.TypeNote,
		ParentID:  parentID,
		OwnerID:   types.LocalOwnerID,
		CreatedAt: 100,
		UpdatedAt: 100,
	}
}

func newDocument(title string, folderID *string) types.Document {
	return types.Document{
		ID:        uuid.NewString(),
		DocType:   types.TypeNote,
		Title:     title,
		Content:   types.NewNoteContent("seed"),
		FolderID:  folderID,
		OwnerID:   types.LocalOwnerID,
		CreatedAt: 100,
		UpdatedAt: 100,
	}
}

// RunSuite runs the conformance suite against the given backend factory.
func RunSuite(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("folder crud test", func(t *testing.T) {
		db := factory(t)

		root := newFolder("Work", nil)
		require.NoError(t, db.PutFolder(ctx, root))
		child := newFolder("Projects", &root.ID)
		require.NoError(t, db.PutFolder(ctx, child))

		found, err := db.FindFolder(ctx, root.ID)
		require.NoError(t, err)
		assert.Equal(t, "Work", found.Name)

		children, err := db.FindFoldersByParent(ctx, &root.ID)
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, child.ID, children[0].ID)

		roots, err := db.FindFoldersByParent(ctx, nil)
		require.NoError(t, err)
		require.Len(t, roots, 1)

		all, err := db.ListFolders(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, db.DeleteFolder(ctx, child.ID))
		_, err = db.FindFolder(ctx, child.ID)
		assert.ErrorIs(t, err, localdb.ErrNotFound)
		assert.ErrorIs(t, db.DeleteFolder(ctx, child.ID), localdb.ErrNotFound)
	})

	t.Run("document queries test", func(t *testing.T) {
		db := factory(t)

		folder := newFolder("Work", nil)
		require.NoError(t, db.PutFolder(ctx, folder))

		filed := newDocument("Plan", &folder.ID)
		require.NoError(t, db.PutDocument(ctx, filed))
		unfiled := newDocument("Scratch", nil)
		require.NoError(t, db.PutDocument(ctx, unfiled))

		archived := newDocument("Old", &folder.ID)
		archived.IsArchived = true
		require.NoError(t, db.PutDocument(ctx, archived))

		docs, err := db.ListDocuments(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		inFolder, err := db.FindDocumentsByFolder(ctx, &folder.ID)
		require.NoError(t, err)
		require.Len(t, inFolder, 1)
		assert.Equal(t, filed.ID, inFolder[0].ID)

		atRoot, err := db.FindDocumentsByFolder(ctx, nil)
		require.NoError(t, err)
		require.Len(t, atRoot, 1)
		assert.Equal(t, unfiled.ID, atRoot[0].ID)

		notes, err := db.FindDocumentsByType(ctx, types.TypeNote)
		require.NoError(t, err)
		assert.Len(t, notes, 2)

		olds, err := db.ListArchivedDocuments(ctx)
		require.NoError(t, err)
		require.Len(t, olds, 1)
		assert.Equal(t, archived.ID, olds[0].ID)
	})

	t.Run("content validation at boundary test", func(t *testing.T) {
		db := factory(t)

		doc := newDocument("Plan", nil)
		doc.Content = &types.Content{Kind: types.TypeCanvas, Data: []byte(`{}`)}
		assert.ErrorIs(t, db.PutDocument(ctx, doc), types.ErrContentMismatch)
	})

	t.Run("sync queue fifo test", func(t *testing.T) {
		db := factory(t)

		var seqs []uint64
		for _, id := range []string{"a", "b", "c"} {
			seq, err := db.EnqueueSyncItem(ctx, types.SyncQueueItem{
				EntityType: types.EntityDocument,
				EntityID:   id,
				Action:     types.ActionCreate,
				CreatedAt:  100,
			})
			require.NoError(t, err)
			seqs = append(seqs, seq)
		}

		items, err := db.ListSyncQueue(ctx)
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, "a", items[0].EntityID)
		assert.Equal(t, "c", items[2].EntityID)
		assert.Less(t, items[0].Seq, items[1].Seq)

		count, err := db.CountSyncQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		// Delete exactly the first two; the third stays.
		require.NoError(t, db.DeleteSyncItems(ctx, seqs[:2]))
		items, err = db.ListSyncQueue(ctx)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "b", items[0].EntityID)
	})

	t.Run("upload queue test", func(t *testing.T) {
		db := factory(t)

		item := types.UploadQueueItem{
			TempID:     uuid.NewString(),
			Blob:       []byte{0x1, 0x2},
			Meta:       types.FileMeta{Name: "pic.png", MIME: "image/png"},
			DocumentID: "doc-1",
			Status:     types.UploadPending,
			CreatedAt:  100,
		}
		require.NoError(t, db.PutUpload(ctx, item))

		found, err := db.FindUpload(ctx, item.TempID)
		require.NoError(t, err)
		assert.Equal(t, types.UploadPending, found.Status)
		assert.Equal(t, []byte{0x1, 0x2}, found.Blob)

		item.Status = types.UploadError
		item.Retries = 3
		require.NoError(t, db.PutUpload(ctx, item))
		found, err = db.FindUpload(ctx, item.TempID)
		require.NoError(t, err)
		assert.Equal(t, types.UploadError, found.Status)
		assert.Equal(t, 3, found.Retries)

		all, err := db.ListUploads(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		require.NoError(t, db.DeleteUpload(ctx, item.TempID))
		_, err = db.FindUpload(ctx, item.TempID)
		assert.ErrorIs(t, err, localdb.ErrNotFound)
	})

	t.Run("replica log order test", func(t *testing.T) {
		db := factory(t)

		require.NoError(t, db.AppendDocumentUpdate(ctx, "doc-1", []byte{0x1}))
		require.NoError(t, db.AppendDocumentUpdate(ctx, "doc-1", []byte{0x2}))
		require.NoError(t, db.AppendDocumentUpdate(ctx, "doc-2", []byte{0x9}))

		updates, err := db.ListDocumentUpdates(ctx, "doc-1")
		require.NoError(t, err)
		require.Len(t, updates, 2)
		assert.Equal(t, []byte{0x1}, updates[0])
		assert.Equal(t, []byte{0x2}, updates[1])

		require.NoError(t, db.DeleteDocumentUpdates(ctx, "doc-1"))
		updates, err = db.ListDocumentUpdates(ctx, "doc-1")
		require.NoError(t, err)
		assert.Empty(t, updates)

		other, err := db.ListDocumentUpdates(ctx, "doc-2")
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})

	t.Run("change set atomic apply test", func(t *testing.T) {
		db := factory(t)

		folder := newFolder("Remote", nil)
		doc := newDocument("Pulled", &folder.ID)
		require.NoError(t, db.ApplyChangeSet(ctx, localdb.ChangeSet{
			Folders:   []types.Folder{folder},
			Documents: []types.Document{doc},
			Watermark: 500,
		}))

		watermark, err := db.Watermark(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(500), watermark)

		_, err = db.FindFolder(ctx, folder.ID)
		require.NoError(t, err)
		_, err = db.FindDocument(ctx, doc.ID)
		require.NoError(t, err)
	})

	t.Run("watermark monotonic test", func(t *testing.T) {
		db := factory(t)

		require.NoError(t, db.ApplyChangeSet(ctx, localdb.ChangeSet{Watermark: 500}))

		// A stale delivery must not rewind the watermark or apply data.
		stale := newFolder("Stale", nil)
		require.NoError(t, db.ApplyChangeSet(ctx, localdb.ChangeSet{
			Folders:   []types.Folder{stale},
			Watermark: 400,
		}))

		watermark, err := db.Watermark(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(500), watermark)
		_, err = db.FindFolder(ctx, stale.ID)
		assert.ErrorIs(t, err, localdb.ErrNotFound)
	})

	t.Run("purge synced test", func(t *testing.T) {
		db := factory(t)

		folder := newFolder("Work", nil)
		require.NoError(t, db.PutFolder(ctx, folder))

		synced := newDocument("Synced", nil)
		require.NoError(t, db.PutDocument(ctx, synced))
		require.NoError(t, db.AppendDocumentUpdate(ctx, synced.ID, []byte{0x1}))

		seed := newDocument("Welcome", nil)
		seed.IsLocalOnly = true
		require.NoError(t, db.PutDocument(ctx, seed))

		_, err := db.EnqueueSyncItem(ctx, types.SyncQueueItem{
			EntityType: types.EntityDocument,
			EntityID:   synced.ID,
			Action:     types.ActionUpdate,
			CreatedAt:  100,
		})
		require.NoError(t, err)
		require.NoError(t, db.SetWatermark(ctx, 500))

		require.NoError(t, db.PurgeSynced(ctx))

		_, err = db.FindFolder(ctx, folder.ID)
		assert.ErrorIs(t, err, localdb.ErrNotFound)
		_, err = db.FindDocument(ctx, synced.ID)
		assert.ErrorIs(t, err, localdb.ErrNotFound)

		kept, err := db.FindDocument(ctx, seed.ID)
		require.NoError(t, err)
		assert.True(t, kept.IsLocalOnly)

		count, err := db.CountSyncQueue(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)

		watermark, err := db.Watermark(ctx)
		require.NoError(t, err)
		assert.Zero(t, watermark)

		updates, err := db.ListDocumentUpdates(ctx, synced.ID)
		require.NoError(t, err)
		assert.Empty(t, updates)
	})
}
