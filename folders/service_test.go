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

package folders_test

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-team/inkwell/documents"
	"github.com/inkwell-team/inkwell/folders"
	"github.com/inkwell-team/inkwell/localdb"
	"github.com/inkwell-team/inkwell/localdb/memory"
	"github.com/inkwell-team/inkwell/pkg/types"
)

func newFixture(t *testing.T) (localdb.Database, *folders.Service, *documents.Service) {
	db, err := memory.New()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	clk := clock.NewMock()
	return db, folders.NewService(db, clk), documents.NewService(db, clk)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	db, svc, _ := newFixture(t)

	t.Run("create queues snapshot test", func(t *testing.T) {
		folder, err := svc.Create(ctx, "Work", types.TypeNote, nil)
		require.NoError(t, err)
		assert.Equal(t, types.LocalOwnerID, folder.OwnerID)
		assert.Nil(t, folder.ParentID)

		items, err := db.ListSyncQueue(ctx)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, types.EntityFolder, items[0].EntityType)
		assert.Equal(t, types.ActionCreate, items[0].Action)
		assert.Equal(t, folder.ID, items[0].EntityID)
		assert.NotEmpty(t, items[0].Data)
	})

	t.Run("unknown type rejected test", func(t *testing.T) {
		_, err := svc.Create(ctx, "Bad", types.DocType("spreadsheet"), nil)
		assert.Error(t, err)
	})

	t.Run("dangling parent rejected test", func(t *testing.T) {
		missing := "no-such-folder"
		_, err := svc.Create(ctx, "Orphan", types.TypeNote, &missing)
		assert.ErrorIs(t, err, localdb.ErrNotFound)
	})

	t.Run("cross type parent rejected test", func(t *testing.T) {
		noteRoot, err := svc.Create(ctx, "Notes", types.TypeNote, nil)
		require.NoError(t, err)
		_, err = svc.Create(ctx, "Diagrams", types.TypeERD, &noteRoot.ID)
		assert.ErrorIs(t, err, folders.ErrTypeMismatch)
	})
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	_, svc, _ := newFixture(t)

	a, err := svc.Create(ctx, "A", types.TypeNote, nil)
	require.NoError(t, err)
	b, err := svc.Create(ctx, "B", types.TypeNote, &a.ID)
	require.NoError(t, err)
	c, err := svc.Create(ctx, "C", types.TypeNote, &b.ID)
	require.NoError(t, err)

	t.Run("move to root test", func(t *testing.T) {
		moved, err := svc.Move(ctx, c.ID, nil)
		require.NoError(t, err)
		assert.Nil(t, moved.ParentID)
	})

	t.Run("cycle rejected test", func(t *testing.T) {
		// A under B while B sits under A closes a loop.
		_, err := svc.Move(ctx, a.ID, &b.ID)
		assert.ErrorIs(t, err, folders.ErrCycle)

		_, err = svc.Move(ctx, a.ID, &a.ID)
		assert.ErrorIs(t, err, folders.ErrCycle)
	})

	t.Run("valid reparent test", func(t *testing.T) {
		moved, err := svc.Move(ctx, c.ID, &a.ID)
		require.NoError(t, err)
		require.NotNil(t, moved.ParentID)
		assert.Equal(t, a.ID, *moved.ParentID)
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("cascade removes tree and queues every delete test", func(t *testing.T) {
		db, svc, docs := newFixture(t)

		// Two nested folders holding three documents.
		parent, err := svc.Create(ctx, "Parent", types.TypeNote, nil)
		require.NoError(t, err)
		child, err := svc.Create(ctx, "Child", types.TypeNote, &parent.ID)
		require.NoError(t, err)

		for _, folderID := range []*string{&parent.ID, &child.ID} {
			_, err := docs.Create(ctx, documents.CreateParams{
				DocType:  types.TypeNote,
				Title:    "Doc",
				FolderID: folderID,
			})
			require.NoError(t, err)
		}
		archived, err := docs.Create(ctx, documents.CreateParams{
			DocType:  types.TypeNote,
			Title:    "Old",
			FolderID: &child.ID,
		})
		require.NoError(t, err)
		_, err = docs.Archive(ctx, archived.ID)
		require.NoError(t, err)

		before, err := db.CountSyncQueue(ctx)
		require.NoError(t, err)

		require.NoError(t, svc.Remove(ctx, parent.ID))

		// One delete item per removed entity: 2 folders + 3 documents.
		after, err := db.CountSyncQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, after-before)

		_, err = db.FindFolder(ctx, parent.ID)
		assert.ErrorIs(t, err, localdb.ErrNotFound)
		_, err = db.FindFolder(ctx, child.ID)
		assert.ErrorIs(t, err, localdb.ErrNotFound)
		_, err = db.FindDocument(ctx, archived.ID)
		assert.ErrorIs(t, err, localdb.ErrNotFound)

		// Children precede parents in the queue.
		items, err := db.ListSyncQueue(ctx)
		require.NoError(t, err)
		deletes := items[len(items)-5:]
		assert.Equal(t, parent.ID, deletes[4].EntityID)
		assert.Equal(t, types.EntityFolder, deletes[4].EntityType)
	})

	t.Run("local only documents skip the queue test", func(t *testing.T) {
		db, svc, docs := newFixture(t)

		folder, err := svc.Create(ctx, "Seeds", types.TypeNote, nil)
		require.NoError(t, err)
		_, err = docs.Create(ctx, documents.CreateParams{
			DocType:   types.TypeNote,
			Title:     "Welcome",
			FolderID:  &folder.ID,
			LocalOnly: true,
		})
		require.NoError(t, err)

		before, err := db.CountSyncQueue(ctx)
		require.NoError(t, err)

		require.NoError(t, svc.Remove(ctx, folder.ID))

		// Only the folder delete lands in the queue.
		after, err := db.CountSyncQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, after-before)
	})
}
