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

package documents_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-team/inkwell/documents"
	"github.com/inkwell-team/inkwell/localdb"
	"github.com/inkwell-team/inkwell/localdb/memory"
	"github.com/inkwell-team/inkwell/pkg/types"
)

func newFixture(t *testing.T) (localdb.Database, *documents.Service, *clock.Mock) {
	db, err := memory.New()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	clk := clock.NewMock()
	return db, documents.NewService(db, clk), clk
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	db, svc, _ := newFixture(t)

	t.Run("create queues full snapshot test", func(t *testing.T) {
		doc, err := svc.Create(ctx, documents.CreateParams{
			DocType: types.TypeNote,
			Title:   "Plan",
			Content: types.NewNoteContent("hello"),
		})
		require.NoError(t, err)
		assert.Equal(t, types.LocalOwnerID, doc.OwnerID)
		assert.Equal(t, doc.CreatedAt, doc.UpdatedAt)

		items, err := db.ListSyncQueue(ctx)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, types.ActionCreate, items[0].Action)

		var snapshot types.Document
		require.NoError(t, json.Unmarshal(items[0].Data, &snapshot))
		assert.Equal(t, "Plan", snapshot.Title)
		assert.False(t, snapshot.IsLocalOnly)
	})

	t.Run("local only create skips queue test", func(t *testing.T) {
		before, err := db.CountSyncQueue(ctx)
		require.NoError(t, err)

		doc, err := svc.Create(ctx, documents.CreateParams{
			DocType:   types.TypeNote,
			Title:     "Welcome",
			Content:   types.NewNoteContent("Start here"),
			LocalOnly: true,
		})
		require.NoError(t, err)
		assert.True(t, doc.IsLocalOnly)

		after, err := db.CountSyncQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("content kind checked test", func(t *testing.T) {
		_, err := svc.Create(ctx, documents.CreateParams{
			DocType: types.TypeCanvas,
			Title:   "Board",
			Content: types.NewNoteContent("wrong body"),
		})
		assert.ErrorIs(t, err, types.ErrContentMismatch)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	db, svc, clk := newFixture(t)

	doc, err := svc.Create(ctx, documents.CreateParams{
		DocType: types.TypeNote,
		Title:   "Plan",
		Content: types.NewNoteContent("v1"),
	})
	require.NoError(t, err)

	t.Run("merge bumps updated at and queues post merge snapshot test", func(t *testing.T) {
		clk.Add(time.Second)
		title := "Plan v2"
		updated, err := svc.Update(ctx, doc.ID, documents.UpdateParams{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, "Plan v2", updated.Title)
		assert.Equal(t, "v1", updated.Content.Text())
		assert.Greater(t, updated.UpdatedAt, doc.UpdatedAt)

		items, err := db.ListSyncQueue(ctx)
		require.NoError(t, err)
		last := items[len(items)-1]
		assert.Equal(t, types.ActionUpdate, last.Action)

		var snapshot types.Document
		require.NoError(t, json.Unmarshal(last.Data, &snapshot))
		assert.Equal(t, "Plan v2", snapshot.Title)
		assert.Equal(t, "v1", snapshot.Content.Text())
	})

	t.Run("missing document reported test", func(t *testing.T) {
		_, err := svc.Update(ctx, "no-such-doc", documents.UpdateParams{})
		assert.ErrorIs(t, err, localdb.ErrNotFound)
	})
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	_, svc, _ := newFixture(t)

	doc, err := svc.Create(ctx, documents.CreateParams{
		DocType: types.TypeNote,
		Title:   "Plan",
	})
	require.NoError(t, err)

	archived, err := svc.Archive(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, archived.IsArchived)

	all, err := svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	olds, err := svc.GetArchived(ctx)
	require.NoError(t, err)
	require.Len(t, olds, 1)

	restored, err := svc.Restore(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsArchived)

	all, err = svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	db, svc, _ := newFixture(t)

	doc, err := svc.Create(ctx, documents.CreateParams{
		DocType: types.TypeNote,
		Title:   "Plan",
	})
	require.NoError(t, err)
	require.NoError(t, db.AppendDocumentUpdate(ctx, doc.ID, []byte{0x1}))

	require.NoError(t, svc.Remove(ctx, doc.ID))

	_, err = svc.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, localdb.ErrNotFound)

	updates, err := db.ListDocumentUpdates(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, updates)

	items, err := db.ListSyncQueue(ctx)
	require.NoError(t, err)
	last := items[len(items)-1]
	assert.Equal(t, types.ActionDelete, last.Action)
	assert.Equal(t, doc.ID, last.EntityID)
}
