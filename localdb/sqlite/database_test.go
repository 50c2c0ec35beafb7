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

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-team/inkwell/localdb"
	"github.com/inkwell-team/inkwell/localdb/dbtest"
	"github.com/inkwell-team/inkwell/localdb/sqlite"
	"github.com/inkwell-team/inkwell/pkg/types"
)

func TestSQLiteDatabase(t *testing.T) {
	dbtest.RunSuite(t, func(t *testing.T) localdb.Database {
		db, err := sqlite.Open(filepath.Join(t.TempDir(), "inkwell.db"))
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, db.Close()) })
		return db
	})
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "inkwell.db")

	db, err := sqlite.Open(path)
	require.NoError(t, err)

	doc := types.Document{
		ID:        "doc-1",
		DocType:   types.TypeNote,
		Title:     "Persistent",
		Content:   types.NewNoteContent("hello"),
		OwnerID:   types.LocalOwnerID,
		CreatedAt: 100,
		UpdatedAt: 100,
	}
	require.NoError(t, db.PutDocument(ctx, doc))
	seq, err := db.EnqueueSyncItem(ctx, types.SyncQueueItem{
		EntityType: types.EntityDocument,
		EntityID:   doc.ID,
		Action:     types.ActionCreate,
		CreatedAt:  100,
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Documents and queued work survive a restart.
	db, err = sqlite.Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	found, err := db.FindDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Persistent", found.Title)
	assert.Equal(t, "hello", found.Content.Text())

	items, err := db.ListSyncQueue(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, seq, items[0].Seq)
}
