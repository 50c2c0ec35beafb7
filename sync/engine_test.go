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

package sync_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-team/inkwell/documents"
	"github.com/inkwell-team/inkwell/folders"
	"github.com/inkwell-team/inkwell/internal/connectivity"
	"github.com/inkwell-team/inkwell/localdb"
	localmem "github.com/inkwell-team/inkwell/localdb/memory"
	"github.com/inkwell-team/inkwell/pkg/types"
	"github.com/inkwell-team/inkwell/remote"
	remotemem "github.com/inkwell-team/inkwell/remote/memory"
	"github.com/inkwell-team/inkwell/sync"
)

const waitFor = 3 * time.Second

type fixture struct {
	db      localdb.Database
	remote  *remotemem.DB
	monitor *connectivity.Monitor
	clock   *clock.Mock
	engine  *sync.Engine
	docs    *documents.Service
	folders *folders.Service
}

func newFixture(t *testing.T) *fixture {
	db, err := localmem.New()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	authority, err := remotemem.New()
	require.NoError(t, err)

	clk := clock.NewMock()
	monitor := connectivity.NewMonitor()
	engine := sync.NewEngine(db, authority, monitor, clk, sync.Config{})
	engine.Start()
	t.Cleanup(engine.Close)

	return &fixture{
		db:      db,
		remote:  authority,
		monitor: monitor,
		clock:   clk,
		engine:  engine,
		docs:    documents.NewService(db, clk),
		folders: folders.NewService(db, clk),
	}
}

func (f *fixture) waitDrained(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		count, err := f.db.CountSyncQueue(context.Background())
		return err == nil && count == 0
	}, waitFor, 10*time.Millisecond, "sync queue never drained")
}

func TestPush(t *testing.T) {
	ctx := context.Background()

	t.Run("offline work pushed after sign in test", func(t *testing.T) {
		f := newFixture(t)

		folder, err := f.folders.Create(ctx, "Work", types.TypeNote, nil)
		require.NoError(t, err)
		doc, err := f.docs.Create(ctx, documents.CreateParams{
			DocType:  types.TypeNote,
			Title:    "Plan",
			Content:  types.NewNoteContent("offline draft"),
			FolderID: &folder.ID,
		})
		require.NoError(t, err)

		f.engine.SetUser("user-1")
		f.waitDrained(t)

		// The authority saw both entities; a pull roundtrip lands them
		// back with the claimed owner and a positive watermark.
		require.Eventually(t, func() bool {
			found, err := f.db.FindDocument(ctx, doc.ID)
			return err == nil && found.OwnerID == "user-1"
		}, waitFor, 10*time.Millisecond)

		watermark, err := f.db.Watermark(ctx)
		require.NoError(t, err)
		assert.Positive(t, watermark)

		state := f.engine.State()
		assert.Equal(t, sync.StatusSynced, state.Status)
	})

	t.Run("push skipped while offline test", func(t *testing.T) {
		f := newFixture(t)
		f.monitor.SetOnline(false)

		_, err := f.docs.Create(ctx, documents.CreateParams{
			DocType: types.TypeNote,
			Title:   "Draft",
		})
		require.NoError(t, err)

		f.engine.SetUser("user-1")
		f.engine.RequestSync()

		// The queue must stay intact with no network.
		time.Sleep(50 * time.Millisecond)
		count, err := f.db.CountSyncQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		f.monitor.SetOnline(true)
		f.waitDrained(t)
	})

	t.Run("pending upload delays item test", func(t *testing.T) {
		f := newFixture(t)

		doc, err := f.docs.Create(ctx, documents.CreateParams{
			DocType: types.TypeNote,
			Title:   "Photo note",
			Content: types.NewNoteContent("see upload://temp-1 inline"),
		})
		require.NoError(t, err)
		require.NoError(t, f.db.PutUpload(ctx, types.UploadQueueItem{
			TempID:     "temp-1",
			Blob:       []byte{0x1},
			Meta:       types.FileMeta{Name: "p.png", MIME: "image/png"},
			DocumentID: doc.ID,
			Status:     types.UploadPending,
		}))

		f.engine.SetUser("user-1")

		// The document snapshot stays queued while the upload is live.
		time.Sleep(50 * time.Millisecond)
		count, err := f.db.CountSyncQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		// Finishing the upload and letting the retry timer fire drains it.
		require.NoError(t, f.db.DeleteUpload(ctx, "temp-1"))
		require.Eventually(t, func() bool {
			f.clock.Add(time.Second)
			count, err := f.db.CountSyncQueue(ctx)
			return err == nil && count == 0
		}, waitFor, 10*time.Millisecond)
	})
}

// stalledSync holds PushChanges until released so a test can enqueue work
// in the middle of a push round.
type stalledSync struct {
	remote.SyncService
	entered chan struct{}
	release chan struct{}
}

func (s *stalledSync) PushChanges(ctx context.Context, userID string, mutations []remote.Mutation) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return s.SyncService.PushChanges(ctx, userID, mutations)
}

func TestPushAckScope(t *testing.T) {
	ctx := context.Background()

	db, err := localmem.New()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	authority, err := remotemem.New()
	require.NoError(t, err)
	stall := &stalledSync{
		SyncService: authority,
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}

	clk := clock.NewMock()
	monitor := connectivity.NewMonitor()
	engine := sync.NewEngine(db, stall, monitor, clk, sync.Config{})
	engine.Start()
	t.Cleanup(engine.Close)
	docs := documents.NewService(db, clk)

	_, err = docs.Create(ctx, documents.CreateParams{
		DocType: types.TypeNote,
		Title:   "First",
	})
	require.NoError(t, err)
	engine.SetUser("user-1")

	<-stall.entered

	// The push snapshot is already taken; this item lands after it and
	// must survive the ack untouched.
	late, err := docs.Create(ctx, documents.CreateParams{
		DocType: types.TypeNote,
		Title:   "Late",
	})
	require.NoError(t, err)
	close(stall.release)

	require.Eventually(t, func() bool {
		items, err := db.ListSyncQueue(ctx)
		return err == nil && len(items) == 1 && items[0].EntityID == late.ID
	}, waitFor, 10*time.Millisecond)
}

func TestPull(t *testing.T) {
	ctx := context.Background()

	t.Run("remote commits reach the store test", func(t *testing.T) {
		f := newFixture(t)
		f.engine.SetUser("user-1")
		f.waitDrained(t)

		// A commit by another device shows up through the live cursor.
		doc := types.Document{
			ID:      "remote-doc",
			DocType: types.TypeNote,
			Title:   "From elsewhere",
			OwnerID: "user-1",
		}
		data, err := json.Marshal(doc)
		require.NoError(t, err)
		require.NoError(t, f.remote.PushChanges(ctx, "user-1", []remote.Mutation{{
			EntityType: types.EntityDocument,
			EntityID:   doc.ID,
			Action:     types.ActionCreate,
			Data:       data,
		}}))

		require.Eventually(t, func() bool {
			found, err := f.db.FindDocument(ctx, "remote-doc")
			return err == nil && found.Title == "From elsewhere"
		}, waitFor, 10*time.Millisecond)
	})

	t.Run("offline closes the pull cursor test", func(t *testing.T) {
		f := newFixture(t)
		f.engine.SetUser("user-1")
		f.waitDrained(t)

		f.monitor.SetOnline(false)
		require.Equal(t, sync.StatusOffline, f.engine.State().Status)

		// A commit by another device while this one is offline must not
		// land, and must not flip the status away from offline.
		doc := types.Document{
			ID:      "while-away",
			DocType: types.TypeNote,
			OwnerID: "user-1",
		}
		data, err := json.Marshal(doc)
		require.NoError(t, err)
		require.NoError(t, f.remote.PushChanges(ctx, "user-1", []remote.Mutation{{
			EntityType: types.EntityDocument,
			EntityID:   doc.ID,
			Action:     types.ActionCreate,
			Data:       data,
		}}))

		require.Never(t, func() bool {
			_, err := f.db.FindDocument(ctx, "while-away")
			return err == nil || f.engine.State().Status != sync.StatusOffline
		}, 100*time.Millisecond, 10*time.Millisecond)

		// Reconnecting reopens the cursor at the watermark and catches up.
		f.monitor.SetOnline(true)
		require.Eventually(t, func() bool {
			_, err := f.db.FindDocument(ctx, "while-away")
			return err == nil
		}, waitFor, 10*time.Millisecond)
		assert.Equal(t, sync.StatusSynced, f.engine.State().Status)
	})

	t.Run("watermark only advances test", func(t *testing.T) {
		f := newFixture(t)
		f.engine.SetUser("user-1")
		f.waitDrained(t)

		var last int64
		for i := 0; i < 3; i++ {
			doc := types.Document{
				ID:      "doc-" + string(rune('a'+i)),
				DocType: types.TypeNote,
				OwnerID: "user-1",
			}
			data, err := json.Marshal(doc)
			require.NoError(t, err)
			require.NoError(t, f.remote.PushChanges(ctx, "user-1", []remote.Mutation{{
				EntityType: types.EntityDocument,
				EntityID:   doc.ID,
				Action:     types.ActionCreate,
				Data:       data,
			}}))

			require.Eventually(t, func() bool {
				watermark, err := f.db.Watermark(ctx)
				return err == nil && watermark > last
			}, waitFor, 10*time.Millisecond)
			watermark, err := f.db.Watermark(ctx)
			require.NoError(t, err)
			assert.Greater(t, watermark, last)
			last = watermark
		}
	})
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	keep, err := f.docs.Create(ctx, documents.CreateParams{
		DocType:   types.TypeNote,
		Title:     "Welcome",
		LocalOnly: true,
	})
	require.NoError(t, err)
	_, err = f.docs.Create(ctx, documents.CreateParams{
		DocType: types.TypeNote,
		Title:   "Synced",
	})
	require.NoError(t, err)

	f.engine.SetUser("user-1")
	f.waitDrained(t)

	require.NoError(t, f.engine.SignOut(ctx))

	// Only the local-only seed survives; the watermark resets.
	docs, err := f.db.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, keep.ID, docs[0].ID)

	watermark, err := f.db.Watermark(ctx)
	require.NoError(t, err)
	assert.Zero(t, watermark)

	assert.Equal(t, sync.StatusOffline, f.engine.State().Status)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)

	states := make(chan sync.State, 16)
	cancel := f.engine.Subscribe(func(s sync.State) { states <- s })
	defer cancel()

	// The current state arrives immediately.
	first := <-states
	assert.Equal(t, sync.StatusOffline, first.Status)

	f.engine.SetUser("user-1")
	require.Eventually(t, func() bool {
		select {
		case s := <-states:
			return s.Status == sync.StatusSynced && s.LastSyncedAt >= 0
		default:
			return false
		}
	}, waitFor, 10*time.Millisecond)
}
