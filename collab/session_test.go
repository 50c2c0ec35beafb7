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

package collab_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-team/inkwell/collab"
	"github.com/inkwell-team/inkwell/documents"
	"github.com/inkwell-team/inkwell/localdb"
	localmem "github.com/inkwell-team/inkwell/localdb/memory"
	"github.com/inkwell-team/inkwell/pkg/types"
	remotemem "github.com/inkwell-team/inkwell/remote/memory"
)

const (
	docID   = "doc-1"
	waitFor = 3 * time.Second
)

type device struct {
	db   localdb.Database
	docs *documents.Service
}

// newDevice simulates one client device holding the shared document.
func newDevice(t *testing.T, clk clock.Clock, content *types.Content) *device {
	db, err := localmem.New()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	require.NoError(t, db.PutDocument(context.Background(), types.Document{
		ID:      docID,
		DocType: types.TypeNote,
		Title:   "Shared",
		Content: content,
		OwnerID: "user-1",
	}))
	return &device{db: db, docs: documents.NewService(db, clk)}
}

func openSession(t *testing.T, d *device, authority *remotemem.DB, clk clock.Clock) *collab.Session {
	s, err := collab.OpenSession(context.Background(), docID, d.db, authority, d.docs, clk, collab.Config{})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestMigration(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	authority, err := remotemem.New()
	require.NoError(t, err)

	d := newDevice(t, clk, types.NewNoteContent("legacy text"))

	s := openSession(t, d, authority, clk)
	assert.Equal(t, "legacy text", s.Text())
	assert.Equal(t, collab.StateLive, s.State())

	// The snapshot moved into CRDT history and was cleared.
	meta, err := d.docs.Get(ctx, docID)
	require.NoError(t, err)
	assert.Nil(t, meta.Content)

	fragments, err := d.db.ListDocumentUpdates(ctx, docID)
	require.NoError(t, err)
	assert.NotEmpty(t, fragments)

	// Reopening must not migrate again.
	s.Close()
	reopened := openSession(t, d, authority, clk)
	assert.Equal(t, "legacy text", reopened.Text())
}

func TestMigrationRace(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	authority, err := remotemem.New()
	require.NoError(t, err)

	// Both devices pulled the legacy snapshot and open before either sees
	// the other's cleared content.
	first := newDevice(t, clk, types.NewNoteContent("legacy text"))
	second := newDevice(t, clk, types.NewNoteContent("legacy text"))

	a := openSession(t, first, authority, clk)
	b := openSession(t, second, authority, clk)

	// Exactly one seed lands; the text never doubles.
	require.Eventually(t, func() bool {
		return a.Text() == "legacy text" && b.Text() == "legacy text"
	}, waitFor, 10*time.Millisecond, "texts: %q vs %q", a.Text(), b.Text())
	assert.Len(t, authority.Updates(docID), 1)

	// The winner cleared its snapshot; the loser keeps its copy until the
	// cleared state arrives through entity sync.
	meta, err := first.docs.Get(ctx, docID)
	require.NoError(t, err)
	assert.Nil(t, meta.Content)
	meta, err = second.docs.Get(ctx, docID)
	require.NoError(t, err)
	assert.NotNil(t, meta.Content)

	// The losing replica persisted the winning history, so a reopen does
	// not try to seed again.
	b.Close()
	reopened := openSession(t, second, authority, clk)
	assert.Equal(t, "legacy text", reopened.Text())
	assert.Len(t, authority.Updates(docID), 1)
}

func TestConvergence(t *testing.T) {
	clk := clock.NewMock()
	authority, err := remotemem.New()
	require.NoError(t, err)

	a := openSession(t, newDevice(t, clk, nil), authority, clk)
	b := openSession(t, newDevice(t, clk, nil), authority, clk)

	require.NoError(t, a.Edit(0, 0, "Hello"))
	require.NoError(t, b.Edit(0, 0, "World"))

	require.Eventually(t, func() bool {
		return a.Text() == b.Text() && len(a.Text()) == len("HelloWorld")
	}, waitFor, 10*time.Millisecond, "replicas diverged: %q vs %q", a.Text(), b.Text())
}

func TestReplicaDurability(t *testing.T) {
	clk := clock.NewMock()
	authority, err := remotemem.New()
	require.NoError(t, err)
	d := newDevice(t, clk, nil)

	s := openSession(t, d, authority, clk)
	require.NoError(t, s.Edit(0, 0, "draft"))
	require.NoError(t, s.Edit(5, 5, " two"))
	s.Close()

	// A fresh authority stands in for an offline reopen.
	offline, err := remotemem.New()
	require.NoError(t, err)
	reopened := openSession(t, d, offline, clk)
	assert.Equal(t, "draft two", reopened.Text())
}

func TestPresence(t *testing.T) {
	clk := clock.NewMock()
	authority, err := remotemem.NewWithClock(clk)
	require.NoError(t, err)

	a := openSession(t, newDevice(t, clk, nil), authority, clk)
	b := openSession(t, newDevice(t, clk, nil), authority, clk)

	peersSeen := make(chan []types.PresenceRecord, 16)
	b.OnPeersChanged(func(peers []types.PresenceRecord) { peersSeen <- peers })

	a.SetPresence(json.RawMessage(`{"cursor":3}`))
	require.Eventually(t, func() bool {
		clk.Add(250 * time.Millisecond)
		select {
		case peers := <-peersSeen:
			return len(peers) == 1 && peers[0].ClientID == a.ClientID()
		default:
			return false
		}
	}, waitFor, 10*time.Millisecond)

	// A session never lists itself.
	for _, peer := range a.Peers() {
		assert.NotEqual(t, a.ClientID(), peer.ClientID)
	}
	b.SetPresence(json.RawMessage(`{"cursor":0}`))
	require.Eventually(t, func() bool {
		clk.Add(250 * time.Millisecond)
		return len(a.Peers()) == 1
	}, waitFor, 10*time.Millisecond)
	for _, peer := range b.Peers() {
		assert.NotEqual(t, b.ClientID(), peer.ClientID)
	}
}

func TestClose(t *testing.T) {
	clk := clock.NewMock()
	authority, err := remotemem.New()
	require.NoError(t, err)
	s := openSession(t, newDevice(t, clk, nil), authority, clk)

	s.Close()
	s.Close()
	assert.Equal(t, collab.StateDisconnected, s.State())
	assert.ErrorIs(t, s.Edit(0, 0, "late"), collab.ErrClosed)
}
