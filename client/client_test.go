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

package client_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-team/inkwell/client"
	"github.com/inkwell-team/inkwell/documents"
	"github.com/inkwell-team/inkwell/pkg/types"
	remotemem "github.com/inkwell-team/inkwell/remote/memory"
	"github.com/inkwell-team/inkwell/sync"
)

const waitFor = 5 * time.Second

func newClient(t *testing.T) (*client.Client, *remotemem.DB) {
	authority, err := remotemem.New()
	require.NoError(t, err)

	c, err := client.New(client.NewConfig(), authority)
	require.NoError(t, err)
	require.NoError(t, c.Activate(context.Background()))
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c, authority
}

func TestOfflineFirstFlow(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)

	// Work happens before any account exists.
	c.SetOnline(false)
	folder, err := c.Folders.Create(ctx, "Notes", types.TypeNote, nil)
	require.NoError(t, err)
	doc, err := c.Documents.Create(ctx, documents.CreateParams{
		DocType:  types.TypeNote,
		Title:    "Offline draft",
		Content:  types.NewNoteContent("written on a plane"),
		FolderID: &folder.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, sync.StatusOffline, c.SyncState().Status)

	// Signing in online drains the queue and claims ownership.
	c.SetOnline(true)
	c.SignIn("user-1")

	require.Eventually(t, func() bool {
		found, err := c.Documents.Get(ctx, doc.ID)
		return err == nil && found.OwnerID == "user-1" &&
			c.SyncState().Status == sync.StatusSynced
	}, waitFor, 10*time.Millisecond)
}

func TestOfflineImageFlow(t *testing.T) {
	ctx := context.Background()
	c, authority := newClient(t)
	c.SignIn("user-1")

	doc, err := c.Documents.Create(ctx, documents.CreateParams{
		DocType: types.TypeNote,
		Title:   "Trip report",
	})
	require.NoError(t, err)

	// The image is attached offline; content references the placeholder.
	c.SetOnline(false)
	ref, err := c.AttachImage(ctx, doc.ID, types.FileMeta{Name: "photo.png", MIME: "image/png"}, []byte{0x89, 0x50})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ref, "upload://"))

	_, err = c.Documents.Update(ctx, doc.ID, documents.UpdateParams{
		Content: types.NewNoteContent("see " + ref),
	})
	require.NoError(t, err)

	// Back online the blob moves to storage and the reference flips to
	// the final URL, which then syncs out.
	c.SetOnline(true)
	require.Eventually(t, func() bool {
		found, err := c.Documents.Get(ctx, doc.ID)
		return err == nil && strings.Contains(found.Content.Text(), "https://")
	}, waitFor, 10*time.Millisecond)

	found, err := c.Documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotContains(t, found.Content.Text(), "upload://")

	tempID := strings.TrimPrefix(ref, "upload://")
	_, ok := authority.Blob(tempID)
	assert.False(t, ok, "blobs are stored under storage ids, not temp ids")
}

func TestCollabThroughClient(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	c.SignIn("user-1")

	doc, err := c.Documents.Create(ctx, documents.CreateParams{
		DocType: types.TypeNote,
		Title:   "Shared note",
		Content: types.NewNoteContent("seed"),
	})
	require.NoError(t, err)

	session, err := c.OpenDocument(ctx, doc.ID)
	require.NoError(t, err)
	defer session.Close()

	// The legacy snapshot moved into CRDT history.
	assert.Equal(t, "seed", session.Text())
	meta, err := c.Documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, meta.Content)

	require.NoError(t, session.Edit(4, 4, " grown"))
	assert.Equal(t, "seed grown", session.Text())
}
