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

package uploads_test

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-team/inkwell/internal/connectivity"
	"github.com/inkwell-team/inkwell/localdb"
	localmem "github.com/inkwell-team/inkwell/localdb/memory"
	"github.com/inkwell-team/inkwell/pkg/types"
	"github.com/inkwell-team/inkwell/remote"
	remotemem "github.com/inkwell-team/inkwell/remote/memory"
	"github.com/inkwell-team/inkwell/uploads"
)

const waitFor = 3 * time.Second

// flakyImages fails the first N transfers, then delegates.
type flakyImages struct {
	remote.ImageService

	mu       gosync.Mutex
	failures int
	attempts int
}

func (f *flakyImages) Upload(ctx context.Context, dest *remote.UploadURL, blob []byte) error {
	f.mu.Lock()
	f.attempts++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if fail {
		return errors.New("transfer interrupted")
	}
	return f.ImageService.Upload(ctx, dest, blob)
}

// gatedImages holds each transfer until released, then fails it.
type gatedImages struct {
	remote.ImageService
	entered chan struct{}
	release chan struct{}
}

func (g *gatedImages) Upload(ctx context.Context, dest *remote.UploadURL, blob []byte) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return errors.New("transfer interrupted")
}

type fixture struct {
	db       localdb.Database
	images   *flakyImages
	monitor  *connectivity.Monitor
	clock    *clock.Mock
	queue    *uploads.Queue
	mu       gosync.Mutex
	finished map[string]string
}

func newFixture(t *testing.T, failures int) *fixture {
	db, err := localmem.New()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	authority, err := remotemem.New()
	require.NoError(t, err)

	f := &fixture{
		db:       db,
		images:   &flakyImages{ImageService: authority, failures: failures},
		monitor:  connectivity.NewMonitor(),
		clock:    clock.NewMock(),
		finished: make(map[string]string),
	}
	f.queue = uploads.NewQueue(db, f.images, f.monitor, f.clock, func(tempID, url string) {
		f.mu.Lock()
		f.finished[tempID] = url
		f.mu.Unlock()
	})
	f.queue.Start()
	t.Cleanup(f.queue.Close)
	return f
}

func (f *fixture) completedURL(tempID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url, ok := f.finished[tempID]
	return url, ok
}

func (f *fixture) attempts() int {
	f.images.mu.Lock()
	defer f.images.mu.Unlock()
	return f.images.attempts
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	meta := types.FileMeta{Name: "p.png", MIME: "image/png"}

	t.Run("success reports url and clears entry test", func(t *testing.T) {
		f := newFixture(t, 0)
		require.NoError(t, f.queue.Add(ctx, "temp-1", []byte{0x1, 0x2}, meta, "doc-1"))

		require.Eventually(t, func() bool {
			_, ok := f.completedURL("temp-1")
			return ok
		}, waitFor, 10*time.Millisecond)

		url, _ := f.completedURL("temp-1")
		assert.Contains(t, url, "doc-1")

		_, err := f.db.FindUpload(ctx, "temp-1")
		assert.ErrorIs(t, err, localdb.ErrNotFound)
	})

	t.Run("third attempt succeeds test", func(t *testing.T) {
		f := newFixture(t, 2)
		require.NoError(t, f.queue.Add(ctx, "temp-1", []byte{0x1}, meta, "doc-1"))

		require.Eventually(t, func() bool {
			f.clock.Add(5 * time.Second)
			_, ok := f.completedURL("temp-1")
			return ok
		}, waitFor, 10*time.Millisecond)
		assert.Equal(t, 3, f.attempts())
	})

	t.Run("retry cap parks item in error test", func(t *testing.T) {
		f := newFixture(t, 100)
		require.NoError(t, f.queue.Add(ctx, "temp-1", []byte{0x1}, meta, "doc-1"))

		require.Eventually(t, func() bool {
			f.clock.Add(5 * time.Second)
			item, err := f.db.FindUpload(ctx, "temp-1")
			return err == nil && item.Status == types.UploadError
		}, waitFor, 10*time.Millisecond)

		item, err := f.db.FindUpload(ctx, "temp-1")
		require.NoError(t, err)
		assert.Equal(t, 3, item.Retries)
		assert.Equal(t, 3, f.attempts())

		_, ok := f.completedURL("temp-1")
		assert.False(t, ok)
	})

	t.Run("manual retry after terminal failure test", func(t *testing.T) {
		f := newFixture(t, 3)
		require.NoError(t, f.queue.Add(ctx, "temp-1", []byte{0x1}, meta, "doc-1"))

		require.Eventually(t, func() bool {
			f.clock.Add(5 * time.Second)
			item, err := f.db.FindUpload(ctx, "temp-1")
			return err == nil && item.Status == types.UploadError
		}, waitFor, 10*time.Millisecond)

		require.NoError(t, f.queue.Retry(ctx, "temp-1"))
		require.Eventually(t, func() bool {
			_, ok := f.completedURL("temp-1")
			return ok
		}, waitFor, 10*time.Millisecond)
	})

	t.Run("offline pauses and online resumes test", func(t *testing.T) {
		f := newFixture(t, 0)
		f.monitor.SetOnline(false)

		require.NoError(t, f.queue.Add(ctx, "temp-1", []byte{0x1}, meta, "doc-1"))

		time.Sleep(50 * time.Millisecond)
		item, err := f.db.FindUpload(ctx, "temp-1")
		require.NoError(t, err)
		assert.Equal(t, types.UploadPending, item.Status)
		assert.Zero(t, f.attempts())

		f.monitor.SetOnline(true)
		require.Eventually(t, func() bool {
			_, ok := f.completedURL("temp-1")
			return ok
		}, waitFor, 10*time.Millisecond)
	})

	t.Run("restore resumes interrupted transfer test", func(t *testing.T) {
		f := newFixture(t, 0)

		// A transfer cut off by a crash is still marked uploading.
		require.NoError(t, f.db.PutUpload(ctx, types.UploadQueueItem{
			TempID:     "temp-9",
			Blob:       []byte{0x9},
			Meta:       meta,
			DocumentID: "doc-9",
			Status:     types.UploadUploading,
			CreatedAt:  100,
		}))

		require.NoError(t, f.queue.Restore(ctx))
		require.Eventually(t, func() bool {
			_, ok := f.completedURL("temp-9")
			return ok
		}, waitFor, 10*time.Millisecond)
	})

	t.Run("remove during failing transfer stays removed test", func(t *testing.T) {
		db, err := localmem.New()
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, db.Close()) })
		authority, err := remotemem.New()
		require.NoError(t, err)

		images := &gatedImages{
			ImageService: authority,
			entered:      make(chan struct{}, 1),
			release:      make(chan struct{}),
		}
		queue := uploads.NewQueue(db, images, connectivity.NewMonitor(), clock.NewMock(), nil)
		queue.Start()
		t.Cleanup(queue.Close)

		require.NoError(t, queue.Add(ctx, "temp-1", []byte{0x1}, meta, "doc-1"))
		<-images.entered

		// The user cancels while the transfer is in flight; the failure
		// handler must not put the item back.
		require.NoError(t, queue.Remove(ctx, "temp-1"))
		close(images.release)

		require.Never(t, func() bool {
			_, err := db.FindUpload(ctx, "temp-1")
			return err == nil
		}, 100*time.Millisecond, 10*time.Millisecond)
	})

	t.Run("remove cancels queued upload test", func(t *testing.T) {
		f := newFixture(t, 0)
		f.monitor.SetOnline(false)

		require.NoError(t, f.queue.Add(ctx, "temp-1", []byte{0x1}, meta, "doc-1"))
		require.NoError(t, f.queue.Remove(ctx, "temp-1"))
		f.monitor.SetOnline(true)

		time.Sleep(50 * time.Millisecond)
		_, ok := f.completedURL("temp-1")
		assert.False(t, ok)
		_, err := f.db.FindUpload(ctx, "temp-1")
		assert.ErrorIs(t, err, localdb.ErrNotFound)
	})
}
