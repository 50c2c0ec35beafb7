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

// Package uploads runs the durable image upload queue. Blobs land in the
// local store first; a single worker moves them to remote storage and
// reports the final URL, surviving restarts and offline windows.
package uploads

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/inkwell-team/inkwell/internal/connectivity"
	"github.com/inkwell-team/inkwell/internal/logging"
	"github.com/inkwell-team/inkwell/localdb"
	"github.com/inkwell-team/inkwell/pkg/types"
	"github.com/inkwell-team/inkwell/remote"
)

const (
	maxRetries   = 3
	retryBackoff = time.Second
)

// CompletionFunc is called once per finished upload with the temp id the
// content still references and the final public URL.
type CompletionFunc func(tempID, url string)

// Queue is the durable upload worker.
type Queue struct {
	db         localdb.Database
	remote     remote.ImageService
	monitor    *connectivity.Monitor
	clock      clock.Clock
	logger     logging.Logger
	onComplete CompletionFunc

	cancelMonitor func()
	wake          chan struct{}
	done          chan struct{}
	closeOnce     gosync.Once
	wg            gosync.WaitGroup
}

// NewQueue returns a stopped queue. onComplete may be nil.
func NewQueue(
	db localdb.Database,
	svc remote.ImageService,
	monitor *connectivity.Monitor,
	clk clock.Clock,
	onComplete CompletionFunc,
) *Queue {
	return &Queue{
		db:         db,
		remote:     svc,
		monitor:    monitor,
		clock:      clk,
		logger:     logging.New("uploads"),
		onComplete: onComplete,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Start launches the worker and resumes when the network comes back.
func (q *Queue) Start() {
	q.cancelMonitor = q.monitor.Subscribe(func(online bool) {
		if online {
			q.trigger()
		}
	})

	q.wg.Add(1)
	go q.loop()
}

// Close stops the worker. Queued items stay in the store.
func (q *Queue) Close() {
	if q.cancelMonitor != nil {
		q.cancelMonitor()
	}
	q.closeOnce.Do(func() { close(q.done) })
	q.wg.Wait()
}

// Add persists the blob and queues its transfer.
func (q *Queue) Add(ctx context.Context, tempID string, blob []byte, meta types.FileMeta, docID string) error {
	item := types.UploadQueueItem{
		TempID:     tempID,
		Blob:       blob,
		Meta:       meta,
		DocumentID: docID,
		Status:     types.UploadPending,
		CreatedAt:  q.clock.Now().UnixMilli(),
	}
	if err := q.db.PutUpload(ctx, item); err != nil {
		return fmt.Errorf("persist upload: %w", err)
	}

	q.trigger()
	return nil
}

// Remove cancels a queued upload. An in-flight transfer notices the
// deletion before it reports completion.
func (q *Queue) Remove(ctx context.Context, tempID string) error {
	if err := q.db.DeleteUpload(ctx, tempID); err != nil && !errors.Is(err, localdb.ErrNotFound) {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

// Retry requeues a terminally failed upload.
func (q *Queue) Retry(ctx context.Context, tempID string) error {
	item, err := q.db.FindUpload(ctx, tempID)
	if err != nil {
		return fmt.Errorf("find upload: %w", err)
	}

	item.Status = types.UploadPending
	item.Retries = 0
	if err := q.db.PutUpload(ctx, *item); err != nil {
		return fmt.Errorf("requeue upload: %w", err)
	}

	q.trigger()
	return nil
}

// Restore picks the queue back up after a restart. Transfers that were
// cut off mid-flight go back to pending.
func (q *Queue) Restore(ctx context.Context) error {
	items, err := q.db.ListUploads(ctx)
	if err != nil {
		return fmt.Errorf("list uploads: %w", err)
	}

	for _, item := range items {
		if item.Status != types.UploadUploading {
			continue
		}
		item.Status = types.UploadPending
		if err := q.db.PutUpload(ctx, item); err != nil {
			return fmt.Errorf("reset upload %s: %w", item.TempID, err)
		}
	}

	q.trigger()
	return nil
}

func (q *Queue) trigger() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.wake:
			q.drain()
		case <-q.done:
			return
		}
	}
}

// drain processes pending items one at a time in arrival order. Offline
// it pauses; the connectivity subscription wakes it again.
func (q *Queue) drain() {
	ctx := context.Background()
	for {
		select {
		case <-q.done:
			return
		default:
		}
		if !q.monitor.Online() {
			return
		}

		items, err := q.db.ListUploads(ctx)
		if err != nil {
			q.logger.Errorf("list uploads: %v", err)
			return
		}

		var next *types.UploadQueueItem
		for i := range items {
			if items[i].Status == types.UploadPending {
				next = &items[i]
				break
			}
		}
		if next == nil {
			return
		}

		q.process(ctx, *next)
	}
}

func (q *Queue) process(ctx context.Context, item types.UploadQueueItem) {
	item.Status = types.UploadUploading
	if err := q.db.PutUpload(ctx, item); err != nil {
		q.logger.Errorf("mark uploading: %v", err)
		return
	}

	url, err := q.transfer(ctx, item)
	if err != nil {
		q.fail(ctx, item, err)
		return
	}

	// A Remove that raced the transfer wins; no completion is reported.
	if _, err := q.db.FindUpload(ctx, item.TempID); errors.Is(err, localdb.ErrNotFound) {
		q.logger.Debugf("upload %s canceled mid-flight", item.TempID)
		return
	}
	if err := q.db.DeleteUpload(ctx, item.TempID); err != nil {
		q.logger.Errorf("drop finished upload: %v", err)
		return
	}

	q.logger.Debugf("uploaded %s for document %s", item.TempID, item.DocumentID)
	if q.onComplete != nil {
		q.onComplete(item.TempID, url)
	}
}

func (q *Queue) transfer(ctx context.Context, item types.UploadQueueItem) (string, error) {
	dest, err := q.remote.GenerateUploadURL(ctx, item.Meta)
	if err != nil {
		return "", fmt.Errorf("generate upload url: %w", err)
	}
	if err := q.remote.Upload(ctx, dest, item.Blob); err != nil {
		return "", fmt.Errorf("transfer blob: %w", err)
	}
	url, err := q.remote.SaveImage(ctx, dest.StorageID, item.DocumentID)
	if err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	return url, nil
}

// fail counts the attempt. Under the cap the item goes back to pending
// after a linear backoff; at the cap it parks in the error state for
// inspection or a manual Retry.
func (q *Queue) fail(ctx context.Context, item types.UploadQueueItem, cause error) {
	// A Remove that raced the failed transfer wins; putting the item back
	// would resurrect it.
	if _, err := q.db.FindUpload(ctx, item.TempID); errors.Is(err, localdb.ErrNotFound) {
		q.logger.Debugf("upload %s canceled mid-flight", item.TempID)
		return
	}

	item.Retries++
	if item.Retries >= maxRetries {
		item.Status = types.UploadError
		q.logger.Warnf("upload %s failed terminally after %d attempts: %v", item.TempID, item.Retries, cause)
		if err := q.db.PutUpload(ctx, item); err != nil {
			q.logger.Errorf("park failed upload: %v", err)
		}
		return
	}

	q.logger.Debugf("upload %s attempt %d failed: %v", item.TempID, item.Retries, cause)
	item.Status = types.UploadPending
	if err := q.db.PutUpload(ctx, item); err != nil {
		q.logger.Errorf("requeue failed upload: %v", err)
		return
	}

	timer := q.clock.Timer(retryBackoff * time.Duration(item.Retries))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-q.done:
	}
}
