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

// Package ws implements the remote authority over a JSON-RPC websocket.
// Request/response pairs are matched by id; subscription deliveries arrive
// as server notifications carrying the subscription id.
package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/inkwell-team/inkwell/internal/logging"
	"github.com/inkwell-team/inkwell/pkg/types"
	"github.com/inkwell-team/inkwell/remote"
)

// ErrClosed is returned on calls after the connection is gone.
var ErrClosed = errors.New("ws: connection closed")

const defaultCallTimeout = 30 * time.Second

// codeConflict is the rpc error code the authority uses for a write it
// refused because of existing state.
const codeConflict = 409

type rpcRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcEnvelope covers responses and notifications. Responses carry ID;
// notifications carry Method and a subscription id inside Params.
type rpcEnvelope struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type notification struct {
	Subscription string          `json:"subscription"`
	Payload      json.RawMessage `json:"payload"`
}

// Client is a websocket connection to the authority implementing
// remote.Service.
type Client struct {
	logger logging.Logger
	conn   *websocket.Conn
	http   *http.Client

	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	pending map[string]chan rpcEnvelope
	subs    map[string]chan json.RawMessage
}

var _ remote.Service = (*Client)(nil)

// Dial connects to the authority at the given websocket URL.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		logger:  logging.New("remote-ws"),
		conn:    conn,
		http:    &http.Client{Timeout: defaultCallTimeout},
		pending: make(map[string]chan rpcEnvelope),
		subs:    make(map[string]chan json.RawMessage),
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection and fails every pending call.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close()
}

func (c *Client) readLoop() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.failAll(err)
			return
		}

		var env rpcEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warnf("drop unparsable frame: %v", err)
			continue
		}

		if env.ID != "" {
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ok {
				ch <- env
			}
			continue
		}

		var note notification
		if err := json.Unmarshal(env.Params, &note); err != nil {
			c.logger.Warnf("drop unparsable notification: %v", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.subs[note.Subscription]
		c.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- note.Payload:
		default:
			c.logger.Warnf("subscription %s backlog full, dropping delivery", note.Subscription)
		}
	}
}

func (c *Client) failAll(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.logger.Debugf("read loop ended: %v", cause)
}

// call performs one request/response roundtrip.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	id := xid.New().String()
	ch := make(chan rpcEnvelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(rpcRequest{ID: id, Method: method, Params: params}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return fmt.Errorf("%w: connection lost", remote.ErrUnavailable)
		}
		if env.Error != nil {
			return fmt.Errorf("%s: %w", method, env.Error)
		}
		if result != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

func (c *Client) write(req rpcRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(req)
}

// subscribe opens a server-side subscription and returns its delivery
// channel. cancel sends the unsubscribe call and releases the channel.
func (c *Client) subscribe(ctx context.Context, method string, params any) (string, chan json.RawMessage, error) {
	var result struct {
		Subscription string `json:"subscription"`
	}
	if err := c.call(ctx, method, params, &result); err != nil {
		return "", nil, err
	}

	ch := make(chan json.RawMessage, 64)
	c.mu.Lock()
	c.subs[result.Subscription] = ch
	c.mu.Unlock()
	return result.Subscription, ch, nil
}

func (c *Client) unsubscribe(subscription string) {
	c.mu.Lock()
	ch, ok := c.subs[subscription]
	delete(c.subs, subscription)
	closed := c.closed
	c.mu.Unlock()
	if ok {
		close(ch)
	}
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.call(ctx, "unsubscribe", map[string]string{"subscription": subscription}, nil); err != nil {
		c.logger.Debugf("unsubscribe %s: %v", subscription, err)
	}
}

// PushChanges sends the batch as one atomic call.
func (c *Client) PushChanges(ctx context.Context, userID string, mutations []remote.Mutation) error {
	params := map[string]any{
		"user_id":   userID,
		"mutations": mutations,
	}
	return c.call(ctx, "sync.push", params, nil)
}

// SubscribePull opens the authority's change cursor at the watermark.
func (c *Client) SubscribePull(ctx context.Context, userID string, since int64) (<-chan remote.ChangeSet, error) {
	params := map[string]any{
		"user_id": userID,
		"since":   since,
	}
	subscription, deliveries, err := c.subscribe(ctx, "sync.subscribe", params)
	if err != nil {
		return nil, err
	}

	out := make(chan remote.ChangeSet)
	go func() {
		defer close(out)
		defer c.unsubscribe(subscription)

		for {
			select {
			case payload, ok := <-deliveries:
				if !ok {
					return
				}
				var set remote.ChangeSet
				if err := json.Unmarshal(payload, &set); err != nil {
					c.logger.Warnf("drop unparsable pull delivery: %v", err)
					continue
				}
				select {
				case out <- set:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// PushUpdate appends one CRDT fragment to the document's shared log.
func (c *Client) PushUpdate(ctx context.Context, docID string, update []byte) error {
	params := map[string]any{
		"document_id": docID,
		"update":      update,
	}
	return c.call(ctx, "collab.push", params, nil)
}

// SeedUpdate writes the document's first fragment; the authority refuses
// the seed once the shared log has history.
func (c *Client) SeedUpdate(ctx context.Context, docID string, update []byte) error {
	params := map[string]any{
		"document_id": docID,
		"update":      update,
	}
	err := c.call(ctx, "collab.seed", params, nil)
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) && rpcErr.Code == codeConflict {
		return fmt.Errorf("%w: %s", remote.ErrRejected, rpcErr.Message)
	}
	return err
}

// SubscribeUpdates streams the document's shared log.
func (c *Client) SubscribeUpdates(ctx context.Context, docID string) (<-chan remote.UpdateEvent, error) {
	params := map[string]string{"document_id": docID}
	subscription, deliveries, err := c.subscribe(ctx, "collab.subscribe", params)
	if err != nil {
		return nil, err
	}

	out := make(chan remote.UpdateEvent)
	go func() {
		defer close(out)
		defer c.unsubscribe(subscription)

		for {
			select {
			case payload, ok := <-deliveries:
				if !ok {
					return
				}
				var ev remote.UpdateEvent
				if err := json.Unmarshal(payload, &ev); err != nil {
					c.logger.Warnf("drop unparsable update: %v", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// UpdatePresence publishes the client's awareness state.
func (c *Client) UpdatePresence(ctx context.Context, record types.PresenceRecord) error {
	return c.call(ctx, "presence.update", record, nil)
}

// SubscribePresence streams peer awareness states for the document.
func (c *Client) SubscribePresence(ctx context.Context, docID string) (<-chan types.PresenceRecord, error) {
	params := map[string]string{"document_id": docID}
	subscription, deliveries, err := c.subscribe(ctx, "presence.subscribe", params)
	if err != nil {
		return nil, err
	}

	out := make(chan types.PresenceRecord)
	go func() {
		defer close(out)
		defer c.unsubscribe(subscription)

		for {
			select {
			case payload, ok := <-deliveries:
				if !ok {
					return
				}
				var record types.PresenceRecord
				if err := json.Unmarshal(payload, &record); err != nil {
					c.logger.Warnf("drop unparsable presence: %v", err)
					continue
				}
				select {
				case out <- record:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// GenerateUploadURL asks the authority for a binary upload destination.
func (c *Client) GenerateUploadURL(ctx context.Context, meta types.FileMeta) (*remote.UploadURL, error) {
	var dest remote.UploadURL
	if err := c.call(ctx, "images.generateUploadUrl", meta, &dest); err != nil {
		return nil, err
	}
	return &dest, nil
}

// Upload transfers the blob to the issued destination over HTTP.
func (c *Client) Upload(ctx context.Context, dest *remote.UploadURL, blob []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, dest.URL, bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: upload: %v", remote.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload to %s: status %d", dest.URL, resp.StatusCode)
	}
	return nil
}

// SaveImage attaches the stored blob to the document.
func (c *Client) SaveImage(ctx context.Context, storageID, docID string) (string, error) {
	params := map[string]string{
		"storage_id":  storageID,
		"document_id": docID,
	}
	var result struct {
		URL string `json:"url"`
	}
	if err := c.call(ctx, "images.save", params, &result); err != nil {
		return "", err
	}
	return result.URL, nil
}
