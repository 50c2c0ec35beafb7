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

package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrContentMismatch is returned when a document body does not match the
// document's declared type.
var ErrContentMismatch = errors.New("content kind does not match document type")

var contentValidator = validator.New()

// Content is the typed body of a document. Kind selects the shape of Data:
// note text, canvas shapes or erd tables.
type Content struct {
	Kind DocType         `json:"kind" validate:"required"`
	Data json.RawMessage `json:"data"`
}

type noteData struct {
	Text string `json:"text"`
}

type canvasData struct {
	Shapes json.RawMessage `json:"shapes"`
}

type erdData struct {
	Tables    json.RawMessage `json:"tables"`
	Relations json.RawMessage `json:"relations"`
}

// NewNoteContent returns a note body holding the given text.
func NewNoteContent(text string) *Content {
	data, _ := json.Marshal(noteData{Text: text})
	return &Content{Kind: TypeNote, Data: data}
}

// NewCanvasContent returns a canvas body holding the given shapes JSON.
func NewCanvasContent(shapes json.RawMessage) *Content {
	data, _ := json.Marshal(canvasData{Shapes: shapes})
	return &Content{Kind: TypeCanvas, Data: data}
}

// NewERDContent returns an erd body holding the given tables and relations.
func NewERDContent(tables, relations json.RawMessage) *Content {
	data, _ := json.Marshal(erdData{Tables: tables, Relations: relations})
	return &Content{Kind: TypeERD, Data: data}
}

// Text returns the note text of the body, or empty for non-note bodies.
func (c *Content) Text() string {
	if c == nil || c.Kind != TypeNote {
		return ""
	}

	var note noteData
	if err := json.Unmarshal(c.Data, &note); err != nil {
		return ""
	}
	return note.Text
}

// Validate checks the body against the document's declared type. A nil
// body is valid; documents may be created empty.
func (c *Content) Validate(docType DocType) error {
	if c == nil {
		return nil
	}

	if err := contentValidator.Struct(c); err != nil {
		return fmt.Errorf("validate content: %w", err)
	}
	if c.Kind != docType {
		return fmt.Errorf("%w: %s body on %s document", ErrContentMismatch, c.Kind, docType)
	}
	if len(c.Data) > 0 && !json.Valid(c.Data) {
		return fmt.Errorf("content data is not valid JSON")
	}

	return nil
}
