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

package memory

import "github.com/hashicorp/go-memdb"

var (
	tblFolders   = "folders"
	tblDocuments = "documents"
	tblSyncQueue = "syncqueue"
	tblUploads   = "uploads"
	tblUpdates   = "updates"
	tblMeta      = "meta"
)

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblFolders: {
			Name: tblFolders,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"parent_key": {
					Name:    "parent_key",
					Indexer: &memdb.StringFieldIndex{Field: "ParentKey"},
				},
			},
		},
		tblDocuments: {
			Name: tblDocuments,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"folder_key": {
					Name:    "folder_key",
					Indexer: &memdb.StringFieldIndex{Field: "FolderKey"},
				},
				"doc_type": {
					Name:    "doc_type",
					Indexer: &memdb.StringFieldIndex{Field: "DocType"},
				},
				"archived": {
					Name:    "archived",
					Indexer: &memdb.BoolFieldIndex{Field: "Archived"},
				},
			},
		},
		tblSyncQueue: {
			Name: tblSyncQueue,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.UintFieldIndex{Field: "Seq"},
				},
			},
		},
		tblUploads: {
			Name: tblUploads,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "TempID"},
				},
				"status": {
					Name:    "status",
					Indexer: &memdb.StringFieldIndex{Field: "Status"},
				},
			},
		},
		tblUpdates: {
			Name: tblUpdates,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.UintFieldIndex{Field: "Seq"},
				},
				"doc_id": {
					Name:    "doc_id",
					Indexer: &memdb.StringFieldIndex{Field: "DocID"},
				},
			},
		},
		tblMeta: {
			Name: tblMeta,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
			},
		},
	},
}
