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

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/inkwell-team/inkwell/localdb/sqlite"
)

var statusDBPath string

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize a local editor store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			db, err := sqlite.Open(statusDBPath)
			if err != nil {
				return err
			}
			defer func() {
				_ = db.Close()
			}()

			folders, err := db.ListFolders(ctx)
			if err != nil {
				return err
			}
			docs, err := db.ListDocuments(ctx)
			if err != nil {
				return err
			}
			archived, err := db.ListArchivedDocuments(ctx)
			if err != nil {
				return err
			}
			queued, err := db.CountSyncQueue(ctx)
			if err != nil {
				return err
			}
			uploads, err := db.ListUploads(ctx)
			if err != nil {
				return err
			}
			watermark, err := db.Watermark(ctx)
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"FOLDERS", "DOCUMENTS", "ARCHIVED", "QUEUED", "UPLOADS", "WATERMARK"})
			tw.AppendRow(table.Row{
				len(folders),
				len(docs),
				len(archived),
				queued,
				len(uploads),
				watermark,
			})
			tw.Render()

			if len(uploads) == 0 {
				return nil
			}

			fmt.Println()
			uw := table.NewWriter()
			uw.SetOutputMirror(os.Stdout)
			uw.AppendHeader(table.Row{"TEMP ID", "DOCUMENT", "FILE", "STATUS", "RETRIES", "CREATED"})
			for _, item := range uploads {
				uw.AppendRow(table.Row{
					item.TempID,
					item.DocumentID,
					item.Meta.Name,
					item.Status,
					item.Retries,
					time.UnixMilli(item.CreatedAt).Format(time.RFC3339),
				})
			}
			uw.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&statusDBPath, "db", "inkwell.db", "path of the local store")
	return cmd
}

func init() {
	rootCmd.AddCommand(newStatusCmd())
}
