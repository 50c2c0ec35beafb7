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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-team/inkwell/client"
)

func TestConfig(t *testing.T) {
	t.Run("defaults test", func(t *testing.T) {
		conf := client.NewConfig()
		require.NoError(t, conf.Validate())
		assert.Equal(t, client.DefaultHeartbeatInterval, conf.HeartbeatInterval)
		assert.Equal(t, client.DefaultPushTimeout, conf.PushTimeout)
		assert.Equal(t, client.DefaultLogLevel, conf.LogLevel)
	})

	t.Run("file overrides defaults test", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
db_path: /tmp/inkwell.db
log_level: debug
heartbeat_interval: 10s
push_timeout: 2s
`), 0o600))

		conf, err := client.NewConfigFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/inkwell.db", conf.DBPath)
		assert.Equal(t, "debug", conf.LogLevel)
		assert.Equal(t, 10*time.Second, conf.HeartbeatInterval)
		assert.Equal(t, 2*time.Second, conf.PushTimeout)
		assert.Equal(t, client.DefaultDelayedRetry, conf.DelayedRetry)
	})

	t.Run("bad level rejected test", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o600))
		_, err := client.NewConfigFromFile(path)
		assert.Error(t, err)
	})

	t.Run("backoff ordering checked test", func(t *testing.T) {
		conf := client.NewConfig()
		conf.PullBackoffMin = 10 * time.Second
		conf.PullBackoffMax = time.Second
		assert.Error(t, conf.Validate())
	})
}
