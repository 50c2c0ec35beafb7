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

package client

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Below are the defaults for the client tunables.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPushTimeout       = 10 * time.Second
	DefaultDelayedRetry      = 500 * time.Millisecond
	DefaultPullBackoffMin    = time.Second
	DefaultPullBackoffMax    = 30 * time.Second
	DefaultPresenceInterval  = 5 * time.Second
	DefaultPresenceDebounce  = 200 * time.Millisecond
	DefaultPresenceTTL       = 10 * time.Second
	DefaultLogLevel          = "info"
)

var configValidator = validator.New()

// Config is the client configuration. An empty DBPath selects the
// ephemeral in-memory store.
type Config struct {
	DBPath   string
	LogLevel string `validate:"oneof=debug info warn error"`

	HeartbeatInterval time.Duration `validate:"min=0"`
	PushTimeout       time.Duration `validate:"min=0"`
	DelayedRetry      time.Duration `validate:"min=0"`
	PullBackoffMin    time.Duration `validate:"min=0"`
	PullBackoffMax    time.Duration `validate:"min=0"`

	PresenceInterval time.Duration `validate:"min=0"`
	PresenceDebounce time.Duration `validate:"min=0"`
	PresenceTTL      time.Duration `validate:"min=0"`
}

// NewConfig returns a config with every default applied.
func NewConfig() *Config {
	conf := &Config{}
	conf.ensureDefaults()
	return conf
}

// fileConfig is the yaml shape of a config file. Durations are strings in
// time.ParseDuration syntax.
type fileConfig struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	HeartbeatInterval string `yaml:"heartbeat_interval"`
	PushTimeout       string `yaml:"push_timeout"`
	DelayedRetry      string `yaml:"delayed_retry"`
	PullBackoffMin    string `yaml:"pull_backoff_min"`
	PullBackoffMax    string `yaml:"pull_backoff_max"`

	PresenceInterval string `yaml:"presence_interval"`
	PresenceDebounce string `yaml:"presence_debounce"`
	PresenceTTL      string `yaml:"presence_ttl"`
}

// NewConfigFromFile loads a yaml config file and fills the gaps with
// defaults.
func NewConfigFromFile(path string) (*Config, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(bytes, &file); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	conf := &Config{DBPath: file.DBPath, LogLevel: file.LogLevel}
	for _, field := range []struct {
		raw  string
		dest *time.Duration
		name string
	}{
		{file.HeartbeatInterval, &conf.HeartbeatInterval, "heartbeat_interval"},
		{file.PushTimeout, &conf.PushTimeout, "push_timeout"},
		{file.DelayedRetry, &conf.DelayedRetry, "delayed_retry"},
		{file.PullBackoffMin, &conf.PullBackoffMin, "pull_backoff_min"},
		{file.PullBackoffMax, &conf.PullBackoffMax, "pull_backoff_max"},
		{file.PresenceInterval, &conf.PresenceInterval, "presence_interval"},
		{file.PresenceDebounce, &conf.PresenceDebounce, "presence_debounce"},
		{file.PresenceTTL, &conf.PresenceTTL, "presence_ttl"},
	} {
		if field.raw == "" {
			continue
		}
		d, err := time.ParseDuration(field.raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", field.name, err)
		}
		*field.dest = d
	}

	conf.ensureDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.PullBackoffMax < c.PullBackoffMin {
		return fmt.Errorf("invalid config: pull backoff max below min")
	}
	return nil
}

func (c *Config) ensureDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.PushTimeout == 0 {
		c.PushTimeout = DefaultPushTimeout
	}
	if c.DelayedRetry == 0 {
		c.DelayedRetry = DefaultDelayedRetry
	}
	if c.PullBackoffMin == 0 {
		c.PullBackoffMin = DefaultPullBackoffMin
	}
	if c.PullBackoffMax == 0 {
		c.PullBackoffMax = DefaultPullBackoffMax
	}
	if c.PresenceInterval == 0 {
		c.PresenceInterval = DefaultPresenceInterval
	}
	if c.PresenceDebounce == 0 {
		c.PresenceDebounce = DefaultPresenceDebounce
	}
	if c.PresenceTTL == 0 {
		c.PresenceTTL = DefaultPresenceTTL
	}
}
