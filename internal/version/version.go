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

// Package version provides the build information of the binary.
package version

// Below values are replaced at build time with ldflags.
var (
	// Version is the semantic version of the build.
	Version = "0.0.0-dev"

	// GitCommit is the commit hash the build was made from.
	GitCommit = "unknown"

	// BuildDate is the date the build was made at.
	BuildDate = "unknown"
)
