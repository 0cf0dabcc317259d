// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Threadline
// clients.
//
// Configuration is loaded from a single YAML file specified by:
//   - THREADLINE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections
// (development, staging, production) that override base values when
// the environment matches.
package config
