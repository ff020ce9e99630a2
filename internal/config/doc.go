// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for expertdesk.
//
// Configuration is TOML with built-in defaults and environment variable
// overrides, resolved in order of precedence:
//
//   - EXPERTDESK_* environment variables
//   - ~/.expertdesk/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil { ... }
//	client := api.NewClient(gw, cfg.Backend.BaseURL, log)
package config
