// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

// Package config loads chatcore configuration from defaults, an optional YAML
// file, and environment variable overrides, in that priority order.
package config
