// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

// Package migration applies versioned schema migrations for the Postgres
// persistence backend. SQLite deployments skip this package; the gateway
// auto-migrates its schema there.
package migration
