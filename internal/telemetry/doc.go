// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

// Package telemetry wraps OpenTelemetry SDK setup for distributed tracing.
// When tracing is disabled no exporter is created and the global provider
// stays noop.
package telemetry
