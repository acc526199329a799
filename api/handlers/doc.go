// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

// Package handlers implements the HTTP surface: the streaming chat endpoint
// (SSE and WebSocket), the operator webhook, conversation management, and
// health probes.
package handlers
