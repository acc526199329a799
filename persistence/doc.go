// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

/*
Package persistence mirrors live conversations into durable storage.

Writes are asynchronous: the engine enqueues them and continues serving the
turn, so a slow or unavailable database never blocks streaming. The Writer
preserves per-conversation ordering — a conversation's create is acknowledged
or retried before any of its appends run — and retries failed writes with
backoff up to a bound, after which the payload is logged for manual replay.
*/
package persistence
