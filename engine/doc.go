// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

/*
Package engine orchestrates visitor turns.

A turn takes one visitor message and drives everything that follows: session
lookup and experiment assignment, ownership arbitration against any active
operator handoff, the streaming completion call, tool execution chains, and
durable mirroring. The caller consumes a single ordered event stream that
always opens with the session id and always ends with exactly one terminal
event, done or error.
*/
package engine
