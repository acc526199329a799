// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

/*
Package session keeps live conversations in memory.

The Store owns the authoritative Conversation aggregates while a chat is
active. Each conversation carries a turn lock so only one visitor turn mutates
it at a time; a second concurrent turn fails fast with a retryable conflict
instead of interleaving. A background reaper evicts conversations idle past
the TTL, marking them abandoned and handing them to an eviction hook for a
final durable flush.
*/
package session
