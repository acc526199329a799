// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type definitions for the chatcore engine.

types is the lowest-level public package and depends on nothing else in the
module. Everything that crosses package boundaries lives here to avoid
circular imports: the conversation log model (Conversation, Message,
HandoffState), the structured error taxonomy (Error, ErrorCode), and the
stream event vocabulary consumed by transports.
*/
package types
