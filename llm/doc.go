// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

/*
Package llm provides the unified model-provider abstraction for chatcore.

Provider hides the wire differences between model vendors behind one
request/response model and one streaming contract. Client layers the engine's
completion semantics on top of a Provider: exactly one streaming call per
invocation, text deltas forwarded as they arrive, at most one completed tool
invocation, and a single terminal result carrying usage.
*/
package llm
