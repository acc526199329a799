// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

/*
Package experiment implements weighted prompt experiments with sticky
per-conversation assignment.

Each experiment splits traffic across variant arms by percentage weight. The
first turn of a conversation draws once; every later turn returns the recorded
arm, so a conversation never switches variants mid-flight. Traffic not covered
by the configured weights falls to the control arm, which carries no overrides.
*/
package experiment
