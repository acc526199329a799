// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

/*
Package tools executes the actions the automated responder can take during a
turn: capturing a lead, checking schedule availability, and requesting a
human-operator handoff.

A tool never takes the turn down with it. Failures — bad arguments, upstream
errors, timeouts, panics — degrade to a failed Outcome whose content feeds
back to the model as a tool result, and the turn continues.
*/
package tools
