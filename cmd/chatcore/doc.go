// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

// Command chatcore runs the conversation engine: the streaming chat API, the
// operator webhook, and the supporting migration tooling.
//
// Usage:
//
//	chatcore serve                       # start the server
//	chatcore serve --config config.yaml  # with a config file
//	chatcore migrate up                  # apply database migrations
//	chatcore version                     # print version info
//	chatcore health                      # probe a running server
package main
