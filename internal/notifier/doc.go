// Package notifier delivers user-facing toasts.
//
// A toast is a short message with a title, a description and a variant
// (default, success, destructive). It is the client's only user-visible
// error channel: validation failures and failed API calls surface here,
// while load failures only reach the log.
//
// # Delivery
//
// Toasts go to a Sink (for the shell, a writer on stdout). When the async
// pipeline is running, Notify enqueues and a small worker pool delivers
// with rate limiting and optional retry; otherwise Notify delivers inline.
//
// # Dedup and history
//
// Identical toasts inside the dedup window are suppressed (optionally
// persisted through storage), and a bounded in-memory history of shown
// toasts backs the shell's "toasts" command.
package notifier
