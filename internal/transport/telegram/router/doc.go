// Package router turns chat messages into command invocations.
//
// Messages starting with "/" are tokenized (quotes supported), matched
// against the registry by name or alias and handed to a bounded worker pool.
// Every handler runs behind panic recovery, request logging and an optional
// timeout.
package router
