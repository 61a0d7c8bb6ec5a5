// Package notifier delivers new-chapter announcements.
//
// The Telegram notifier is the primary destination: it must resolve to a chat
// for a poll cycle to run, and its delivery errors are reported back to the
// cycle. Extra sinks (NATS) receive a JSON copy of each change on a best-effort
// basis through Fanout.
//
// Delivery is synchronous and never retried inside a cycle; a change whose
// announcement was lost is still recorded in state.
package notifier
