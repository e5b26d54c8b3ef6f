// Package dialog holds the per-session conversation state threaded through
// every orchestrator transition: the append-only transcript, the lazily
// fetched side context and the dialog stack of entered skills.
//
// State is not safe for concurrent use. A session is processed by one turn
// at a time; callers partition state per session id.
package dialog
