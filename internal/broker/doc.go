// Package broker implements the conversation-ownership state machine at
// the heart of deskbridge.
//
// # Ownership model
//
// Every conversation is either WithAutomation (the bot answers) or
// WithHuman (the bot stays quiet). The local ownership record is a cache;
// the chat platform's assignee field is authoritative and can change
// underneath the bot at any time. Reconcile therefore re-reads the platform
// before automation is allowed to respond:
//
//   - assignee is another agent        -> WithHuman, session handle cleared
//   - assignee unset while WithHuman   -> reopen: record reset, WithAutomation
//   - assignee is the bot, local stale -> self-heal to WithAutomation
//   - read failed                      -> fail OPEN to WithAutomation
//
// Fail-open is a deliberate availability-over-consistency choice: an
// unreachable control plane must not silently drop support conversations.
//
// # Transitions
//
// Escalate, Deescalate, and AutoClaim are idempotent. Escalate marks the
// local record WithHuman even when the external assignment write fails;
// after a failure the bot prefers staying quiet over talking next to a
// human. AutoClaim never overrides an existing assignee.
//
// # Dispatch
//
// Dispatch routes canonical events from the classifier:
//
//	AssignmentChange            -> resync local state, welcome on hand-back
//	MessageCreate from an agent -> watch for resolution phrases
//	MessageCreate from the user -> reconcile, auto-claim, respond pipeline
//
// All work for one conversation runs under that conversation's work lock,
// so duplicate or out-of-order deliveries are applied one at a time. The
// webhook is acknowledged before Dispatch runs; no processing failure is
// ever surfaced to the platform.
package broker
