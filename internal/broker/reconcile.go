// ABOUTME: Resolves the authoritative owner of a conversation
// ABOUTME: Combines the local record with a fresh read of the platform's assignee

package broker

import (
	"context"

	"github.com/relaymesh/deskbridge/internal/ownership"
)

// Reconcile derives the authoritative ownership state for the conversation
// by reading the platform's current assignee and folding it into the local
// record. The local record is only a cache: the platform can change
// underneath the bot (manual reassignment in the UI, other integrations),
// so every respond attempt re-derives truth here first.
//
// A failed read fails OPEN to WithAutomation: an unreachable control plane
// must not silently drop support conversations. Automation may respond to
// an end-user message iff the returned state is WithAutomation.
func (b *Broker) Reconcile(ctx context.Context, conversationID string) ownership.State {
	conv, err := b.api.GetConversation(ctx, conversationID)
	if err != nil {
		b.logger.Warn("reconciliation read failed, failing open to automation",
			"conversation_id", conversationID,
			"error", err)
		b.record(conversationID, "reconcile_failed_open", err.Error())
		return ownership.WithAutomation
	}

	rec := b.store.Get(conversationID)

	switch {
	case conv.AssigneeID != "" && conv.AssigneeID != b.opts.AutomationAgentID:
		// A human (or another integration) owns the conversation.
		if rec.State != ownership.WithHuman {
			b.logger.Info("conversation assigned to human externally",
				"conversation_id", conversationID,
				"assignee_id", conv.AssigneeID)
			b.store.SetState(conversationID, ownership.WithHuman)
			b.store.SetSessionHandle(conversationID, "")
		}
		return ownership.WithHuman

	case conv.AssigneeID == "" && rec.State == ownership.WithHuman:
		// Reopen: the human resolved the conversation, the platform cleared
		// the assignee, and the end-user has come back. Automation takes
		// over with a fresh record and no stale session context.
		b.logger.Info("conversation reopened, returning to automation",
			"conversation_id", conversationID)
		b.store.Remove(conversationID)
		b.record(conversationID, "reopened", "")
		return ownership.WithAutomation

	case conv.AssigneeID == b.opts.AutomationAgentID && b.opts.AutomationAgentID != "" && rec.State == ownership.WithHuman:
		// Self-heal: the platform says the bot owns it; the local human
		// flag is stale.
		b.logger.Info("local ownership stale, platform assigns automation",
			"conversation_id", conversationID)
		b.store.SetState(conversationID, ownership.WithAutomation)
		return ownership.WithAutomation

	default:
		return rec.State
	}
}
