// ABOUTME: Idempotent ownership transitions and their external side effects
// ABOUTME: Escalate, Deescalate, and AutoClaim; local state favors silence over double-responding

package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/relaymesh/deskbridge/internal/ownership"
)

// Transition preconditions that depend on configuration rather than state.
var (
	ErrNoHumanAgent      = errors.New("broker: no human agent configured")
	ErrNoAutomationAgent = errors.New("broker: no automation agent configured")
)

// Escalate hands the conversation to the configured human agent. The
// external assignment is attempted first; the local record is marked
// WithHuman and its session handle cleared even if that write fails: a
// false escalation keeps the bot quiet, which beats double-responding next
// to a human. Calling Escalate on an already-escalated conversation is a
// no-op.
func (b *Broker) Escalate(ctx context.Context, conversationID string) error {
	if b.opts.HumanAgentID == "" {
		return ErrNoHumanAgent
	}

	if b.store.Get(conversationID).State == ownership.WithHuman {
		b.logger.Debug("escalate: already with human",
			"conversation_id", conversationID)
		return nil
	}

	writeErr := b.api.SetConversationAssignee(ctx, conversationID, b.opts.HumanAgentID, "assigned")

	b.store.SetState(conversationID, ownership.WithHuman)
	b.store.SetSessionHandle(conversationID, "")

	if writeErr != nil {
		b.logger.Error("escalation assignment failed, local state escalated anyway",
			"conversation_id", conversationID,
			"human_agent_id", b.opts.HumanAgentID,
			"error", writeErr)
		b.record(conversationID, "escalated", "assignment write failed: "+writeErr.Error())
		return fmt.Errorf("escalating conversation %s: %w", conversationID, writeErr)
	}

	b.logger.Info("conversation escalated to human",
		"conversation_id", conversationID,
		"human_agent_id", b.opts.HumanAgentID)
	b.record(conversationID, "escalated", "")
	return nil
}

// Deescalate returns the conversation to automation. reassignExternally
// also pushes the assignment to the platform; a failure there is non-fatal
// because the assignment may already be correct (a platform-UI reassignment
// is what commonly triggers this call). sendWelcome posts the fixed
// re-engagement message; its failure is non-fatal too. The local human flag
// is cleared regardless. A conversation not currently with a human is a
// no-op.
func (b *Broker) Deescalate(ctx context.Context, conversationID string, sendWelcome, reassignExternally bool) error {
	if b.opts.AutomationAgentID == "" {
		return ErrNoAutomationAgent
	}

	if b.store.Get(conversationID).State != ownership.WithHuman {
		b.logger.Debug("deescalate: already with automation",
			"conversation_id", conversationID)
		return nil
	}

	if reassignExternally {
		if err := b.api.SetConversationAssignee(ctx, conversationID, b.opts.AutomationAgentID, "open"); err != nil {
			b.logger.Warn("deescalation reassignment failed, continuing",
				"conversation_id", conversationID,
				"error", err)
		}
	}

	b.store.SetState(conversationID, ownership.WithAutomation)
	b.store.SetSessionHandle(conversationID, "")

	if sendWelcome {
		if err := b.api.PostMessage(ctx, conversationID, b.opts.WelcomeBackMessage, b.opts.AutomationAgentID); err != nil {
			b.logger.Warn("welcome-back message failed to send",
				"conversation_id", conversationID,
				"error", err)
		}
	}

	b.logger.Info("conversation returned to automation",
		"conversation_id", conversationID)
	b.record(conversationID, "deescalated", "")
	return nil
}

// AutoClaim assigns an unassigned conversation to the automation agent so
// the platform UI shows an active owner before the bot answers. Already
// assigned to automation: no-op. Assigned to anyone else: no-op, a human
// owner is never overridden. The claim is cosmetic, so read and write
// failures are logged and swallowed.
func (b *Broker) AutoClaim(ctx context.Context, conversationID string) {
	if b.opts.AutomationAgentID == "" {
		return
	}

	conv, err := b.api.GetConversation(ctx, conversationID)
	if err != nil {
		b.logger.Debug("auto-claim read failed, skipping",
			"conversation_id", conversationID,
			"error", err)
		return
	}

	if conv.AssigneeID != "" {
		return
	}

	if err := b.api.SetConversationAssignee(ctx, conversationID, b.opts.AutomationAgentID, "open"); err != nil {
		b.logger.Warn("auto-claim assignment failed",
			"conversation_id", conversationID,
			"error", err)
		return
	}

	b.logger.Debug("conversation auto-claimed by automation",
		"conversation_id", conversationID)
	b.record(conversationID, "auto_claimed", "")
}
