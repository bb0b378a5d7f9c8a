// ABOUTME: Routes classified webhook events to reconciliation, transitions, and the respond pipeline
// ABOUTME: Each dispatch runs under the conversation's work lock; failures never reach the webhook caller

package broker

import (
	"context"

	"github.com/relaymesh/deskbridge/internal/classify"
	"github.com/relaymesh/deskbridge/internal/ownership"
	"github.com/relaymesh/deskbridge/internal/replyfmt"
)

// Dispatch routes one canonical event. It is called after the webhook has
// already been acknowledged; nothing here surfaces an error to the caller.
// All ownership reads and writes for the event's conversation run inside
// the store's per-conversation work lock, so concurrent deliveries for the
// same conversation are applied one at a time.
func (b *Broker) Dispatch(ctx context.Context, evt classify.Event) {
	if evt.Action == classify.ActionUnclassified {
		b.logger.Debug("ignoring unclassified webhook",
			"conversation_id", evt.ConversationID)
		return
	}
	if evt.ConversationID == "" {
		b.logger.Debug("dropping event without conversation id",
			"action", string(evt.Action))
		return
	}

	b.store.Do(evt.ConversationID, func() {
		switch evt.Action {
		case classify.ActionAssignmentChange:
			b.handleAssignmentChange(ctx, evt)
		case classify.ActionMessageCreate:
			switch evt.Actor {
			case classify.ActorAgent:
				b.handleAgentMessage(ctx, evt)
			case classify.ActorEndUser:
				b.handleUserMessage(ctx, evt)
			default:
				b.logger.Debug("ignoring message with unknown actor",
					"conversation_id", evt.ConversationID)
			}
		}
	})
}

// handleAssignmentChange resyncs local ownership with an assignment the
// platform already applied.
func (b *Broker) handleAssignmentChange(ctx context.Context, evt classify.Event) {
	b.record(evt.ConversationID, "assignment_change", "new assignee "+evt.NewAssigneeID)

	switch {
	case evt.NewAssigneeID != "" && evt.NewAssigneeID == b.opts.AutomationAgentID:
		// Reassigned to the bot externally; just resync local state and
		// greet. No external write, the assignment already happened.
		if err := b.Deescalate(ctx, evt.ConversationID, true, false); err != nil {
			b.logger.Error("deescalation on assignment change failed",
				"conversation_id", evt.ConversationID,
				"error", err)
		}

	case evt.NewAssigneeID != "":
		rec := b.store.Get(evt.ConversationID)
		if rec.State != ownership.WithHuman {
			b.logger.Info("conversation handed to human via assignment",
				"conversation_id", evt.ConversationID,
				"assignee_id", evt.NewAssigneeID)
			b.store.SetState(evt.ConversationID, ownership.WithHuman)
			b.store.SetSessionHandle(evt.ConversationID, "")
		}
	}
}

// handleAgentMessage watches human-agent messages for the hand-back signal.
func (b *Broker) handleAgentMessage(ctx context.Context, evt classify.Event) {
	if evt.ActorAgentID != "" && evt.ActorAgentID == b.opts.AutomationAgentID {
		return // our own outbound messages echo back as agent messages
	}
	if evt.Text == "" {
		return
	}
	if b.store.Get(evt.ConversationID).State != ownership.WithHuman {
		return
	}
	if !b.IsResolutionMessage(evt.Text) {
		return
	}

	b.logger.Info("resolution phrase detected in agent message",
		"conversation_id", evt.ConversationID,
		"agent_id", evt.ActorAgentID)
	if err := b.Deescalate(ctx, evt.ConversationID, true, true); err != nil {
		b.logger.Error("deescalation on resolution message failed",
			"conversation_id", evt.ConversationID,
			"error", err)
	}
}

// handleUserMessage runs the respond pipeline for an end-user message.
func (b *Broker) handleUserMessage(ctx context.Context, evt classify.Event) {
	hasText := evt.Text != ""
	if !hasText && len(evt.MediaKinds) == 0 {
		return
	}

	if state := b.Reconcile(ctx, evt.ConversationID); state == ownership.WithHuman {
		b.logger.Debug("conversation with human, dropping user message",
			"conversation_id", evt.ConversationID)
		b.record(evt.ConversationID, "dropped_with_human", "")
		return
	}

	b.AutoClaim(ctx, evt.ConversationID)

	if !hasText {
		// Media-only message: acknowledge without a generative call.
		if err := b.api.PostMessage(ctx, evt.ConversationID, b.opts.MediaAckMessage, b.opts.AutomationAgentID); err != nil {
			b.logger.Error("media acknowledgement failed to send",
				"conversation_id", evt.ConversationID,
				"error", err)
			return
		}
		b.record(evt.ConversationID, "media_ack", "")
		return
	}

	b.respond(ctx, evt)
}

// respond forwards the user's text to the generative backend, stores the
// returned session handle, and sends the cleaned reply. A generation or
// send failure stays silent toward the end-user: no apology text, just a
// hand-off to a human if one is configured.
func (b *Broker) respond(ctx context.Context, evt classify.Event) {
	rec := b.store.Get(evt.ConversationID)

	reply, err := b.responder.Respond(ctx, rec.SessionHandle, evt.Text)
	if err != nil {
		b.logger.Error("generative response failed",
			"conversation_id", evt.ConversationID,
			"error", err)
		b.record(evt.ConversationID, "respond_failed", err.Error())
		b.safetyEscalate(ctx, evt.ConversationID)
		return
	}

	b.store.SetSessionHandle(evt.ConversationID, reply.SessionHandle)

	display := replyfmt.Clean(reply.Text)
	if err := b.api.PostMessage(ctx, evt.ConversationID, display, b.opts.AutomationAgentID); err != nil {
		b.logger.Error("reply send failed",
			"conversation_id", evt.ConversationID,
			"error", err)
		b.record(evt.ConversationID, "respond_failed", err.Error())
		b.safetyEscalate(ctx, evt.ConversationID)
		return
	}
	b.record(evt.ConversationID, "respond_sent", "")

	if b.NeedsEscalation(reply.Text) {
		b.logger.Info("escalation phrase detected in generated reply",
			"conversation_id", evt.ConversationID)
		if err := b.Escalate(ctx, evt.ConversationID); err != nil {
			b.logger.Error("keyword escalation failed",
				"conversation_id", evt.ConversationID,
				"error", err)
		}
	}
}

// safetyEscalate hands a conversation to a human after the automation path
// broke. With no human agent configured the conversation stays silent.
func (b *Broker) safetyEscalate(ctx context.Context, conversationID string) {
	if b.opts.HumanAgentID == "" {
		b.logger.Warn("respond pipeline failed and no human agent configured, staying silent",
			"conversation_id", conversationID)
		return
	}
	if err := b.Escalate(ctx, conversationID); err != nil {
		b.logger.Error("fallback escalation failed",
			"conversation_id", conversationID,
			"error", err)
	}
}
