// ABOUTME: Tests for webhook event routing and the respond pipeline
// ABOUTME: Covers the end-to-end scenarios, failure fallbacks, and per-conversation serialization

package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/deskbridge/internal/assistant"
	"github.com/relaymesh/deskbridge/internal/classify"
	"github.com/relaymesh/deskbridge/internal/ownership"
)

func userMessage(conversationID, text string) classify.Event {
	return classify.Event{
		Action:         classify.ActionMessageCreate,
		Actor:          classify.ActorEndUser,
		ConversationID: conversationID,
		Text:           text,
	}
}

func agentMessage(conversationID, agentID, text string) classify.Event {
	return classify.Event{
		Action:         classify.ActionMessageCreate,
		Actor:          classify.ActorAgent,
		ConversationID: conversationID,
		ActorAgentID:   agentID,
		Text:           text,
	}
}

// Scenario: fresh conversation, end-user says hello. Automation owns it,
// auto-claims, and the generated reply goes out.
func TestDispatch_FreshConversationResponds(t *testing.T) {
	b, api, responder := newTestBroker(t, nil)
	responder.replyText = "Hi! How can I help?"

	b.Dispatch(context.Background(), userMessage("c1", "Hello"))

	assert.Equal(t, ownership.WithAutomation, b.Store().Get("c1").State)
	assert.Equal(t, automationID, api.assignee("c1"), "auto-claim assigns the bot")

	msgs := api.sentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi! How can I help?", msgs[0].Text)

	// Session handle stored for the next turn
	assert.Equal(t, "sess-1", b.Store().Get("c1").SessionHandle)
	assert.Len(t, api.assignments(), 1, "only the auto-claim, no escalation")
}

func TestDispatch_SecondTurnReusesSessionHandle(t *testing.T) {
	b, _, responder := newTestBroker(t, nil)

	b.Dispatch(context.Background(), userMessage("c1", "Hello"))
	b.Dispatch(context.Background(), userMessage("c1", "More details"))

	require.Equal(t, 2, responder.callCount())
	assert.Empty(t, responder.call(0).Handle)
	assert.Equal(t, "sess-1", responder.call(1).Handle)
}

// Scenario: the generated reply asks for a human. Exactly one escalation
// follows the send.
func TestDispatch_ReplyTriggersEscalation(t *testing.T) {
	b, api, responder := newTestBroker(t, nil)
	responder.replyText = "I'll connect you to our Human Representative right away."

	b.Dispatch(context.Background(), userMessage("c1", "I want to complain"))

	rec := b.Store().Get("c1")
	assert.Equal(t, ownership.WithHuman, rec.State)
	assert.Empty(t, rec.SessionHandle)
	assert.Equal(t, humanID, api.assignee("c1"))

	// The reply itself was still sent before the hand-off
	msgs := api.sentMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "Human Representative")
}

// Scenario: while escalated, the human agent signals hand-back. The bot
// reassigns itself and greets.
func TestDispatch_ResolutionMessageDeescalates(t *testing.T) {
	b, api, _ := newTestBroker(t, nil)
	b.Store().SetState("c1", ownership.WithHuman)
	api.setAssignee("c1", humanID)

	b.Dispatch(context.Background(), agentMessage("c1", humanID, "Thanks all, closing this conversation."))

	assert.Equal(t, ownership.WithAutomation, b.Store().Get("c1").State)
	assert.Equal(t, automationID, api.assignee("c1"))

	msgs := api.sentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, b.opts.WelcomeBackMessage, msgs[0].Text)
}

func TestDispatch_AgentSmallTalkDoesNotDeescalate(t *testing.T) {
	b, api, _ := newTestBroker(t, nil)
	b.Store().SetState("c1", ownership.WithHuman)
	api.setAssignee("c1", humanID)

	b.Dispatch(context.Background(), agentMessage("c1", humanID, "Could you share a screenshot?"))

	assert.Equal(t, ownership.WithHuman, b.Store().Get("c1").State)
	assert.Empty(t, api.sentMessages())
}

func TestDispatch_OwnEchoIgnored(t *testing.T) {
	b, api, _ := newTestBroker(t, nil)
	b.Store().SetState("c1", ownership.WithHuman)

	// The bot's own outbound message echoes back with the resolution phrase
	b.Dispatch(context.Background(), agentMessage("c1", automationID, "closing this conversation"))

	assert.Equal(t, ownership.WithHuman, b.Store().Get("c1").State)
	assert.Empty(t, api.sentMessages())
}

func TestDispatch_ResolutionOnlyWhileWithHuman(t *testing.T) {
	b, api, _ := newTestBroker(t, nil)

	b.Dispatch(context.Background(), agentMessage("c1", humanID, "closing this conversation"))

	// Not escalated, so the resolution phrase does nothing
	assert.Empty(t, api.sentMessages())
	assert.Empty(t, api.assignments())
}

// Scenario: media-only message. Fixed acknowledgement, no generative call.
func TestDispatch_MediaOnlyMessage(t *testing.T) {
	b, api, responder := newTestBroker(t, nil)

	evt := classify.Event{
		Action:         classify.ActionMessageCreate,
		Actor:          classify.ActorEndUser,
		ConversationID: "c1",
		MediaKinds:     []string{"image"},
	}
	b.Dispatch(context.Background(), evt)

	assert.Zero(t, responder.callCount(), "no generative call for media-only messages")
	msgs := api.sentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, b.opts.MediaAckMessage, msgs[0].Text)
	assert.Equal(t, automationID, api.assignee("c1"), "media path still auto-claims")
}

func TestDispatch_MediaOnlyDroppedWhenWithHuman(t *testing.T) {
	b, api, _ := newTestBroker(t, nil)
	api.setAssignee("c1", humanID)

	evt := classify.Event{
		Action:         classify.ActionMessageCreate,
		Actor:          classify.ActorEndUser,
		ConversationID: "c1",
		MediaKinds:     []string{"file"},
	}
	b.Dispatch(context.Background(), evt)

	assert.Empty(t, api.sentMessages())
}

func TestDispatch_UserMessageDroppedWhenWithHuman(t *testing.T) {
	b, api, responder := newTestBroker(t, nil)
	api.setAssignee("c1", humanID)

	b.Dispatch(context.Background(), userMessage("c1", "are you there?"))

	assert.Zero(t, responder.callCount())
	assert.Empty(t, api.sentMessages())
}

// Scenario: reconciliation read fails. Fail-open means the respond
// pipeline proceeds as if automation owns the conversation. This is
// deliberate availability-over-consistency behavior.
func TestDispatch_ReconcileFailureFailsOpen(t *testing.T) {
	b, api, responder := newTestBroker(t, nil)
	api.getErr = errors.New("control plane down")

	b.Dispatch(context.Background(), userMessage("c1", "Hello"))

	assert.Equal(t, 1, responder.callCount(), "generative call attempted despite read failure")
	assert.Len(t, api.sentMessages(), 1)
}

// Reopen property: human resolved the conversation, the assignee was
// cleared, and the user comes back. Automation answers again.
func TestDispatch_ReopenRespondsAgain(t *testing.T) {
	b, api, responder := newTestBroker(t, nil)
	b.Store().SetState("c1", ownership.WithHuman)
	b.Store().SetSessionHandle("c1", "sess-stale")
	// assignee already cleared on the platform

	b.Dispatch(context.Background(), userMessage("c1", "Hi, one more thing"))

	require.Equal(t, 1, responder.callCount())
	assert.Empty(t, responder.call(0).Handle, "stale session handle must not be reused")
	assert.Len(t, api.sentMessages(), 1)
	assert.Equal(t, ownership.WithAutomation, b.Store().Get("c1").State)
}

func TestDispatch_GenerationFailureEscalatesSilently(t *testing.T) {
	b, api, responder := newTestBroker(t, nil)
	responder.err = assistant.ErrGenerationTimeout

	b.Dispatch(context.Background(), userMessage("c1", "Hello"))

	// No user-visible failure text, just the hand-off
	assert.Empty(t, api.sentMessages())
	assert.Equal(t, ownership.WithHuman, b.Store().Get("c1").State)
	assert.Equal(t, humanID, api.assignee("c1"))
}

func TestDispatch_GenerationFailureNoHumanStaysSilent(t *testing.T) {
	b, api, responder := newTestBroker(t, func(o *Options) { o.HumanAgentID = "" })
	responder.err = assistant.ErrGenerationFailed

	b.Dispatch(context.Background(), userMessage("c1", "Hello"))

	assert.Empty(t, api.sentMessages())
	// Nothing to escalate to; the conversation stays with automation
	assert.Equal(t, ownership.WithAutomation, b.Store().Get("c1").State)
}

func TestDispatch_SendFailureEscalates(t *testing.T) {
	b, api, _ := newTestBroker(t, nil)
	api.postErr = errors.New("boom")

	b.Dispatch(context.Background(), userMessage("c1", "Hello"))

	assert.Equal(t, ownership.WithHuman, b.Store().Get("c1").State)
}

func TestDispatch_AssignmentChangeToHuman(t *testing.T) {
	b, _, _ := newTestBroker(t, nil)
	b.Store().SetSessionHandle("c1", "sess-1")

	b.Dispatch(context.Background(), classify.Event{
		Action:         classify.ActionAssignmentChange,
		ConversationID: "c1",
		NewAssigneeID:  "99",
	})

	rec := b.Store().Get("c1")
	assert.Equal(t, ownership.WithHuman, rec.State)
	assert.Empty(t, rec.SessionHandle)
}

func TestDispatch_AssignmentChangeBackToAutomation(t *testing.T) {
	b, api, _ := newTestBroker(t, nil)
	b.Store().SetState("c1", ownership.WithHuman)

	b.Dispatch(context.Background(), classify.Event{
		Action:         classify.ActionAssignmentChange,
		ConversationID: "c1",
		NewAssigneeID:  automationID,
		OldAssigneeID:  humanID,
	})

	assert.Equal(t, ownership.WithAutomation, b.Store().Get("c1").State)
	// Already reassigned externally: welcome only, no assignment write
	assert.Empty(t, api.assignments())
	msgs := api.sentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, b.opts.WelcomeBackMessage, msgs[0].Text)
}

func TestDispatch_UnclassifiedIgnored(t *testing.T) {
	b, api, responder := newTestBroker(t, nil)

	b.Dispatch(context.Background(), classify.Event{
		Action:         classify.ActionUnclassified,
		ConversationID: "c1",
	})

	assert.Zero(t, responder.callCount())
	assert.Empty(t, api.sentMessages())
	assert.False(t, b.Store().Contains("c1"))
}

func TestDispatch_MissingConversationIDDropped(t *testing.T) {
	b, api, responder := newTestBroker(t, nil)

	b.Dispatch(context.Background(), userMessage("", "Hello"))

	assert.Zero(t, responder.callCount())
	assert.Empty(t, api.sentMessages())
}

// Concurrency property: two simultaneous respond pipelines for the same
// conversation are serialized; the second observes the first's session
// handle instead of starting a parallel session.
func TestDispatch_ConcurrentRespondsSerialized(t *testing.T) {
	b, api, responder := newTestBroker(t, nil)

	var mu sync.Mutex
	handleCounter := 0
	responder.respondFn = func(sessionHandle, userText string) (assistant.Reply, error) {
		time.Sleep(10 * time.Millisecond) // hold the conversation lock across the suspension point
		mu.Lock()
		defer mu.Unlock()
		if sessionHandle != "" {
			return assistant.Reply{Text: "again", SessionHandle: sessionHandle}, nil
		}
		handleCounter++
		return assistant.Reply{Text: "first", SessionHandle: "sess-1"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Dispatch(context.Background(), userMessage("c1", "Hello"))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, handleCounter, "only one invocation may start a fresh session")
	assert.Equal(t, "sess-1", b.Store().Get("c1").SessionHandle)
	assert.Len(t, api.sentMessages(), 2)
}
