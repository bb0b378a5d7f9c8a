// ABOUTME: Broker wires the ownership store, platform API, and assistant together
// ABOUTME: Holds the collaborator interfaces and configuration the core logic runs on

package broker

import (
	"context"
	"log/slog"

	"github.com/relaymesh/deskbridge/internal/assistant"
	"github.com/relaymesh/deskbridge/internal/ownership"
	"github.com/relaymesh/deskbridge/internal/platform"
)

// ConversationAPI is what the broker needs from the chat platform. The
// platform is the source of truth for conversation assignment; errors and
// timeouts are treated uniformly as "could not confirm/mutate".
type ConversationAPI interface {
	GetConversation(ctx context.Context, conversationID string) (platform.Conversation, error)
	SetConversationAssignee(ctx context.Context, conversationID, agentID, status string) error
	PostMessage(ctx context.Context, conversationID, text, senderAgentID string) error
}

// Responder is what the broker needs from the generative-response backend.
type Responder interface {
	Respond(ctx context.Context, sessionHandle, userText string) (assistant.Reply, error)
}

// ActivityRecorder receives a trail of classified events and transition
// outcomes. Recording is best-effort; implementations must not block the
// caller on failure.
type ActivityRecorder interface {
	Record(conversationID, kind, detail string)
}

// Options holds the broker's configuration data: agent identities, phrase
// lists, and canned messages. Phrase lists and messages are data, not code;
// deployments vary them without touching the routing logic.
type Options struct {
	AutomationAgentID string
	HumanAgentID      string

	EscalationPhrases []string
	ResolutionPhrases []string

	WelcomeBackMessage string
	MediaAckMessage    string
}

// Broker implements the conversation-ownership state machine: it reconciles
// local ownership against the platform, applies transitions, and routes
// classified webhook events.
type Broker struct {
	api       ConversationAPI
	responder Responder
	store     *ownership.Store
	opts      Options

	escalation *detector
	resolution *detector

	recorder ActivityRecorder
	logger   *slog.Logger
}

// New creates a broker. recorder may be nil to disable activity recording.
func New(api ConversationAPI, responder Responder, store *ownership.Store, opts Options, recorder ActivityRecorder, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		api:        api,
		responder:  responder,
		store:      store,
		opts:       opts,
		escalation: newDetector(opts.EscalationPhrases),
		resolution: newDetector(opts.ResolutionPhrases),
		recorder:   recorder,
		logger:     logger.With("component", "broker"),
	}
}

// Store exposes the ownership store for the debug surface.
func (b *Broker) Store() *ownership.Store {
	return b.store
}

// record appends to the activity trail if a recorder is configured.
func (b *Broker) record(conversationID, kind, detail string) {
	if b.recorder != nil {
		b.recorder.Record(conversationID, kind, detail)
	}
}
