// ABOUTME: Shared fakes for broker tests
// ABOUTME: In-memory platform API and scripted responder with failure injection

package broker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/relaymesh/deskbridge/internal/assistant"
	"github.com/relaymesh/deskbridge/internal/config"
	"github.com/relaymesh/deskbridge/internal/ownership"
	"github.com/relaymesh/deskbridge/internal/platform"
)

const (
	automationID = "7"
	humanID      = "12"
)

type sentMessage struct {
	ConversationID string
	Text           string
	SenderID       string
}

type assignment struct {
	ConversationID string
	AgentID        string
	Status         string
}

// fakePlatform is an in-memory stand-in for the chat platform's
// conversation API. Zero-value conversations are unassigned.
type fakePlatform struct {
	mu        sync.Mutex
	assignees map[string]string
	messages  []sentMessage
	assigns   []assignment

	getErr    error
	assignErr error
	postErr   error

	getCalls int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{assignees: make(map[string]string)}
}

func (f *fakePlatform) GetConversation(_ context.Context, conversationID string) (platform.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return platform.Conversation{}, f.getErr
	}
	return platform.Conversation{
		ID:         conversationID,
		AssigneeID: f.assignees[conversationID],
		Status:     "open",
	}, nil
}

func (f *fakePlatform) SetConversationAssignee(_ context.Context, conversationID, agentID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignErr != nil {
		return f.assignErr
	}
	f.assignees[conversationID] = agentID
	f.assigns = append(f.assigns, assignment{conversationID, agentID, status})
	return nil
}

func (f *fakePlatform) PostMessage(_ context.Context, conversationID, text, senderAgentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.messages = append(f.messages, sentMessage{conversationID, text, senderAgentID})
	return nil
}

func (f *fakePlatform) setAssignee(conversationID, agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignees[conversationID] = agentID
}

func (f *fakePlatform) assignee(conversationID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignees[conversationID]
}

func (f *fakePlatform) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.messages...)
}

func (f *fakePlatform) assignments() []assignment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]assignment(nil), f.assigns...)
}

type respondCall struct {
	Handle string
	Text   string
}

// fakeResponder returns a scripted reply, recording the calls it receives.
// respondFn, when set, overrides the scripted behavior entirely.
type fakeResponder struct {
	mu        sync.Mutex
	replyText string
	handle    string
	err       error
	calls     []respondCall

	respondFn func(sessionHandle, userText string) (assistant.Reply, error)
}

func (f *fakeResponder) Respond(_ context.Context, sessionHandle, userText string) (assistant.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, respondCall{sessionHandle, userText})
	fn := f.respondFn
	reply := assistant.Reply{Text: f.replyText, SessionHandle: f.handle}
	err := f.err
	f.mu.Unlock()

	if fn != nil {
		return fn(sessionHandle, userText)
	}
	return reply, err
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeResponder) call(i int) respondCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		AutomationAgentID:  automationID,
		HumanAgentID:       humanID,
		EscalationPhrases:  config.DefaultEscalationPhrases,
		ResolutionPhrases:  config.DefaultResolutionPhrases,
		WelcomeBackMessage: config.DefaultWelcomeBack,
		MediaAckMessage:    config.DefaultMediaAck,
	}
}

// newTestBroker wires a broker over fresh fakes. mutate may adjust the
// options before construction.
func newTestBroker(t *testing.T, mutate func(*Options)) (*Broker, *fakePlatform, *fakeResponder) {
	t.Helper()

	api := newFakePlatform()
	responder := &fakeResponder{replyText: "Happy to help!", handle: "sess-1"}
	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	b := New(api, responder, ownership.NewStore(), opts, nil, testLogger())
	return b, api, responder
}
