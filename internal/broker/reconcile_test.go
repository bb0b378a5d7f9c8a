// ABOUTME: Tests for ownership reconciliation against the platform's assignee
// ABOUTME: Covers human takeover, reopen, self-heal, fail-open, and steady state

package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/deskbridge/internal/ownership"
)

func TestReconcile_HumanAssigneeTakesOver(t *testing.T) {
	b, api, _ := newTestBroker(t, nil)
	api.setAssignee("c1", humanID)

	b.Store().SetSessionHandle("c1", "sess-old")

	state := b.Reconcile(context.Background(), "c1")

	assert.Equal(t, ownership.WithHuman, state)
	rec := b.Store().Get("c1")
	assert.Equal(t, ownership.WithHuman, rec.State)
	assert.Empty(t, rec.SessionHandle, "session handle must be cleared on hand-off")
}

func TestReconcile_AlreadyEscalatedIsNoop(t *testing.T) {
	b, api, _ := newTestBroker(t, nil)
	api.setAssignee("c1", humanID)
	b.Store().SetState("c1", ownership.WithHuman)

	state := b.Reconcile(context.Background(), "c1")

	assert.Equal(t, ownership.WithHuman, state)
}

func TestReconcile_ReopenClearsRecord(t *testing.T) {
	b, _, _ := newTestBroker(t, nil)

	// Human owned it locally, then the platform cleared the assignee
	b.Store().SetState("c1", ownership.WithHuman)
	b.Store().SetSessionHandle("c1", "sess-stale")

	state := b.Reconcile(context.Background(), "c1")

	assert.Equal(t, ownership.WithAutomation, state)
	assert.False(t, b.Store().Contains("c1"), "reopen clears the local record")
}

func TestReconcile_SelfHealWhenPlatformSaysAutomation(t *testing.T) {
	b, api, _ := newTestBroker(t, nil)
	api.setAssignee("c1", automationID)
	b.Store().SetState("c1", ownership.WithHuman)

	state := b.Reconcile(context.Background(), "c1")

	assert.Equal(t, ownership.WithAutomation, state)
	assert.Equal(t, ownership.WithAutomation, b.Store().Get("c1").State)
}

// Fail-open is deliberate product behavior: an unreachable control plane
// must not drop conversations. Do not "fix" this into fail-closed.
func TestReconcile_ReadFailureFailsOpen(t *testing.T) {
	b, api, _ := newTestBroker(t, nil)
	api.getErr = errors.New("connection refused")

	// Even a locally-escalated conversation fails open for this attempt
	b.Store().SetState("c1", ownership.WithHuman)

	state := b.Reconcile(context.Background(), "c1")

	assert.Equal(t, ownership.WithAutomation, state)
	// The local record is untouched; only this attempt proceeds open
	assert.Equal(t, ownership.WithHuman, b.Store().Get("c1").State)
}

func TestReconcile_SteadyState(t *testing.T) {
	b, api, _ := newTestBroker(t, nil)
	api.setAssignee("c1", automationID)

	state := b.Reconcile(context.Background(), "c1")

	assert.Equal(t, ownership.WithAutomation, state)
}

func TestReconcile_UnassignedFreshConversation(t *testing.T) {
	b, _, _ := newTestBroker(t, nil)

	// No assignee, no local record: default ownership applies
	state := b.Reconcile(context.Background(), "c1")

	assert.Equal(t, ownership.WithAutomation, state)
}
