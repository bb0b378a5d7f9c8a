// ABOUTME: Normalizes heterogeneous webhook payload shapes into canonical events
// ABOUTME: Tolerates missing fields at any depth; absent values become empty strings

package classify

import (
	"strconv"
	"strings"
)

// ActionKind describes what a webhook delivery is about.
type ActionKind string

const (
	ActionMessageCreate    ActionKind = "message_create"
	ActionAssignmentChange ActionKind = "assignment_change"
	ActionUnclassified     ActionKind = "unclassified"
)

// ActorKind describes who authored a message event.
type ActorKind string

const (
	ActorEndUser ActorKind = "end_user"
	ActorAgent   ActorKind = "agent"
	ActorUnknown ActorKind = "unknown"
)

// Event is the canonical form of one webhook delivery. Exactly one is
// produced per delivery; fields not applicable to the action kind are left
// at their zero values.
type Event struct {
	Action         ActionKind
	Actor          ActorKind
	ConversationID string

	// MessageCreate fields
	Text         string
	MediaKinds   []string
	ActorAgentID string

	// AssignmentChange fields
	NewAssigneeID string
	OldAssigneeID string
}

// Action names the platform uses for message creation.
var messageActions = map[string]bool{
	"message_created": true,
	"message.created": true,
}

// Action names the platform uses for assignment changes. Some deployments
// omit the action name entirely and only ship assignment-shaped data, so
// classification also falls back to shape detection.
var assignmentActions = map[string]bool{
	"assignee_changed":              true,
	"conversation_assignee_changed": true,
	"conversation.assignee_changed": true,
}

// Classify converts a decoded webhook body into a canonical Event. It never
// fails: payloads that match no known shape come back as ActionUnclassified.
func Classify(payload map[string]any) Event {
	action := str(payload["event"])
	if action == "" {
		action = str(payload["action"])
	}

	switch {
	case assignmentActions[action]:
		return classifyAssignment(payload)
	case messageActions[action]:
		return classifyMessage(payload)
	case hasAssignmentShape(payload):
		// Action name missing or unknown, but the body carries assignment
		// data. Treat it as an assignment change.
		return classifyAssignment(payload)
	default:
		return Event{
			Action:         ActionUnclassified,
			Actor:          ActorUnknown,
			ConversationID: conversationID(payload),
		}
	}
}

func classifyMessage(payload map[string]any) Event {
	evt := Event{
		Action:         ActionMessageCreate,
		ConversationID: conversationID(payload),
	}

	evt.Text = strings.TrimSpace(str(payload["content"]))
	if evt.Text == "" {
		evt.Text = strings.TrimSpace(str(dig(payload, "message", "content")))
	}

	evt.MediaKinds = mediaKinds(payload)
	evt.Actor, evt.ActorAgentID = messageActor(payload)
	return evt
}

// messageActor resolves who sent a message. The platform labels the author
// either on sender.type ("contact" for end-users, "user" for agents) or,
// for API-originated events, only via message_type incoming/outgoing.
func messageActor(payload map[string]any) (ActorKind, string) {
	senderType := strings.ToLower(str(dig(payload, "sender", "type")))
	switch senderType {
	case "contact":
		return ActorEndUser, ""
	case "user", "agent", "agent_bot":
		return ActorAgent, id(dig(payload, "sender", "id"))
	}

	switch strings.ToLower(str(payload["message_type"])) {
	case "incoming":
		return ActorEndUser, ""
	case "outgoing":
		return ActorAgent, id(dig(payload, "sender", "id"))
	}

	return ActorUnknown, ""
}

func classifyAssignment(payload map[string]any) Event {
	evt := Event{
		Action:         ActionAssignmentChange,
		Actor:          ActorUnknown,
		ConversationID: conversationID(payload),
	}

	// Bulk change-log format: changed_attributes is a list of one-key maps,
	// each value an {previous_value, current_value} pair. Prefer it over the
	// plain fields when present, since it carries both sides of the change.
	if prev, cur, ok := changeLogAssignee(payload); ok {
		evt.OldAssigneeID = prev
		evt.NewAssigneeID = cur
	}

	if evt.NewAssigneeID == "" {
		for _, v := range []any{
			dig(payload, "meta", "assignee", "id"),
			dig(payload, "assignee", "id"),
			payload["assignee_id"],
		} {
			if s := id(v); s != "" {
				evt.NewAssigneeID = s
				break
			}
		}
	}
	if evt.OldAssigneeID == "" {
		evt.OldAssigneeID = id(dig(payload, "previous_assignee", "id"))
	}
	return evt
}

// changeLogAssignee extracts the assignee_id pair from the change-log shape.
// Returns ok when the shape is present, even if both values are null (an
// explicit unassignment is a real change).
func changeLogAssignee(payload map[string]any) (prev, cur string, ok bool) {
	changes, isSlice := payload["changed_attributes"].([]any)
	if !isSlice {
		return "", "", false
	}
	for _, c := range changes {
		entry, isMap := c.(map[string]any)
		if !isMap {
			continue
		}
		pair, hasKey := entry["assignee_id"].(map[string]any)
		if !hasKey {
			continue
		}
		return id(pair["previous_value"]), id(pair["current_value"]), true
	}
	return "", "", false
}

// hasAssignmentShape reports whether the payload carries assignment data
// regardless of its action name.
func hasAssignmentShape(payload map[string]any) bool {
	if _, _, ok := changeLogAssignee(payload); ok {
		return true
	}
	if id(dig(payload, "meta", "assignee", "id")) != "" {
		return true
	}
	if id(dig(payload, "assignee", "id")) != "" {
		return true
	}
	return false
}

// conversationID tries the known payload shapes in order and returns the
// first present value. The same semantic field lands at different paths
// depending on event origin (assignment UI vs API vs change log).
func conversationID(payload map[string]any) string {
	for _, v := range []any{
		dig(payload, "conversation", "id"),
		payload["conversation_id"],
		dig(payload, "message", "conversation_id"),
		payload["id"],
	} {
		if s := id(v); s != "" {
			return s
		}
	}
	return ""
}

// mediaKinds collects the attachment file types present on a message event.
func mediaKinds(payload map[string]any) []string {
	attachments, isSlice := payload["attachments"].([]any)
	if !isSlice {
		attachments, _ = dig(payload, "message", "attachments").([]any)
	}

	var kinds []string
	seen := map[string]bool{}
	for _, a := range attachments {
		attachment, isMap := a.(map[string]any)
		if !isMap {
			continue
		}
		kind := strings.ToLower(str(attachment["file_type"]))
		if kind == "" {
			kind = strings.ToLower(str(attachment["type"]))
		}
		if kind != "" && !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// dig walks nested maps along the given keys, returning nil as soon as a
// level is absent or not a map.
func dig(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		node, isMap := cur.(map[string]any)
		if !isMap {
			return nil
		}
		cur = node[k]
	}
	return cur
}

// str returns v as a string if it is one, else "".
func str(v any) string {
	s, _ := v.(string)
	return s
}

// id normalizes an identifier that may arrive as a JSON string or number.
// JSON numbers decode as float64; platform ids are integral.
func id(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
