// ABOUTME: Keyword heuristics over reply and agent text
// ABOUTME: Lowercase substring containment against configured phrase lists, nothing more

package broker

import "strings"

// detector matches text against a fixed phrase list, case-insensitively.
// Matching is deliberately plain substring containment; the phrase lists
// carry all the intent there is.
type detector struct {
	phrases []string
}

func newDetector(phrases []string) *detector {
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			lowered = append(lowered, p)
		}
	}
	return &detector{phrases: lowered}
}

func (d *detector) matches(text string) bool {
	if text == "" {
		return false
	}
	lowered := strings.ToLower(text)
	for _, p := range d.phrases {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}

// NeedsEscalation reports whether a generated reply asks for a human
// hand-off.
func (b *Broker) NeedsEscalation(replyText string) bool {
	return b.escalation.matches(replyText)
}

// IsResolutionMessage reports whether a human agent's message signals
// "give this conversation back to the bot".
func (b *Broker) IsResolutionMessage(agentText string) bool {
	return b.resolution.matches(agentText)
}
