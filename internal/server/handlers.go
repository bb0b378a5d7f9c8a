// ABOUTME: Handlers for the webhook, health, and debug endpoints
// ABOUTME: Webhook deliveries are acked immediately and processed on detached goroutines

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/relaymesh/deskbridge/internal/classify"
	"github.com/relaymesh/deskbridge/internal/dedupe"
)

// maxWebhookBody caps how much of a delivery is read. Platform payloads
// are small; anything bigger is not a webhook.
const maxWebhookBody = 1 << 20

// handleWebhook accepts one delivery. The response is always the same
// fixed acknowledgment: slow or failing processing must never make the
// platform retry, that is what redelivery dedup is for.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Work-unit id correlating all log lines for this delivery.
	logger := s.logger.With("delivery_id", uuid.New().String())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		logger.Warn("failed to read webhook body", "error", err)
		s.ack(w)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Warn("webhook body is not valid JSON", "error", err)
		s.ack(w)
		return
	}

	fingerprint := dedupe.Fingerprint(body, payload)
	if s.deduper != nil && s.deduper.Seen(fingerprint) {
		logger.Debug("dropping duplicate delivery", "fingerprint", fingerprint)
		s.ack(w)
		return
	}

	evt := classify.Classify(payload)
	logger.Debug("webhook classified",
		"action", string(evt.Action),
		"actor", string(evt.Actor),
		"conversation_id", evt.ConversationID)

	if !s.draining.Load() {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
			defer cancel()
			s.broker.Dispatch(ctx, evt)
		}()
	}

	s.ack(w)
}

func (s *Server) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports 503 once shutdown has started so load balancers
// stop routing deliveries here.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// conversationView is the JSON shape for one tracked conversation.
type conversationView struct {
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`
	HasSession     bool   `json:"has_session"`
}

func (s *Server) handleDebugConversations(w http.ResponseWriter, r *http.Request) {
	snapshot := s.broker.Store().Snapshot()

	views := make([]conversationView, 0, len(snapshot))
	for _, rec := range snapshot {
		views = append(views, conversationView{
			ConversationID: rec.ConversationID,
			State:          string(rec.State),
			HasSession:     rec.SessionHandle != "",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"conversations": views}); err != nil {
		s.logger.Error("failed to encode conversations response", "error", err)
	}
}

func (s *Server) handleDebugActivity(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "activity ledger disabled", http.StatusNotFound)
		return
	}

	var (
		entries any
		err     error
	)
	if conversationID := r.URL.Query().Get("conversation_id"); conversationID != "" {
		entries, err = s.ledger.ForConversation(r.Context(), conversationID)
	} else {
		// Recent falls back to its default on a missing or unparseable limit.
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err = s.ledger.Recent(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("failed to query activity ledger", "error", err)
		http.Error(w, "ledger query failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"activity": entries}); err != nil {
		s.logger.Error("failed to encode activity response", "error", err)
	}
}
