package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"sales-forecast/core/ingestion"
	"sales-forecast/core/models"
)

const maxNotificationBody = 1 << 20

// NotificationHandler receives document-analysis completion messages
// delivered by SNS over HTTP
type NotificationHandler struct {
	collector *ingestion.Collector
	verifier  *ingestion.SNSVerifier
	client    *http.Client
}

// NewNotificationHandler creates a new notification handler. The client is
// used to confirm subscriptions; nil means http.DefaultClient.
func NewNotificationHandler(collector *ingestion.Collector, verifier *ingestion.SNSVerifier, client *http.Client) *NotificationHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &NotificationHandler{collector: collector, verifier: verifier, client: client}
}

// Textract handles POST /api/v1/forecast/notifications/textract
func (h *NotificationHandler) Textract(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
	if err != nil {
		badRequest(w, "Unreadable request body")
		return
	}

	env, err := ingestion.ParseEnvelope(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.verifier.Verify(r.Context(), env); err != nil {
		log.Printf("Rejected SNS message %s from %q: %v", env.MessageID, env.TopicArn, err)
		writeError(w, r, err)
		return
	}

	switch env.Type {
	case ingestion.SNSSubscriptionConfirmation:
		if err := h.confirm(r.Context(), env.SubscribeURL); err != nil {
			writeError(w, r, err)
			return
		}
		log.Printf("Confirmed SNS subscription to %s", env.TopicArn)
		writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
		return
	case ingestion.SNSUnsubscribeConfirmation:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	n, err := ingestion.ParseNotification(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcome, err := h.collector.OnNotification(r.Context(), n)
	if errors.Is(err, models.ErrIngestionFailed) {
		// Answering 2xx keeps SNS from redelivering.
		log.Printf("Dropping notification for analysis job %s: %v", n.JobID, err)
		writeJSON(w, http.StatusOK, ingestion.DroppedOutcome(err))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *NotificationHandler) confirm(ctx context.Context, subscribeURL string) error {
	const op = "notifications.confirm"

	if err := h.verifier.CheckURL(subscribeURL); err != nil {
		return models.Forbidden(op, err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return models.InvalidArgument(op, err.Error())
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return models.ExternalServiceError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.ExternalServiceError(op, fmt.Errorf("subscription confirmation returned %s", resp.Status))
	}
	return nil
}
