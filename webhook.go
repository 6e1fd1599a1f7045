/*
Copyright 2025 Docpipe Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package docpipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docpipehq/docpipe/config"
	"github.com/docpipehq/docpipe/internal/notification"
	"github.com/docpipehq/docpipe/model"

	"github.com/hibiken/asynq"
)

// NewWebhook represents the structure of a webhook notification.
// It includes an event type and associated payload data.
type NewWebhook struct {
	Event   string      `json:"event"` // The event type that triggered the webhook.
	Payload interface{} `json:"data"`  // The data associated with the event.
}

// WebhookPayload is the body delivered to subscribers on document events.
type WebhookPayload struct {
	Event          string `json:"event"`
	DocumentID     string `json:"documentId"`
	Status         string `json:"status"`
	Classification string `json:"classification,omitempty"`
	ExtractedText  string `json:"extractedText,omitempty"`
	Confidence     int    `json:"confidence,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// getEventFromStatus maps a document status to a corresponding event string.
//
// Parameters:
// - status string: The status of the document.
//
// Returns:
// - string: The corresponding event string for the document status.
func getEventFromStatus(status string) string {
	switch strings.ToLower(status) {
	case strings.ToLower(model.StatusQueued):
		return model.EventDocumentQueued
	case strings.ToLower(model.StatusCompleted):
		return model.EventDocumentCompleted
	case strings.ToLower(model.StatusFailed):
		return model.EventDocumentFailed
	default:
		return "document.unknown"
	}
}

// buildWebhookPayload assembles the delivery body for a document's current
// state, folding in the latest outcome when one exists.
func buildWebhookPayload(doc *model.Document) WebhookPayload {
	payload := WebhookPayload{
		Event:      getEventFromStatus(doc.Status),
		DocumentID: doc.DocumentID,
		Status:     doc.Status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if outcome := doc.LastOutcome(); outcome != nil {
		if outcome.Classification != nil {
			payload.Classification = outcome.Classification.Label
			payload.Confidence = outcome.Classification.Confidence
		}
		if outcome.ExtractedContent != nil {
			payload.ExtractedText = outcome.ExtractedContent.FullText
		}
	}
	return payload
}

// TransientRegistration is a one-shot in-memory callback for a single
// document. It is consumed by the first matching event and never retried.
type TransientRegistration struct {
	URL          string
	RegisteredAt time.Time
}

// TransientRegistry holds single-use notification callbacks keyed by
// document ID. Registrations do not survive a restart.
type TransientRegistry struct {
	mu      sync.Mutex
	entries map[string][]TransientRegistration
}

// NewTransientRegistry creates an empty registry.
func NewTransientRegistry() *TransientRegistry {
	return &TransientRegistry{entries: map[string][]TransientRegistration{}}
}

// Register adds a one-shot callback URL for a document. Multiple callers may
// register for the same document.
func (r *TransientRegistry) Register(documentID, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[documentID] = append(r.entries[documentID], TransientRegistration{
		URL:          url,
		RegisteredAt: time.Now(),
	})
}

// Consume removes and returns all registrations for a document. The second
// call for the same document returns nothing.
func (r *TransientRegistry) Consume(documentID string) []TransientRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.entries[documentID]
	delete(r.entries, documentID)
	return regs
}

// Count returns how many documents currently have registrations.
func (r *TransientRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RegisterCallback adds a transient one-shot callback for a document.
func (d *Docpipe) RegisterCallback(documentID, url string) {
	d.registry.Register(documentID, url)
}

// notifyDocumentEvent fans a document event out to durable subscribers and
// transient registrations. Delivery work runs on the notification pool,
// which drops tasks under saturation rather than blocking the pipeline.
func (d *Docpipe) notifyDocumentEvent(ctx context.Context, doc *model.Document) {
	payload := buildWebhookPayload(doc)
	event := payload.Event

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		notification.NotifyError(err)
		return
	}

	subscribers, err := d.datasource.GetActiveSubscriptionsForEvent(ctx, event)
	if err != nil {
		notification.NotifyError(err)
		subscribers = nil
	}
	for _, sub := range subscribers {
		s := sub
		d.notifications.Submit(func() {
			if err := d.deliverToSubscription(context.Background(), s, event, string(payloadJSON)); err != nil {
				logrus.WithFields(logrus.Fields{
					"subscription_id": s.SubscriptionID,
					"event":           event,
				}).WithError(err).Warn("webhook delivery failed, scheduled for retry")
			}
		})
	}

	// Transient callbacks fire only on terminal events and are best effort.
	if event == model.EventDocumentCompleted || event == model.EventDocumentFailed {
		for _, reg := range d.registry.Consume(doc.DocumentID) {
			url := reg.URL
			d.notifications.Submit(func() {
				if _, _, err := postWebhook(context.Background(), url, payloadJSON, "", event); err != nil {
					logrus.WithField("url", url).WithError(err).Warn("transient callback delivery failed")
				}
			})
		}
	}
}

// deliverToSubscription records a first delivery attempt for a subscription
// and executes it.
func (d *Docpipe) deliverToSubscription(ctx context.Context, sub *model.Subscription, event, payload string) error {
	attempt := model.NewDeliveryAttempt(sub.SubscriptionID, event, payload)
	if err := d.datasource.RecordDeliveryAttempt(ctx, attempt); err != nil {
		return err
	}
	return d.executeAttempt(ctx, sub, attempt)
}

// executeAttempt performs the HTTP delivery for an attempt row and stores
// its outcome. Failed attempts below the retry cap get a next retry time of
// now + 2^attemptNumber * base delay; the sweeper picks them up later.
func (d *Docpipe) executeAttempt(ctx context.Context, sub *model.Subscription, attempt *model.DeliveryAttempt) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, time.Duration(conf.Webhook.DeliveryTimeoutSec)*time.Second)
	defer cancel()

	statusCode, body, deliveryErr := postWebhook(deliveryCtx, sub.URL, []byte(attempt.Payload), attempt.AttemptID, attempt.EventType)

	attempt.HTTPStatusCode = statusCode
	attempt.ResponseBody = body
	attempt.AttemptedAt = time.Now()
	attempt.Success = deliveryErr == nil && statusCode >= 200 && statusCode < 300

	if !attempt.Success && attempt.AttemptNumber < conf.Webhook.MaxAttempts {
		delay := time.Duration(1<<uint(attempt.AttemptNumber)) * time.Duration(conf.Webhook.BaseDelaySec) * time.Second
		next := time.Now().Add(delay)
		attempt.NextRetryAt = &next
	}

	if err := d.datasource.UpdateDeliveryAttempt(ctx, attempt); err != nil {
		notification.NotifyError(err)
	}

	if attempt.Success {
		sub.RecordSuccess()
	} else {
		sub.RecordFailure()
		if sub.FailureCount >= conf.Webhook.DisableThreshold {
			sub.Active = false
			logrus.WithFields(logrus.Fields{
				"subscription_id": sub.SubscriptionID,
				"failure_count":   sub.FailureCount,
			}).Warn("disabling webhook subscription after repeated failures")
		}
	}
	if err := d.datasource.UpdateSubscription(ctx, sub); err != nil {
		notification.NotifyError(err)
	}

	if !attempt.Success {
		if deliveryErr != nil {
			return deliveryErr
		}
		return fmt.Errorf("webhook delivery returned status %d", statusCode)
	}
	return nil
}

// postWebhook sends a signed-enough POST: every delivery carries the attempt
// id and timestamp headers so receivers can deduplicate.
func postWebhook(ctx context.Context, url string, payload []byte, attemptID, event string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Id", attemptID)
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Webhook-Event", event)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

// SendWebhook enqueues a webhook notification task on the queue-backed
// delivery path.
//
// Parameters:
// - newWebhook NewWebhook: The webhook notification data to enqueue.
//
// Returns:
// - error: An error if the task could not be enqueued.
func SendWebhook(newWebhook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: conf.Redis.Dns})
	payload, err := json.Marshal(newWebhook)
	if err != nil {
		log.Println(err)
		return err
	}
	taskOptions := []asynq.Option{asynq.Queue(conf.Queue.WebhookQueue)}
	task := asynq.NewTask(conf.Queue.WebhookQueue, payload, taskOptions...)
	info, err := client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return err
}

// ProcessWebhook processes a webhook notification task from the queue and
// fans it out to the matching durable subscriptions.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - task *asynq.Task: The task containing the webhook notification data.
//
// Returns:
// - error: An error if the webhook processing fails.
func (d *Docpipe) ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing webhook: %+v\n", payload.Event)

	payloadJSON, err := json.Marshal(payload.Payload)
	if err != nil {
		return err
	}

	subscribers, err := d.datasource.GetActiveSubscriptionsForEvent(ctx, payload.Event)
	if err != nil {
		return err
	}
	for _, sub := range subscribers {
		if err := d.deliverToSubscription(ctx, sub, payload.Event, string(payloadJSON)); err != nil {
			logrus.WithField("subscription_id", sub.SubscriptionID).WithError(err).Warn("queued webhook delivery failed")
		}
	}
	return nil
}

// CreateSubscription registers a durable webhook subscription.
func (d *Docpipe) CreateSubscription(ctx context.Context, url, ownerID string, eventTypes []string) (*model.Subscription, error) {
	sub := model.NewSubscription(url, ownerID, eventTypes)
	return d.datasource.CreateSubscription(ctx, sub)
}

// GetSubscription retrieves a durable webhook subscription by ID.
func (d *Docpipe) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	return d.datasource.GetSubscription(ctx, id)
}

// GetAllSubscriptions lists all durable webhook subscriptions.
func (d *Docpipe) GetAllSubscriptions(ctx context.Context) ([]*model.Subscription, error) {
	return d.datasource.GetAllSubscriptions(ctx)
}

// DeleteSubscription removes a durable webhook subscription.
func (d *Docpipe) DeleteSubscription(ctx context.Context, id string) error {
	return d.datasource.DeleteSubscription(ctx, id)
}

// GetDeliveryAttempts lists delivery attempts for a subscription, newest
// first.
func (d *Docpipe) GetDeliveryAttempts(ctx context.Context, subscriptionID string, limit, offset int) ([]*model.DeliveryAttempt, error) {
	return d.datasource.GetAttemptsForSubscription(ctx, subscriptionID, limit, offset)
}
