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

package model

import (
	"strings"
	"time"
)

// Webhook event kinds emitted by the processing pipeline. EventSystemError
// carries operational errors rather than document lifecycle changes.
const (
	EventDocumentQueued    = "document.queued"
	EventDocumentCompleted = "document.completed"
	EventDocumentFailed    = "document.failed"
	EventSystemError       = "system.error"
)

// Subscription is a durable webhook registration owned by an identity.
// EventTypes is a comma-separated list of subscribed event kinds.
type Subscription struct {
	SubscriptionID  string    `json:"subscription_id"`
	URL             string    `json:"url"`
	OwnerID         string    `json:"owner_id"`
	EventTypes      string    `json:"event_types"`
	Active          bool      `json:"active"`
	FailureCount    int       `json:"failure_count"`
	CreatedAt       time.Time `json:"created_at"`
	LastTriggeredAt time.Time `json:"last_triggered_at,omitempty"`
}

// NewSubscription creates an active subscription with a fresh id.
func NewSubscription(url, ownerID string, eventTypes []string) *Subscription {
	return &Subscription{
		SubscriptionID: GenerateUUIDWithSuffix("whs"),
		URL:            url,
		OwnerID:        ownerID,
		EventTypes:     strings.Join(eventTypes, ","),
		Active:         true,
		CreatedAt:      time.Now(),
	}
}

// SubscribesTo reports whether the subscription covers the given event kind.
func (s *Subscription) SubscribesTo(eventType string) bool {
	for _, et := range strings.Split(s.EventTypes, ",") {
		if strings.TrimSpace(et) == eventType {
			return true
		}
	}
	return false
}

// RecordFailure increments the failure counter after a failed delivery.
func (s *Subscription) RecordFailure() {
	s.FailureCount++
}

// RecordSuccess resets the failure counter and stamps the trigger time.
func (s *Subscription) RecordSuccess() {
	s.FailureCount = 0
	s.LastTriggeredAt = time.Now()
}

// DeliveryAttempt is one row in the delivery outbox. Once its outcome is
// recorded the row is immutable; a retry creates a new row with the next
// attempt number instead of mutating this one. NextRetryAt is nil for
// terminal attempts and is cleared when a newer attempt supersedes this one.
type DeliveryAttempt struct {
	AttemptID      string     `json:"attempt_id"`
	SubscriptionID string     `json:"subscription_id"`
	EventType      string     `json:"event_type"`
	Payload        string     `json:"payload"`
	AttemptNumber  int        `json:"attempt_number"`
	HTTPStatusCode int        `json:"http_status_code,omitempty"`
	ResponseBody   string     `json:"response_body,omitempty"`
	Success        bool       `json:"success"`
	AttemptedAt    time.Time  `json:"attempted_at"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
}

// NewDeliveryAttempt creates the first attempt of a delivery chain.
func NewDeliveryAttempt(subscriptionID, eventType, payload string) *DeliveryAttempt {
	return &DeliveryAttempt{
		AttemptID:      GenerateUUIDWithSuffix("att"),
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		Payload:        payload,
		AttemptNumber:  1,
	}
}

// NextAttempt creates the follow-up row for a failed attempt, carrying the
// same subscription, event and payload with the attempt number advanced.
func (a *DeliveryAttempt) NextAttempt() *DeliveryAttempt {
	return &DeliveryAttempt{
		AttemptID:      GenerateUUIDWithSuffix("att"),
		SubscriptionID: a.SubscriptionID,
		EventType:      a.EventType,
		Payload:        a.Payload,
		AttemptNumber:  a.AttemptNumber + 1,
	}
}
