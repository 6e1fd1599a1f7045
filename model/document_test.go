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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDocumentStartsReceived(t *testing.T) {
	doc := NewDocument("invoice.pdf", TypePDF)

	assert.NotEmpty(t, doc.DocumentID)
	assert.Contains(t, doc.DocumentID, "doc_")
	assert.Equal(t, StatusReceived, doc.Status)
	assert.WithinDuration(t, time.Now(), doc.CreatedAt, time.Second)
	assert.Empty(t, doc.History)
}

func TestDocumentHappyPath(t *testing.T) {
	doc := NewDocument("invoice.pdf", TypePDF)

	assert.NoError(t, doc.Enqueue())
	assert.Equal(t, StatusQueued, doc.Status)

	assert.NoError(t, doc.Begin())
	assert.Equal(t, StatusProcessing, doc.Status)

	outcome := NewProcessingOutcome(true)
	assert.NoError(t, doc.Complete(outcome))
	assert.Equal(t, StatusCompleted, doc.Status)
	assert.Len(t, doc.History, 1)
	assert.True(t, doc.IsTerminal())
}

func TestDocumentFailurePath(t *testing.T) {
	doc := NewDocument("scan.png", TypePNG)
	assert.NoError(t, doc.Enqueue())
	assert.NoError(t, doc.Begin())

	outcome := NewProcessingOutcome(false)
	outcome.ErrorMessage = "extraction failed: corrupt file"
	assert.NoError(t, doc.Complete(outcome))

	assert.Equal(t, StatusFailed, doc.Status)
	assert.Equal(t, "extraction failed: corrupt file", doc.ErrorMessage)
	assert.Len(t, doc.History, 1)
}

func TestDocumentIllegalTransitions(t *testing.T) {
	doc := NewDocument("invoice.pdf", TypePDF)

	// Cannot begin or complete before being queued.
	err := doc.Begin()
	assert.Error(t, err)
	var ist *InvalidStateTransition
	assert.ErrorAs(t, err, &ist)
	assert.Equal(t, StatusReceived, ist.From)
	assert.Equal(t, StatusProcessing, ist.To)

	assert.Error(t, doc.Complete(NewProcessingOutcome(true)))
	assert.Error(t, doc.Reprocess())

	// Double enqueue is rejected.
	assert.NoError(t, doc.Enqueue())
	assert.Error(t, doc.Enqueue())

	// A document in PROCESSING cannot be re-queued.
	assert.NoError(t, doc.Begin())
	assert.Error(t, doc.Enqueue())
	assert.Error(t, doc.Reprocess())
}

func TestDocumentReprocessFromTerminal(t *testing.T) {
	doc := NewDocument("invoice.pdf", TypePDF)
	assert.NoError(t, doc.Enqueue())
	assert.NoError(t, doc.Begin())

	failed := NewProcessingOutcome(false)
	failed.ErrorMessage = "classifier unavailable"
	assert.NoError(t, doc.Complete(failed))
	assert.Equal(t, StatusFailed, doc.Status)

	// Reprocess re-enters the queue, keeps history, clears the error.
	assert.NoError(t, doc.Reprocess())
	assert.Equal(t, StatusQueued, doc.Status)
	assert.Empty(t, doc.ErrorMessage)
	assert.Len(t, doc.History, 1)

	assert.NoError(t, doc.Begin())
	assert.NoError(t, doc.Complete(NewProcessingOutcome(true)))
	assert.Equal(t, StatusCompleted, doc.Status)
	assert.Len(t, doc.History, 2)
	assert.True(t, doc.LastOutcome().Success)
}

func TestSubscriptionEventMatching(t *testing.T) {
	sub := NewSubscription("https://example.com/hook", "user_1",
		[]string{EventDocumentCompleted, EventDocumentFailed})

	assert.True(t, sub.Active)
	assert.True(t, sub.SubscribesTo(EventDocumentCompleted))
	assert.True(t, sub.SubscribesTo(EventDocumentFailed))
	assert.False(t, sub.SubscribesTo(EventDocumentQueued))

	sub.RecordFailure()
	sub.RecordFailure()
	assert.Equal(t, 2, sub.FailureCount)

	sub.RecordSuccess()
	assert.Equal(t, 0, sub.FailureCount)
	assert.WithinDuration(t, time.Now(), sub.LastTriggeredAt, time.Second)
}

func TestDeliveryAttemptChain(t *testing.T) {
	first := NewDeliveryAttempt("whs_1", EventDocumentCompleted, `{"event":"document.completed"}`)
	assert.Equal(t, 1, first.AttemptNumber)
	assert.Contains(t, first.AttemptID, "att_")

	second := first.NextAttempt()
	assert.Equal(t, 2, second.AttemptNumber)
	assert.NotEqual(t, first.AttemptID, second.AttemptID)
	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, first.SubscriptionID, second.SubscriptionID)
}
