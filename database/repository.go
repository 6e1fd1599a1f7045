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

package database

import (
	"context"
	"time"

	"github.com/docpipehq/docpipe/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	document     // Interface for document-related operations
	subscription // Interface for webhook subscription operations
	attempt      // Interface for webhook delivery attempt operations
}

// document defines methods for handling documents.
type document interface {
	CreateDocument(ctx context.Context, doc *model.Document) (*model.Document, error)                  // Records a new document
	GetDocument(ctx context.Context, id string) (*model.Document, error)                               // Retrieves a document with its outcome history
	GetDocumentStatus(ctx context.Context, id string) (string, error)                                  // Retrieves only the status of a document
	UpdateDocumentStatus(ctx context.Context, id string, status string, errorMessage string) error     // Updates the status of a document
	RecordProcessingOutcome(ctx context.Context, documentID string, o *model.ProcessingOutcome) error  // Appends an outcome to a document's history
	GetAllDocuments(ctx context.Context, limit, offset int) ([]*model.Document, error)                 // Retrieves documents in a paginated manner
	GetDocumentsByStatus(ctx context.Context, status string, limit, offset int) ([]*model.Document, error) // Retrieves documents filtered by status
}

// subscription defines methods for handling webhook subscriptions.
type subscription interface {
	CreateSubscription(ctx context.Context, s *model.Subscription) (*model.Subscription, error)           // Creates a new subscription
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)                          // Retrieves a subscription by ID
	GetAllSubscriptions(ctx context.Context) ([]*model.Subscription, error)                               // Retrieves all subscriptions
	GetActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]*model.Subscription, error)  // Retrieves active subscriptions matching an event type
	UpdateSubscription(ctx context.Context, s *model.Subscription) error                                  // Updates a subscription
	DeleteSubscription(ctx context.Context, id string) error                                              // Deletes a subscription
}

// attempt defines methods for handling webhook delivery attempts.
type attempt interface {
	RecordDeliveryAttempt(ctx context.Context, a *model.DeliveryAttempt) error                                          // Records a delivery attempt
	UpdateDeliveryAttempt(ctx context.Context, a *model.DeliveryAttempt) error                                          // Updates a delivery attempt after execution
	GetDueDeliveryAttempts(ctx context.Context, asOf time.Time, limit int) ([]*model.DeliveryAttempt, error)            // Retrieves failed attempts due for retry
	MarkAttemptSuperseded(ctx context.Context, attemptID string) error                                                  // Clears the retry schedule of an attempt replaced by a newer one
	GetAttemptsForSubscription(ctx context.Context, subscriptionID string, limit, offset int) ([]*model.DeliveryAttempt, error) // Retrieves attempts for a subscription
	DeleteSuccessfulAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)                                // Removes old successful attempts
}
