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
package mocks

import (
	"context"
	"time"

	"github.com/docpipehq/docpipe/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Document methods

func (m *MockDataSource) CreateDocument(ctx context.Context, doc *model.Document) (*model.Document, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDataSource) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDataSource) GetDocumentStatus(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockDataSource) UpdateDocumentStatus(ctx context.Context, id string, status string, errorMessage string) error {
	args := m.Called(ctx, id, status, errorMessage)
	return args.Error(0)
}

func (m *MockDataSource) RecordProcessingOutcome(ctx context.Context, documentID string, o *model.ProcessingOutcome) error {
	args := m.Called(ctx, documentID, o)
	return args.Error(0)
}

func (m *MockDataSource) GetAllDocuments(ctx context.Context, limit, offset int) ([]*model.Document, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*model.Document), args.Error(1)
}

func (m *MockDataSource) GetDocumentsByStatus(ctx context.Context, status string, limit, offset int) ([]*model.Document, error) {
	args := m.Called(ctx, status, limit, offset)
	return args.Get(0).([]*model.Document), args.Error(1)
}

// Subscription methods

func (m *MockDataSource) CreateSubscription(ctx context.Context, s *model.Subscription) (*model.Subscription, error) {
	args := m.Called(ctx, s)
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *MockDataSource) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *MockDataSource) GetAllSubscriptions(ctx context.Context) ([]*model.Subscription, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*model.Subscription), args.Error(1)
}

func (m *MockDataSource) GetActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]*model.Subscription, error) {
	args := m.Called(ctx, eventType)
	return args.Get(0).([]*model.Subscription), args.Error(1)
}

func (m *MockDataSource) UpdateSubscription(ctx context.Context, s *model.Subscription) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockDataSource) DeleteSubscription(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// Delivery attempt methods

func (m *MockDataSource) RecordDeliveryAttempt(ctx context.Context, a *model.DeliveryAttempt) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockDataSource) UpdateDeliveryAttempt(ctx context.Context, a *model.DeliveryAttempt) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockDataSource) GetDueDeliveryAttempts(ctx context.Context, asOf time.Time, limit int) ([]*model.DeliveryAttempt, error) {
	args := m.Called(ctx, asOf, limit)
	return args.Get(0).([]*model.DeliveryAttempt), args.Error(1)
}

func (m *MockDataSource) MarkAttemptSuperseded(ctx context.Context, attemptID string) error {
	args := m.Called(ctx, attemptID)
	return args.Error(0)
}

func (m *MockDataSource) GetAttemptsForSubscription(ctx context.Context, subscriptionID string, limit, offset int) ([]*model.DeliveryAttempt, error) {
	args := m.Called(ctx, subscriptionID, limit, offset)
	return args.Get(0).([]*model.DeliveryAttempt), args.Error(1)
}

func (m *MockDataSource) DeleteSuccessfulAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
