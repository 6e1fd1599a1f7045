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
	"context"
	"log"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"

	"github.com/docpipehq/docpipe/config"
	"github.com/docpipehq/docpipe/database"
	"github.com/docpipehq/docpipe/model"
)

func newTestDocpipe(t *testing.T) (*Docpipe, sqlmock.Sqlmock) {
	t.Helper()
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://localhost:5432/docpipe"},
		Redis:      config.RedisConfig{Dns: mr.Addr()},
	})

	db, mock, err := sqlmock.New()
	if err != nil {
		log.Printf("an error '%s' was not expected when opening a stub database Connection", err)
	}
	d, err := NewDocpipe(database.Datasource{Conn: db})
	if err != nil {
		t.Fatalf("Error creating Docpipe instance: %s", err)
	}
	// Tests drive the pipeline synchronously; drop background fan-out so the
	// sqlmock expectations stay deterministic.
	d.dispatcher = NewDispatcher(0, 0, Discard)
	d.notifications = NewDispatcher(0, 0, Discard)
	return d, mock
}

type stubClassifier struct {
	result *model.Classification
	err    error
}

func (s stubClassifier) Classify(_ context.Context, _ string) (*model.Classification, error) {
	return s.result, s.err
}

func TestCreateDocumentStoresContent(t *testing.T) {
	d, mock := newTestDocpipe(t)

	name := gofakeit.Word() + ".txt"
	content := []byte("hello world invoice total due")

	mock.ExpectExec("INSERT INTO docpipe.documents").
		WithArgs(sqlmock.AnyArg(), name, model.TypePlain, model.StatusReceived, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	doc, err := d.CreateDocument(context.Background(), name, model.TypePlain, content, nil)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusReceived, doc.Status)
	assert.Contains(t, doc.DocumentID, "doc_")

	stored, err := d.redis.Get(context.Background(), contentKey(doc.DocumentID)).Bytes()
	assert.NoError(t, err)
	assert.Equal(t, content, stored)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSubmitForProcessingQueuesDocument(t *testing.T) {
	d, mock := newTestDocpipe(t)

	documentID := "doc_" + gofakeit.UUID()
	expectDocumentFetch(mock, documentID, model.StatusReceived)

	mock.ExpectExec("UPDATE docpipe.documents").
		WithArgs(documentID, model.StatusQueued, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	doc, err := d.SubmitForProcessing(context.Background(), documentID)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusQueued, doc.Status)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSubmitForProcessingRejectsNonReceived(t *testing.T) {
	d, mock := newTestDocpipe(t)

	documentID := "doc_" + gofakeit.UUID()
	expectDocumentFetch(mock, documentID, model.StatusProcessing)

	_, err := d.SubmitForProcessing(context.Background(), documentID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transition")
}

func TestRunPipelineCompletesDocument(t *testing.T) {
	d, mock := newTestDocpipe(t)
	d.classifier = stubClassifier{result: &model.Classification{Label: "Invoice", Confidence: 92, ModelName: "llama3"}}

	documentID := "doc_" + gofakeit.UUID()
	err := d.redis.Set(context.Background(), contentKey(documentID), []byte("invoice number 42, total due 100 EUR"), 0).Err()
	assert.NoError(t, err)

	expectDocumentFetch(mock, documentID, model.StatusQueued)
	mock.ExpectExec("UPDATE docpipe.documents").
		WithArgs(documentID, model.StatusProcessing, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO docpipe.processing_outcomes").
		WithArgs(
			sqlmock.AnyArg(), documentID, true, sqlmock.AnyArg(), "llama3", "",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "Invoice", float64(92), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE docpipe.documents").
		WithArgs(documentID, model.StatusCompleted, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	d.runPipeline(context.Background(), documentID)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRunPipelineFailsWithoutContent(t *testing.T) {
	d, mock := newTestDocpipe(t)

	documentID := "doc_" + gofakeit.UUID()

	expectDocumentFetch(mock, documentID, model.StatusQueued)
	mock.ExpectExec("UPDATE docpipe.documents").
		WithArgs(documentID, model.StatusProcessing, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO docpipe.processing_outcomes").
		WithArgs(
			sqlmock.AnyArg(), documentID, false, sqlmock.AnyArg(), "", sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE docpipe.documents").
		WithArgs(documentID, model.StatusFailed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	d.runPipeline(context.Background(), documentID)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPipelineFailuresFeedBreaker(t *testing.T) {
	d, mock := newTestDocpipe(t)

	for i := 0; i < 10; i++ {
		documentID := "doc_" + gofakeit.UUID()
		expectDocumentFetch(mock, documentID, model.StatusQueued)
		mock.ExpectExec("UPDATE docpipe.documents").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO docpipe.processing_outcomes").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE docpipe.documents").
			WillReturnResult(sqlmock.NewResult(0, 1))
		d.runPipeline(context.Background(), documentID)
	}

	assert.True(t, d.breaker.IsOpen())
}

func TestReprocessReentersQueue(t *testing.T) {
	d, mock := newTestDocpipe(t)

	documentID := "doc_" + gofakeit.UUID()
	expectDocumentFetch(mock, documentID, model.StatusFailed)
	mock.ExpectExec("UPDATE docpipe.documents").
		WithArgs(documentID, model.StatusQueued, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	doc, err := d.Reprocess(context.Background(), documentID)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusQueued, doc.Status)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestReprocessRejectsActiveDocument(t *testing.T) {
	d, mock := newTestDocpipe(t)

	documentID := "doc_" + gofakeit.UUID()
	expectDocumentFetch(mock, documentID, model.StatusProcessing)

	_, err := d.Reprocess(context.Background(), documentID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transition")
}

func TestReleaseInflightRedispatchesPendingReprocess(t *testing.T) {
	// A reprocess that lands while the pipeline is finishing persists QUEUED
	// but cannot dispatch: the id is still owned by the running worker. The
	// release must notice the pending QUEUED state and dispatch again.
	d, mockDS := newWebhookTestDocpipe(t)
	d.dispatcher = NewDispatcher(0, 0, Discard)

	documentID := "doc_" + gofakeit.UUID()
	d.inflight.Store(documentID, struct{}{})
	mockDS.On("GetDocumentStatus", context.Background(), documentID).Return(model.StatusQueued, nil)

	d.releaseInflight(context.Background(), documentID)

	_, loaded := d.inflight.Load(documentID)
	assert.True(t, loaded, "queued document must be re-dispatched after release")
	mockDS.AssertExpectations(t)
}

func TestReleaseInflightLeavesTerminalDocumentAlone(t *testing.T) {
	d, mockDS := newWebhookTestDocpipe(t)
	d.dispatcher = NewDispatcher(0, 0, Discard)

	documentID := "doc_" + gofakeit.UUID()
	d.inflight.Store(documentID, struct{}{})
	mockDS.On("GetDocumentStatus", context.Background(), documentID).Return(model.StatusCompleted, nil)

	d.releaseInflight(context.Background(), documentID)

	_, loaded := d.inflight.Load(documentID)
	assert.False(t, loaded, "terminal document must not be re-dispatched")
}

func TestDispatchDocumentDefaultsToInProcessPool(t *testing.T) {
	// Queue transport is off by default, so a queued document must land on
	// the in-process pipeline pool.
	d, _ := newTestDocpipe(t)

	doc := model.NewDocument("scan.pdf", model.TypePDF)
	d.dispatchDocument(context.Background(), doc)

	assert.Equal(t, uint64(1), d.dispatcher.Stats().Submitted)
}

func TestPollStatusReturnsTerminalState(t *testing.T) {
	d, mock := newTestDocpipe(t)

	documentID := "doc_" + gofakeit.UUID()
	mock.ExpectQuery("SELECT status FROM docpipe.documents").
		WithArgs(documentID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.StatusCompleted))

	status, err := d.PollStatus(context.Background(), documentID, time.Second)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, status)
}

func TestPollStatusTimeoutReturnsLastObserved(t *testing.T) {
	d, mock := newTestDocpipe(t)
	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://localhost:5432/docpipe"},
		Redis:      config.RedisConfig{Dns: "localhost:6379"},
		Processing: config.ProcessingConfig{PollIntervalMs: 10},
	})

	documentID := "doc_" + gofakeit.UUID()
	for i := 0; i < 50; i++ {
		mock.ExpectQuery("SELECT status FROM docpipe.documents").
			WithArgs(documentID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.StatusProcessing))
	}

	status, err := d.PollStatus(context.Background(), documentID, 50*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, status)
}

// expectDocumentFetch wires the document row plus its (empty) history query.
func expectDocumentFetch(mock sqlmock.Sqlmock, documentID, status string) {
	rows := sqlmock.NewRows([]string{"document_id", "original_name", "document_type", "status", "error_message", "created_at", "meta_data"}).
		AddRow(documentID, "scan.pdf", model.TypePDF, status, "", time.Now(), []byte(`{}`))
	mock.ExpectQuery("SELECT document_id, original_name, document_type, status, .* FROM docpipe.documents").
		WithArgs(documentID).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT outcome_id, success, processed_at, .* FROM docpipe.processing_outcomes").
		WithArgs(documentID).
		WillReturnRows(sqlmock.NewRows([]string{"outcome_id", "success", "processed_at", "model_name", "error_message", "extracted_text", "page_count", "extraction_engine", "classification_label", "classification_confidence", "meta_data"}))
}
