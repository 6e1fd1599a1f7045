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
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/docpipehq/docpipe/config"
	"github.com/docpipehq/docpipe/internal/apierror"
	"github.com/docpipehq/docpipe/internal/notification"
	"github.com/docpipehq/docpipe/model"
)

// statusCacheTTL bounds how stale a cached status read can be.
const statusCacheTTL = 2 * time.Second

func contentKey(documentID string) string {
	return fmt.Sprintf("docpipe:content:%s", documentID)
}

func statusCacheKey(documentID string) string {
	return fmt.Sprintf("docpipe:status:%s", documentID)
}

// CreateDocument stores an uploaded document in the RECEIVED state. The raw
// content is stashed in Redis so any worker can pick it up later, including
// after a reprocess request.
func (d *Docpipe) CreateDocument(ctx context.Context, originalName, declaredType string, content []byte, metaData map[string]interface{}) (*model.Document, error) {
	ctx, span := tracer.Start(ctx, "Creating Document")
	defer span.End()

	doc := model.NewDocument(originalName, declaredType)
	doc.MetaData = metaData

	created, err := d.datasource.CreateDocument(ctx, doc)
	if err != nil {
		return nil, err
	}

	if err := d.redis.Set(ctx, contentKey(doc.DocumentID), content, 0).Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to store document content", err)
	}

	span.SetAttributes(attribute.String("document.id", created.DocumentID))
	return created, nil
}

// SubmitForProcessing moves a RECEIVED document to QUEUED and hands it to
// the pipeline pool. When the pool and its queue are saturated the pipeline
// runs on the calling goroutine, so this call can block; that backpressure
// is deliberate.
func (d *Docpipe) SubmitForProcessing(ctx context.Context, documentID string) (*model.Document, error) {
	ctx, span := tracer.Start(ctx, "Queueing Document For Processing")
	defer span.End()

	doc, err := d.datasource.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if err := doc.Enqueue(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState, err.Error(), err)
	}
	if err := d.datasource.UpdateDocumentStatus(ctx, doc.DocumentID, doc.Status, ""); err != nil {
		return nil, err
	}
	d.invalidateStatusCache(ctx, doc.DocumentID)
	d.notifyDocumentEvent(ctx, doc)

	d.dispatchDocument(ctx, doc)
	return doc, nil
}

// Reprocess re-enters a terminal document into the queue and dispatches a
// fresh pipeline run. The previous outcome history is preserved.
func (d *Docpipe) Reprocess(ctx context.Context, documentID string) (*model.Document, error) {
	ctx, span := tracer.Start(ctx, "Reprocessing Document")
	defer span.End()

	doc, err := d.datasource.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if err := doc.Reprocess(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState, err.Error(), err)
	}
	if err := d.datasource.UpdateDocumentStatus(ctx, doc.DocumentID, doc.Status, ""); err != nil {
		return nil, err
	}
	d.invalidateStatusCache(ctx, doc.DocumentID)
	d.notifyDocumentEvent(ctx, doc)

	d.dispatchDocument(ctx, doc)
	return doc, nil
}

// dispatchDocument routes a queued document to wherever processing happens.
// With queue transport enabled the document goes to the asynq document
// queue so any worker instance can run the pipeline; otherwise, or when the
// enqueue fails, the in-process pool takes it.
func (d *Docpipe) dispatchDocument(ctx context.Context, doc *model.Document) {
	conf, err := config.Fetch()
	if err == nil && conf.Queue.TransportEnabled && d.queue != nil {
		if pending, _ := d.queue.GetDocumentFromQueue(doc.DocumentID); pending != nil {
			logrus.WithField("document_id", doc.DocumentID).Info("document already pending on queue")
			return
		}
		enqueueErr := d.queue.Enqueue(ctx, doc)
		if enqueueErr == nil {
			return
		}
		logrus.WithError(enqueueErr).WithField("document_id", doc.DocumentID).Warn("failed to enqueue document, falling back to in-process pool")
	}
	d.dispatch(doc.DocumentID)
}

// dispatch hands a queued document to the pipeline pool. The in-flight
// guard ensures one worker owns a document at a time even if the same id is
// dispatched twice.
func (d *Docpipe) dispatch(documentID string) {
	if _, loaded := d.inflight.LoadOrStore(documentID, struct{}{}); loaded {
		logrus.WithField("document_id", documentID).Warn("document already in flight, skipping dispatch")
		return
	}
	d.dispatcher.Submit(func() {
		defer d.releaseInflight(context.Background(), documentID)
		d.runPipeline(context.Background(), documentID)
	})
}

// releaseInflight frees a document's in-flight entry and re-dispatches it if
// a reprocess request landed while the pipeline was finishing. Reprocess
// persists QUEUED but its dispatch is skipped while the id is still owned by
// a worker; without this re-check such a document would sit in QUEUED with
// nothing left to pick it up.
func (d *Docpipe) releaseInflight(ctx context.Context, documentID string) {
	d.inflight.Delete(documentID)

	status, err := d.datasource.GetDocumentStatus(ctx, documentID)
	if err != nil {
		logrus.WithError(err).WithField("document_id", documentID).Warn("failed to check for pending reprocess")
		return
	}
	if status == model.StatusQueued {
		d.dispatch(documentID)
	}
}

// runPipeline executes one extraction and classification pass over a queued
// document and records the outcome. Every run feeds the circuit breaker; an
// open breaker is reported but never blocks processing.
func (d *Docpipe) runPipeline(ctx context.Context, documentID string) {
	ctx, span := tracer.Start(ctx, "Processing Document")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID))

	doc, err := d.datasource.GetDocument(ctx, documentID)
	if err != nil {
		notification.NotifyError(err)
		return
	}

	if err := doc.Begin(); err != nil {
		notification.NotifyError(err)
		return
	}
	if err := d.datasource.UpdateDocumentStatus(ctx, doc.DocumentID, doc.Status, ""); err != nil {
		notification.NotifyError(err)
		return
	}
	d.invalidateStatusCache(ctx, doc.DocumentID)

	if d.breaker.IsOpen() {
		logrus.WithField("document_id", documentID).Warn("processing failure rate above threshold, continuing anyway")
	}

	if d.Hooks != nil {
		if err := d.Hooks.ExecutePreHooks(ctx, doc.DocumentID, doc); err != nil {
			logrus.WithError(err).Warn("pre-processing hooks failed")
		}
	}

	outcome := d.executePipeline(ctx, doc)

	if outcome.Success {
		d.breaker.RecordSuccess()
	} else {
		d.breaker.RecordFailure()
	}

	if err := doc.Complete(outcome); err != nil {
		notification.NotifyError(err)
		return
	}
	if err := d.datasource.RecordProcessingOutcome(ctx, doc.DocumentID, outcome); err != nil {
		notification.NotifyError(err)
	}
	if err := d.datasource.UpdateDocumentStatus(ctx, doc.DocumentID, doc.Status, doc.ErrorMessage); err != nil {
		notification.NotifyError(err)
	}
	d.invalidateStatusCache(ctx, doc.DocumentID)

	d.notifyDocumentEvent(ctx, doc)

	if d.Hooks != nil {
		if err := d.Hooks.ExecutePostHooks(ctx, doc.DocumentID, doc); err != nil {
			logrus.WithError(err).Warn("post-processing hooks failed")
		}
	}
}

// executePipeline runs extraction then classification and folds the results
// into a single outcome record.
func (d *Docpipe) executePipeline(ctx context.Context, doc *model.Document) *model.ProcessingOutcome {
	raw, err := d.redis.Get(ctx, contentKey(doc.DocumentID)).Bytes()
	if err != nil {
		outcome := model.NewProcessingOutcome(false)
		outcome.ErrorMessage = fmt.Sprintf("failed to load document content: %v", err)
		return outcome
	}

	extracted, err := d.extractor.Extract(ctx, doc, raw)
	if err != nil {
		outcome := model.NewProcessingOutcome(false)
		outcome.ErrorMessage = fmt.Sprintf("extraction failed: %v", err)
		return outcome
	}

	outcome := model.NewProcessingOutcome(true)
	outcome.ExtractedContent = extracted
	outcome.MetaData["extracted_pages"] = extracted.PageCount
	outcome.MetaData["ocr_engine"] = extracted.Engine
	outcome.MetaData["text_length"] = len(extracted.FullText)

	classification, err := d.classifier.Classify(ctx, extracted.FullText)
	if err != nil {
		outcome.Success = false
		outcome.ErrorMessage = fmt.Sprintf("classification failed: %v", err)
		return outcome
	}
	outcome.Classification = classification
	outcome.ModelName = classification.ModelName

	return outcome
}

// GetDocument retrieves a document with its full processing history.
func (d *Docpipe) GetDocument(ctx context.Context, documentID string) (*model.Document, error) {
	return d.datasource.GetDocument(ctx, documentID)
}

// GetAllDocuments lists documents, newest first.
func (d *Docpipe) GetAllDocuments(ctx context.Context, limit, offset int) ([]*model.Document, error) {
	return d.datasource.GetAllDocuments(ctx, limit, offset)
}

// GetDocumentsByStatus lists documents in one lifecycle state, newest first.
func (d *Docpipe) GetDocumentsByStatus(ctx context.Context, status string, limit, offset int) ([]*model.Document, error) {
	return d.datasource.GetDocumentsByStatus(ctx, status, limit, offset)
}

// GetStatus returns a document's current status, served from the cache when
// the entry is fresh.
func (d *Docpipe) GetStatus(ctx context.Context, documentID string) (string, error) {
	var status string
	if err := d.cache.Get(ctx, statusCacheKey(documentID), &status); err == nil && status != "" {
		return status, nil
	}

	status, err := d.datasource.GetDocumentStatus(ctx, documentID)
	if err != nil {
		return "", err
	}
	if err := d.cache.Set(ctx, statusCacheKey(documentID), status, statusCacheTTL); err != nil {
		logrus.WithError(err).Debug("failed to cache document status")
	}
	return status, nil
}

func (d *Docpipe) invalidateStatusCache(ctx context.Context, documentID string) {
	if err := d.cache.Delete(ctx, statusCacheKey(documentID)); err != nil {
		logrus.WithError(err).Debug("failed to invalidate status cache")
	}
}

// ProcessDocument is the asynq handler for queued document tasks. It hands
// the document to the pipeline pool; the in-flight guard makes redelivery of
// the same task harmless.
func (d *Docpipe) ProcessDocument(_ context.Context, task *asynq.Task) error {
	var doc model.Document
	if err := json.Unmarshal(task.Payload(), &doc); err != nil {
		logrus.WithError(err).Error("failed to unmarshal document task payload")
		return err
	}
	d.dispatch(doc.DocumentID)
	return nil
}

// PollStatus samples a document's status until it reaches a terminal state
// or the timeout elapses. A timeout is not an error: the last observed
// status is returned so callers always learn where the document stands.
func (d *Docpipe) PollStatus(ctx context.Context, documentID string, timeout time.Duration) (string, error) {
	conf, err := config.Fetch()
	if err != nil {
		return "", err
	}
	interval := time.Duration(conf.Processing.PollIntervalMs) * time.Millisecond

	// Polling bypasses the status cache so every sample observes the
	// database's current state.
	status, err := d.datasource.GetDocumentStatus(ctx, documentID)
	if err != nil {
		return "", err
	}
	if status == model.StatusCompleted || status == model.StatusFailed {
		return status, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-deadline.C:
			return status, nil
		case <-ticker.C:
			s, err := d.datasource.GetDocumentStatus(ctx, documentID)
			if err != nil {
				return status, err
			}
			status = s
			if status == model.StatusCompleted || status == model.StatusFailed {
				return status, nil
			}
		}
	}
}
