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
	"fmt"
	"time"
)

// Document lifecycle statuses. A document enters the system as RECEIVED and
// moves forward only through the transition methods below; terminal states
// can be re-entered via Reprocess.
const (
	StatusReceived   = "RECEIVED"
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// IsValidStatus reports whether s is one of the lifecycle states.
func IsValidStatus(s string) bool {
	switch s {
	case StatusReceived, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Supported document types as declared by the uploader.
const (
	TypePDF   = "PDF"
	TypePNG   = "PNG"
	TypeJPG   = "JPG"
	TypeTIFF  = "TIFF"
	TypePlain = "TXT"
)

// InvalidStateTransition is returned whenever a lifecycle method is called
// on a document that is not in the required source state. It carries both
// the current and the attempted target state; illegal transitions are never
// silently ignored.
type InvalidStateTransition struct {
	DocumentID string
	From       string
	To         string
}

func (e *InvalidStateTransition) Error() string {
	return fmt.Sprintf("document %s: invalid transition %s -> %s", e.DocumentID, e.From, e.To)
}

// ExtractedContent holds the output of the content-extraction (OCR) stage.
type ExtractedContent struct {
	FullText  string `json:"full_text"`
	PageCount int    `json:"page_count"`
	Engine    string `json:"engine"`
}

// Classification holds the output of the text-classification stage.
type Classification struct {
	Label      string `json:"label"`
	Confidence int    `json:"confidence"`
	ModelName  string `json:"model_name"`
}

// ProcessingOutcome is the immutable record of one pipeline execution.
// It is created once per attempt and appended to the owning document's
// history; it is never mutated afterwards.
type ProcessingOutcome struct {
	OutcomeID        string                 `json:"outcome_id"`
	Success          bool                   `json:"success"`
	ProcessedAt      time.Time              `json:"processed_at"`
	ModelName        string                 `json:"model_name,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	MetaData         map[string]interface{} `json:"meta_data,omitempty"`
	ExtractedContent *ExtractedContent      `json:"extracted_content,omitempty"`
	Classification   *Classification        `json:"classification,omitempty"`
}

// NewProcessingOutcome creates an outcome record stamped with a fresh id and
// the current time.
func NewProcessingOutcome(success bool) *ProcessingOutcome {
	return &ProcessingOutcome{
		OutcomeID:   GenerateUUIDWithSuffix("out"),
		Success:     success,
		ProcessedAt: time.Now(),
		MetaData:    map[string]interface{}{},
	}
}

// Document is the aggregate driven through the processing lifecycle. During
// a pipeline run it is exclusively owned by the worker executing that run;
// History is append-only.
type Document struct {
	DocumentID   string                 `json:"document_id"`
	OriginalName string                 `json:"original_name"`
	Type         string                 `json:"type"`
	Status       string                 `json:"status"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	History      []ProcessingOutcome    `json:"history,omitempty"`
	MetaData     map[string]interface{} `json:"meta_data,omitempty"`
}

// NewDocument creates a document in the RECEIVED state.
func NewDocument(originalName, declaredType string) *Document {
	return &Document{
		DocumentID:   GenerateUUIDWithSuffix("doc"),
		OriginalName: originalName,
		Type:         declaredType,
		Status:       StatusReceived,
		CreatedAt:    time.Now(),
	}
}

// Enqueue moves the document from RECEIVED to QUEUED.
func (d *Document) Enqueue() error {
	if d.Status != StatusReceived {
		return &InvalidStateTransition{DocumentID: d.DocumentID, From: d.Status, To: StatusQueued}
	}
	d.Status = StatusQueued
	return nil
}

// Begin moves the document from QUEUED to PROCESSING. From this point on a
// single worker owns the document until a terminal transition fires.
func (d *Document) Begin() error {
	if d.Status != StatusQueued {
		return &InvalidStateTransition{DocumentID: d.DocumentID, From: d.Status, To: StatusProcessing}
	}
	d.Status = StatusProcessing
	return nil
}

// Complete finishes a processing run. The document moves to COMPLETED when
// the outcome succeeded, FAILED otherwise, and the outcome is appended to
// the history either way.
func (d *Document) Complete(outcome *ProcessingOutcome) error {
	target := StatusCompleted
	if !outcome.Success {
		target = StatusFailed
	}
	if d.Status != StatusProcessing {
		return &InvalidStateTransition{DocumentID: d.DocumentID, From: d.Status, To: target}
	}
	d.Status = target
	d.ErrorMessage = outcome.ErrorMessage
	d.History = append(d.History, *outcome)
	return nil
}

// Reprocess re-enters the queue from a terminal state so the pipeline can
// run again. The previous history is kept.
func (d *Document) Reprocess() error {
	if d.Status != StatusCompleted && d.Status != StatusFailed {
		return &InvalidStateTransition{DocumentID: d.DocumentID, From: d.Status, To: StatusQueued}
	}
	d.Status = StatusQueued
	d.ErrorMessage = ""
	return nil
}

// IsTerminal reports whether the document reached COMPLETED or FAILED.
func (d *Document) IsTerminal() bool {
	return d.Status == StatusCompleted || d.Status == StatusFailed
}

// LastOutcome returns the most recent processing outcome, or nil when the
// document has never been processed.
func (d *Document) LastOutcome() *ProcessingOutcome {
	if len(d.History) == 0 {
		return nil
	}
	return &d.History[len(d.History)-1]
}
