package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/docpipehq/docpipe/internal/apierror"
	"github.com/docpipehq/docpipe/model"
	"github.com/lib/pq"
)

// CreateDocument records a new document in the RECEIVED state.
func (d Datasource) CreateDocument(ctx context.Context, doc *model.Document) (*model.Document, error) {
	metaDataJSON, err := json.Marshal(doc.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	if doc.DocumentID == "" {
		doc.DocumentID = GenerateUUIDWithSuffix("doc")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if doc.Status == "" {
		doc.Status = model.StatusReceived
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO docpipe.documents (document_id, original_name, document_type, status, error_message, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, doc.DocumentID, doc.OriginalName, doc.Type, doc.Status, doc.ErrorMessage, doc.CreatedAt, metaDataJSON)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return nil, apierror.NewAPIError(apierror.ErrConflict, "Document with this ID already exists", err)
			default:
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create document", err)
	}

	return doc, nil
}

// GetDocument retrieves a document together with its processing history,
// oldest outcome first.
func (d Datasource) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	doc := model.Document{}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT document_id, original_name, document_type, status, COALESCE(error_message, ''), created_at, meta_data
		FROM docpipe.documents
		WHERE document_id = $1
	`, id)

	var metaDataJSON []byte
	err := row.Scan(&doc.DocumentID, &doc.OriginalName, &doc.Type, &doc.Status, &doc.ErrorMessage, &doc.CreatedAt, &metaDataJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Document not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve document", err)
	}

	if len(metaDataJSON) > 0 {
		err = json.Unmarshal(metaDataJSON, &doc.MetaData)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}

	history, err := d.getProcessingHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.History = history

	return &doc, nil
}

// GetDocumentStatus retrieves only the status column of a document.
func (d Datasource) GetDocumentStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := d.Conn.QueryRowContext(ctx, `
		SELECT status FROM docpipe.documents WHERE document_id = $1
	`, id).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", apierror.NewAPIError(apierror.ErrNotFound, "Document not found", err)
		}
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve document status", err)
	}
	return status, nil
}

// UpdateDocumentStatus updates the status and error message of a document.
func (d Datasource) UpdateDocumentStatus(ctx context.Context, id string, status string, errorMessage string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE docpipe.documents
		SET status = $2, error_message = $3
		WHERE document_id = $1
	`, id, status, errorMessage)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update document status", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check update result", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Document not found", nil)
	}
	return nil
}

// RecordProcessingOutcome appends an outcome row to a document's history.
func (d Datasource) RecordProcessingOutcome(ctx context.Context, documentID string, o *model.ProcessingOutcome) error {
	metaDataJSON, err := json.Marshal(o.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	if o.OutcomeID == "" {
		o.OutcomeID = GenerateUUIDWithSuffix("out")
	}
	if o.ProcessedAt.IsZero() {
		o.ProcessedAt = time.Now()
	}

	var extractedText sql.NullString
	var pageCount sql.NullInt64
	var engine sql.NullString
	if o.ExtractedContent != nil {
		extractedText = sql.NullString{String: o.ExtractedContent.FullText, Valid: true}
		pageCount = sql.NullInt64{Int64: int64(o.ExtractedContent.PageCount), Valid: true}
		engine = sql.NullString{String: o.ExtractedContent.Engine, Valid: true}
	}

	var label sql.NullString
	var confidence sql.NullFloat64
	if o.Classification != nil {
		label = sql.NullString{String: o.Classification.Label, Valid: true}
		confidence = sql.NullFloat64{Float64: float64(o.Classification.Confidence), Valid: true}
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO docpipe.processing_outcomes
			(outcome_id, document_id, success, processed_at, model_name, error_message, extracted_text, page_count, extraction_engine, classification_label, classification_confidence, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, o.OutcomeID, documentID, o.Success, o.ProcessedAt, o.ModelName, o.ErrorMessage, extractedText, pageCount, engine, label, confidence, metaDataJSON)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "foreign_key_violation" {
			return apierror.NewAPIError(apierror.ErrNotFound, "Document not found", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record processing outcome", err)
	}
	return nil
}

// GetAllDocuments retrieves documents in a paginated manner, newest first.
func (d Datasource) GetAllDocuments(ctx context.Context, limit, offset int) ([]*model.Document, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT document_id, original_name, document_type, status, COALESCE(error_message, ''), created_at, meta_data
		FROM docpipe.documents
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve documents", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// GetDocumentsByStatus retrieves documents filtered by status, newest first.
func (d Datasource) GetDocumentsByStatus(ctx context.Context, status string, limit, offset int) ([]*model.Document, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT document_id, original_name, document_type, status, COALESCE(error_message, ''), created_at, meta_data
		FROM docpipe.documents
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve documents", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]*model.Document, error) {
	documents := []*model.Document{}

	for rows.Next() {
		doc := model.Document{}
		var metaDataJSON []byte
		err := rows.Scan(&doc.DocumentID, &doc.OriginalName, &doc.Type, &doc.Status, &doc.ErrorMessage, &doc.CreatedAt, &metaDataJSON)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan document data", err)
		}

		if len(metaDataJSON) > 0 {
			err = json.Unmarshal(metaDataJSON, &doc.MetaData)
			if err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
			}
		}

		documents = append(documents, &doc)
	}

	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over documents", err)
	}

	return documents, nil
}

func (d Datasource) getProcessingHistory(ctx context.Context, documentID string) ([]model.ProcessingOutcome, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT outcome_id, success, processed_at, COALESCE(model_name, ''), COALESCE(error_message, ''), extracted_text, page_count, extraction_engine, classification_label, classification_confidence, meta_data
		FROM docpipe.processing_outcomes
		WHERE document_id = $1
		ORDER BY processed_at ASC
	`, documentID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve processing history", err)
	}
	defer rows.Close()

	history := []model.ProcessingOutcome{}
	for rows.Next() {
		o := model.ProcessingOutcome{}
		var metaDataJSON []byte
		var extractedText, engine, label sql.NullString
		var pageCount sql.NullInt64
		var confidence sql.NullFloat64

		err := rows.Scan(&o.OutcomeID, &o.Success, &o.ProcessedAt, &o.ModelName, &o.ErrorMessage, &extractedText, &pageCount, &engine, &label, &confidence, &metaDataJSON)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan outcome data", err)
		}

		if extractedText.Valid || engine.Valid {
			o.ExtractedContent = &model.ExtractedContent{
				FullText:  extractedText.String,
				PageCount: int(pageCount.Int64),
				Engine:    engine.String,
			}
		}
		if label.Valid {
			o.Classification = &model.Classification{
				Label:      label.String,
				Confidence: int(confidence.Float64),
				ModelName:  o.ModelName,
			}
		}
		if len(metaDataJSON) > 0 {
			err = json.Unmarshal(metaDataJSON, &o.MetaData)
			if err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
			}
		}

		history = append(history, o)
	}

	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over outcomes", err)
	}

	return history, nil
}
