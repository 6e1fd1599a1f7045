package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/docpipehq/docpipe/internal/apierror"
	"github.com/docpipehq/docpipe/model"
	"github.com/lib/pq"
)

// CreateSubscription records a new webhook subscription.
func (d Datasource) CreateSubscription(ctx context.Context, s *model.Subscription) (*model.Subscription, error) {
	if s.SubscriptionID == "" {
		s.SubscriptionID = GenerateUUIDWithSuffix("whs")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO docpipe.webhook_subscriptions (subscription_id, url, owner_id, event_types, active, failure_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.SubscriptionID, s.URL, s.OwnerID, s.EventTypes, s.Active, s.FailureCount, s.CreatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Subscription with this ID already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create subscription", err)
	}

	return s, nil
}

// GetSubscription retrieves a subscription by ID.
func (d Datasource) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	s := model.Subscription{}
	var lastTriggered sql.NullTime

	row := d.Conn.QueryRowContext(ctx, `
		SELECT subscription_id, url, COALESCE(owner_id, ''), event_types, active, failure_count, created_at, last_triggered_at
		FROM docpipe.webhook_subscriptions
		WHERE subscription_id = $1
	`, id)

	err := row.Scan(&s.SubscriptionID, &s.URL, &s.OwnerID, &s.EventTypes, &s.Active, &s.FailureCount, &s.CreatedAt, &lastTriggered)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve subscription", err)
	}
	if lastTriggered.Valid {
		s.LastTriggeredAt = lastTriggered.Time
	}

	return &s, nil
}

// GetAllSubscriptions retrieves every subscription, newest first.
func (d Datasource) GetAllSubscriptions(ctx context.Context) ([]*model.Subscription, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT subscription_id, url, COALESCE(owner_id, ''), event_types, active, failure_count, created_at, last_triggered_at
		FROM docpipe.webhook_subscriptions
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve subscriptions", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// GetActiveSubscriptionsForEvent retrieves active subscriptions whose
// event_types list contains the given event type.
func (d Datasource) GetActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]*model.Subscription, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT subscription_id, url, COALESCE(owner_id, ''), event_types, active, failure_count, created_at, last_triggered_at
		FROM docpipe.webhook_subscriptions
		WHERE active = TRUE AND $1 = ANY(string_to_array(event_types, ','))
	`, eventType)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve subscriptions for event", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// UpdateSubscription updates a subscription's mutable fields.
func (d Datasource) UpdateSubscription(ctx context.Context, s *model.Subscription) error {
	var lastTriggered sql.NullTime
	if !s.LastTriggeredAt.IsZero() {
		lastTriggered = sql.NullTime{Time: s.LastTriggeredAt, Valid: true}
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE docpipe.webhook_subscriptions
		SET url = $2, event_types = $3, active = $4, failure_count = $5, last_triggered_at = $6
		WHERE subscription_id = $1
	`, s.SubscriptionID, s.URL, s.EventTypes, s.Active, s.FailureCount, lastTriggered)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update subscription", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check update result", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", nil)
	}
	return nil
}

// DeleteSubscription removes a subscription and its delivery attempts.
func (d Datasource) DeleteSubscription(ctx context.Context, id string) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM docpipe.delivery_attempts WHERE subscription_id = $1
	`, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete delivery attempts", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM docpipe.webhook_subscriptions WHERE subscription_id = $1
	`, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete subscription", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check delete result", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", nil)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

func scanSubscriptions(rows *sql.Rows) ([]*model.Subscription, error) {
	subscriptions := []*model.Subscription{}

	for rows.Next() {
		s := model.Subscription{}
		var lastTriggered sql.NullTime
		err := rows.Scan(&s.SubscriptionID, &s.URL, &s.OwnerID, &s.EventTypes, &s.Active, &s.FailureCount, &s.CreatedAt, &lastTriggered)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan subscription data", err)
		}
		if lastTriggered.Valid {
			s.LastTriggeredAt = lastTriggered.Time
		}
		subscriptions = append(subscriptions, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over subscriptions", err)
	}

	return subscriptions, nil
}

// RecordDeliveryAttempt inserts a delivery attempt row.
func (d Datasource) RecordDeliveryAttempt(ctx context.Context, a *model.DeliveryAttempt) error {
	if a.AttemptID == "" {
		a.AttemptID = GenerateUUIDWithSuffix("att")
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now()
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO docpipe.delivery_attempts (attempt_id, subscription_id, event_type, payload, attempt_number, http_status_code, response_body, success, attempted_at, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.AttemptID, a.SubscriptionID, a.EventType, a.Payload, a.AttemptNumber, a.HTTPStatusCode, a.ResponseBody, a.Success, a.AttemptedAt, a.NextRetryAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return apierror.NewAPIError(apierror.ErrConflict, "Delivery attempt with this ID already exists", err)
			case "foreign_key_violation":
				return apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", err)
			}
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record delivery attempt", err)
	}
	return nil
}

// UpdateDeliveryAttempt stores the outcome of an executed attempt.
func (d Datasource) UpdateDeliveryAttempt(ctx context.Context, a *model.DeliveryAttempt) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE docpipe.delivery_attempts
		SET http_status_code = $2, response_body = $3, success = $4, attempted_at = $5, next_retry_at = $6
		WHERE attempt_id = $1
	`, a.AttemptID, a.HTTPStatusCode, a.ResponseBody, a.Success, a.AttemptedAt, a.NextRetryAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update delivery attempt", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check update result", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Delivery attempt not found", nil)
	}
	return nil
}

// GetDueDeliveryAttempts retrieves failed attempts whose retry time has
// passed, oldest first.
func (d Datasource) GetDueDeliveryAttempts(ctx context.Context, asOf time.Time, limit int) ([]*model.DeliveryAttempt, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT attempt_id, subscription_id, event_type, payload, attempt_number, COALESCE(http_status_code, 0), COALESCE(response_body, ''), success, attempted_at, next_retry_at
		FROM docpipe.delivery_attempts
		WHERE success = FALSE AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2
	`, asOf, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve due delivery attempts", err)
	}
	defer rows.Close()

	return scanDeliveryAttempts(rows)
}

// MarkAttemptSuperseded clears the retry schedule of an attempt that has
// been replaced by a newer row, so the sweeper stops picking it up.
func (d Datasource) MarkAttemptSuperseded(ctx context.Context, attemptID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE docpipe.delivery_attempts
		SET next_retry_at = NULL
		WHERE attempt_id = $1
	`, attemptID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark delivery attempt superseded", err)
	}
	return nil
}

// GetAttemptsForSubscription retrieves attempts for a subscription, newest first.
func (d Datasource) GetAttemptsForSubscription(ctx context.Context, subscriptionID string, limit, offset int) ([]*model.DeliveryAttempt, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT attempt_id, subscription_id, event_type, payload, attempt_number, COALESCE(http_status_code, 0), COALESCE(response_body, ''), success, attempted_at, next_retry_at
		FROM docpipe.delivery_attempts
		WHERE subscription_id = $1
		ORDER BY attempted_at DESC
		LIMIT $2 OFFSET $3
	`, subscriptionID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve delivery attempts", err)
	}
	defer rows.Close()

	return scanDeliveryAttempts(rows)
}

// DeleteSuccessfulAttemptsBefore removes successful attempts older than the
// cutoff and returns how many rows were deleted.
func (d Datasource) DeleteSuccessfulAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := d.Conn.ExecContext(ctx, `
		DELETE FROM docpipe.delivery_attempts
		WHERE success = TRUE AND attempted_at < $1
	`, cutoff)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete old delivery attempts", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check delete result", err)
	}
	return rows, nil
}

func scanDeliveryAttempts(rows *sql.Rows) ([]*model.DeliveryAttempt, error) {
	attempts := []*model.DeliveryAttempt{}

	for rows.Next() {
		a := model.DeliveryAttempt{}
		var nextRetry sql.NullTime
		err := rows.Scan(&a.AttemptID, &a.SubscriptionID, &a.EventType, &a.Payload, &a.AttemptNumber, &a.HTTPStatusCode, &a.ResponseBody, &a.Success, &a.AttemptedAt, &nextRetry)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan delivery attempt data", err)
		}
		if nextRetry.Valid {
			t := nextRetry.Time
			a.NextRetryAt = &t
		}
		attempts = append(attempts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over delivery attempts", err)
	}

	return attempts, nil
}
