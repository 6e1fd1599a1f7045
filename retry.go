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
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/docpipehq/docpipe/config"
	"github.com/docpipehq/docpipe/internal/lock"
	"github.com/docpipehq/docpipe/internal/notification"
)

// sweepBatchSize bounds how many due attempts one sweep picks up.
const sweepBatchSize = 100

// sweepLockName is the distributed lock shared by all instances. Only the
// holder runs a sweep, so a retry is never executed twice.
const sweepLockName = "retry:sweep"

// StartRetrySweeper runs the delivery retry loop until ctx is cancelled.
// The first sweep is delayed so a restarting instance does not immediately
// hammer endpoints that were failing when it went down.
func (d *Docpipe) StartRetrySweeper(ctx context.Context) {
	conf, err := config.Fetch()
	if err != nil {
		notification.NotifyError(err)
		return
	}

	initialDelay := time.Duration(conf.Webhook.SweepInitialDelaySec) * time.Second
	interval := time.Duration(conf.Webhook.SweepIntervalSec) * time.Second

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialDelay):
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := d.sweepWithLock(ctx, interval); err != nil {
				notification.NotifyError(err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// sweepWithLock runs one sweep under a distributed lock. Losing the race
// for the lock is not an error; another instance is sweeping.
func (d *Docpipe) sweepWithLock(ctx context.Context, lockTimeout time.Duration) error {
	locker := lock.NewLocker(d.redis, sweepLockName)
	if err := locker.Lock(ctx, lockTimeout); err != nil {
		logrus.WithError(err).Debug("retry sweep already running elsewhere")
		return nil
	}
	defer func(locker *lock.Locker, ctx context.Context) {
		if err := locker.Unlock(ctx); err != nil {
			logrus.WithError(err).Error("failed to release retry sweep lock")
		}
	}(locker, ctx)

	return d.SweepDueAttempts(ctx)
}

// SweepDueAttempts retries every failed delivery whose retry time has
// passed. Each retry writes a fresh attempt row; the row that scheduled it
// is marked superseded so it is never picked up twice.
func (d *Docpipe) SweepDueAttempts(ctx context.Context) error {
	due, err := d.datasource.GetDueDeliveryAttempts(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	logrus.WithField("count", len(due)).Info("retrying failed webhook deliveries")

	for _, prev := range due {
		if err := d.datasource.MarkAttemptSuperseded(ctx, prev.AttemptID); err != nil {
			notification.NotifyError(err)
			continue
		}

		sub, err := d.datasource.GetSubscription(ctx, prev.SubscriptionID)
		if err != nil {
			notification.NotifyError(err)
			continue
		}
		if !sub.Active {
			// The subscription was disabled after this retry was scheduled.
			continue
		}

		next := prev.NextAttempt()
		if err := d.datasource.RecordDeliveryAttempt(ctx, next); err != nil {
			notification.NotifyError(err)
			continue
		}
		if err := d.executeAttempt(ctx, sub, next); err != nil {
			logrus.WithFields(logrus.Fields{
				"subscription_id": sub.SubscriptionID,
				"attempt_number":  next.AttemptNumber,
			}).WithError(err).Warn("webhook retry failed")
		}
	}
	return nil
}

// StartCleanupJob schedules the daily purge of old successful delivery
// attempts. The returned cron is already started; callers stop it on
// shutdown.
func (d *Docpipe) StartCleanupJob(ctx context.Context) (*cron.Cron, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	c := cron.New()
	_, err = c.AddFunc(conf.Webhook.CleanupSchedule, func() {
		if err := d.CleanupOldAttempts(ctx); err != nil {
			notification.NotifyError(err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// CleanupOldAttempts deletes successful delivery attempts older than the
// retention window. Failed attempts are kept for inspection.
func (d *Docpipe) CleanupOldAttempts(ctx context.Context) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -conf.Webhook.RetentionDays)
	deleted, err := d.datasource.DeleteSuccessfulAttemptsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logrus.WithFields(logrus.Fields{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("purged old webhook delivery attempts")
	}
	return nil
}
