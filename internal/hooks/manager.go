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

// Package hooks manages the pre- and post-processing hooks that fire around
// a document pipeline run. Hook definitions live in Redis; executions go
// through the hook queue when one is configured and fall back to in-process
// goroutines otherwise.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/docpipehq/docpipe/internal/notification"
	"github.com/docpipehq/docpipe/model"
)

const (
	hookKeyPrefix  = "docpipe:hooks:"
	preHookSetKey  = "docpipe:hooks:pre"
	postHookSetKey = "docpipe:hooks:post"
)

func hookKey(hookID string) string {
	return hookKeyPrefix + hookID
}

func typeSetKey(hookType HookType) string {
	if hookType == PreProcessing {
		return preHookSetKey
	}
	return postHookSetKey
}

type redisHookManager struct {
	client    redis.UniversalClient
	queue     *asynq.Client
	queueName string
}

// NewHookManager creates a Redis-backed hook manager. When queue is non-nil
// hook executions are enqueued on queueName and run by the workers command;
// a nil queue keeps executions in-process.
func NewHookManager(redisClient redis.UniversalClient, queue *asynq.Client, queueName string) HookManager {
	return &redisHookManager{
		client:    redisClient,
		queue:     queue,
		queueName: queueName,
	}
}

// RegisterHook validates and stores a new hook, indexing it by type.
func (m *redisHookManager) RegisterHook(ctx context.Context, hook *Hook) error {
	if hook.ID == "" {
		hook.ID = model.GenerateUUIDWithSuffix("hook")
	}
	hook.CreatedAt = time.Now()

	if err := validateHook(hook); err != nil {
		return err
	}

	data, err := json.Marshal(hook)
	if err != nil {
		return fmt.Errorf("failed to marshal hook: %w", err)
	}
	if err := m.client.Set(ctx, hookKey(hook.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store hook: %w", err)
	}
	if err := m.client.SAdd(ctx, typeSetKey(hook.Type), hook.ID).Err(); err != nil {
		return fmt.Errorf("failed to index hook by type: %w", err)
	}
	return nil
}

// UpdateHook replaces a hook's definition, preserving its identity and run
// history. A type change moves it between the type indexes.
func (m *redisHookManager) UpdateHook(ctx context.Context, hookID string, hook *Hook) error {
	existing, err := m.GetHook(ctx, hookID)
	if err != nil {
		return fmt.Errorf("hook not found: %s", hookID)
	}

	hook.ID = existing.ID
	hook.CreatedAt = existing.CreatedAt
	hook.LastRun = existing.LastRun
	hook.LastSuccess = existing.LastSuccess

	if existing.Type != hook.Type {
		if err := m.client.SRem(ctx, typeSetKey(existing.Type), hookID).Err(); err != nil {
			return err
		}
		if err := m.client.SAdd(ctx, typeSetKey(hook.Type), hookID).Err(); err != nil {
			return err
		}
	}

	data, err := json.Marshal(hook)
	if err != nil {
		return fmt.Errorf("failed to marshal hook: %w", err)
	}
	return m.client.Set(ctx, hookKey(hookID), data, 0).Err()
}

// DeleteHook removes a hook and its type index entry.
func (m *redisHookManager) DeleteHook(ctx context.Context, hookID string) error {
	hook, err := m.GetHook(ctx, hookID)
	if err != nil {
		return err
	}

	pipe := m.client.Pipeline()
	pipe.Del(ctx, hookKey(hookID))
	pipe.SRem(ctx, typeSetKey(hook.Type), hookID)
	_, err = pipe.Exec(ctx)
	return err
}

// GetHook retrieves a hook by ID.
func (m *redisHookManager) GetHook(ctx context.Context, hookID string) (*Hook, error) {
	data, err := m.client.Get(ctx, hookKey(hookID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("hook not found: %s", hookID)
		}
		return nil, err
	}

	var hook Hook
	if err := json.Unmarshal(data, &hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hook: %w", err)
	}
	return &hook, nil
}

// ListHooks retrieves all hooks of one type. Entries whose record has gone
// missing are skipped rather than failing the listing.
func (m *redisHookManager) ListHooks(ctx context.Context, hookType HookType) ([]*Hook, error) {
	hookIDs, err := m.client.SMembers(ctx, typeSetKey(hookType)).Result()
	if err != nil {
		return nil, err
	}

	hooks := make([]*Hook, 0, len(hookIDs))
	for _, id := range hookIDs {
		hook, err := m.GetHook(ctx, id)
		if err != nil {
			continue
		}
		hooks = append(hooks, hook)
	}
	return hooks, nil
}

// ExecutePreHooks fires every active pre-processing hook for a document.
func (m *redisHookManager) ExecutePreHooks(ctx context.Context, documentID string, data interface{}) error {
	hooks, err := m.ListHooks(ctx, PreProcessing)
	if err != nil {
		return err
	}
	return m.fireHooks(ctx, hooks, PreProcessing, documentID, data)
}

// ExecutePostHooks fires every active post-processing hook for a document.
func (m *redisHookManager) ExecutePostHooks(ctx context.Context, documentID string, data interface{}) error {
	hooks, err := m.ListHooks(ctx, PostProcessing)
	if err != nil {
		return err
	}
	return m.fireHooks(ctx, hooks, PostProcessing, documentID, data)
}

// fireHooks dispatches one payload to every active hook. The queue path is
// preferred so hook retries survive a process restart; when the queue is
// absent or rejects the task the hook runs on a local goroutine instead.
func (m *redisHookManager) fireHooks(ctx context.Context, hooks []*Hook, hookType HookType, documentID string, data interface{}) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal hook data: %w", err)
	}

	payload := HookPayload{
		DocumentID: documentID,
		HookType:   hookType,
		Timestamp:  time.Now(),
		Data:       dataBytes,
	}

	for _, hook := range hooks {
		if !hook.Active {
			continue
		}

		if m.queue != nil {
			if err := m.enqueueHookTask(ctx, hook, payload); err == nil {
				continue
			} else {
				logrus.WithFields(logrus.Fields{
					"hook_id": hook.ID,
					"error":   err,
				}).Warn("failed to enqueue hook task, executing in-process")
			}
		}

		go func(h *Hook) {
			hookCtx, cancel := context.WithTimeout(context.Background(), time.Duration(h.Timeout)*time.Second)
			defer cancel()

			if err := m.executeHook(hookCtx, h, payload); err != nil {
				notification.NotifyError(fmt.Errorf("hook %s (%s) failed: %w", h.ID, h.Type, err))
			}
		}(hook)
	}
	return nil
}

// enqueueHookTask hands one hook execution to the workers via the hook
// queue. The hook's own retry budget becomes the task's max retry count.
func (m *redisHookManager) enqueueHookTask(ctx context.Context, hook *Hook, payload HookPayload) error {
	taskPayload, err := json.Marshal(HookTaskPayload{
		Hook:       hook,
		Payload:    payload,
		DocumentID: payload.DocumentID,
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(m.queueName, taskPayload,
		asynq.Queue(m.queueName),
		asynq.MaxRetry(hook.RetryCount),
	)
	_, err = m.queue.EnqueueContext(ctx, task)
	return err
}

func validateHook(hook *Hook) error {
	if hook.URL == "" {
		return fmt.Errorf("hook URL is required")
	}
	if hook.Type != PreProcessing && hook.Type != PostProcessing {
		return fmt.Errorf("invalid hook type: %s", hook.Type)
	}
	if hook.Timeout <= 0 {
		hook.Timeout = 30
	}
	if hook.RetryCount < 0 {
		hook.RetryCount = 3
	}
	return nil
}
