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

package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// ProcessHookTask is the asynq handler for queued hook executions. Returning
// an error lets asynq retry the task up to the hook's retry budget.
func (m *redisHookManager) ProcessHookTask(ctx context.Context, task *asynq.Task) error {
	var taskPayload HookTaskPayload
	if err := json.Unmarshal(task.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal hook task payload: %w", err)
	}
	if taskPayload.Hook == nil {
		return fmt.Errorf("hook task for document %s carries no hook definition", taskPayload.DocumentID)
	}

	logrus.WithFields(logrus.Fields{
		"hook_id":     taskPayload.Hook.ID,
		"hook_type":   taskPayload.Hook.Type,
		"document_id": taskPayload.DocumentID,
	}).Info("processing queued hook task")

	// The hook's own timeout bounds the call even when asynq grants the
	// task a longer deadline.
	hookCtx, cancel := context.WithTimeout(ctx, time.Duration(taskPayload.Hook.Timeout)*time.Second)
	defer cancel()

	return m.executeHook(hookCtx, taskPayload.Hook, taskPayload.Payload)
}
