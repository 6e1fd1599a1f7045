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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// hookResponseLimit caps how much of a hook endpoint's reply is read.
const hookResponseLimit = 64 * 1024

// executeHook POSTs the payload to the hook endpoint and stamps the outcome
// onto the stored hook record. Retries are the queue's job; this performs a
// single attempt bounded by the hook's own timeout.
func (m *redisHookManager) executeHook(ctx context.Context, hook *Hook, payload HookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal hook payload: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"hook_id":     hook.ID,
		"hook_url":    hook.URL,
		"hook_type":   hook.Type,
		"document_id": payload.DocumentID,
	}).Info("executing document hook")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build hook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hook-Id", hook.ID)
	req.Header.Set("X-Hook-Type", string(hook.Type))

	client := &http.Client{Timeout: time.Duration(hook.Timeout) * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		_ = m.recordHookRun(ctx, hook, false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("hook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, hookResponseLimit))
	if err != nil {
		_ = m.recordHookRun(ctx, hook, false)
		return fmt.Errorf("failed to read hook response: %w", err)
	}

	result := evaluateHookResponse(resp.StatusCode, respBody)
	_ = m.recordHookRun(ctx, hook, result == nil)
	if result != nil {
		return result
	}

	logrus.WithFields(logrus.Fields{
		"hook_id":     hook.ID,
		"hook_type":   hook.Type,
		"status_code": resp.StatusCode,
	}).Info("document hook executed")
	return nil
}

// evaluateHookResponse decides whether a hook call succeeded. Endpoints may
// answer with an empty or non-JSON body, in which case any 2xx counts as
// success. A JSON body is interpreted as a HookResponse and must report
// success explicitly.
func evaluateHookResponse(status int, body []byte) error {
	if len(body) == 0 || !json.Valid(body) {
		if status >= 200 && status < 300 {
			return nil
		}
		return fmt.Errorf("hook returned status %d: %s", status, string(body))
	}

	var parsed HookResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if status >= 400 {
			return fmt.Errorf("hook returned malformed error response (status %d): %w", status, err)
		}
		return nil
	}
	if !parsed.Success {
		return fmt.Errorf("hook reported failure: %s", parsed.Message)
	}
	return nil
}

// recordHookRun stamps the last run time and outcome onto the stored hook.
func (m *redisHookManager) recordHookRun(ctx context.Context, hook *Hook, success bool) error {
	hook.LastRun = time.Now()
	hook.LastSuccess = success

	data, err := json.Marshal(hook)
	if err != nil {
		return fmt.Errorf("failed to marshal hook: %w", err)
	}
	return m.client.Set(ctx, hookKey(hook.ID), data, 0).Err()
}
