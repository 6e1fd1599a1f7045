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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newTestManager(t *testing.T) *redisHookManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &redisHookManager{client: client}
}

func TestRegisterHookAppliesDefaults(t *testing.T) {
	m := newTestManager(t)

	hook := &Hook{URL: "https://example.com/pre", Type: PreProcessing, Active: true}
	err := m.RegisterHook(context.Background(), hook)
	assert.NoError(t, err)
	assert.NotEmpty(t, hook.ID)

	stored, err := m.GetHook(context.Background(), hook.ID)
	assert.NoError(t, err)
	assert.Equal(t, 30, stored.Timeout)
	assert.Equal(t, PreProcessing, stored.Type)
}

func TestRegisterHookRejectsMissingURL(t *testing.T) {
	m := newTestManager(t)

	err := m.RegisterHook(context.Background(), &Hook{Type: PreProcessing})
	assert.EqualError(t, err, "hook URL is required")
}

func TestListHooksSeparatesTypes(t *testing.T) {
	m := newTestManager(t)

	pre := &Hook{URL: "https://example.com/pre", Type: PreProcessing, Active: true}
	post := &Hook{URL: "https://example.com/post", Type: PostProcessing, Active: true}
	assert.NoError(t, m.RegisterHook(context.Background(), pre))
	assert.NoError(t, m.RegisterHook(context.Background(), post))

	preHooks, err := m.ListHooks(context.Background(), PreProcessing)
	assert.NoError(t, err)
	assert.Len(t, preHooks, 1)
	assert.Equal(t, pre.ID, preHooks[0].ID)

	postHooks, err := m.ListHooks(context.Background(), PostProcessing)
	assert.NoError(t, err)
	assert.Len(t, postHooks, 1)
	assert.Equal(t, post.ID, postHooks[0].ID)
}

func TestDeleteHookRemovesIndexEntry(t *testing.T) {
	m := newTestManager(t)

	hook := &Hook{URL: "https://example.com/pre", Type: PreProcessing, Active: true}
	assert.NoError(t, m.RegisterHook(context.Background(), hook))
	assert.NoError(t, m.DeleteHook(context.Background(), hook.ID))

	_, err := m.GetHook(context.Background(), hook.ID)
	assert.Error(t, err)

	hooks, err := m.ListHooks(context.Background(), PreProcessing)
	assert.NoError(t, err)
	assert.Empty(t, hooks)
}

func TestExecutePostHooksDeliversPayload(t *testing.T) {
	m := newTestManager(t)

	received := make(chan HookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Hook-Id"))
		assert.Equal(t, string(PostProcessing), r.Header.Get("X-Hook-Type"))

		var payload HookPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook := &Hook{URL: server.URL, Type: PostProcessing, Active: true, Timeout: 5}
	assert.NoError(t, m.RegisterHook(context.Background(), hook))

	err := m.ExecutePostHooks(context.Background(), "doc_123", map[string]string{"status": "COMPLETED"})
	assert.NoError(t, err)

	select {
	case payload := <-received:
		assert.Equal(t, "doc_123", payload.DocumentID)
		assert.Equal(t, PostProcessing, payload.HookType)
	case <-time.After(2 * time.Second):
		t.Fatal("hook endpoint was never called")
	}

	// The run outcome lands on the stored hook record.
	assert.Eventually(t, func() bool {
		stored, err := m.GetHook(context.Background(), hook.ID)
		return err == nil && stored.LastSuccess && !stored.LastRun.IsZero()
	}, 2*time.Second, 20*time.Millisecond)
}

func TestExecutePreHooksSkipsInactive(t *testing.T) {
	m := newTestManager(t)

	called := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called <- struct{}{}
	}))
	defer server.Close()

	hook := &Hook{URL: server.URL, Type: PreProcessing, Active: false, Timeout: 5}
	assert.NoError(t, m.RegisterHook(context.Background(), hook))
	assert.NoError(t, m.ExecutePreHooks(context.Background(), "doc_123", nil))

	select {
	case <-called:
		t.Fatal("inactive hook must not be executed")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEvaluateHookResponse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"2xx empty body", http.StatusOK, "", false},
		{"2xx non-JSON body", http.StatusAccepted, "ok", false},
		{"5xx empty body", http.StatusInternalServerError, "", true},
		{"JSON success", http.StatusOK, `{"success":true,"message":"done"}`, false},
		{"JSON failure", http.StatusOK, `{"success":false,"message":"nope"}`, true},
		{"4xx malformed JSON", http.StatusBadRequest, `{"success":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := evaluateHookResponse(tt.status, []byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProcessHookTaskExecutesCarriedHook(t *testing.T) {
	m := newTestManager(t)

	called := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	payload, err := json.Marshal(HookTaskPayload{
		Hook:       &Hook{ID: "hook_1", URL: server.URL, Type: PostProcessing, Active: true, Timeout: 5},
		Payload:    HookPayload{DocumentID: "doc_123", HookType: PostProcessing, Timestamp: time.Now()},
		DocumentID: "doc_123",
	})
	assert.NoError(t, err)

	err = m.ProcessHookTask(context.Background(), asynq.NewTask("new:hook", payload))
	assert.NoError(t, err)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("queued hook task never reached the endpoint")
	}
}

func TestProcessHookTaskRejectsMissingHook(t *testing.T) {
	m := newTestManager(t)

	payload, err := json.Marshal(HookTaskPayload{DocumentID: "doc_123"})
	assert.NoError(t, err)

	err = m.ProcessHookTask(context.Background(), asynq.NewTask("new:hook", payload))
	assert.Error(t, err)
}
