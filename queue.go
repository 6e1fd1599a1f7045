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
	"log"

	"github.com/hibiken/asynq"

	"github.com/docpipehq/docpipe/config"
	redis_db "github.com/docpipehq/docpipe/internal/redis-db"
	"github.com/docpipehq/docpipe/model"
)

// Queue wraps the asynq client used to hand documents and webhook events to
// the background workers.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// Enqueue enqueues a document to the Redis queue.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - document *model.Document: The document to be enqueued.
//
// Returns:
// - error: An error if the document could not be enqueued.
func (q *Queue) Enqueue(ctx context.Context, document *model.Document) error {
	ctx, span := tracer.Start(ctx, "Adding Document To Redis Queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(document)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(document.DocumentID),
		asynq.Queue(cfg.Queue.DocumentQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.DocumentQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued document: %+v", document.DocumentID)

	return nil
}

// GetDocumentFromQueue retrieves a pending document task from the queue by
// its ID. Returns nil when the document is not queued.
func (q *Queue) GetDocumentFromQueue(documentID string) (*model.Document, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	task, err := q.Inspector.GetTaskInfo(cfg.Queue.DocumentQueue, documentID)
	if err != nil || task == nil {
		return nil, nil
	}
	var doc model.Document
	if err := json.Unmarshal(task.Payload, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
