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
	"embed"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/docpipehq/docpipe/config"
	"github.com/docpipehq/docpipe/database"
	"github.com/docpipehq/docpipe/internal/admission"
	"github.com/docpipehq/docpipe/internal/breaker"
	"github.com/docpipehq/docpipe/internal/cache"
	"github.com/docpipehq/docpipe/internal/hooks"
	"github.com/docpipehq/docpipe/internal/notification"
	redis_db "github.com/docpipehq/docpipe/internal/redis-db"
	"github.com/redis/go-redis/v9"
)

var tracer = otel.Tracer("docpipe.documents")

// Docpipe represents the main struct for the Docpipe application.
type Docpipe struct {
	queue         *Queue
	redis         redis.UniversalClient
	datasource    database.IDataSource
	cache         cache.Cache
	dispatcher    *Dispatcher
	notifications *Dispatcher
	breaker       *breaker.Breaker
	admission     *admission.Controller
	registry      *TransientRegistry
	extractor     ContentExtractor
	classifier    Classifier
	inflight      sync.Map
	Hooks         hooks.HookManager
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewDocpipe initializes a new instance of Docpipe with the provided database datasource.
// It fetches the configuration and initializes the Redis client, cache, worker pools,
// circuit breaker, admission controller and queue.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
//
// Returns:
// - *Docpipe: A pointer to the newly created Docpipe instance.
// - error: An error if any of the initialization steps fail.
func NewDocpipe(db database.IDataSource) (*Docpipe, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	d := &Docpipe{
		queue:      newQueue,
		redis:      redisClient.Client(),
		datasource: db,
		cache:      newCache,
		breaker: breaker.New(
			configuration.CircuitBreaker.WindowSize,
			configuration.CircuitBreaker.MinSamples,
			configuration.CircuitBreaker.FailureThresholdPercent,
		),
		admission:  admission.NewController(admission.DefaultLimits()),
		registry:   NewTransientRegistry(),
		extractor:  NewTextExtractor(configuration.Extraction.Engine),
		classifier: NewOllamaClassifier(configuration.Classification),
		Hooks:      hooks.NewHookManager(redisClient.Client(), newQueue.Client, configuration.Queue.HookQueue),
	}

	// Pipeline pool runs submitter-blocking; notification pool sheds load.
	d.dispatcher = NewDispatcher(configuration.Processing.Workers, configuration.Processing.QueueSize, CallerRuns)
	d.notifications = NewDispatcher(configuration.Processing.NotificationWorkers, configuration.Processing.NotificationQueueSize, Discard)

	// System errors surface to webhook subscribers alongside Slack.
	notification.RegisterWebhookSender(func(event string, payload interface{}) error {
		return SendWebhook(NewWebhook{Event: event, Payload: payload})
	})

	return d, nil
}

// Breaker exposes the processing circuit breaker for status reporting.
func (d *Docpipe) Breaker() *breaker.Breaker {
	return d.breaker
}

// Admission exposes the per-class admission controller.
func (d *Docpipe) Admission() *admission.Controller {
	return d.admission
}

// Shutdown drains the worker pools. Pending pipeline tasks are allowed the
// given grace period to finish.
func (d *Docpipe) Shutdown(grace time.Duration) {
	d.dispatcher.Stop(grace)
	d.notifications.Stop(grace)
}
