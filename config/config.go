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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5401"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"DOCPIPE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"DOCPIPE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"DOCPIPE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"DOCPIPE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"DOCPIPE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"DOCPIPE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"DOCPIPE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"DOCPIPE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"DOCPIPE_REDIS_SKIP_TLS_VERIFY"`
}

// QueueConfig names the asynq queues used for the queue-backed webhook
// delivery substrate. TransportEnabled additionally routes document
// processing through the document queue so any worker instance can pick the
// pipeline up; when false documents run on the in-process pool only.
type QueueConfig struct {
	TransportEnabled bool   `json:"transport_enabled" envconfig:"DOCPIPE_QUEUE_TRANSPORT_ENABLED"`
	WebhookQueue     string `json:"webhook_queue" envconfig:"DOCPIPE_QUEUE_WEBHOOK"`
	DocumentQueue    string `json:"document_queue" envconfig:"DOCPIPE_QUEUE_DOCUMENT"`
	HookQueue        string `json:"hook_queue" envconfig:"DOCPIPE_QUEUE_HOOK"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"DOCPIPE_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"DOCPIPE_QUEUE_MONITORING_PORT"`
}

// RateLimitConfig is the coarse instance-wide limit applied by the HTTP
// middleware. The per-class admission controller sits behind it.
type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"DOCPIPE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"DOCPIPE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"DOCPIPE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

// ProcessingConfig sizes the in-process worker pools.
type ProcessingConfig struct {
	Workers               int `json:"workers" envconfig:"DOCPIPE_PROCESSING_WORKERS"`
	QueueSize             int `json:"queue_size" envconfig:"DOCPIPE_PROCESSING_QUEUE_SIZE"`
	NotificationWorkers   int `json:"notification_workers" envconfig:"DOCPIPE_NOTIFICATION_WORKERS"`
	NotificationQueueSize int `json:"notification_queue_size" envconfig:"DOCPIPE_NOTIFICATION_QUEUE_SIZE"`
	PollIntervalMs        int `json:"poll_interval_ms" envconfig:"DOCPIPE_PROCESSING_POLL_INTERVAL_MS"`
}

type CircuitBreakerConfig struct {
	WindowSize              int `json:"window_size" envconfig:"DOCPIPE_BREAKER_WINDOW_SIZE"`
	MinSamples              int `json:"min_samples" envconfig:"DOCPIPE_BREAKER_MIN_SAMPLES"`
	FailureThresholdPercent int `json:"failure_threshold_percent" envconfig:"DOCPIPE_BREAKER_FAILURE_THRESHOLD"`
}

// WebhookConfig drives outbound notification delivery and the retry sweeper.
type WebhookConfig struct {
	DeliveryTimeoutSec   int    `json:"delivery_timeout_sec" envconfig:"DOCPIPE_WEBHOOK_DELIVERY_TIMEOUT_SEC"`
	BaseDelaySec         int    `json:"base_delay_sec" envconfig:"DOCPIPE_WEBHOOK_BASE_DELAY_SEC"`
	MaxAttempts          int    `json:"max_attempts" envconfig:"DOCPIPE_WEBHOOK_MAX_ATTEMPTS"`
	DisableThreshold     int    `json:"disable_threshold" envconfig:"DOCPIPE_WEBHOOK_DISABLE_THRESHOLD"`
	SweepIntervalSec     int    `json:"sweep_interval_sec" envconfig:"DOCPIPE_WEBHOOK_SWEEP_INTERVAL_SEC"`
	SweepInitialDelaySec int    `json:"sweep_initial_delay_sec" envconfig:"DOCPIPE_WEBHOOK_SWEEP_INITIAL_DELAY_SEC"`
	RetentionDays        int    `json:"retention_days" envconfig:"DOCPIPE_WEBHOOK_RETENTION_DAYS"`
	CleanupSchedule      string `json:"cleanup_schedule" envconfig:"DOCPIPE_WEBHOOK_CLEANUP_SCHEDULE"`
}

type ClassificationConfig struct {
	Endpoint   string `json:"endpoint" envconfig:"DOCPIPE_CLASSIFIER_ENDPOINT"`
	Model      string `json:"model" envconfig:"DOCPIPE_CLASSIFIER_MODEL"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"DOCPIPE_CLASSIFIER_TIMEOUT_SEC"`
}

type ExtractionConfig struct {
	Engine string `json:"engine" envconfig:"DOCPIPE_EXTRACTION_ENGINE"`
}

type OtelGrafanaCloud struct {
	OtelExporterOtlpProtocol string `json:"OTEL_EXPORTER_OTLP_PROTOCOL" envconfig:"OTEL_EXPORTER_OTLP_PROTOCOL"`
	OtelExporterOtlpEndpoint string `json:"OTEL_EXPORTER_OTLP_ENDPOINT" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpHeaders  string `json:"OTEL_EXPORTER_OTLP_HEADERS" envconfig:"OTEL_EXPORTER_OTLP_HEADERS"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName      string               `json:"project_name" envconfig:"DOCPIPE_PROJECT_NAME"`
	EnableTelemetry  bool                 `json:"enable_telemetry" envconfig:"DOCPIPE_ENABLE_TELEMETRY"`
	Server           ServerConfig         `json:"server"`
	DataSource       DataSourceConfig     `json:"data_source"`
	Redis            RedisConfig          `json:"redis"`
	Queue            QueueConfig          `json:"queue"`
	RateLimit        RateLimitConfig      `json:"rate_limit"`
	Processing       ProcessingConfig     `json:"processing"`
	CircuitBreaker   CircuitBreakerConfig `json:"circuit_breaker"`
	Webhook          WebhookConfig        `json:"webhook"`
	Classification   ClassificationConfig `json:"classification"`
	Extraction       ExtractionConfig     `json:"extraction"`
	Notification     Notification         `json:"notification"`
	OtelGrafanaCloud OtelGrafanaCloud     `json:"otel_grafana_cloud"`
}

// SetGrafanaExporterEnvs exports the OTLP settings as process environment
// variables so the otel SDK exporter picks them up.
func SetGrafanaExporterEnvs() error {
	cnf, err := Fetch()
	if err != nil {
		return err
	}
	if err := os.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", cnf.OtelGrafanaCloud.OtelExporterOtlpProtocol); err != nil {
		return err
	}
	if err := os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cnf.OtelGrafanaCloud.OtelExporterOtlpEndpoint); err != nil {
		return err
	}
	if err := os.Setenv("OTEL_EXPORTER_OTLP_HEADERS", cnf.OtelGrafanaCloud.OtelExporterOtlpHeaders); err != nil {
		return err
	}
	return nil
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("docpipe", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called docpipe.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Docpipe Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.DocumentQueue == "" {
		cnf.Queue.DocumentQueue = "new:document"
	}
	if cnf.Queue.HookQueue == "" {
		cnf.Queue.HookQueue = "new:hook"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5403"
	}

	// Rate limiting is disabled when both RPS and burst are nil.
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	if cnf.Processing.Workers <= 0 {
		cnf.Processing.Workers = 16
	}
	if cnf.Processing.QueueSize <= 0 {
		cnf.Processing.QueueSize = 200
	}
	if cnf.Processing.NotificationWorkers <= 0 {
		cnf.Processing.NotificationWorkers = 8
	}
	if cnf.Processing.NotificationQueueSize <= 0 {
		cnf.Processing.NotificationQueueSize = 100
	}
	if cnf.Processing.PollIntervalMs <= 0 {
		cnf.Processing.PollIntervalMs = 500
	}

	if cnf.CircuitBreaker.WindowSize <= 0 {
		cnf.CircuitBreaker.WindowSize = 100
	}
	if cnf.CircuitBreaker.MinSamples <= 0 {
		cnf.CircuitBreaker.MinSamples = 10
	}
	if cnf.CircuitBreaker.FailureThresholdPercent <= 0 {
		cnf.CircuitBreaker.FailureThresholdPercent = 50
	}

	if cnf.Webhook.DeliveryTimeoutSec <= 0 {
		cnf.Webhook.DeliveryTimeoutSec = 10
	}
	if cnf.Webhook.BaseDelaySec <= 0 {
		cnf.Webhook.BaseDelaySec = 5
	}
	if cnf.Webhook.MaxAttempts <= 0 {
		cnf.Webhook.MaxAttempts = 10
	}
	if cnf.Webhook.DisableThreshold <= 0 {
		cnf.Webhook.DisableThreshold = 10
	}
	if cnf.Webhook.SweepIntervalSec <= 0 {
		cnf.Webhook.SweepIntervalSec = 30
	}
	if cnf.Webhook.SweepInitialDelaySec <= 0 {
		cnf.Webhook.SweepInitialDelaySec = 60
	}
	if cnf.Webhook.RetentionDays <= 0 {
		cnf.Webhook.RetentionDays = 30
	}
	if cnf.Webhook.CleanupSchedule == "" {
		cnf.Webhook.CleanupSchedule = "0 2 * * *"
	}

	if cnf.Classification.Endpoint == "" {
		cnf.Classification.Endpoint = "http://localhost:11434/api/generate"
	}
	if cnf.Classification.Model == "" {
		cnf.Classification.Model = "llama3"
	}
	if cnf.Classification.TimeoutSec <= 0 {
		cnf.Classification.TimeoutSec = 30
	}

	if cnf.Extraction.Engine == "" {
		cnf.Extraction.Engine = "docpipe-text"
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.validateAndAddDefaults() // nolint:errcheck
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
