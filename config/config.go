/*
Copyright 2024 Railrelay Authors.

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

// Retry delay policies for RETRYABLE completions.
const (
	BackoffPolicyFixed       = "fixed"
	BackoffPolicyExponential = "exponential"
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"RAILRELAY_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"RAILRELAY_REDIS_DNS"`
}

// OutboxConfig tunes the dispatch worker and the store protocol. Every
// field is adjustable from the environment without code changes.
type OutboxConfig struct {
	BatchSize              int    `json:"batch_size" envconfig:"RAILRELAY_OUTBOX_BATCH_SIZE"`
	PollIntervalMs         int    `json:"poll_interval_ms" envconfig:"RAILRELAY_OUTBOX_POLL_INTERVAL_MS"`
	MaxRetries             int    `json:"max_retries" envconfig:"RAILRELAY_OUTBOX_MAX_RETRIES"`
	LeaseSeconds           int    `json:"lease_seconds" envconfig:"RAILRELAY_OUTBOX_LEASE_SECONDS"`
	MaxConcurrency         int    `json:"max_concurrency" envconfig:"RAILRELAY_OUTBOX_MAX_CONCURRENCY"`
	DispatchTimeoutSeconds int    `json:"dispatch_timeout_seconds" envconfig:"RAILRELAY_OUTBOX_DISPATCH_TIMEOUT_SECONDS"`
	RetryDelaySeconds      int    `json:"retry_delay_seconds" envconfig:"RAILRELAY_OUTBOX_RETRY_DELAY_SECONDS"`
	BackoffPolicy          string `json:"backoff_policy" envconfig:"RAILRELAY_OUTBOX_BACKOFF_POLICY"`
}

// RepairConfig tunes the background lease and zombie repair workers.
type RepairConfig struct {
	LeaseRepairBatchSize   int `json:"lease_repair_batch_size" envconfig:"RAILRELAY_REPAIR_LEASE_BATCH_SIZE"`
	IntervalSeconds        int `json:"interval_seconds" envconfig:"RAILRELAY_REPAIR_INTERVAL_SECONDS"`
	ZombieThresholdSeconds int `json:"zombie_threshold_seconds" envconfig:"RAILRELAY_REPAIR_ZOMBIE_THRESHOLD_SECONDS"`
	ZombieBatchSize        int `json:"zombie_batch_size" envconfig:"RAILRELAY_REPAIR_ZOMBIE_BATCH_SIZE"`
}

type RailConfig struct {
	Url            string `json:"url" envconfig:"RAILRELAY_RAIL_URL"`
	AuthToken      string `json:"auth_token" envconfig:"RAILRELAY_RAIL_AUTH_TOKEN"`
	TimeoutSeconds int    `json:"timeout_seconds" envconfig:"RAILRELAY_RAIL_TIMEOUT_SECONDS"`
}

type FinancialCoreConfig struct {
	Url            string `json:"url" envconfig:"RAILRELAY_FINANCIAL_CORE_URL"`
	AuthToken      string `json:"auth_token" envconfig:"RAILRELAY_FINANCIAL_CORE_AUTH_TOKEN"`
	TimeoutSeconds int    `json:"timeout_seconds" envconfig:"RAILRELAY_FINANCIAL_CORE_TIMEOUT_SECONDS"`
}

type QueueConfig struct {
	RepairQueue string `json:"repair_queue" envconfig:"RAILRELAY_QUEUE_REPAIR"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string              `json:"project_name" envconfig:"RAILRELAY_PROJECT_NAME"`
	EnableTelemetry bool                `json:"enable_telemetry" envconfig:"RAILRELAY_ENABLE_TELEMETRY"`
	DataSource      DataSourceConfig    `json:"data_source"`
	Redis           RedisConfig         `json:"redis"`
	Outbox          OutboxConfig        `json:"outbox"`
	Repair          RepairConfig        `json:"repair"`
	Rail            RailConfig          `json:"rail"`
	FinancialCore   FinancialCoreConfig `json:"financial_core"`
	Queue           QueueConfig         `json:"queue"`
	Notification    Notification        `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("railrelay", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called railrelay.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Railrelay"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Outbox.BatchSize <= 0 {
		cnf.Outbox.BatchSize = 50
	}
	if cnf.Outbox.PollIntervalMs <= 0 {
		cnf.Outbox.PollIntervalMs = 500
	}
	if cnf.Outbox.MaxRetries <= 0 {
		cnf.Outbox.MaxRetries = 5
	}
	if cnf.Outbox.LeaseSeconds <= 0 {
		cnf.Outbox.LeaseSeconds = 30
	}
	if cnf.Outbox.MaxConcurrency <= 0 {
		cnf.Outbox.MaxConcurrency = 10
	}
	if cnf.Outbox.DispatchTimeoutSeconds <= 0 {
		cnf.Outbox.DispatchTimeoutSeconds = 30
	}
	if cnf.Outbox.RetryDelaySeconds <= 0 {
		cnf.Outbox.RetryDelaySeconds = 30
	}
	switch cnf.Outbox.BackoffPolicy {
	case BackoffPolicyFixed, BackoffPolicyExponential:
	case "":
		cnf.Outbox.BackoffPolicy = BackoffPolicyFixed
	default:
		log.Printf("Warning: unknown backoff policy %q, falling back to fixed", cnf.Outbox.BackoffPolicy)
		cnf.Outbox.BackoffPolicy = BackoffPolicyFixed
	}

	if cnf.Repair.LeaseRepairBatchSize <= 0 {
		cnf.Repair.LeaseRepairBatchSize = 100
	}
	if cnf.Repair.IntervalSeconds <= 0 {
		cnf.Repair.IntervalSeconds = 60
	}
	if cnf.Repair.ZombieThresholdSeconds <= 0 {
		cnf.Repair.ZombieThresholdSeconds = 120
	}
	if cnf.Repair.ZombieBatchSize <= 0 {
		cnf.Repair.ZombieBatchSize = 100
	}

	if cnf.Rail.TimeoutSeconds <= 0 {
		cnf.Rail.TimeoutSeconds = 30
	}
	if cnf.FinancialCore.TimeoutSeconds <= 0 {
		cnf.FinancialCore.TimeoutSeconds = 15
	}

	if cnf.Queue.RepairQueue == "" {
		cnf.Queue.RepairQueue = "outbox_repair_queue"
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
