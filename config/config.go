/*
Copyright 2024 Parley Labs Authors.

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
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"PARLEY_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"PARLEY_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PARLEY_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"PARLEY_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"PARLEY_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"PARLEY_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PARLEY_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"PARLEY_REDIS_DNS"`
}

// PipelineConfig points the execution pipeline at the generation backend.
// The call timeout bounds the backend request so a hung call cannot hold a
// lease for its full duration.
type PipelineConfig struct {
	GenerationUrl        string `json:"generation_url" envconfig:"PARLEY_GENERATION_URL"`
	GenerationTimeoutSec int    `json:"generation_timeout_sec" envconfig:"PARLEY_GENERATION_TIMEOUT_SEC"`
	MaxTraceEntries      int    `json:"max_trace_entries" envconfig:"PARLEY_MAX_TRACE_ENTRIES"`
}

// WorkerConfig tunes the lease protocol loop. All values must be positive;
// no core logic depends on the specific numbers.
type WorkerConfig struct {
	LeaseDurationSec    int  `json:"lease_duration_sec" envconfig:"PARLEY_LEASE_DURATION_SEC"`
	PollIntervalSec     int  `json:"poll_interval_sec" envconfig:"PARLEY_POLL_INTERVAL_SEC"`
	HeartbeatEveryTicks int  `json:"heartbeat_every_ticks" envconfig:"PARLEY_HEARTBEAT_EVERY_TICKS"`
	Inline              bool `json:"inline" envconfig:"PARLEY_WORKER_INLINE"`
}

type HubConfig struct {
	MaxConnectionsPerUser int `json:"max_connections_per_user" envconfig:"PARLEY_HUB_MAX_CONNECTIONS_PER_USER"`
	PingIntervalSec       int `json:"ping_interval_sec" envconfig:"PARLEY_HUB_PING_INTERVAL_SEC"`
}

// TopologyConfig drives the worker-to-API startup handshake.
type TopologyConfig struct {
	ApiUrl        string `json:"api_url" envconfig:"PARLEY_TOPOLOGY_API_URL"`
	InternalToken string `json:"internal_token" envconfig:"PARLEY_INTERNAL_TOKEN"`
	MaxAttempts   int    `json:"max_attempts" envconfig:"PARLEY_TOPOLOGY_MAX_ATTEMPTS"`
	RetryDelaySec int    `json:"retry_delay_sec" envconfig:"PARLEY_TOPOLOGY_RETRY_DELAY_SEC"`
}

type QueueConfig struct {
	WebhookQueue   string `json:"webhook_queue" envconfig:"PARLEY_QUEUE_WEBHOOK"`
	MonitoringPort string `json:"monitoring_port" envconfig:"PARLEY_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PARLEY_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PARLEY_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PARLEY_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
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
	ProjectName     string           `json:"project_name" envconfig:"PARLEY_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"PARLEY_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Pipeline        PipelineConfig   `json:"pipeline"`
	Worker          WorkerConfig     `json:"worker"`
	Hub             HubConfig        `json:"hub"`
	Topology        TopologyConfig   `json:"topology"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
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
	err = envconfig.Process("parley", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called parley.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Parley Server"
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

	// Lease protocol defaults. Only positivity matters to the core logic.
	if cnf.Worker.LeaseDurationSec <= 0 {
		cnf.Worker.LeaseDurationSec = 60
	}
	if cnf.Worker.PollIntervalSec <= 0 {
		cnf.Worker.PollIntervalSec = 2
	}
	if cnf.Worker.HeartbeatEveryTicks <= 0 {
		cnf.Worker.HeartbeatEveryTicks = 15
	}

	if cnf.Hub.MaxConnectionsPerUser <= 0 {
		cnf.Hub.MaxConnectionsPerUser = 3
	}
	if cnf.Hub.PingIntervalSec <= 0 {
		cnf.Hub.PingIntervalSec = 30
	}

	if cnf.Topology.MaxAttempts <= 0 {
		cnf.Topology.MaxAttempts = 5
	}
	if cnf.Topology.RetryDelaySec <= 0 {
		cnf.Topology.RetryDelaySec = 2
	}
	if cnf.Topology.ApiUrl == "" {
		cnf.Topology.ApiUrl = "http://localhost:" + cnf.Server.Port
	}

	if cnf.Pipeline.GenerationTimeoutSec <= 0 {
		cnf.Pipeline.GenerationTimeoutSec = 30
	}
	if cnf.Pipeline.MaxTraceEntries <= 0 {
		cnf.Pipeline.MaxTraceEntries = 50
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5003"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
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

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
