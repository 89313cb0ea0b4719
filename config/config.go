package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	ShipSync ShipSyncConfig `yaml:"shipsync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	ShipmentSyncedTopic string `yaml:"shipment_synced_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type CarrierConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type ShipSyncConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	SwaggerPath        string `yaml:"swagger_path"`

	CurrentStatusTTLSeconds int `yaml:"current_status_ttl_seconds"`

	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerCallTimeoutSeconds  int    `yaml:"worker_call_timeout_seconds"`

	WorkerRateLimitPerMinute      int `yaml:"worker_rate_limit_per_minute"`
	WorkerRateLimitUPSPerMinute   int `yaml:"worker_rate_limit_ups_per_minute"`
	WorkerRateLimitFedExPerMinute int `yaml:"worker_rate_limit_fedex_per_minute"`
	WorkerRateLimitDHLPerMinute   int `yaml:"worker_rate_limit_dhl_per_minute"`
	WorkerRateLimitUSPSPerMinute  int `yaml:"worker_rate_limit_usps_per_minute"`
	WorkerCooldownSeconds         int `yaml:"worker_cooldown_seconds"`

	// Pacing delay between consecutive shipments of the same carrier.
	PaceUPSSeconds   int `yaml:"pace_ups_seconds"`
	PaceFedExSeconds int `yaml:"pace_fedex_seconds"`
	PaceDHLSeconds   int `yaml:"pace_dhl_seconds"`
	PaceUSPSSeconds  int `yaml:"pace_usps_seconds"`

	// Failure backoff tiers. If not set, defaults are 5/15/45 minutes
	// and 2/6 hours.
	Backoff1Seconds        int `yaml:"backoff_1_seconds"`
	Backoff2Seconds        int `yaml:"backoff_2_seconds"`
	Backoff3Seconds        int `yaml:"backoff_3_seconds"`
	Backoff4Seconds        int `yaml:"backoff_4_seconds"`
	Backoff5Seconds        int `yaml:"backoff_5_seconds"`
	SuccessIntervalSeconds int `yaml:"success_interval_seconds"`

	UPS   CarrierConfig `yaml:"ups"`
	FedEx CarrierConfig `yaml:"fedex"`
	DHL   CarrierConfig `yaml:"dhl"`
	USPS  CarrierConfig `yaml:"usps"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
