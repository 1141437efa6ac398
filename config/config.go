package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Redis         RedisConfig         `yaml:"redis"`
	CarparkFinder CarparkFinderConfig `yaml:"carparkfinder"`
	Feed          FeedConfig          `yaml:"feed"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN builds a postgres URL; ssl_mode defaults to "disable".
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.Username, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}

type KafkaConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	FeedSyncedTopicName string `yaml:"feed_synced_topic_name"`
	PublishMaxTries     int    `yaml:"publish_max_tries"`
}

// Addr is empty when Kafka is not configured.
func (k KafkaConfig) Addr() string {
	if k.Host == "" {
		return ""
	}
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr is empty when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type CarparkFinderConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CarparksCacheTTLSeconds int    `yaml:"carparks_cache_ttl_seconds"`

	// Refresh-on-read: the API attempts a feed sync before listing carparks,
	// at most this many times per minute across replicas. 0 disables it.
	RefreshOnReadPerMinute int `yaml:"refresh_on_read_per_minute"`

	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerInsertChunkSize     int    `yaml:"worker_insert_chunk_size"`
}

type FeedConfig struct {
	// Disabled turns every sync attempt into a no-op.
	Disabled bool `yaml:"disabled"`

	// Mode selects the upstream client: "ura" (default, requires AccessKey) or "fake".
	Mode      string `yaml:"mode"`
	BaseURL   string `yaml:"base_url"`
	AccessKey string `yaml:"access_key"`

	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	TokenValidityHours int     `yaml:"token_validity_hours"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"` // 0: default, <0: unlimited
	FakeSize           int     `yaml:"fake_size"`

	AvailabilityCooldownSeconds int `yaml:"availability_cooldown_seconds"`
	InformationCooldownSeconds  int `yaml:"information_cooldown_seconds"`
}

// Cooldowns returns the configured per-resource cooldowns; zero means "use the default".
func (f FeedConfig) Cooldowns() (availability, information time.Duration) {
	return time.Duration(f.AvailabilityCooldownSeconds) * time.Second,
		time.Duration(f.InformationCooldownSeconds) * time.Second
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

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyEnv lets secrets and the kill switch come from the environment instead of the file.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("FEED_ACCESS_KEY"); ok && v != "" {
		c.Feed.AccessKey = v
	}
	if v, ok := lookup("DATABASE_PASSWORD"); ok && v != "" {
		c.Database.Password = v
	}
	if v, ok := lookup("FEED_DISABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FEED_DISABLED %q: %w", v, err)
		}
		c.Feed.Disabled = b
	}
	return nil
}
