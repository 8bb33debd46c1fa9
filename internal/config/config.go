package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/leshachaplin/feedbackhook/internal/buffer"
	"github.com/leshachaplin/feedbackhook/internal/delivery"
	"github.com/leshachaplin/feedbackhook/internal/feedback"
	"github.com/leshachaplin/feedbackhook/internal/storage/deadletter/clickhouse"
	"github.com/leshachaplin/feedbackhook/internal/worker"
	"github.com/leshachaplin/feedbackhook/internal/worker/redpanda/consumer"
	"github.com/leshachaplin/feedbackhook/internal/worker/redpanda/producer"
)

const envPrefix = "FEEDBACKHOOK_"

// Config is the main config for the application
type Config struct {
	LogLevel   string `yaml:"log_level"`
	ServerAddr string `yaml:"server_addr"`

	Hook          Hook                  `yaml:"hook"`
	Delivery      delivery.Config       `yaml:"delivery"`
	Buffer        buffer.Config         `yaml:"buffer"`
	FieldMapping  feedback.FieldMapping `yaml:"field_mapping"`
	BatchWorker   worker.Config         `yaml:"batch_worker"`
	BatchProducer producer.Config       `yaml:"batch_producer"`
	BatchConsumer consumer.Config       `yaml:"batch_consumer"`
	ErrorProducer producer.Config       `yaml:"error_producer"`
	DeadLetters   clickhouse.Config     `yaml:"dead_letters"`
}

type Hook struct {
	// EventsToInclude is a comma separated list of event names.
	EventsToInclude string `yaml:"events_to_include"`
	// RequestHostPattern is a required regular expression the host of Delivery.RequestURL must match.
	RequestHostPattern string `yaml:"request_host_pattern"`
}

// Error is a configuration problem detected at startup.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load reads the YAML file at path, when given, and applies FEEDBACKHOOK_* environment overrides.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		"LOG_LEVEL":            &c.LogLevel,
		"SERVER_ADDR":          &c.ServerAddr,
		"EVENTS_TO_INCLUDE":    &c.Hook.EventsToInclude,
		"REQUEST_HOST_PATTERN": &c.Hook.RequestHostPattern,
		"REQUEST_URL":          &c.Delivery.RequestURL,
		"METHOD_TYPE":          &c.Delivery.MethodType,
		"AUTH_TOKEN":           &c.Delivery.Auth.Token,
		"AUTH_CLIENT_ID":       &c.Delivery.Auth.ClientID,
		"AUTH_CLIENT_SECRET":   &c.Delivery.Auth.ClientSecret,
		"AUTH_TOKEN_URL":       &c.Delivery.Auth.TokenURL,
	}
	for key, field := range overrides {
		if v, ok := lookup(envPrefix + key); ok {
			*field = v
		}
	}
}

// Validate reports the first configuration problem as an *Error.
func (c Config) Validate() error {
	if c.Hook.EventsToInclude == "" {
		return &Error{Field: "hook.events_to_include", Reason: "no events to include"}
	}

	u, err := url.Parse(c.Delivery.RequestURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &Error{Field: "delivery.request_url", Reason: fmt.Sprintf("%q is not an absolute http(s) url", c.Delivery.RequestURL)}
	}

	if c.Hook.RequestHostPattern == "" {
		return &Error{Field: "hook.request_host_pattern", Reason: "required"}
	}
	pattern, err := regexp.Compile(c.Hook.RequestHostPattern)
	if err != nil {
		return &Error{Field: "hook.request_host_pattern", Reason: err.Error()}
	}
	if !pattern.MatchString(u.Hostname()) {
		return &Error{
			Field:  "delivery.request_url",
			Reason: fmt.Sprintf("host %q does not match %q", u.Hostname(), c.Hook.RequestHostPattern),
		}
	}

	switch c.Delivery.MethodType {
	case "", http.MethodPut, http.MethodPost, http.MethodPatch:
	default:
		return &Error{Field: "delivery.method_type", Reason: fmt.Sprintf("unsupported method %q", c.Delivery.MethodType)}
	}

	if c.Delivery.Timeout < 0 {
		return &Error{Field: "delivery.timeout", Reason: "must not be negative"}
	}
	if c.Delivery.RetryMax < 0 {
		return &Error{Field: "delivery.retry_max", Reason: "must not be negative"}
	}
	if c.Buffer.SizeLimit < 0 {
		return &Error{Field: "buffer.size_limit", Reason: "must not be negative"}
	}
	if c.Buffer.TimeLimit < 0 {
		return &Error{Field: "buffer.time_limit", Reason: "must not be negative"}
	}

	switch c.BatchWorker.Queue {
	case "", worker.QueueMemory:
	case worker.QueueRedpanda:
		if len(c.BatchProducer.Brokers) == 0 || c.BatchProducer.Topic == "" {
			return &Error{Field: "batch_producer", Reason: "brokers and topic are required for the redpanda queue"}
		}
		if len(c.BatchConsumer.Brokers) == 0 || len(c.BatchConsumer.Topics) == 0 || c.BatchConsumer.ConsumerGroup == "" {
			return &Error{Field: "batch_consumer", Reason: "brokers, topics and consumer group are required for the redpanda queue"}
		}
	default:
		return &Error{Field: "batch_worker.queue", Reason: fmt.Sprintf("unknown queue %q", c.BatchWorker.Queue)}
	}

	if c.ErrorProducer.Topic != "" && len(c.ErrorProducer.Brokers) == 0 {
		return &Error{Field: "error_producer.brokers", Reason: "required when an error topic is set"}
	}

	return nil
}
