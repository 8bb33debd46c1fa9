package delivery

import "time"

const (
	defaultMethod  = "PUT"
	defaultTimeout = 10 * time.Second
)

type Config struct {
	RequestURL    string        `yaml:"request_url"`
	MethodType    string        `yaml:"method_type"`
	BatchDelivery bool          `yaml:"batch_delivery"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryMax      int           `yaml:"retry_max"`
	RetryWaitMin  time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax  time.Duration `yaml:"retry_wait_max"`
	Auth          AuthConfig    `yaml:"auth"`
}

type AuthConfig struct {
	Token        string   `yaml:"token"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
	CacheToken   bool     `yaml:"cache_token"`
}

func (c Config) withDefaults() Config {
	if c.MethodType == "" {
		c.MethodType = defaultMethod
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}
