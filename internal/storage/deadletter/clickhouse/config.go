package clickhouse

import "time"

type Config struct {
	Addr        string        `yaml:"addr"`
	DB          string        `yaml:"db"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Debug       bool          `yaml:"debug"`
}

// Enabled reports whether a dead-letter archive is configured.
func (c Config) Enabled() bool {
	return c.Addr != ""
}
