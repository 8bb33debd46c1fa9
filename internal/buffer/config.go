package buffer

import "time"

const (
	defaultSizeLimit = 1 << 20
	defaultTimeLimit = 10 * time.Second
)

type Config struct {
	SizeLimit int           `yaml:"size_limit"`
	TimeLimit time.Duration `yaml:"time_limit"`
}

func (c Config) withDefaults() Config {
	if c.SizeLimit <= 0 {
		c.SizeLimit = defaultSizeLimit
	}
	if c.TimeLimit <= 0 {
		c.TimeLimit = defaultTimeLimit
	}
	return c
}
