package worker

const (
	QueueMemory   = "memory"
	QueueRedpanda = "redpanda"

	defaultQueueCapacity = 64
)

type Config struct {
	NumWorkers    int    `yaml:"-"`
	Queue         string `yaml:"queue"`
	QueueCapacity int    `yaml:"queue_capacity"`
}

func (c Config) withDefaults() Config {
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.Queue == "" {
		c.Queue = QueueMemory
	}
	return c
}
