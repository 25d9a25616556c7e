package queue

import (
	"fmt"
	"log/slog"
)

const (
	DefaultCapacity = 100
	DefaultWorkers  = 4
)

type Config struct {
	Type     string      `yaml:"type" validate:"oneof=memory redis"`
	Capacity int         `yaml:"capacity" validate:"gte=0"`
	Workers  int         `yaml:"workers" validate:"gte=0"`
	Redis    RedisConfig `yaml:"redis"`
	// DisableEmbeddedWorkers leaves consumption to separate worker processes.
	DisableEmbeddedWorkers bool `yaml:"disableEmbeddedWorkers"`
}

// NewQueue creates the configured queue.
func NewQueue(cfg Config) (Queue, error) {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	switch cfg.Type {
	case "memory", "":
		slog.Info("task queue ready", "type", "memory", "capacity", capacity)
		return NewMemoryQueue(capacity), nil
	case "redis":
		q, err := NewRedisQueue(cfg.Redis, capacity)
		if err != nil {
			return nil, err
		}
		slog.Info("task queue ready", "type", "redis", "addr", cfg.Redis.Addr, "capacity", capacity)
		return q, nil
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Type)
	}
}
