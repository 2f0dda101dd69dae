package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App      App      `yaml:"app"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Queue    Queue    `yaml:"queue"`
	Workers  Workers  `yaml:"workers"`
	Audit    Audit    `yaml:"audit"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"log-aggregator"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"aggregator_db"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"log-events"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"aggregator-ingest"`
}

type Queue struct {
	Key            string        `yaml:"key" env:"QUEUE_KEY" env-default:"event_queue"`
	DequeueTimeout time.Duration `yaml:"dequeue_timeout" env:"QUEUE_DEQUEUE_TIMEOUT" env-default:"5s"`
	UseInMemory    bool          `yaml:"use_in_memory" env:"USE_INMEMORY_QUEUE" env-default:"false"`
	MemoryCapacity int           `yaml:"memory_capacity" env:"QUEUE_MEMORY_CAPACITY" env-default:"4096"`
}

type Workers struct {
	Count    int           `yaml:"count" env:"WORKER_COUNT" env-default:"2"`
	Backoff  time.Duration `yaml:"backoff" env:"WORKER_BACKOFF" env-default:"1s"`
	Disabled bool          `yaml:"disabled" env:"DISABLE_WORKERS" env-default:"false"`
}

type Audit struct {
	Enabled bool `yaml:"enabled" env:"AUDIT_ENABLED" env-default:"false"`
}

func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		// Allow env vars to override config file
		cleanenv.ReadEnv(cfg)
	}

	return cfg, nil
}
