// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package config holds the configuration of the sagamatch workers.
//
// A Config is read with viper from a YAML file and SAGAMATCH_* environment
// variables, e.g. SAGAMATCH_LEASE_DURATION=90s overrides lease.duration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	serrors "github.com/tochemey/sagamatch/errors"
	"github.com/tochemey/sagamatch/internal/validation"
	"github.com/tochemey/sagamatch/log"
	"github.com/tochemey/sagamatch/notification"
)

// EnvPrefix prefixes the environment variables read by Load.
const EnvPrefix = "SAGAMATCH"

// Storage backends
const (
	StorageMemory = "memory"
	StorageNATS   = "nats"
	StorageBolt   = "bolt"
	StorageRedis  = "redis"
	StorageEtcd   = "etcd"
)

// Queue backends
const (
	QueueMemory = "memory"
	QueueNATS   = "nats"
)

// Config is the configuration of the match and result loops.
type Config struct {
	Storage   Storage   `mapstructure:"storage"`
	Queue     Queue     `mapstructure:"queue"`
	Poll      Poll      `mapstructure:"poll"`
	Lease     Lease     `mapstructure:"lease"`
	Retry     Retry     `mapstructure:"retry"`
	Sweep     Sweep     `mapstructure:"sweep"`
	Log       Log       `mapstructure:"log"`
	Telemetry Telemetry `mapstructure:"telemetry"`
}

// Storage selects and configures the tag store.
type Storage struct {
	// Backend is one of memory, nats, bolt, redis or etcd.
	Backend string `mapstructure:"backend"`
	// Container is the storage container the artifacts live in.
	Container string     `mapstructure:"container"`
	NATS      NATSStore  `mapstructure:"nats"`
	Bolt      BoltStore  `mapstructure:"bolt"`
	Redis     RedisStore `mapstructure:"redis"`
	Etcd      EtcdStore  `mapstructure:"etcd"`
}

// NATSStore configures the JetStream object and key value buckets.
type NATSStore struct {
	URL          string `mapstructure:"url"`
	ObjectBucket string `mapstructure:"object_bucket"`
	MetaBucket   string `mapstructure:"meta_bucket"`
}

// BoltStore configures the bbolt file.
type BoltStore struct {
	Path string `mapstructure:"path"`
}

// RedisStore configures the Redis connection.
type RedisStore struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// EtcdStore configures the etcd client.
type EtcdStore struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	Namespace   string        `mapstructure:"namespace"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Queue selects and configures the notification and result queues.
type Queue struct {
	// Backend is memory or nats.
	Backend string `mapstructure:"backend"`
	// URL is the NATS server URL of the nats backend.
	URL string `mapstructure:"url"`
	// Inbound names the notification queue.
	Inbound string `mapstructure:"inbound"`
	// Outbound names the result queue.
	Outbound          string        `mapstructure:"outbound"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	FetchWait         time.Duration `mapstructure:"fetch_wait"`
	// Encoding of the notification bodies: auto, json or base64.
	Encoding string `mapstructure:"encoding"`
	// MaxDeliveries dead-letters a notification delivered more often.
	MaxDeliveries int `mapstructure:"max_deliveries"`
}

// Poll configures both poll loops.
type Poll struct {
	BatchSize        int           `mapstructure:"batch_size"`
	IdleInterval     time.Duration `mapstructure:"idle_interval"`
	Concurrency      int           `mapstructure:"concurrency"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	DrainTimeout     time.Duration `mapstructure:"drain_timeout"`
}

// Lease configures the artifact leases. Leases are always bounded.
type Lease struct {
	Duration       time.Duration `mapstructure:"duration"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
}

// Retry bounds the retries of transient store and queue failures.
type Retry struct {
	Attempts     int           `mapstructure:"attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// Sweep configures the periodic requeue of pending artifacts by the run
// command.
type Sweep struct {
	// Interval between two sweeps. Zero disables the sweep.
	Interval time.Duration `mapstructure:"interval"`
	// Window is how far back a sweep looks for pending artifacts.
	Window time.Duration `mapstructure:"window"`
}

// Log configures the logger.
type Log struct {
	Level string `mapstructure:"level"`
	// File receives the logs instead of stdout when set.
	File string `mapstructure:"file"`
}

// Telemetry configures tracing.
type Telemetry struct {
	ServiceName string `mapstructure:"service_name"`
	// Stdout exports the spans to stdout.
	Stdout bool `mapstructure:"stdout"`
}

// defaults lists every key with its default value. Registering all keys also
// lets viper resolve them from the environment.
var defaults = map[string]any{
	"storage.backend":            StorageMemory,
	"storage.container":          "sagas",
	"storage.nats.url":           "",
	"storage.nats.object_bucket": "sagamatch-blobs",
	"storage.nats.meta_bucket":   "sagamatch-meta",
	"storage.bolt.path":          "sagamatch.db",
	"storage.redis.addr":         "",
	"storage.redis.password":     "",
	"storage.redis.db":           0,
	"storage.redis.prefix":       "sagamatch:",
	"storage.etcd.endpoints":     []string{},
	"storage.etcd.namespace":     "/sagamatch",
	"storage.etcd.username":      "",
	"storage.etcd.password":      "",
	"storage.etcd.dial_timeout":  5 * time.Second,
	"queue.backend":              QueueMemory,
	"queue.url":                  "",
	"queue.inbound":              "new-saga",
	"queue.outbound":             "completed-saga",
	"queue.visibility_timeout":   30 * time.Second,
	"queue.fetch_wait":           2 * time.Second,
	"queue.encoding":             string(notification.EncodingAuto),
	"queue.max_deliveries":       5,
	"poll.batch_size":            10,
	"poll.idle_interval":         8 * time.Second,
	"poll.concurrency":           1,
	"poll.operation_timeout":     10 * time.Second,
	"poll.drain_timeout":         30 * time.Second,
	"lease.duration":             60 * time.Second,
	"lease.release_timeout":      5 * time.Second,
	"retry.attempts":             3,
	"retry.initial_delay":        100 * time.Millisecond,
	"retry.max_delay":            time.Second,
	"sweep.interval":             time.Duration(0),
	"sweep.window":               15 * time.Minute,
	"log.level":                  log.InfoLevel.String(),
	"log.file":                   "",
	"telemetry.service_name":     "sagamatch",
	"telemetry.stdout":           false,
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Default returns the configuration holding only default values.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	config := new(Config)
	// the defaults always decode
	_ = v.Unmarshal(config)
	return config
}

// Load reads the configuration from v, the environment and the defaults, in
// that order of precedence after flags bound to v. The result is sanitized
// and validated.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	config := new(Config)
	if err := v.Unmarshal(config); err != nil {
		return nil, serrors.NewErrInvalidConfig(fmt.Errorf("failed to decode configuration: %w", err))
	}

	config.Sanitize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFile reads the YAML file at path then calls Load.
func LoadFile(v *viper.Viper, path string) (*Config, error) {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}
	return Load(v)
}

// Sanitize normalizes free form values.
func (c *Config) Sanitize() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	c.Queue.Encoding = strings.ToLower(strings.TrimSpace(c.Queue.Encoding))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))

	endpoints := c.Storage.Etcd.Endpoints[:0]
	for _, endpoint := range c.Storage.Etcd.Endpoints {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			endpoints = append(endpoints, endpoint)
		}
	}
	c.Storage.Etcd.Endpoints = endpoints
}

// Validate reports every invalid value at once. The error wraps
// errors.ErrInvalidConfig.
func (c *Config) Validate() error {
	_, levelErr := log.ParseLevel(c.Log.Level)

	chain := validation.New(validation.AllErrors()).
		AddValidator(validation.NewOneOfValidator("storage.backend", c.Storage.Backend,
			StorageMemory, StorageNATS, StorageBolt, StorageRedis, StorageEtcd)).
		AddValidator(validation.NewEmptyStringValidator("storage.container", c.Storage.Container)).
		AddValidator(validation.NewOneOfValidator("queue.backend", c.Queue.Backend, QueueMemory, QueueNATS)).
		AddValidator(validation.NewEmptyStringValidator("queue.inbound", c.Queue.Inbound)).
		AddValidator(validation.NewEmptyStringValidator("queue.outbound", c.Queue.Outbound)).
		AddAssertion(c.Queue.Inbound != c.Queue.Outbound, "queue.inbound and queue.outbound must differ").
		AddValidator(validation.NewPositiveDurationValidator("queue.visibility_timeout", c.Queue.VisibilityTimeout)).
		AddValidator(validation.NewPositiveDurationValidator("queue.fetch_wait", c.Queue.FetchWait)).
		AddValidator(validation.NewOneOfValidator("queue.encoding", c.Queue.Encoding, notification.Encodings...)).
		AddAssertion(c.Queue.MaxDeliveries > 0, "queue.max_deliveries must be greater than 0").
		AddAssertion(c.Poll.BatchSize > 0, "poll.batch_size must be greater than 0").
		AddAssertion(c.Poll.Concurrency > 0, "poll.concurrency must be greater than 0").
		AddValidator(validation.NewPositiveDurationValidator("poll.idle_interval", c.Poll.IdleInterval)).
		AddValidator(validation.NewPositiveDurationValidator("poll.operation_timeout", c.Poll.OperationTimeout)).
		AddValidator(validation.NewPositiveDurationValidator("poll.drain_timeout", c.Poll.DrainTimeout)).
		AddValidator(validation.NewPositiveDurationValidator("lease.duration", c.Lease.Duration)).
		AddValidator(validation.NewPositiveDurationValidator("lease.release_timeout", c.Lease.ReleaseTimeout)).
		AddAssertion(c.Retry.Attempts > 0, "retry.attempts must be greater than 0").
		AddValidator(validation.NewPositiveDurationValidator("retry.initial_delay", c.Retry.InitialDelay)).
		AddAssertion(c.Retry.MaxDelay >= c.Retry.InitialDelay, "retry.max_delay must not be lower than retry.initial_delay").
		AddAssertion(c.Sweep.Interval >= 0, "sweep.interval cannot be negative").
		AddValidator(validation.NewPositiveDurationValidator("sweep.window", c.Sweep.Window)).
		AddAssertion(levelErr == nil, fmt.Sprintf("log.level %q is not a log level", c.Log.Level)).
		AddValidator(validation.NewEmptyStringValidator("telemetry.service_name", c.Telemetry.ServiceName))

	switch c.Storage.Backend {
	case StorageNATS:
		chain.AddValidator(validation.NewEmptyStringValidator("storage.nats.url", c.Storage.NATS.URL))
	case StorageBolt:
		chain.AddValidator(validation.NewEmptyStringValidator("storage.bolt.path", c.Storage.Bolt.Path))
	case StorageRedis:
		chain.AddValidator(validation.NewEmptyStringValidator("storage.redis.addr", c.Storage.Redis.Addr))
	case StorageEtcd:
		chain.AddAssertion(len(c.Storage.Etcd.Endpoints) > 0, "storage.etcd.endpoints are required")
	}
	if c.Queue.Backend == QueueNATS {
		chain.AddValidator(validation.NewEmptyStringValidator("queue.url", c.Queue.URL))
	}

	if err := chain.Validate(); err != nil {
		return serrors.NewErrInvalidConfig(err)
	}
	return nil
}

// Encoding returns the notification encoding.
func (c *Config) Encoding() notification.Encoding {
	enc, err := notification.ParseEncoding(c.Queue.Encoding)
	if err != nil {
		return notification.EncodingAuto
	}
	return enc
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
