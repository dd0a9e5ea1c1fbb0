// Copyright 2025 the Conductor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"strconv"
	"time"

	env "github.com/caarlos0/env/v11"
)

// Mode selects debug or release behavior for logging and diagnostics.
type Mode string

const (
	ModeDebug   Mode = "debug"
	ModeRelease Mode = "release"
)

// Config holds the complete application configuration
type Config struct {
	Service string `json:"service_name" env:"APP_NAME" envDefault:"conductor"`
	Version string `json:"version"      env:"VERSION"  envDefault:"v0.1.0"`
	Mode    Mode   `json:"mode"         env:"MODE"     envDefault:"debug"`
	// Namespace prefixes stream names so several deployments can share one
	// NATS cluster.
	Namespace string `json:"namespace" env:"NAMESPACE"`

	NATS      NATSConfig      `json:"nats"      envPrefix:"NATS_"`
	Server    ServerConfig    `json:"server"    envPrefix:"SERVER_"`
	Logger    LoggerConfig    `json:"logger"    envPrefix:"LOG_"`
	Authz     AuthzConfig     `json:"authz"     envPrefix:"AUTHZ_"`
	Saga      SagaConfig      `json:"saga"      envPrefix:"SAGA_"`
	Gateway   GatewayConfig   `json:"gateway"   envPrefix:"GATEWAY_"`
	Aggregate AggregateConfig `json:"aggregate" envPrefix:"AGGREGATE_"`
	Alerts    AlertsConfig    `json:"alerts"    envPrefix:"ALERTS_"`
}

type ServerConfig struct {
	Host string `json:"host" env:"HOST" envDefault:"localhost"`
	Port string `json:"port" env:"PORT" envDefault:"8080"`
}

// AuthzConfig tunes the tenant & permission context service.
type AuthzConfig struct {
	// DecisionTTL bounds how long a cached permission decision may be used.
	DecisionTTL time.Duration `json:"decision_ttl" env:"DECISION_TTL" envDefault:"30s"`
	// HighPrivilegeActions always bypass the decision cache.
	HighPrivilegeActions []string `json:"high_privilege_actions" env:"HIGH_PRIVILEGE_ACTIONS" envSeparator:"," envDefault:"tenant:delete,permission:grant"`
	// PostgresDSN selects the postgres-backed authorization store. Empty
	// selects the in-memory store (tests, local development).
	PostgresDSN string `json:"postgres_dsn" env:"POSTGRES_DSN"`
}

// SagaConfig tunes the coordinator worker pool.
type SagaConfig struct {
	Workers int `json:"workers" env:"WORKERS" envDefault:"8"`
	// AckWait is the JetStream redelivery window for one execution task.
	// Workers heartbeat at step boundaries, so it only needs to cover the
	// longest single step attempt.
	AckWait time.Duration `json:"ack_wait" env:"ACK_WAIT" envDefault:"2m"`
}

type GatewayConfig struct {
	// JWTSecret verifies HS256 bearer tokens carrying tenant and actor
	// claims. Empty disables bearer auth and requires explicit headers
	// (debug mode only).
	JWTSecret string `json:"-" env:"JWT_SECRET"`
	// RoutesPath points at the YAML routing table for the classifier.
	RoutesPath string `json:"routes_path" env:"ROUTES_PATH" envDefault:"routes.yaml"`
	// WatchRoutes reloads the routing table when the file changes.
	WatchRoutes bool `json:"watch_routes" env:"WATCH_ROUTES" envDefault:"true"`
}

type AggregateConfig struct {
	DefaultTTL time.Duration `json:"default_ttl" env:"DEFAULT_TTL" envDefault:"15s"`
}

type AlertsConfig struct {
	// MaxExecutionAge is advisory: executions older than this are flagged
	// to operators, never forcibly terminated.
	MaxExecutionAge time.Duration `json:"max_execution_age" env:"MAX_EXECUTION_AGE" envDefault:"24h"`
	SweepSchedule   string        `json:"sweep_schedule"    env:"SWEEP_SCHEDULE"    envDefault:"@every 1m"`
}

func LoadConfig() (*Config, error) {
	cfg := Config{
		NATS: NATSConfig{
			Host:          DefaultNATSHost,
			Port:          DefaultNATSPort,
			MaxReconnects: DefaultMaxReconnects,
			ReconnectWait: DefaultReconnectWait,
			DrainTimeout:  DefaultDrainTimeout,
			PingInterval:  DefaultPingInterval,
			MaxPingsOut:   DefaultMaxPingsOut,
			ClientName:    "conductor",
		},
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = fmt.Sprintf("nats://%s:%s", cfg.NATS.Host, cfg.NATS.Port)
	}

	return &cfg, nil
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("service name is required")
	}
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.NATS.Host == "" {
		return fmt.Errorf("NATS host is required")
	}
	if c.NATS.Port == "" {
		return fmt.Errorf("NATS port is required")
	}
	if _, err := strconv.Atoi(c.NATS.Port); err != nil {
		return fmt.Errorf("invalid NATS port %q: %w", c.NATS.Port, err)
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("NATS URL is required")
	}
	if c.NATS.MaxReconnects < -1 {
		return fmt.Errorf("NATS max reconnects must be >= -1")
	}
	if c.NATS.ReconnectWait <= 0 {
		return fmt.Errorf("NATS reconnect wait must be positive")
	}
	if c.NATS.DrainTimeout <= 0 {
		return fmt.Errorf("NATS drain timeout must be positive")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host is required")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid server port %q: %w", c.Server.Port, err)
	}
	if c.Saga.Workers <= 0 {
		return fmt.Errorf("saga workers must be positive")
	}
	if c.Authz.DecisionTTL <= 0 {
		return fmt.Errorf("authz decision TTL must be positive")
	}
	if c.Mode == ModeRelease && c.Gateway.JWTSecret == "" {
		return fmt.Errorf("gateway JWT secret is required in release mode")
	}
	return nil
}

func (c *Config) ServiceName() string {
	return c.Service
}

func (c *Config) GetVersion() string {
	return c.Version
}
