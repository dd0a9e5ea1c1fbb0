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
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Service: "test-service",
		Version: "v1.0.0",
		Mode:    ModeDebug,
		NATS: NATSConfig{
			Host:          "localhost",
			Port:          "4222",
			URL:           "nats://localhost:4222",
			MaxReconnects: 10,
			ReconnectWait: 2 * time.Second,
			DrainTimeout:  30 * time.Second,
			PingInterval:  2 * time.Minute,
			MaxPingsOut:   2,
			ClientName:    "test-client",
		},
		Server: ServerConfig{Host: "localhost", Port: "8080"},
		Saga:   SagaConfig{Workers: 4, AckWait: 2 * time.Minute},
		Authz:  AuthzConfig{DecisionTTL: 30 * time.Second},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.Service = "" },
			wantErr: true,
			errMsg:  "service name is required",
		},
		{
			name:    "missing version",
			mutate:  func(c *Config) { c.Version = "" },
			wantErr: true,
			errMsg:  "version is required",
		},
		{
			name:    "missing NATS host",
			mutate:  func(c *Config) { c.NATS.Host = "" },
			wantErr: true,
			errMsg:  "NATS host is required",
		},
		{
			name:    "invalid NATS port",
			mutate:  func(c *Config) { c.NATS.Port = "invalid" },
			wantErr: true,
			errMsg:  "invalid NATS port",
		},
		{
			name:    "missing NATS URL",
			mutate:  func(c *Config) { c.NATS.URL = "" },
			wantErr: true,
			errMsg:  "NATS URL is required",
		},
		{
			name:    "invalid NATS max reconnects",
			mutate:  func(c *Config) { c.NATS.MaxReconnects = -2 },
			wantErr: true,
			errMsg:  "NATS max reconnects must be >= -1",
		},
		{
			name:    "invalid NATS reconnect wait",
			mutate:  func(c *Config) { c.NATS.ReconnectWait = 0 },
			wantErr: true,
			errMsg:  "NATS reconnect wait must be positive",
		},
		{
			name:    "invalid NATS drain timeout",
			mutate:  func(c *Config) { c.NATS.DrainTimeout = 0 },
			wantErr: true,
			errMsg:  "NATS drain timeout must be positive",
		},
		{
			name:    "missing server host",
			mutate:  func(c *Config) { c.Server.Host = "" },
			wantErr: true,
			errMsg:  "server host is required",
		},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.Port = "not-a-number" },
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name:    "zero saga workers",
			mutate:  func(c *Config) { c.Saga.Workers = 0 },
			wantErr: true,
			errMsg:  "saga workers must be positive",
		},
		{
			name:    "zero decision TTL",
			mutate:  func(c *Config) { c.Authz.DecisionTTL = 0 },
			wantErr: true,
			errMsg:  "authz decision TTL must be positive",
		},
		{
			name:    "release mode without JWT secret",
			mutate:  func(c *Config) { c.Mode = ModeRelease; c.Gateway.JWTSecret = "" },
			wantErr: true,
			errMsg:  "JWT secret is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error, got nil")
					return
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.NATS.URL == "" {
		t.Error("expected NATS URL to be derived from host and port")
	}
	if cfg.Saga.Workers <= 0 {
		t.Errorf("expected positive default worker count, got %d", cfg.Saga.Workers)
	}
	if cfg.Authz.DecisionTTL <= 0 {
		t.Error("expected positive default decision TTL")
	}
	if len(cfg.Authz.HighPrivilegeActions) == 0 {
		t.Error("expected default high-privilege action list")
	}
}
