// Package config loads the environment-variable surface the core
// consumes (spec.md §6) into a typed struct via struct tags, rather
// than scattering os.Getenv calls through the codebase.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the full environment-variable surface the engine, proxy,
// and ingress consume.
type Config struct {
	// Persistence and cluster addressing.
	DatabaseURL       string `env:"DATABASE_URL"`
	ClusterNamespace  string `env:"CLUSTER_NAMESPACE" envDefault:"default"`
	DataDir           string `env:"DATA_DIR" envDefault:"/var/lib/crucible"`

	// Broker connection (spec.md §4.7 listener, §6 env vars).
	BrokerHost     string `env:"BROKER_HOST"`
	BrokerPort     int    `env:"BROKER_PORT" envDefault:"5672"`
	BrokerUser     string `env:"BROKER_USER"`
	BrokerPassword string `env:"BROKER_PASSWORD"`
	BrokerQueue    string `env:"BROKER_QUEUE" envDefault:"execution-requests"`

	// Auth (external collaborator; consumed, not implemented here).
	JWTSecret string `env:"JWT_SECRET"`
	AuthOn    bool   `env:"AUTH_ENABLED" envDefault:"true"`

	// API surface.
	APIPrefix  string `env:"API_PREFIX" envDefault:"/api"`
	APIVersion string `env:"API_VERSION" envDefault:"v1"`

	// Developer mode toggles the port-forward registry (C5) instead of
	// proxying directly to pod IPs.
	DeveloperMode bool `env:"DEVELOPER_MODE" envDefault:"false"`

	// GlobalDefaultTimeoutSeconds is used when a package declares no
	// timeout of its own. Zero disables the timeout.
	GlobalDefaultTimeoutSeconds int `env:"GLOBAL_TASK_TIMEOUT_SECONDS" envDefault:"3600"`

	// LDAP (external collaborator; consumed, not implemented here).
	LDAPServer string `env:"LDAP_SERVER"`
	LDAPRoot   string `env:"LDAP_ROOT"`
	LDAPDomain string `env:"LDAP_DOMAIN"`

	// ReconcileIntervalSeconds is parsed from the environment but not
	// read anywhere: reconciliation runs once at startup only, and no
	// periodic pass exists.
	ReconcileIntervalSeconds int `env:"RECONCILE_INTERVAL_SECONDS" envDefault:"300"`

	// QueueConcurrency is parsed from the environment but not read
	// anywhere: the engine's task-work queue (C8) always uses the
	// min(8, NumCPU+4) default bound.
	QueueConcurrency int `env:"QUEUE_CONCURRENCY" envDefault:"0"`
}

// Load parses the process environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
