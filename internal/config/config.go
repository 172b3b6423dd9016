// Package config implements environment-driven configuration for the bridge
// daemon. Values are loaded from the OS environment (optionally seeded from a
// .env file), populated via envconfig struct tags, and validated with
// go-playground/validator before use.
package config

import "time"

// Config is the root configuration for the bridge daemon.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"playbridge"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server  ServerConfig
	Gateway GatewayConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int           `envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// GatewayConfig holds the settings for the vendor billing gateway connection.
type GatewayConfig struct {
	BaseURL string        `envconfig:"BILLING_GATEWAY_URL" validate:"required,url"`
	APIKey  string        `envconfig:"BILLING_GATEWAY_API_KEY" validate:"required"`
	Timeout time.Duration `envconfig:"BILLING_GATEWAY_TIMEOUT" default:"20s"`

	// AlternativeBillingEnabled is the default for connections configured
	// without an explicit option value.
	AlternativeBillingEnabled bool `envconfig:"ALTERNATIVE_BILLING_ENABLED" default:"false"`

	// UpdatePollInterval is the wait between purchase-update long-poll
	// requests while the connection is ready.
	UpdatePollInterval time.Duration `envconfig:"UPDATE_POLL_INTERVAL" default:"2s"`
}
