// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for everything that is not a secret. Secrets (the config
// encryption key and the password pepper) have no defaults and fail validation
// when absent or malformed.
//
// Server settings:
//
//	SSOD_HOST="0.0.0.0"
//	SSOD_PORT="8080"
//	SSOD_HEALTH_PORT="9090"
//	SSOD_BASE_URL="https://sso.example.com"
//	SSOD_READ_TIMEOUT="15s"
//	SSOD_WRITE_TIMEOUT="15s"
//
// Backend settings:
//
//	SSOD_STATE_BACKEND="redis"      # redis, memory
//	SSOD_REDIS_URL="redis://localhost:6379/0"
//	SSOD_CONFIG_BACKEND="postgres"  # postgres, yaml
//	SSOD_POSTGRES_URL="postgres://localhost/ssod"
//	SSOD_PROVIDERS_FILE="providers.yaml"
//
// Secret settings:
//
//	SSOD_ENCRYPTION_KEY="<64 hex chars>"
//	SSOD_PASSWORD_PEPPER="<at least 16 chars>"
//	SSOD_APP_NAME="storefront-sso"
package config
