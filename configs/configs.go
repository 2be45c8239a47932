// Package configs holds process configuration: compile-time defaults
// overridable from the environment, with an optional .env file.
package configs

import (
	"os"

	"github.com/joho/godotenv"
)

// Defaults. Overridden by the environment in Load.
var (
	ServerAddress = "localhost:8080"
	CanonicalURL  = "ws://localhost:8080"
	RedisAddress  = ""
	LogLevel      = "info"

	ServerName        = "Test Server"
	ServerDescription = "A server for testing"

	// URLIsPublic controls whether the canonical URL is published in user
	// identities, making the server dialable for federation checks.
	URLIsPublic = true
)

// Load pulls overrides from a .env file, when present, and the environment.
func Load() {
	godotenv.Load(".env")

	override(&ServerAddress, "RIC_LISTEN")
	override(&CanonicalURL, "RIC_CANONICAL_URL")
	override(&RedisAddress, "RIC_REDIS")
	override(&LogLevel, "RIC_LOG_LEVEL")
	override(&ServerName, "RIC_SERVER_NAME")
	override(&ServerDescription, "RIC_SERVER_DESCRIPTION")
	if v := os.Getenv("RIC_URL_PUBLIC"); v != "" {
		URLIsPublic = v == "1" || v == "true"
	}
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
