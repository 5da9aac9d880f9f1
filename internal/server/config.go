package server

import "os"

// Config holds the dev backend's runtime settings, read from the
// environment (cmd/relay loads .env first).
type Config struct {
	Addr            string
	DatabasePath    string
	LogLevel        string
	OtelEnabled     bool
	OtelEndpoint    string
	OtelServiceName string
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Addr:            getEnv("RELAY_ADDR", ":8080"),
		DatabasePath:    getEnv("RELAY_DB", "relay.db"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		OtelEnabled:     os.Getenv("OTEL_ENABLED") == "true",
		OtelEndpoint:    getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName: getEnv("OTEL_SERVICE_NAME", "frostchat-relay"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
