// Package config loads the gateway's environment configuration (section 6.2
// of the gateway specification) into a single struct built once at startup.
package config

import "github.com/querygate/gateway/internal/adapter"

// DefaultDatabaseConfig is an immutable, process-wide default connection
// entry derived once from environment at boot. The URL is never serialized
// back to clients.
type DefaultDatabaseConfig struct {
	Kind        adapter.Kind
	URL         string
	DisplayName string
}

// Config is every environment-tunable knob the gateway recognizes.
type Config struct {
	Port string

	RedisURL           string
	RedisRetryAttempts int
	RedisRetryDelayMS  int

	Defaults []DefaultDatabaseConfig

	QueryTimeoutMS        int
	QueryDefaultLimit     int
	MongoSchemaSampleSize int

	RateLimitQueryMax      int
	RateLimitConnectionMax int

	SessionTimeoutMS int
	MaxQueryLength   int
	MaxNestedDepth   int

	AdminCleanupToken string
	AppExtendCode     string

	Environment string
}

// Load reads process environment variables (optionally preloaded from a
// local .env file) and returns a populated Config.
func Load() *Config {
	LoadLocalEnv()

	cfg := &Config{
		Port: GetenvOrDefault("PORT", "8080"),

		RedisURL:           GetenvOrDefault("REDIS_URL", "redis://localhost:6379"),
		RedisRetryAttempts: int(GetenvIntOrDefault("REDIS_RETRY_ATTEMPTS", 3)),
		RedisRetryDelayMS:  int(GetenvIntOrDefault("REDIS_RETRY_DELAY_MS", 1000)),

		QueryTimeoutMS:        int(GetenvIntOrDefault("QUERY_TIMEOUT_MS", 30000)),
		QueryDefaultLimit:     int(GetenvIntOrDefault("QUERY_DEFAULT_LIMIT", 1000)),
		MongoSchemaSampleSize: int(GetenvIntOrDefault("MONGO_SCHEMA_SAMPLE_SIZE", 100)),

		RateLimitQueryMax:      int(GetenvIntOrDefault("RATE_LIMIT_QUERY_MAX", 100)),
		RateLimitConnectionMax: int(GetenvIntOrDefault("RATE_LIMIT_CONNECTION_MAX", 20)),

		SessionTimeoutMS: int(GetenvIntOrDefault("SESSION_TIMEOUT_MS", 30*60*1000)),
		MaxQueryLength:   int(GetenvIntOrDefault("MAX_QUERY_LENGTH", 100000)),
		MaxNestedDepth:   int(GetenvIntOrDefault("MAX_NESTED_DEPTH", 10)),

		AdminCleanupToken: GetenvOrDefault("ADMIN_CLEANUP_TOKEN", ""),
		AppExtendCode:     GetenvOrDefault("APP_EXTEND_CODE", ""),

		Environment: GetenvOrDefault("ENV_NAME", "local"),
	}

	cfg.Defaults = loadDefaults()

	return cfg
}

func loadDefaults() []DefaultDatabaseConfig {
	var out []DefaultDatabaseConfig

	entries := []struct {
		kind adapter.Kind
		env  string
	}{
		{adapter.KindPostgreSQL, "POSTGRESQL"},
		{adapter.KindMySQL, "MYSQL"},
		{adapter.KindMongoDB, "MONGODB"},
	}

	for _, e := range entries {
		url := GetenvOrDefault("DB_"+e.env+"_URL", "")
		if url == "" {
			continue
		}

		name := GetenvOrDefault("DB_"+e.env+"_NAME", string(e.kind))

		out = append(out, DefaultDatabaseConfig{Kind: e.kind, URL: url, DisplayName: name})
	}

	return out
}
