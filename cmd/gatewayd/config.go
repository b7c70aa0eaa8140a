package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// config is loaded entirely from the environment, matching a 12-factor
// deployment: there is no config file format to parse or validate.
type config struct {
	HTTPAddr      string
	TelemetryAddr string

	JWTSecret string

	DatabaseURL string

	UsersStoreURL            string
	UsersStoreServiceRoleKey string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CORSOrigins []string

	APIKeyPrefixDevelopment string
	APIKeyPrefixProduction  string

	ProjectScopeRequired bool
	ProjectScopeAllowed  []string
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func loadConfig() (config, error) {
	c := config{
		HTTPAddr:                 getenv("HTTP_ADDR", ":8080"),
		TelemetryAddr:            getenv("TELEMETRY_ADDR", ":8081"),
		JWTSecret:                os.Getenv("JWT_SECRET"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		UsersStoreURL:            os.Getenv("MAIN_SUPABASE_URL"),
		UsersStoreServiceRoleKey: os.Getenv("MAIN_SUPABASE_SERVICE_ROLE_KEY"),
		RedisAddr:                getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  getenvInt("REDIS_DB", 0),
		APIKeyPrefixDevelopment:  getenv("API_KEY_PREFIX_DEVELOPMENT", "ak_test_"),
		APIKeyPrefixProduction:   getenv("API_KEY_PREFIX_PRODUCTION", "ak_live_"),
		ProjectScopeRequired:     getenvBool("PROJECT_SCOPE_REQUIRED", false),
	}
	if allowed := os.Getenv("PROJECT_SCOPE_ALLOWED"); allowed != "" {
		c.ProjectScopeAllowed = strings.Split(allowed, ",")
	}
	if origins := os.Getenv("CORS_ORIGIN"); origins != "" {
		c.CORSOrigins = strings.Split(origins, ",")
	}

	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.UsersStoreURL == "" {
		missing = append(missing, "MAIN_SUPABASE_URL")
	}
	if c.UsersStoreServiceRoleKey == "" {
		missing = append(missing, "MAIN_SUPABASE_SERVICE_ROLE_KEY")
	}
	if len(missing) > 0 {
		return config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return c, nil
}
