// Package config loads process configuration from environment variables.
//
// It wraps github.com/joho/godotenv for reading optional .env files and
// github.com/caarlos0/env/v11 for parsing the environment into tagged
// structs. Every component owns its own Config struct (pg.Config,
// redis.Config, ingest.AndroidConfig, ...) and the binary loads each of them
// with Load at startup.
package config
