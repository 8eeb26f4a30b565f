package mongo

import "time"

// Config is the connection configuration for the optional metalog database.
// An empty ConnectionURL means the database is not configured.
type Config struct {
	ConnectionURL   string        `env:"METALOG_MONGODB_URL"`
	Database        string        `env:"METALOG_MONGODB_DATABASE" envDefault:"metalog"`
	ConnectTimeout  time.Duration `env:"METALOG_MONGODB_CONNECT_TIMEOUT" envDefault:"10s"`
	MaxPoolSize     uint64        `env:"METALOG_MONGODB_MAX_POOL_SIZE" envDefault:"20"`
	MaxConnIdleTime time.Duration `env:"METALOG_MONGODB_MAX_CONN_IDLE_TIME" envDefault:"300s"`
	RetryAttempts   int           `env:"METALOG_MONGODB_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval   time.Duration `env:"METALOG_MONGODB_RETRY_INTERVAL" envDefault:"2s"`
}

// Enabled reports whether a connection URL was provided.
func (c Config) Enabled() bool {
	return c.ConnectionURL != ""
}
