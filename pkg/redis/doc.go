// Package redis connects to Redis with go-redis/v9.
//
// Connect parses REDIS_URL, pings the server and retries until it is ready or
// the connect timeout expires. Healthcheck exposes a probe for /healthz. The
// entitlement cache is the only consumer.
package redis
