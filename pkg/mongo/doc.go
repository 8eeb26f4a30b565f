// Package mongo connects to the optional metalog MongoDB database using
// mongo-driver/v2. When METALOG_MONGODB_URL is empty, New returns
// ErrNotConfigured and callers fall back to a no-op sink.
package mongo
