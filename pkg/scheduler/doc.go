// Package scheduler runs in-process periodic jobs such as the expiration
// sweep. Schedules are either fixed intervals or a daily UTC time.
package scheduler
