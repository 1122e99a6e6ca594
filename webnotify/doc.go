// Package webnotify tells job owners about failed jobs and finished
// batches. The Notifier extension publishes a JSON Notification on the
// Redis channel "queue_job:notify:<user id>"; the Relay subscribes to that
// channel for each browser connected over WebSocket and forwards what it
// receives.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	exts.Register(webnotify.NewNotifier(client, registry))
//	mux.Handle("/queue_job/notifications", webnotify.NewRelay(client))
package webnotify
