// Package notifications delivers push notifications for conversion
// outcomes via ntfy. When no topic is configured the service degrades
// to a noop so the rest of the daemon never branches on it.
package notifications
