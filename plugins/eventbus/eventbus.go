// Package eventbus provides a simple publish/subscribe event bus. The auth
// plugin publishes login, refresh and logout events on it, and the audit
// plugin and access logs consume them.
package eventbus

import (
	"context"
	"time"
)

// Constant name for identifying the eventbus plugin.
const PluginName = "eventbus"

// Message is delivered to each subscriber of a topic.
type Message struct {
	ID          string
	Topic       string
	Data        any
	PublishedAt time.Time
}

// Handler processes a message. Returned errors are logged.
type Handler func(ctx context.Context, msg *Message) error

// EventBus provides a simple publish/subscribe interface for publishing and
// subscribing to events.
type EventBus interface {
	// Subscribe to a topic. Handlers may be called concurrently.
	Subscribe(topic string, handler Handler)

	// Publish sends data to every subscriber of the topic without waiting for
	// them to run.
	Publish(topic string, data any)

	// Wait blocks until every published message has been handled, or ctx is
	// done.
	Wait(ctx context.Context) error

	// Shutdown stops accepting messages and waits for in-flight ones.
	Shutdown(ctx context.Context) error
}

// Plugin registers an eventbus with the server for other plugins to use.
func Plugin(eb EventBus) *EventBusPlugin {
	return &EventBusPlugin{EventBus: eb}
}

// EventBusPlugin exposes an EventBus through the plugin registry.
type EventBusPlugin struct {
	EventBus
}

// From medtracker.Plugin.
func (p *EventBusPlugin) Name() string {
	return PluginName
}
