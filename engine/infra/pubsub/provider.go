// Package pubsub carries collection change notifications between ragpipe
// processes sharing one vector store.
package pubsub

import "context"

// Message is a payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription delivers messages until Close is called or its context ends.
// Close is safe to call more than once.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Provider publishes to and subscribes on named channels.
type Provider interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Publish(ctx context.Context, channel string, payload []byte) error
}
