package cache

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/storefront/storefront/pkg/recovery"
)

// errMiss is returned by a Transport when a key does not exist.
var errMiss = stderrors.New("key not found")

// Message is one payload delivered on a channel.
type Message struct {
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

// Handler receives channel messages. It runs on the subscription's goroutine.
type Handler func(ctx context.Context, msg Message)

// Subscription is a live channel subscription on one transport.
type Subscription interface {
	Close() error
}

// Subscriber establishes channel subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
}

// Transport is the client surface the manager drives. Get reports a missing
// key with errMiss.
type Transport interface {
	recovery.Connection
	Subscriber

	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
}

// DialFunc builds and verifies a transport. Lifecycle signals observed by
// the transport are raised on registry.
type DialFunc func(ctx context.Context, registry *recovery.Registry) (Transport, error)
