package cache

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type entry struct {
	channel string
	handler Handler
	active  bool
	sub     Subscription
}

// Registry remembers channel subscriptions in registration order so they can
// be re-established on a new transport.
type Registry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*entry
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Subscribe subscribes channel on s. It is a no-op when channel is already
// active; an inactive entry is re-established with the new handler.
func (r *Registry) Subscribe(ctx context.Context, s Subscriber, channel string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[channel]
	if ok && e.active {
		return nil
	}

	sub, err := s.Subscribe(ctx, channel, handler)
	if err != nil {
		return err
	}

	if !ok {
		e = &entry{channel: channel}
		r.entries[channel] = e
		r.order = append(r.order, channel)
	}
	e.handler = handler
	e.sub = sub
	e.active = true
	return nil
}

// Unsubscribe tears down channel and forgets it. Unknown channels are ignored.
func (r *Registry) Unsubscribe(channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[channel]
	if !ok {
		return nil
	}
	delete(r.entries, channel)
	for i, c := range r.order {
		if c == channel {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return closeSub(e)
}

// Replay re-establishes every entry on s in registration order. A failed
// channel is logged and left inactive; replay continues with the rest.
// The returned error aggregates the failures.
func (r *Registry) Replay(ctx context.Context, s Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for _, channel := range r.order {
		e := r.entries[channel]
		if err := closeSub(e); err != nil {
			r.logger.Debug("Failed to close stale subscription",
				zap.String("channel", channel), zap.Error(err))
		}
		e.active = false

		sub, err := s.Subscribe(ctx, channel, e.handler)
		if err != nil {
			r.logger.Error("Failed to restore subscription",
				zap.String("channel", channel), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		e.sub = sub
		e.active = true
	}
	return errs
}

// CloseAll tears down every subscription and empties the registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for _, channel := range r.order {
		errs = multierr.Append(errs, closeSub(r.entries[channel]))
	}
	r.order = nil
	r.entries = make(map[string]*entry)
	return errs
}

// Channels lists the active channels in registration order.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := make([]string, 0, len(r.order))
	for _, channel := range r.order {
		if r.entries[channel].active {
			channels = append(channels, channel)
		}
	}
	return channels
}

// Len returns the number of registered channels, active or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func closeSub(e *entry) error {
	if e.sub == nil {
		return nil
	}
	sub := e.sub
	e.sub = nil
	e.active = false
	return sub.Close()
}
