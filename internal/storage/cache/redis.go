package cache

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storefront/storefront/internal/config"
	"github.com/storefront/storefront/pkg/recovery"
)

// Client is the subset of *redis.Client used by the transport.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

const defaultHeartbeatInterval = 10 * time.Second

// RedisDialer returns a DialFunc for cfg. A client that fails its first ping
// is returned with the error and keeps probing the server every
// cfg.HeartbeatInterval, so its hook reports when the server is back.
func RedisDialer(cfg config.CacheConfig) DialFunc {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	return func(ctx context.Context, registry *recovery.Registry) (Transport, error) {
		opts, err := redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, err
		}
		if cfg.ConnectTimeout > 0 {
			opts.DialTimeout = cfg.ConnectTimeout
		}
		if cfg.OperationTimeout > 0 {
			opts.ReadTimeout = cfg.OperationTimeout
			opts.WriteTimeout = cfg.OperationTimeout
		}

		client := redis.NewClient(opts)
		hook := newListenerHook(registry)
		client.AddHook(hook)

		t := &redisTransport{client: client, hook: hook}
		if err := t.Ping(ctx); err != nil {
			t.standby(heartbeat, opts.DialTimeout)
			return t, err
		}
		return t, nil
	}
}

type redisTransport struct {
	client Client
	hook   *listenerHook

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// standby pings the server every interval until Close. Results reach the
// supervisor only through the hook.
func (t *redisTransport) standby(interval, timeout time.Duration) {
	t.quit = make(chan struct{})
	t.done = make(chan struct{})
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-t.quit:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				_ = t.client.Ping(ctx).Err()
				cancel()
			}
		}
	}()
}

func (t *redisTransport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *redisTransport) Close(context.Context) error {
	if t.hook != nil {
		t.hook.stop()
	}
	t.closeOnce.Do(func() {
		if t.quit != nil {
			close(t.quit)
			<-t.done
		}
	})
	return t.client.Close()
}

func (t *redisTransport) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := t.client.Get(ctx, key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errMiss
	}
	return value, err
}

func (t *redisTransport) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.client.Set(ctx, key, value, ttl).Err()
}

func (t *redisTransport) Delete(ctx context.Context, keys ...string) (int64, error) {
	return t.client.Del(ctx, keys...).Result()
}

func (t *redisTransport) Exists(ctx context.Context, keys ...string) (int64, error) {
	return t.client.Exists(ctx, keys...).Result()
}

func (t *redisTransport) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	return t.client.Publish(ctx, channel, payload).Result()
}

// Subscribe waits for the server to confirm the subscription before
// delivering messages to handler.
func (t *redisTransport) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	ps := t.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &redisSubscription{pubsub: ps, done: make(chan struct{})}
	msgs := ps.Channel()
	go func() {
		defer close(sub.done)
		for msg := range msgs {
			handler(context.Background(), Message{Channel: msg.Channel, Payload: msg.Payload})
		}
	}()
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
	err    error
}

// Close ends the subscription and waits for the delivery goroutine.
func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}

// listenerHook raises lifecycle signals from go-redis dial and command
// results. Like the database heartbeat monitor it reports transitions only.
// A rejected client stays rejected across successful dials until the server
// serves a command.
type listenerHook struct {
	registry *recovery.Registry

	mu       sync.Mutex
	seen     bool
	failing  bool
	rejected bool
	stopped  bool
}

func newListenerHook(registry *recovery.Registry) *listenerHook {
	return &listenerHook{registry: registry}
}

func (h *listenerHook) stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}

func (h *listenerHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.lost()
			return nil, err
		}
		h.recovered(false)
		return conn, nil
	}
}

func (h *listenerHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.observe(err)
		return err
	}
}

func (h *listenerHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		h.observe(err)
		return err
	}
}

func (h *listenerHook) observe(err error) {
	switch {
	case err == nil, stderrors.Is(err, redis.Nil):
		h.recovered(true)
	case isAuthError(err):
		h.reject(err)
	case isConnectionError(err):
		h.lost()
	}
}

// recovered handles a successful dial, or a served command when served is set.
func (h *listenerHook) recovered(served bool) {
	h.mu.Lock()
	var signal func()
	switch {
	case h.stopped:
	case h.rejected:
		if served {
			signal = h.registry.Reconnected
		}
	case h.failing:
		signal = h.registry.Reconnected
	case !h.seen && !served:
		signal = h.registry.Connected
	}
	if signal != nil {
		h.seen = true
		h.failing = false
		h.rejected = false
	}
	h.mu.Unlock()

	if signal != nil {
		signal()
	}
}

func (h *listenerHook) reject(err error) {
	h.mu.Lock()
	if h.stopped || h.rejected {
		h.mu.Unlock()
		return
	}
	h.rejected = true
	h.mu.Unlock()

	h.registry.Error(err)
}

func (h *listenerHook) lost() {
	h.mu.Lock()
	if h.stopped || h.failing {
		h.mu.Unlock()
		return
	}
	h.failing = true
	h.mu.Unlock()

	h.registry.Disconnected()
}

func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NOAUTH") || strings.Contains(msg, "WRONGPASS") ||
		strings.Contains(msg, "invalid username-password pair")
}

func isConnectionError(err error) bool {
	if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr)
}
