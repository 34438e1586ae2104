package cache

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/storefront/storefront/pkg/recovery"
)

type fakeSub struct {
	channel string
	mu      sync.Mutex
	closed  bool
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSub) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeTransport is an in-memory Transport.
type fakeTransport struct {
	mu         sync.Mutex
	data       map[string][]byte
	ttls       map[string]time.Duration
	subs       []*fakeSub
	handlers   map[string]Handler
	failSub    map[string]bool
	opErr      error
	block      bool
	closed     bool
	pingErr    error
	subscribed []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		data:     make(map[string][]byte),
		ttls:     make(map[string]time.Duration),
		handlers: make(map[string]Handler),
		failSub:  make(map[string]bool),
	}
}

func (f *fakeTransport) wait(ctx context.Context) error {
	f.mu.Lock()
	block, err := f.block, f.opErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeTransport) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeTransport) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, errMiss
	}
	return v, nil
}

func (f *fakeTransport) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeTransport) Delete(ctx context.Context, keys ...string) (int64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeTransport) Exists(ctx context.Context, keys ...string) (int64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			n++
		}
	}
	return n, nil
}

func (f *fakeTransport) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	f.mu.Lock()
	h, ok := f.handlers[channel]
	f.mu.Unlock()
	if !ok {
		return 0, nil
	}
	h(ctx, Message{Channel: channel, Payload: string(payload)})
	return 1, nil
}

func (f *fakeTransport) Subscribe(_ context.Context, channel string, handler Handler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSub[channel] {
		return nil, stderrors.New("subscribe " + channel + ": connection reset")
	}
	sub := &fakeSub{channel: channel}
	f.subs = append(f.subs, sub)
	f.handlers[channel] = handler
	f.subscribed = append(f.subscribed, channel)
	return sub, nil
}

func (f *fakeTransport) Subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func (f *fakeTransport) Subs() []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSub(nil), f.subs...)
}

// fakeDialer hands out prepared transports in order, then fresh ones.
type fakeDialer struct {
	mu       sync.Mutex
	prepared []*fakeTransport
	dialed   []*fakeTransport
	registry *recovery.Registry
	err      error
}

func (d *fakeDialer) dial(_ context.Context, registry *recovery.Registry) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registry = registry
	if d.err != nil {
		return nil, d.err
	}
	var t *fakeTransport
	if len(d.prepared) > 0 {
		t, d.prepared = d.prepared[0], d.prepared[1:]
	} else {
		t = newFakeTransport()
	}
	d.dialed = append(d.dialed, t)
	return t, nil
}

func (d *fakeDialer) Dialed() []*fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeTransport(nil), d.dialed...)
}

func (d *fakeDialer) Registry() *recovery.Registry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry
}

type recordedOp struct {
	service, operation string
	err                error
}

type fakeRecorder struct {
	mu     sync.Mutex
	ops    []recordedOp
	active int
}

func (r *fakeRecorder) RecordOperation(service, operation string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{service, operation, err})
}

func (r *fakeRecorder) SetActiveSubscriptions(_ string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = n
}

func (r *fakeRecorder) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *fakeRecorder) Ops() []recordedOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedOp(nil), r.ops...)
}
