/*
Package cache manages the storefront's single Redis connection.

Keyed operations (Get, Set, Delete, Exists and the JSON helpers) and channel
operations (Publish, Subscribe, Unsubscribe) run against the live transport
with a per-operation timeout. They fail fast with NOT_CONNECTED while the
manager is recovering and are never retried here.

Channel subscriptions are remembered in a Registry and replayed, in
registration order, each time the supervisor reconnects:

	mgr, err := cache.New(cfg.Cache, cfg.SupervisorConfig("cache"),
		cache.WithRecorder(collector))
	if err != nil {
		return err
	}
	_ = mgr.Connect(ctx)

	err = mgr.Subscribe(ctx, "inventory", func(ctx context.Context, msg cache.Message) {
		invalidate(msg.Payload)
	})
*/
package cache
