/*
Package recovery supervises connections to backing services.

A Supervisor owns exactly one connection handle. Connect dials once and, on
failure, schedules further attempts using exponential backoff until the retry
cycle is exhausted. Lifecycle signals raised by a driver reach the supervisor
through its Registry; failed periodic health probes take the same recovery
path as a disconnect signal. At most one recovery runs at a time.

	sup := recovery.NewSupervisor("cache", cfg, dial, classify)
	sup.OnConnect(func(ctx context.Context, reconnected bool) { ... })
	if err := sup.Connect(ctx); err != nil {
		// recovery continues in the background
	}
	defer sup.Close(ctx)

Close is terminal. It cancels the reconnect and health timers before the
handle is closed, and any later Connect fails with MANAGER_CLOSED.
*/
package recovery
