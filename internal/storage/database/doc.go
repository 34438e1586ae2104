/*
Package database manages the storefront's single MongoDB connection.

The Manager wraps a recovery.Supervisor around a *mongo.Client. Server
heartbeats reported by the driver are translated into lifecycle signals so a
lost primary is noticed without waiting for the next periodic probe:

	mgr, err := database.New(cfg.Database, cfg.SupervisorConfig("database"))
	if err != nil {
		return err
	}
	defer mgr.Close(ctx)

	if err := mgr.Connect(ctx); err != nil {
		logger.Warn("Database unavailable, retrying in background", zap.Error(err))
	}

	orders, err := mgr.Collection("orders")

Collaborators never hold the client across a reconnect: Database and
Collection fail fast with NOT_CONNECTED while the manager is recovering.
*/
package database
