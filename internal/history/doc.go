// Package history keeps a local SQLite record of device state changes.
//
// Every state the bridge publishes is also written here as a JSON snapshot,
// giving an audit trail that survives an InfluxDB outage. Old rows are
// removed by a Pruner on a fixed interval.
//
// Usage:
//
//	store := history.NewSQLiteStore(db)
//	_ = store.RecordStateChange(ctx, "kitchen", map[string]any{"level": 75.0}, "caseta")
//
//	pruner := history.NewPruner(store, 30*24*time.Hour, time.Hour)
//	pruner.Start(ctx)
//	defer pruner.Stop()
package history
