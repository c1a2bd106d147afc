// Package runtime wires a storage backend, tenancy policy, metrics and commit
// notifications into a single-node evstore instance. It exposes Open/Close,
// a health check and accessors for the Store used by the servers and CLI.
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(ctx)
//	sess := rt.Store().LightweightSession()
//	_ = sess.ForTenant("acme").Append("orders-1", ev)
//	_, _ = sess.Commit(ctx)
package runtime
