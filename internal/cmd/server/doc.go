// Package serverrun exposes the Run entrypoint used by the CLI to start the
// evstore runtime under a suture supervisor, hosting the HTTP gateway, the
// gRPC health endpoint and the scheduled integrity auditor.
//
// Example:
//
//	cfg, _ := config.Load("")
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
