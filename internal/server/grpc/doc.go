// Package grpcserver hosts the gRPC endpoint for evstore. It serves the
// standard grpc.health.v1 service, mirroring backend health, plus server
// reflection.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	s := grpcserver.New(rt, logger)
//	_ = s.ListenAndServe(ctx, ":9090")
package grpcserver
