// Package httpserver provides the evstore REST gateway, routed with chi.
//
// Routes:
//
//	GET  /v1/healthz
//	GET  /v1/tenants
//	GET  /v1/tenants/{tenant}/streams
//	POST /v1/tenants/{tenant}/streams/{stream}/events
//	GET  /v1/tenants/{tenant}/streams/{stream}/events?from=&limit=
//	POST /v1/tenants/{tenant}/streams/{stream}/archive
//	GET  /v1/tenants/{tenant}/streams/{stream}/state
//	GET  /v1/tenants/{tenant}/streams/{stream}/verify
//	GET  /v1/tenants/{tenant}/scan/{active|archived}?cursor=&limit=&filter=
//	GET  /metrics
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	s := httpserver.New(rt, logger)
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
