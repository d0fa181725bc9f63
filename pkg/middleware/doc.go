// Package middleware provides net/http middleware for observability.
//
// Prometheus records request counts, latencies and in-flight requests labeled
// by the chi route pattern, so /ws/{documentID} is one series no matter how
// many documents exist. OpenTelemetry starts a server span per request and
// stores it in the request context; spans started further down, such as
// document hydration, become its children.
//
//	r := chi.NewRouter()
//	r.Use(middleware.OpenTelemetry(middleware.WithSkipPaths("/healthz")))
//	r.Use(middleware.Prometheus(middleware.WithRegistry(reg)))
//
// WebSocket upgrades pass through both: the recorded duration of an upgraded
// request is the lifetime of the socket.
package middleware
