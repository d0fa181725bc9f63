// Package server exposes collaborative documents over WebSocket.
//
// Routes:
//
//	GET /healthz              liveness and session counts (JSON)
//	GET /metrics              Prometheus metrics
//	GET /ws/{documentID}      WebSocket upgrade, one document per socket
//
// Every route is traced and counted by package middleware; health and metrics
// requests are counted but not traced.
//
// Every WebSocket gets a fresh connection id. Binary messages are handed to
// collab.Manager in arrival order; outbound messages go through a bounded
// queue drained by a dedicated writer, so a slow client never blocks a
// document session. A client that lets its queue fill up is disconnected.
//
// When a JWT secret is configured, requests must carry an HS256 token in the
// Authorization header or the token query parameter. The token subject is
// recorded as the contributor for the updates sent over that socket.
//
//	mgr := collab.NewManager(collab.ManagerConfig{...})
//	srv := server.New(mgr, &server.Config{Address: ":8080"}, logger)
//	srv.Run(ctx)
package server
