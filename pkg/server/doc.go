// Package server accepts uiwire connections over WebSocket.
//
// A Server upgrades requests on its endpoint path, wraps each WebSocket in a
// socket.Conn and keeps a registry of open connections for broadcasting,
// health reporting and graceful shutdown. It also serves Prometheus metrics
// and, when a capture store is configured, records every connection.
//
// # Endpoints
//
//	GET /ws                 WebSocket upgrade (Config.Path)
//	GET /metrics            Prometheus metrics (Config.MetricsPath)
//	GET /healthz            {"status":"ok","connections":N}
//	GET /debug/connections  open connections with their pipeline counters
//
// # Usage
//
//	srv, err := server.New(dict, handler, server.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx)
//
// The handler runs on each connection's read goroutine. Replies go through
// the connection passed to it:
//
//	h := socket.HandlerFunc(func(ctx context.Context, c *socket.Conn, f *protocol.Frame) error {
//	    return c.SendNow(func(e *protocol.Encoder) error {
//	        return e.Write(tagAck, int32(1))
//	    })
//	})
//
// # Origins
//
// Upgrades are same-origin only by default. AllowOrigins admits a fixed list
// of cross-origin callers:
//
//	cfg.CheckOrigin = server.AllowOrigins("https://app.example.com")
package server
