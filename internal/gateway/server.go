package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	"github.com/cloudwego/hertz/pkg/common/tracer"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	hzprom "github.com/hertz-contrib/monitor-prometheus"

	"github.com/tgifai/butler/internal/pkg/logs"
	metrics "github.com/tgifai/butler/internal/pkg/prometheus"
)

// The tracer registers its collectors once per process; every server
// instance shares it.
var serverTracer = sync.OnceValue(func() tracer.Tracer {
	return hzprom.NewServerTracer("", "",
		hzprom.WithRegistry(metrics.GetRegistry()),
		hzprom.WithDisableServer(true),
	)
})

type httpServer struct {
	hz        *hzServer.Hertz
	addr      string
	startedAt time.Time
	done      chan struct{}
}

// newHTTPServer builds a hertz server with every control-plane route. A hertz
// engine cannot be restarted after Shutdown, so each service start builds a
// new one.
func (gw *Gateway) newHTTPServer(ln net.Listener) *hzServer.Hertz {
	timeout := gw.cfg.Gateway.Timeout()
	h := hzServer.Default(
		hzServer.WithListener(ln),
		hzServer.WithReadTimeout(timeout),
		hzServer.WithWriteTimeout(timeout),
		hzServer.WithExitWaitTime(gw.cfg.Gateway.ShutdownWait()),
		hzServer.WithTracer(serverTracer()),
	)
	gw.registerRoutes(h)
	return h
}

func (gw *Gateway) registerRoutes(h *hzServer.Hertz) {
	h.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})
	h.GET("/metrics", adaptor.HertzHandler(metrics.Handler()))

	api := h.Group("/api/v1", apiKeyAuth(gw.cfg.Gateway.APIKey))

	api.GET("/services", gw.listServices)
	api.POST("/services/:name/:action", gw.controlService)

	api.GET("/jobs", gw.listJobs)
	api.POST("/jobs", gw.createJob)
	api.POST("/jobs/run-due", gw.runDueJobs)
	api.GET("/jobs/:id", gw.getJob)
	api.PATCH("/jobs/:id", gw.updateJob)
	api.DELETE("/jobs/:id", gw.deleteJob)

	api.GET("/heartbeat", gw.lastHeartbeat)
	api.POST("/heartbeat", gw.triggerHeartbeat)
}

func (gw *Gateway) startHTTP(ctx context.Context) error {
	gw.httpMu.Lock()
	defer gw.httpMu.Unlock()

	if gw.http != nil {
		return nil
	}

	// Listening here surfaces bind errors as a service start failure.
	ln, err := net.Listen("tcp", gw.cfg.Gateway.Bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", gw.cfg.Gateway.Bind, err)
	}

	srv := &httpServer{
		hz:        gw.newHTTPServer(ln),
		addr:      ln.Addr().String(),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		defer close(srv.done)
		if err := srv.hz.Run(); err != nil {
			logs.CtxError(ctx, "[gateway] http server on %s exited: %v", srv.addr, err)
		}
	}()

	gw.http = srv
	logs.CtxInfo(ctx, "[gateway] http control plane listening on %s", srv.addr)
	return nil
}

func (gw *Gateway) stopHTTP(ctx context.Context) error {
	gw.httpMu.Lock()
	srv := gw.http
	gw.http = nil
	gw.httpMu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.hz.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	select {
	case <-srv.done:
	case <-ctx.Done():
		return fmt.Errorf("wait for http server: %w", ctx.Err())
	}
	return nil
}

func (gw *Gateway) httpStats() map[string]any {
	gw.httpMu.Lock()
	defer gw.httpMu.Unlock()

	stats := map[string]any{"bind": gw.cfg.Gateway.Bind, "auth": gw.cfg.Gateway.APIKey != ""}
	if gw.http != nil {
		stats["addr"] = gw.http.addr
		stats["uptime"] = time.Since(gw.http.startedAt).Truncate(time.Second).String()
	}
	return stats
}

// HTTPAddr returns the address the control plane listens on, or "" when the
// http service is not running.
func (gw *Gateway) HTTPAddr() string {
	gw.httpMu.Lock()
	defer gw.httpMu.Unlock()
	if gw.http == nil {
		return ""
	}
	return gw.http.addr
}
