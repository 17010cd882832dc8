package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/tgifai/butler/internal/cronjob"
	"github.com/tgifai/butler/internal/heartbeat"
	"github.com/tgifai/butler/internal/pkg/logs"
	"github.com/tgifai/butler/internal/service"
)

var errHeartbeatSuperseded = errors.New("heartbeat request was superseded by a newer one")

// CreateJobRequest is the body of POST /api/v1/jobs. When, if set, is parsed
// with the schedule-text grammar and overrides Schedule.
type CreateJobRequest struct {
	cronjob.JobInput
	When string `json:"when,omitempty"`
}

// HeartbeatView is the JSON form of a heartbeat result.
type HeartbeatView struct {
	Timestamp     time.Time `json:"timestamp"`
	TriggeredBy   string    `json:"triggered_by"`
	Response      string    `json:"response"`
	NeedsDelivery bool      `json:"needs_delivery"`
	Error         string    `json:"error,omitempty"`
}

func newHeartbeatView(res heartbeat.Result) HeartbeatView {
	v := HeartbeatView{
		Timestamp:     res.Timestamp,
		TriggeredBy:   string(res.TriggeredBy),
		Response:      res.Response,
		NeedsDelivery: res.NeedsDelivery,
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	return v
}

func writeError(c *app.RequestContext, code int, msg string) {
	c.JSON(code, utils.H{"error": msg})
}

// jobErrorStatus maps store errors to HTTP status codes.
func jobErrorStatus(err error) int {
	switch {
	case errors.Is(err, cronjob.ErrJobNotFound):
		return consts.StatusNotFound
	case errors.Is(err, cronjob.ErrInvalidSchedule),
		errors.Is(err, cronjob.ErrUnsupportedCron),
		errors.Is(err, cronjob.ErrInvalidDelivery):
		return consts.StatusBadRequest
	default:
		return consts.StatusInternalServerError
	}
}

func (gw *Gateway) listServices(_ context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"services": gw.supervisor.GetAll()})
}

func (gw *Gateway) controlService(ctx context.Context, c *app.RequestContext) {
	name, action := c.Param("name"), c.Param("action")
	if _, ok := gw.supervisor.Get(name); !ok {
		writeError(c, consts.StatusNotFound, service.ErrUnknownService.Error()+": "+name)
		return
	}
	// Stopping the control plane from inside one of its own requests would
	// wait on itself.
	if name == serviceHTTP && action != "start" {
		writeError(c, consts.StatusConflict, "the http service cannot be stopped over http")
		return
	}

	var ok bool
	switch action {
	case "start":
		ok = gw.supervisor.Start(ctx, name)
	case "stop":
		ok = gw.supervisor.Stop(ctx, name)
	case "restart":
		ok = gw.supervisor.Restart(ctx, name)
	default:
		writeError(c, consts.StatusBadRequest, "unknown action: "+action)
		return
	}

	snap, _ := gw.supervisor.Get(name)
	if !ok {
		logs.CtxWarn(ctx, "[gateway] %s %s via api failed: %s", action, name, snap.Error)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": snap.Error, "service": snap})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"service": snap})
}

func (gw *Gateway) listJobs(_ context.Context, c *app.RequestContext) {
	all := c.Query("all") == "true"
	c.JSON(consts.StatusOK, utils.H{"jobs": gw.store.GetAll(all)})
}

func (gw *Gateway) createJob(ctx context.Context, c *app.RequestContext) {
	var req CreateJobRequest
	if err := sonic.Unmarshal(c.Request.Body(), &req); err != nil {
		writeError(c, consts.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	if when := strings.TrimSpace(req.When); when != "" {
		sched, ok := cronjob.ParseSchedule(when, time.Now())
		if !ok {
			writeError(c, consts.StatusBadRequest, "cannot parse schedule: "+when)
			return
		}
		req.Schedule = sched
	}
	if req.Schedule.Kind == "" {
		writeError(c, consts.StatusBadRequest, "schedule or when is required")
		return
	}

	job, err := gw.store.Add(req.JobInput)
	if err != nil {
		logs.CtxWarn(ctx, "[gateway] create job: %v", err)
		writeError(c, jobErrorStatus(err), err.Error())
		return
	}
	c.JSON(consts.StatusCreated, utils.H{"job": job})
}

// resolveJob finds the job named by the :id path parameter, a full id or a
// unique prefix of one. It writes the 404 itself.
func (gw *Gateway) resolveJob(c *app.RequestContext) (cronjob.Job, bool) {
	job, ok := gw.store.FindByPrefix(c.Param("id"))
	if !ok {
		writeError(c, consts.StatusNotFound, cronjob.ErrJobNotFound.Error()+": "+c.Param("id"))
	}
	return job, ok
}

func (gw *Gateway) getJob(_ context.Context, c *app.RequestContext) {
	job, ok := gw.resolveJob(c)
	if !ok {
		return
	}
	c.JSON(consts.StatusOK, utils.H{"job": job})
}

func (gw *Gateway) updateJob(ctx context.Context, c *app.RequestContext) {
	var patch cronjob.JobPatch
	if err := sonic.Unmarshal(c.Request.Body(), &patch); err != nil {
		writeError(c, consts.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	current, ok := gw.resolveJob(c)
	if !ok {
		return
	}

	job, err := gw.store.Update(current.ID, patch)
	if err != nil {
		logs.CtxWarn(ctx, "[gateway] update job %s: %v", current.ID, err)
		writeError(c, jobErrorStatus(err), err.Error())
		return
	}
	c.JSON(consts.StatusOK, utils.H{"job": job})
}

func (gw *Gateway) deleteJob(ctx context.Context, c *app.RequestContext) {
	job, ok := gw.resolveJob(c)
	if !ok {
		return
	}
	if err := gw.store.Remove(job.ID); err != nil {
		logs.CtxWarn(ctx, "[gateway] delete job %s: %v", job.ID, err)
		writeError(c, jobErrorStatus(err), err.Error())
		return
	}
	c.JSON(consts.StatusOK, utils.H{"deleted": job.ID})
}

func (gw *Gateway) runDueJobs(ctx context.Context, c *app.RequestContext) {
	scheduler, ok := service.Lookup(gw.supervisor.Shared(), SchedulerKey)
	if !ok {
		writeError(c, consts.StatusServiceUnavailable, "cronjob service is not running")
		return
	}
	c.JSON(consts.StatusOK, utils.H{"result": scheduler.RunDue(ctx)})
}

func (gw *Gateway) lastHeartbeat(_ context.Context, c *app.RequestContext) {
	res, ok := gw.poller.LastResult()
	if !ok {
		writeError(c, consts.StatusNotFound, "no heartbeat has run yet")
		return
	}
	c.JSON(consts.StatusOK, utils.H{"result": newHeartbeatView(res)})
}

func (gw *Gateway) triggerHeartbeat(ctx context.Context, c *app.RequestContext) {
	res, err := gw.requestHeartbeat(ctx, "http")
	switch {
	case errors.Is(err, errHeartbeatSuperseded):
		writeError(c, consts.StatusConflict, err.Error())
	case err != nil:
		writeError(c, consts.StatusGatewayTimeout, err.Error())
	default:
		c.JSON(consts.StatusOK, utils.H{"result": newHeartbeatView(res)})
	}
}

// requestHeartbeat asks the poller for an immediate run and waits for its
// result, bounded by the heartbeat timeout.
func (gw *Gateway) requestHeartbeat(ctx context.Context, reason string) (heartbeat.Result, error) {
	wait := gw.cfg.Heartbeat.Timeout() + 10*time.Second
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	select {
	case res, ok := <-gw.poller.RequestNow(ctx, reason):
		if !ok {
			return heartbeat.Result{}, errHeartbeatSuperseded
		}
		return res, nil
	case <-ctx.Done():
		return heartbeat.Result{}, ctx.Err()
	}
}
