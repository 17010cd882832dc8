package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/tgifai/butler/internal/cronjob"
	"github.com/tgifai/butler/internal/pkg/utils"
)

const webhookDialTimeout = 5 * time.Second

// WebhookPayload is the JSON body posted to a job's webhook URL.
type WebhookPayload struct {
	JobID   string `json:"job_id"`
	Name    string `json:"name"`
	Message string `json:"message"`
	FiredAt int64  `json:"fired_at"`
}

type Webhook struct {
	client *client.Client
	now    func() time.Time
}

func NewWebhook() (*Webhook, error) {
	c, err := client.NewClient(
		client.WithDialTimeout(webhookDialTimeout),
		client.WithName("butler-webhook"),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhook client: %w", err)
	}
	return &Webhook{client: c, now: time.Now}, nil
}

// Deliver posts the job to d.URL. Any non-2xx status is a delivery failure.
func (w *Webhook) Deliver(ctx context.Context, job cronjob.Job, d cronjob.Delivery) error {
	body, err := sonic.Marshal(WebhookPayload{
		JobID:   job.ID,
		Name:    job.Name,
		Message: job.Message,
		FiredAt: w.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, resp := protocol.AcquireRequest(), protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()
	req.SetMethod(consts.MethodPost)
	req.SetRequestURI(d.URL)
	req.Header.SetContentTypeBytes([]byte(consts.MIMEApplicationJSON))
	req.SetBody(body)

	if deadline, ok := ctx.Deadline(); ok {
		err = w.client.DoDeadline(ctx, req, resp, deadline)
	} else {
		err = w.client.Do(ctx, req, resp)
	}
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("webhook returned HTTP %d: %s", code, utils.Truncate80(string(resp.Body())))
	}
	return nil
}
