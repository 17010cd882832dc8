package delivery

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/tgifai/butler/internal/cronjob"
)

var (
	stampColor = color.New(color.FgHiBlack)
	titleColor = color.New(color.FgYellow, color.Bold)
)

// Terminal prints deliveries to the daemon's console.
type Terminal struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w, now: time.Now}
}

func (t *Terminal) Deliver(ctx context.Context, job cronjob.Job, _ cronjob.Delivery) error {
	return t.Notify(ctx, job.Name, job.Message)
}

// Notify prints a titled block.
func (t *Terminal) Notify(_ context.Context, title, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	stampColor.Fprintf(&b, "[%s] ", t.now().Format("15:04:05"))
	titleColor.Fprint(&b, title)
	b.WriteByte('\n')
	if body = strings.TrimSpace(body); body != "" && body != title {
		for _, line := range strings.Split(body, "\n") {
			b.WriteString("  " + line + "\n")
		}
	}

	if _, err := io.WriteString(t.w, b.String()); err != nil {
		return fmt.Errorf("write terminal delivery: %w", err)
	}
	return nil
}
