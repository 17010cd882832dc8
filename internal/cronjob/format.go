package cronjob

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tgifai/butler/internal/pkg/utils"
)

// DescribeSchedule renders a schedule for humans, e.g. "every 30m" or "cron 0 9 * * * (Europe/Berlin)".
func DescribeSchedule(s Schedule) string {
	switch s.Kind {
	case ScheduleAt:
		return "at " + time.UnixMilli(s.AtMs).Format("2006-01-02 15:04")
	case ScheduleEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case ScheduleCron:
		if s.Tz != "" {
			return fmt.Sprintf("cron %s (%s)", s.Expr, s.Tz)
		}
		return "cron " + s.Expr
	default:
		return string(s.Kind)
	}
}

// DescribeDelivery renders a delivery target; nil is the default handler.
func DescribeDelivery(d *Delivery) string {
	if d == nil {
		return "default"
	}
	switch d.Kind {
	case DeliveryTelegram:
		return "telegram:" + d.ChatID
	case DeliveryWebhook:
		return "webhook:" + d.URL
	default:
		return string(d.Kind)
	}
}

// FormatJobList renders jobs as an aligned plain-text table.
func FormatJobList(jobs []Job) string {
	if len(jobs) == 0 {
		return "No scheduled jobs.\n"
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tNEXT RUN\tDELIVERY\tLAST\tRUNS")
	for _, j := range jobs {
		next := "-"
		if j.HasNextRun() {
			next = time.UnixMilli(j.State.NextRunAtMs).Format("2006-01-02 15:04")
		}
		if !j.Enabled {
			next = "disabled"
		}
		last := string(j.State.LastStatus)
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			shortID(j.ID),
			utils.Truncate(j.Name, 24),
			DescribeSchedule(j.Schedule),
			next,
			DescribeDelivery(j.Delivery),
			last,
			j.State.RunCount,
		)
	}
	_ = w.Flush()
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FindByPrefix resolves a full or abbreviated job id, as printed by
// FormatJobList. An ambiguous prefix matches nothing.
func (s *Store) FindByPrefix(prefix string) (Job, bool) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return Job{}, false
	}
	if j, ok := s.Get(prefix); ok {
		return j, true
	}

	var found Job
	matches := 0
	for _, j := range s.GetAll(true) {
		if strings.HasPrefix(j.ID, prefix) {
			found = j
			matches++
		}
	}
	return found, matches == 1
}
