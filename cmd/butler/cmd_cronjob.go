package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/butler/internal/consts"
	"github.com/tgifai/butler/internal/cronjob"
)

var cronjobHwd = &CronjobRunner{}

// CronjobRunner edits the job store file directly. A running daemon picks the
// changes up on its next tick.
type CronjobRunner struct{}

func (r *CronjobRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "cronjob",
		Usage: "Manage scheduled reminders",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List persisted jobs",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "Include disabled jobs"},
				},
				Action: r.list,
			},
			{
				Name:  "add",
				Usage: "Add a job",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "when", Aliases: []string{"w"}, Usage: `Schedule text, e.g. "in 20 minutes" or "daily at 9am"`, Required: true},
					&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Reminder text", Required: true},
					&cli.StringFlag{Name: "name", Usage: "Job name, defaults to the message"},
					&cli.StringFlag{Name: "tz", Usage: "IANA time zone for cron schedules"},
					&cli.StringFlag{Name: "chat-id", Usage: "Deliver to this telegram chat"},
					&cli.StringFlag{Name: "webhook", Usage: "Deliver by POSTing to this URL"},
					&cli.BoolFlag{Name: "terminal", Usage: "Deliver to the daemon's console"},
					&cli.BoolFlag{Name: "keep", Usage: "Keep one-shot jobs after they run"},
				},
				Action: r.add,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove a job by id or unique id prefix",
				ArgsUsage: "<id>",
				Action:    r.remove,
			},
			{
				Name:      "parse",
				Usage:     "Show how schedule text is understood",
				ArgsUsage: "<text>",
				Action:    r.parse,
			},
		},
	}
}

func (r *CronjobRunner) openStore(cmd *cli.Command) *cronjob.Store {
	path := consts.DefaultJobStorePath()
	if cfg, err := loadConfig(cmd); err == nil {
		path = cfg.Cronjob.Store
	}
	return cronjob.NewStore(path)
}

func (r *CronjobRunner) list(_ context.Context, cmd *cli.Command) error {
	fmt.Print(cronjob.FormatJobList(r.openStore(cmd).GetAll(cmd.Bool("all"))))
	return nil
}

func (r *CronjobRunner) add(_ context.Context, cmd *cli.Command) error {
	sched, ok := cronjob.ParseSchedule(cmd.String("when"), time.Now())
	if !ok {
		return fmt.Errorf("cannot parse schedule %q, try \"butler cronjob parse\"", cmd.String("when"))
	}
	if tz := strings.TrimSpace(cmd.String("tz")); tz != "" {
		if sched.Kind != cronjob.ScheduleCron {
			return errors.New("--tz only applies to recurring daily schedules")
		}
		sched.Tz = tz
	}

	delivery, err := r.delivery(cmd)
	if err != nil {
		return err
	}

	input := cronjob.JobInput{
		Name:     cmd.String("name"),
		Schedule: sched,
		Message:  strings.TrimSpace(cmd.String("message")),
		Delivery: delivery,
	}
	if cmd.Bool("keep") {
		keep := false
		input.DeleteAfterRun = &keep
	}

	store := r.openStore(cmd)
	job, err := store.Add(input)
	if err != nil {
		return fmt.Errorf("add job: %w", err)
	}

	fmt.Printf("Added %s (%s), %s\n", job.ID, job.Name, cronjob.DescribeSchedule(job.Schedule))
	if job.HasNextRun() {
		fmt.Printf("Next run: %s\n", time.UnixMilli(job.State.NextRunAtMs).Format(time.RFC1123))
	}
	return nil
}

func (r *CronjobRunner) delivery(cmd *cli.Command) (*cronjob.Delivery, error) {
	var targets []*cronjob.Delivery
	if id := strings.TrimSpace(cmd.String("chat-id")); id != "" {
		targets = append(targets, &cronjob.Delivery{Kind: cronjob.DeliveryTelegram, ChatID: id})
	}
	if url := strings.TrimSpace(cmd.String("webhook")); url != "" {
		targets = append(targets, &cronjob.Delivery{Kind: cronjob.DeliveryWebhook, URL: url})
	}
	if cmd.Bool("terminal") {
		targets = append(targets, &cronjob.Delivery{Kind: cronjob.DeliveryTerminal})
	}

	switch len(targets) {
	case 0:
		return nil, nil
	case 1:
		return targets[0], nil
	default:
		return nil, errors.New("--chat-id, --webhook and --terminal are mutually exclusive")
	}
}

func (r *CronjobRunner) remove(_ context.Context, cmd *cli.Command) error {
	prefix := strings.TrimSpace(cmd.Args().First())
	if prefix == "" {
		return errors.New("job id is required")
	}

	store := r.openStore(cmd)
	job, ok := store.FindByPrefix(prefix)
	if !ok {
		return fmt.Errorf("%w: %s", cronjob.ErrJobNotFound, prefix)
	}
	if err := store.Remove(job.ID); err != nil {
		return err
	}

	fmt.Printf("Removed %s (%s)\n", job.ID, job.Name)
	return nil
}

func (r *CronjobRunner) parse(_ context.Context, cmd *cli.Command) error {
	text := strings.Join(cmd.Args().Slice(), " ")
	now := time.Now()
	sched, ok := cronjob.ParseSchedule(text, now)
	if !ok {
		fmt.Fprintf(os.Stderr, "Not understood: %q\n", text)
		return cli.Exit("", 1)
	}

	fmt.Println(cronjob.DescribeSchedule(sched))
	next := cronjob.CalcNextRun(cronjob.Job{Schedule: sched, CreatedAtMs: now.UnixMilli()}, now.UnixMilli())
	if next > 0 {
		fmt.Printf("Next run: %s\n", time.UnixMilli(next).Format(time.RFC1123))
	}
	return nil
}
