package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tgifai/butler/internal/channel"
	"github.com/tgifai/butler/internal/cronjob"
	"github.com/tgifai/butler/internal/heartbeat"
	"github.com/tgifai/butler/internal/pkg/logs"
)

// CommandHandlerFunc processes a matched command and returns a text reply.
// An empty reply means no response should be sent.
type CommandHandlerFunc func(ctx context.Context, gw *Gateway, msg *channel.Message, args string) (string, error)

// Command describes a single chat command.
type Command struct {
	Name        string // e.g. "/jobs"
	Usage       string // argument synopsis, may be empty
	Description string
	Handler     CommandHandlerFunc
}

// CommandRouter matches incoming message text against registered command
// names and dispatches the match.
type CommandRouter struct {
	mu       sync.RWMutex
	commands map[string]*Command // key: lowercase command name
	order    []string
}

func newCommandRouter() *CommandRouter {
	return &CommandRouter{commands: make(map[string]*Command, 8)}
}

// Register adds a command. Registering a name twice replaces the handler but
// keeps its position in the help listing.
func (r *CommandRouter) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(cmd.Name)
	if _, exists := r.commands[key]; !exists {
		r.order = append(r.order, key)
	}
	r.commands[key] = cmd
}

// Match checks whether content starts with a known command.
// It returns the matched command, the remaining arguments, and whether a match
// was found. Commands are matched case-insensitively and may include a
// trailing @botname suffix (e.g. "/jobs@butler_bot").
func (r *CommandRouter) Match(content string) (*Command, string, bool) {
	content = strings.TrimSpace(content)
	if content == "" || content[0] != '/' {
		return nil, "", false
	}

	name, args, _ := strings.Cut(content, " ")
	name = strings.ToLower(name)
	if idx := strings.Index(name, "@"); idx > 0 {
		name = name[:idx]
	}

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		return nil, "", false
	}
	return cmd, strings.TrimSpace(args), true
}

// List returns all registered commands in registration order.
func (r *CommandRouter) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Command, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.commands[key])
	}
	return out
}

func registerBuiltinCommands(r *CommandRouter) {
	r.Register(&Command{Name: "/start", Description: "Say hello", Handler: cmdStart})
	r.Register(&Command{Name: "/help", Description: "Show available commands", Handler: cmdHelp})
	r.Register(&Command{Name: "/jobs", Description: "List scheduled reminders", Handler: cmdJobs})
	r.Register(&Command{
		Name:        "/remind",
		Usage:       "<when> | <text>",
		Description: "Schedule a reminder, e.g. /remind in 20 minutes | stretch",
		Handler:     cmdRemind,
	})
	r.Register(&Command{Name: "/cancel", Usage: "<job id>", Description: "Delete a reminder", Handler: cmdCancel})
	r.Register(&Command{Name: "/heartbeat", Description: "Run the heartbeat check now", Handler: cmdHeartbeat})
	r.Register(&Command{Name: "/services", Description: "Show service status", Handler: cmdServices})
}

func cmdStart(_ context.Context, _ *Gateway, _ *channel.Message, _ string) (string, error) {
	return "Hi, I'm butler. I keep your reminders and check in on HEARTBEAT.md. Send /help to see what I can do.", nil
}

func cmdHelp(_ context.Context, gw *Gateway, _ *channel.Message, _ string) (string, error) {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, cmd := range gw.commands.List() {
		name := cmd.Name
		if cmd.Usage != "" {
			name += " " + cmd.Usage
		}
		fmt.Fprintf(&b, "  %s - %s\n", name, cmd.Description)
	}
	return b.String(), nil
}

func cmdJobs(_ context.Context, gw *Gateway, _ *channel.Message, _ string) (string, error) {
	return "```\n" + cronjob.FormatJobList(gw.store.GetAll(true)) + "```", nil
}

func cmdRemind(ctx context.Context, gw *Gateway, msg *channel.Message, args string) (string, error) {
	when, text, found := strings.Cut(args, "|")
	when, text = strings.TrimSpace(when), strings.TrimSpace(text)
	if !found || when == "" || text == "" {
		return "Usage: /remind <when> | <text>\nExamples: in 20 minutes, every 2 hours, tomorrow at 9am, daily at 18:30", nil
	}

	sched, ok := cronjob.ParseSchedule(when, time.Now())
	if !ok {
		return fmt.Sprintf("I couldn't understand %q as a time.", when), nil
	}

	job, err := gw.store.Add(cronjob.JobInput{
		Schedule: sched,
		Message:  text,
		Delivery: &cronjob.Delivery{Kind: cronjob.DeliveryTelegram, ChatID: msg.ChatID},
	})
	if err != nil {
		return "", fmt.Errorf("add reminder: %w", err)
	}

	logs.CtxInfo(ctx, "[cmd:remind] chat %s scheduled job %s (%s)", msg.ChatID, job.ID, cronjob.DescribeSchedule(sched))
	reply := fmt.Sprintf("Reminder set (%s): %s", cronjob.DescribeSchedule(sched), job.Name)
	if job.HasNextRun() {
		reply += "\nNext: " + time.UnixMilli(job.State.NextRunAtMs).Format("Mon 2006-01-02 15:04")
	}
	return reply, nil
}

func cmdCancel(ctx context.Context, gw *Gateway, msg *channel.Message, args string) (string, error) {
	if args == "" {
		return "Usage: /cancel <job id>", nil
	}
	job, ok := gw.store.FindByPrefix(args)
	if !ok {
		return "No job matches " + args, nil
	}
	if err := gw.store.Remove(job.ID); err != nil {
		if errors.Is(err, cronjob.ErrJobNotFound) {
			return "No job matches " + args, nil
		}
		return "", err
	}
	logs.CtxInfo(ctx, "[cmd:cancel] chat %s removed job %s", msg.ChatID, job.ID)
	return "Deleted: " + job.Name, nil
}

func cmdHeartbeat(ctx context.Context, gw *Gateway, msg *channel.Message, _ string) (string, error) {
	res, err := gw.requestHeartbeat(ctx, "chat")
	if err != nil {
		return "", err
	}
	switch {
	case res.Err != nil:
		return "Heartbeat failed: " + res.Err.Error(), nil
	case !res.NeedsDelivery:
		return "Nothing needs attention (" + heartbeat.Sentinel + ").", nil
	case gw.cfg.Heartbeat.ChatID == msg.ChatID:
		// Already delivered to this chat.
		return "", nil
	default:
		return res.Response, nil
	}
}

func cmdServices(_ context.Context, gw *Gateway, _ *channel.Message, _ string) (string, error) {
	var b strings.Builder
	for _, snap := range gw.supervisor.GetAll() {
		fmt.Fprintf(&b, "%s: %s", snap.Name, snap.Status)
		if snap.Error != "" {
			fmt.Fprintf(&b, " (%s)", snap.Error)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
