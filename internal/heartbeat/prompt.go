package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/tgifai/butler/internal/consts"
	"github.com/tgifai/butler/internal/pkg/logs"
)

// ReadTasks loads the workspace HEARTBEAT.md. It reports false when the file
// is missing or holds nothing but headings, blank lines and HTML comments.
func ReadTasks(workspace string) (string, bool) {
	if workspace == "" {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(workspace, consts.HeartbeatFileName))
	if err != nil {
		return "", false
	}
	content := strings.TrimSpace(string(data))
	if !hasTasks(content) {
		return "", false
	}
	return content, true
}

func hasTasks(content string) bool {
	inComment := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case inComment:
			inComment = !strings.Contains(line, "-->")
		case strings.HasPrefix(line, "<!--"):
			inComment = !strings.Contains(line, "-->")
		case strings.HasPrefix(line, "#"):
		default:
			return true
		}
	}
	return false
}

// BuildPrompt appends the workspace tasks to the base prompt.
func BuildPrompt(base, tasks string) string {
	if tasks == "" {
		return base
	}
	return base + "\n\n" + consts.HeartbeatFileName + ":\n" + tasks
}

// WorkspaceHandler wraps next so that it only runs when the workspace has
// tasks; otherwise the poll answers Sentinel without calling next.
func WorkspaceHandler(workspace string, next Handler) Handler {
	return func(ctx context.Context, prompt string) (string, error) {
		tasks, ok := ReadTasks(workspace)
		if !ok {
			logs.CtxDebug(ctx, "[heartbeat] no tasks in %s, skipping model call", workspace)
			return Sentinel, nil
		}
		return next(ctx, BuildPrompt(prompt, tasks))
	}
}
