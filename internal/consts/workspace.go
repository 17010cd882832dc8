package consts

import _ "embed"

//go:embed tpl/HEARTBEAT.md
var WorkspaceHeartbeatTemplate string

// HeartbeatFileName is the workspace file that lists periodic self-check tasks.
const HeartbeatFileName = "HEARTBEAT.md"

// WorkspaceTemplates are written by `butler init` when missing.
var WorkspaceTemplates = map[string]string{
	HeartbeatFileName: WorkspaceHeartbeatTemplate,
}
