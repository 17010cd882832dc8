package consts

// CtxKey is the type used for context value keys across the daemon.
type CtxKey string

const (
	CtxKeyJobID   CtxKey = "job_id"
	CtxKeyService CtxKey = "service"
	CtxKeyTrigger CtxKey = "trigger"
)
