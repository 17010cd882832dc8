package provider

import (
	"context"
)

// Provider is the LLM backend the heartbeat asks for a verdict.
type Provider interface {
	// Type returns the backend family of this provider.
	Type() Type

	// Ask sends one system+user exchange and returns the reply text.
	Ask(ctx context.Context, system, prompt string) (string, error)

	// ListModels returns the models the backend currently serves. It doubles
	// as a reachability check.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}
