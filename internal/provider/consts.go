package provider

type Type string

const (
	OpenAI Type = "openai"
)

type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider Type   `json:"provider"`
}
