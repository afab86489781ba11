// Package llm is the model boundary. Every call is pinned: fixed
// sampling parameters, a redacted prompt hashed before leaving the
// process, and a content-addressed cache consulted before any network
// traffic. In determinism mode the cache is the only allowed source.
package llm

import "context"

// Purposes name what a call is for. They partition the cache and the
// prompt version table.
const (
	PurposeClassify = "classify"
	PurposeRepair   = "classify_repair"
	PurposeExtract  = "extract"
)

// Params are the pinned sampling parameters. Temperature is zero for
// every production purpose; the struct exists so the cache key captures
// whatever was actually sent.
type Params struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

// Request is one inference call.
type Request struct {
	Purpose string
	ModelID string
	Prompt  string // already redacted
	Input   string // digest of the artifact the prompt was built from
	Params  Params
}

// Response carries the raw model output plus the provenance fields the
// classifier records on its result.
type Response struct {
	Content      string `json:"content"`
	ModelID      string `json:"model_id"`
	PromptSHA256 string `json:"prompt_sha256"`
	// FromCache distinguishes replayed artifacts from live calls.
	FromCache bool `json:"-"`
}

// Provider performs a live inference call.
type Provider interface {
	Infer(ctx context.Context, req Request) (Response, error)
}
