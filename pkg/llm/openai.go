package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/fault"
)

// OpenAIProvider speaks the chat-completions wire format, which local
// vLLM and Ollama style endpoints also serve.
type OpenAIProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewOpenAIProvider(baseURL, apiKey string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
	Seed        int           `json:"seed"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Infer(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       req.ModelID,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		MaxTokens:   req.Params.MaxTokens,
		Seed:        0,
	})
	if err != nil {
		return Response{}, fault.Wrap(fault.KindInternal, canonical.StageClassify, "llm_request_encode_failed", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fault.Wrap(fault.KindInternal, canonical.StageClassify, "llm_request_build_failed", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return Response{}, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageClassify, "llm_call_failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Response{}, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageClassify, "llm_response_read_failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fault.New(fault.KindDependencyUnavailable, canonical.StageClassify,
			fmt.Sprintf("llm_status_%d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Response{}, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageClassify, "llm_response_decode_failed", err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fault.New(fault.KindDependencyUnavailable, canonical.StageClassify, "llm_response_empty")
	}
	return Response{
		Content:      parsed.Choices[0].Message.Content,
		ModelID:      req.ModelID,
		PromptSHA256: canonicalize.Digest([]byte(req.Prompt)),
	}, nil
}
