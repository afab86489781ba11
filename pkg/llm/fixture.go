package llm

import (
	"context"
	"sync"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/fault"
)

// FixtureProvider replays canned responses keyed by purpose. Tests and
// the single-message CLI path use it so no network is involved.
type FixtureProvider struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     int
}

func NewFixtureProvider() *FixtureProvider {
	return &FixtureProvider{responses: make(map[string][]string)}
}

// Queue appends a response for the purpose; responses drain in order.
func (f *FixtureProvider) Queue(purpose, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[purpose] = append(f.responses[purpose], content)
}

// Calls reports how many live inferences were served.
func (f *FixtureProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FixtureProvider) Infer(_ context.Context, req Request) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	queue := f.responses[req.Purpose]
	if len(queue) == 0 {
		return Response{}, fault.New(fault.KindDependencyUnavailable, canonical.StageClassify, "llm_fixture_exhausted")
	}
	content := queue[0]
	f.responses[req.Purpose] = queue[1:]
	f.calls++
	return Response{
		Content:      content,
		ModelID:      req.ModelID,
		PromptSHA256: canonicalize.Digest([]byte(req.Prompt)),
	}, nil
}
