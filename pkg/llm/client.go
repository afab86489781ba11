package llm

import (
	"context"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// Client is the composed model boundary: redaction, cache, budget,
// provider, in that order. Callers hand it raw prompts; nothing
// unredacted gets past this type.
type Client struct {
	Provider Provider
	Cache    *Cache
	Budget   Budget
	// Determinism forbids live calls: a cache miss is a violation,
	// not a fallback.
	Determinism bool
}

// Complete resolves one inference. The returned response always
// carries the prompt hash of the redacted prompt that was (or would
// have been) sent.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	req.Prompt = Redact(req.Prompt)

	key, err := CacheKey(req)
	if err != nil {
		return Response{}, err
	}
	if c.Cache != nil {
		if hit, err := c.Cache.Get(ctx, key); err != nil {
			return Response{}, err
		} else if hit != nil {
			return *hit, nil
		}
	}
	if c.Determinism {
		return Response{}, fault.New(fault.KindDeterminismViolation, canonical.StageClassify, "determinism_cache_miss")
	}
	if c.Budget != nil {
		if err := c.Budget.Allow(ctx); err != nil {
			return Response{}, err
		}
	}

	resp, err := c.Provider.Infer(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if c.Cache != nil {
		if err := c.Cache.Put(ctx, key, req.Purpose, req.ModelID, resp); err != nil {
			return Response{}, err
		}
	}
	return resp, nil
}
