package llm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/intake-labs/ire/pkg/blob"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/fault"
)

// cacheKeyInput is the canonical form hashed into the cache key. Every
// field that can change model output is in here; nothing else is.
type cacheKeyInput struct {
	Purpose           string `json:"purpose"`
	ModelID           string `json:"model_id"`
	Params            Params `json:"params"`
	PromptSHA256      string `json:"prompt_sha256"`
	InputDigestSHA256 string `json:"input_digest_sha256"`
}

// CacheKey derives the content address of an inference call.
func CacheKey(req Request) (string, error) {
	in := cacheKeyInput{
		Purpose:           req.Purpose,
		ModelID:           req.ModelID,
		Params:            req.Params,
		PromptSHA256:      canonicalize.Digest([]byte(req.Prompt)),
		InputDigestSHA256: req.Input,
	}
	c14n, err := canonicalize.JCS(in)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, canonical.StageClassify, "cache_key_canonicalize_failed", err)
	}
	return canonicalize.Digest(c14n), nil
}

// Cache stores raw inference responses content-addressed in the blob
// store with an index row in SQLite.
type Cache struct {
	sql   *sql.DB
	blobs blob.Store
	now   func() time.Time
}

func NewCache(db *sql.DB, blobs blob.Store) *Cache {
	return &Cache{sql: db, blobs: blobs, now: time.Now}
}

// Get returns the cached response for the key, or (nil, nil) on miss.
func (c *Cache) Get(ctx context.Context, key string) (*Response, error) {
	var digest string
	err := c.sql.QueryRowContext(ctx,
		`SELECT sha256 FROM inference_index WHERE cache_key = ?`, key).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageClassify, "inference_index_read_failed", err)
	}
	data, err := c.blobs.Get(ctx, digest)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fault.Wrap(fault.KindIntegrity, canonical.StageClassify, "inference_artifact_corrupt", err)
	}
	resp.FromCache = true
	return &resp, nil
}

// Put stores a response under the key. Replays of the same call are
// no-ops; the first stored artifact wins.
func (c *Cache) Put(ctx context.Context, key, purpose, modelID string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fault.Wrap(fault.KindInternal, canonical.StageClassify, "inference_artifact_encode_failed", err)
	}
	digest, err := c.blobs.Put(ctx, data)
	if err != nil {
		return err
	}
	_, err = c.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO inference_index (cache_key, sha256, purpose, model_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key, digest, purpose, modelID, c.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageClassify, "inference_index_write_failed", err)
	}
	return nil
}
