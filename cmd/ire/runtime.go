package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/intake-labs/ire/pkg/attachments"
	"github.com/intake-labs/ire/pkg/audit"
	"github.com/intake-labs/ire/pkg/blob"
	"github.com/intake-labs/ire/pkg/caseadapter"
	"github.com/intake-labs/ire/pkg/classify"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/directory"
	"github.com/intake-labs/ire/pkg/extract"
	"github.com/intake-labs/ire/pkg/hitl"
	"github.com/intake-labs/ire/pkg/identity"
	"github.com/intake-labs/ire/pkg/llm"
	"github.com/intake-labs/ire/pkg/orchestrator"
	"github.com/intake-labs/ire/pkg/route"
	"github.com/intake-labs/ire/pkg/schema"
	"github.com/intake-labs/ire/pkg/store"
)

// Environment overrides for external dependencies. Everything runs on
// local fixtures when unset, so a fresh checkout processes mail with
// zero infrastructure.
const (
	envDirectoryDSN = "IRE_DIRECTORY_DSN" // Postgres party directory
	envAVCommand    = "IRE_AV_CMD"        // clamscan-convention scanner binary
	envLLMBaseURL   = "IRE_LLM_BASE_URL"
	envLLMAPIKey    = "IRE_LLM_API_KEY"
)

// runtime is the wired engine behind every command.
type runtime struct {
	snapshot  *config.Snapshot
	db        *store.DB
	blobs     *blob.FileStore
	registry  *schema.Registry
	ruleset   *route.Ruleset
	artifacts *store.ArtifactStore
	jobs      *store.JobStore
	reviews   *hitl.ReviewStore
	auditLog  *audit.FileLog
	cases     *caseadapter.Fixture
	directory directory.Adapter
	pipeline  *orchestrator.Pipeline

	closers []func() error
}

func (r *runtime) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// buildRuntime loads the snapshot and assembles the pipeline. The data
// directory holds the job database, the content blobs and the audit
// log side by side.
func buildRuntime(ctx context.Context, opts *rootOptions) (*runtime, error) {
	snap, err := config.LoadSnapshot(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.DataDir, 0o750); err != nil {
		return nil, err
	}

	r := &runtime{snapshot: snap}

	r.db, err = store.Open(filepath.Join(opts.DataDir, "ire.db"))
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, r.db.Close)

	r.blobs, err = blob.NewFileStore(filepath.Join(opts.DataDir, "blobs"))
	if err != nil {
		return nil, r.closeAfter(err)
	}

	r.registry, err = schema.NewRegistry()
	if err != nil {
		return nil, r.closeAfter(err)
	}

	rulesetPath := snap.Routing.RulesetPath
	if !filepath.IsAbs(rulesetPath) {
		rulesetPath = filepath.Join(filepath.Dir(opts.ConfigPath), filepath.Base(rulesetPath))
	}
	r.ruleset, err = route.LoadRuleset(rulesetPath)
	if err != nil {
		return nil, r.closeAfter(err)
	}

	r.artifacts = store.NewArtifactStore(r.db, r.blobs, r.registry)
	r.jobs = store.NewJobStore(r.db)
	r.reviews = hitl.NewReviewStore(r.db)
	r.auditLog = audit.NewFileLog(opts.DataDir, r.registry)
	r.cases = caseadapter.NewFixture()

	r.directory, err = buildDirectory(ctx, r)
	if err != nil {
		return nil, r.closeAfter(err)
	}

	r.pipeline = &orchestrator.Pipeline{
		Snapshot:  snap,
		Blobs:     r.blobs,
		Artifacts: r.artifacts,
		Jobs:      r.jobs,
		Audit:     r.auditLog,
		Reviews:   r.reviews,
		Attachments: &attachments.Processor{
			Scanner:   buildScanner(),
			Extractor: attachments.PlainExtractor{},
			Blobs:     r.blobs,
		},
		Identity:   &identity.Resolver{Snapshot: snap, Directory: r.directory},
		Classifier: &classify.Classifier{Snapshot: snap, LLM: buildLLM(snap, r)},
		Extractor:  &extract.Extractor{Snapshot: snap, Directory: r.directory},
		Ruleset:    r.ruleset,
		Cases:      &caseadapter.Stage{Adapter: r.cases},
	}
	return r, nil
}

func (r *runtime) closeAfter(err error) error {
	_ = r.Close()
	return err
}

func buildDirectory(ctx context.Context, r *runtime) (directory.Adapter, error) {
	dsn := os.Getenv(envDirectoryDSN)
	if dsn == "" {
		return directory.NewFixture(), nil
	}
	pg, err := directory.NewPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, pg.Close)
	return pg, nil
}

func buildScanner() attachments.Scanner {
	if cmd := os.Getenv(envAVCommand); cmd != "" {
		return &attachments.ExecScanner{Cmd: cmd, Args: []string{"-"}, Version: "exec/" + filepath.Base(cmd)}
	}
	return attachments.FixtureScanner{}
}

// buildLLM wires the model boundary only when the snapshot enables it.
// The inference cache lives in the job database, so determinism mode
// replays cached responses instead of calling out.
func buildLLM(snap *config.Snapshot, r *runtime) *llm.Client {
	if !snap.LLMAllowed() {
		return nil
	}
	baseURL := os.Getenv(envLLMBaseURL)
	apiKey := os.Getenv(envLLMAPIKey)
	return &llm.Client{
		Provider:    llm.NewOpenAIProvider(baseURL, apiKey, time.Duration(snap.Timeouts.LLM)),
		Cache:       llm.NewCache(r.db.SQL(), r.blobs),
		Budget:      llm.NewMemoryBudget(2, 10000),
		Determinism: snap.Runtime.DeterminismMode,
	}
}
