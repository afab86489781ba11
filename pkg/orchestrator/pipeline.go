package orchestrator

import (
	"context"
	"time"

	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/attachments"
	"github.com/intake-labs/ire/pkg/audit"
	"github.com/intake-labs/ire/pkg/blob"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/caseadapter"
	"github.com/intake-labs/ire/pkg/classify"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/extract"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/hitl"
	"github.com/intake-labs/ire/pkg/identity"
	"github.com/intake-labs/ire/pkg/ingest"
	"github.com/intake-labs/ire/pkg/normalize"
	"github.com/intake-labs/ire/pkg/observability"
	"github.com/intake-labs/ire/pkg/requestinfo"
	"github.com/intake-labs/ire/pkg/route"
	"github.com/intake-labs/ire/pkg/store"
)

// Pipeline owns the stage collaborators of one worker. All state lives
// in the stores; the pipeline itself is safe for concurrent chains.
type Pipeline struct {
	Snapshot    *config.Snapshot
	Blobs       blob.Store
	Artifacts   *store.ArtifactStore
	Jobs        *store.JobStore
	Audit       audit.Log
	Reviews     *hitl.ReviewStore
	Attachments *attachments.Processor
	Identity    *identity.Resolver
	Classifier  *classify.Classifier
	Extractor   *extract.Extractor
	Ruleset     *route.Ruleset
	Cases       *caseadapter.Stage
	SLOs        *observability.SLOTracker // optional
	Now         func() time.Time
}

// ChainResult is the outcome of one message chain.
type ChainResult struct {
	MessageID string
	RunID     string
	Duplicate bool
	Message   *normalize.Message
	Decision  *route.Decision
	Case      *caseadapter.Result
}

func (p *Pipeline) clock() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Ingest stores the raw bytes, derives the chain identity and applies
// first-write-wins dedup. The returned job carries everything a worker
// needs; Duplicate means the payload was already processed under an
// earlier run.
func (p *Pipeline) Ingest(ctx context.Context, raw *ingest.RawMessage) (Job, bool, error) {
	rawSHA, err := p.Blobs.Put(ctx, raw.RawMIME)
	if err != nil {
		return Job{}, false, err
	}
	messageID := ingest.MessageID(raw.Source, raw.SourceMessageID)
	runID := ingest.RunID(messageID, rawSHA)

	gotMessage, gotRun, dup, err := p.Jobs.RememberIngest(ctx, rawSHA, messageID, runID)
	if err != nil {
		return Job{}, false, err
	}
	return Job{
		MessageID: gotMessage,
		RunID:     gotRun,
		RawSHA256: rawSHA,
		Source:    raw.Source,
	}, dup, nil
}

// Job mirrors the broker job shape without importing the broker; the
// worker pool converts.
type Job struct {
	MessageID string
	RunID     string
	RawSHA256 string
	Source    string
}

// Run executes the full chain for a stored raw message.
func (p *Pipeline) Run(ctx context.Context, job Job) (*ChainResult, error) {
	raw, err := p.Blobs.Get(ctx, job.RawSHA256)
	if err != nil {
		return nil, err
	}
	res := &ChainResult{MessageID: job.MessageID, RunID: job.RunID}

	// NORMALIZE
	msg, msgRef, err := p.runNormalize(ctx, job, raw)
	if err != nil {
		return nil, err
	}
	res.Message = msg

	// ATTACHMENTS
	parsed, err := normalize.ParseMIME(raw)
	if err != nil {
		return nil, err
	}
	records, attRefs, err := p.runAttachments(ctx, job, msgRef, parsed.Attachments)
	if err != nil {
		return nil, err
	}
	texts := p.cleanTexts(ctx, records)

	routeCtx := route.Context{
		IdentityStatus: canonical.IdentityNoCandidate,
		PrimaryIntent:  canonical.IntentGeneralInquiry,
		ProductLine:    canonical.ProdUnknown,
		Urgency:        canonical.UrgNormal,
	}
	// The malware flag is structural: a gated AV verdict forces it onto
	// the routing context here, so the security override holds even when
	// a later stage fails and CLASSIFY never runs.
	if attachments.AnyGated(records) {
		routeCtx.RiskFlags = []canonical.RiskFlag{canonical.RiskSecurityMalware}
	}

	// IDENTITY
	idRes, idRef, err := p.runIdentity(ctx, job, msg, msgRef, texts)
	switch {
	case err != nil && fault.Retryable(err):
		return nil, err
	case err != nil:
		routeCtx.FailClosedStage = canonical.StageIdentity
		routeCtx.FailClosedReason = fault.ReasonOf(err)
		routeCtx.IdentityStatus = canonical.IdentityNeedsReview
	default:
		routeCtx.IdentityStatus = idRes.Status
	}

	// CLASSIFY
	var clsRes *classify.Result
	var clsRef artifact.Ref
	if routeCtx.FailClosedStage == "" {
		clsRes, clsRef, err = p.runClassify(ctx, job, msg, msgRef, records, texts)
		switch {
		case err != nil && fault.Retryable(err):
			return nil, err
		case err != nil:
			routeCtx.FailClosedStage = canonical.StageClassify
			routeCtx.FailClosedReason = fault.ReasonOf(err)
		default:
			routeCtx.PrimaryIntent = clsRes.PrimaryIntent
			routeCtx.ProductLine = clsRes.ProductLine
			routeCtx.Urgency = clsRes.Urgency
			routeCtx.RiskFlags = clsRes.RiskFlagSet()
			if clsRes.FailClosed {
				routeCtx.FailClosedStage = canonical.StageClassify
				if clsRes.FailClosedReason != nil {
					routeCtx.FailClosedReason = *clsRes.FailClosedReason
				}
			}
		}
	}

	// EXTRACT
	var extRes *extract.Result
	if routeCtx.FailClosedStage == "" || routeCtx.FailClosedStage == canonical.StageClassify {
		extRes, _, err = p.runExtract(ctx, job, msg, msgRef, records, texts)
		switch {
		case err != nil && fault.Retryable(err):
			return nil, err
		case err != nil:
			if routeCtx.FailClosedStage == "" {
				routeCtx.FailClosedStage = canonical.StageExtract
				routeCtx.FailClosedReason = fault.ReasonOf(err)
			}
		default:
			if extRes.FailClosed && routeCtx.FailClosedStage == "" {
				routeCtx.FailClosedStage = canonical.StageExtract
				if extRes.FailClosedReason != nil {
					routeCtx.FailClosedReason = *extRes.FailClosedReason
				}
			}
		}
	}
	routeCtx.HasIdentifier = hasIdentifier(idRes, extRes)

	// ROUTE
	decision, decisionRef, err := p.runRoute(ctx, job, msg, msgRef, clsRef, idRef, attRefs, routeCtx)
	if err != nil {
		return nil, err
	}
	res.Decision = decision

	if err := p.openReview(ctx, job, decision, decisionRef); err != nil {
		return nil, err
	}

	// CASE
	caseRes, err := p.runCase(ctx, job, msg, decision, decisionRef, records, extRes)
	if err != nil {
		return nil, err
	}
	res.Case = caseRes
	return res, nil
}

// cleanTexts loads the extracted text of CLEAN attachments, in record
// order. Unreadable text blobs degrade to absence, matching the rule
// that gated content never reaches a decision stage.
func (p *Pipeline) cleanTexts(ctx context.Context, records []attachments.Record) []string {
	var texts []string
	for _, rec := range records {
		if rec.Gated() || rec.TextRef == nil {
			continue
		}
		data, err := p.Blobs.Get(ctx, rec.TextRef.SHA256)
		if err != nil {
			continue
		}
		texts = append(texts, string(data))
	}
	return texts
}

// hasIdentifier reports whether the run resolved an authoritative
// identifier: a selected directory entity, or an extracted identifier
// the directory confirmed.
func hasIdentifier(idRes *identity.Result, extRes *extract.Result) bool {
	if idRes != nil && idRes.Selected != nil {
		return true
	}
	if extRes == nil {
		return false
	}
	for _, e := range extRes.Entities {
		switch e.Type {
		case canonical.EntPolicyNumber, canonical.EntClaimNumber, canonical.EntCustomerNumber:
			if !e.DirectoryMiss {
				return true
			}
		}
	}
	return false
}

// missingFields lists the identifier fields the message did not carry,
// for the request-info draft. Everything present still asks for the
// policy number; the draft exists because routing said an identifier
// is missing.
func missingFields(extRes *extract.Result) []string {
	found := map[canonical.ExtractedEntityType]bool{}
	if extRes != nil {
		for _, e := range extRes.Entities {
			found[e.Type] = true
		}
	}
	var missing []string
	if !found[canonical.EntPolicyNumber] {
		missing = append(missing, requestinfo.FieldPolicyNumber)
	}
	if !found[canonical.EntClaimNumber] {
		missing = append(missing, requestinfo.FieldClaimNumber)
	}
	if !found[canonical.EntCustomerNumber] {
		missing = append(missing, requestinfo.FieldCustomerNumber)
	}
	if len(missing) == 0 {
		missing = []string{requestinfo.FieldPolicyNumber}
	}
	return missing
}

var reviewQueues = map[canonical.Queue]bool{
	canonical.QueueSecurityReview:          true,
	canonical.QueueIdentityReview:          true,
	canonical.QueueClassificationReview:    true,
	canonical.QueueUnknownProductReview:    true,
	canonical.QueueIntakeReviewGeneral:     true,
	canonical.QueueCaseCreateFailureReview: true,
}

func (p *Pipeline) openReview(ctx context.Context, job Job, d *route.Decision, ref artifact.Ref) error {
	if p.Reviews == nil {
		return nil
	}
	if !d.FailClosed && !reviewQueues[d.QueueID] {
		return nil
	}
	reason := ""
	if d.FailClosedReason != nil {
		reason = *d.FailClosedReason
	}
	_, err := p.Reviews.Open(ctx, hitl.ReviewItem{
		ReviewItemID: hitl.ReviewItemID(job.MessageID, job.RunID, d.QueueID, ref),
		MessageID:    job.MessageID,
		RunID:        job.RunID,
		QueueID:      d.QueueID,
		Reason:       reason,
	})
	return err
}
