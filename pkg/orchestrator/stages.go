package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/attachments"
	"github.com/intake-labs/ire/pkg/audit"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/caseadapter"
	"github.com/intake-labs/ire/pkg/classify"
	"github.com/intake-labs/ire/pkg/extract"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/hitl"
	"github.com/intake-labs/ire/pkg/identity"
	"github.com/intake-labs/ire/pkg/normalize"
	"github.com/intake-labs/ire/pkg/observability"
	"github.com/intake-labs/ire/pkg/requestinfo"
	"github.com/intake-labs/ire/pkg/route"
	"github.com/intake-labs/ire/pkg/store"
)

// stageFn does the work of one stage: compute, persist, and return the
// primary output ref plus the decision hash when the stage has one.
type stageFn func(ctx context.Context) (artifact.Ref, string, error)

// runStage wraps a stage execution in the job state machine. It claims
// the derived job, runs fn with panic recovery, completes the job, and
// appends the audit event for the transition it performed.
//
// Redeliveries fall into three cases: a DONE job short-circuits to the
// stored artifact, a RUNNING job was abandoned by a crashed attempt and
// is resumed under the chain lease, and a terminal failure recomputes
// without touching state so the chain context is rebuilt but no second
// audit event appears.
func (p *Pipeline) runStage(ctx context.Context, job Job, stage canonical.Stage, rulesSHA string, inputs []string, inputRef *artifact.Ref, fn stageFn) (artifact.Ref, bool, error) {
	jobID, err := JobID(job.MessageID, stage, p.Snapshot.Ref().SHA256, rulesSHA, inputs)
	if err != nil {
		return artifact.Ref{}, false, err
	}

	rec, err := p.Jobs.Get(ctx, jobID)
	if err != nil {
		return artifact.Ref{}, false, err
	}
	terminal := false
	switch {
	case rec == nil:
		claimed, err := p.Jobs.Claim(ctx, store.JobRecord{
			JobID:     jobID,
			MessageID: job.MessageID,
			RunID:     job.RunID,
			Stage:     stage,
		})
		if err != nil {
			return artifact.Ref{}, false, err
		}
		if !claimed {
			// Raced another attempt between Get and Claim; treat as a
			// transient conflict and let the broker redeliver.
			return artifact.Ref{}, false, fault.New(fault.KindDependencyUnavailable, stage, "job_claim_conflict")
		}
	case rec.State == canonical.JobDone:
		ref, err := p.Artifacts.Latest(ctx, job.MessageID, job.RunID, stage)
		if err != nil {
			return artifact.Ref{}, false, err
		}
		if !ref.IsZero() {
			return ref, true, nil
		}
		terminal = true
	case rec.State == canonical.JobRunning:
		// Crashed attempt; the chain lease makes us its successor.
	default:
		terminal = true
	}

	started := time.Now()
	ref, decisionHash, err := p.recoverStage(ctx, stage, fn)
	p.observeStage(stage, started, err)
	if err != nil {
		if fault.Retryable(err) {
			return artifact.Ref{}, false, err
		}
		if !terminal {
			if cerr := p.Jobs.Complete(ctx, jobID, canonical.JobFailedClosed, "", fault.ReasonOf(err)); cerr != nil {
				return artifact.Ref{}, false, cerr
			}
			if aerr := p.appendStageEvent(ctx, job, stage, audit.TypeStageFailedClosed, inputRef, nil, "", map[string]any{
				"reason": fault.ReasonOf(err),
			}); aerr != nil {
				return artifact.Ref{}, false, aerr
			}
		}
		return artifact.Ref{}, false, err
	}

	if !terminal {
		if cerr := p.Jobs.Complete(ctx, jobID, canonical.JobDone, ref.SHA256, ""); cerr != nil {
			return artifact.Ref{}, false, cerr
		}
		var outRef *artifact.Ref
		if !ref.IsZero() {
			outRef = &ref
		}
		if aerr := p.appendStageEvent(ctx, job, stage, audit.TypeStageCompleted, inputRef, outRef, decisionHash, nil); aerr != nil {
			return artifact.Ref{}, false, aerr
		}
	}
	return ref, false, nil
}

// observeStage feeds the SLO tracker. Latency is wall clock, not the
// deterministic chain clock.
func (p *Pipeline) observeStage(stage canonical.Stage, started time.Time, err error) {
	if p.SLOs == nil {
		return
	}
	p.SLOs.Record(observability.SLOObservation{
		Operation: strings.ToLower(string(stage)),
		Latency:   time.Since(started),
		Success:   err == nil,
	})
}

func (p *Pipeline) recoverStage(ctx context.Context, stage canonical.Stage, fn stageFn) (ref artifact.Ref, decisionHash string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.New(fault.KindInternal, stage, "stage_panicked")
		}
	}()
	return fn(ctx)
}

func (p *Pipeline) appendStageEvent(ctx context.Context, job Job, stage canonical.Stage, eventType string, inputRef, outputRef *artifact.Ref, decisionHash string, payload map[string]any) error {
	if p.Audit == nil {
		return nil
	}
	d := audit.Draft{
		MessageID:    job.MessageID,
		RunID:        job.RunID,
		Stage:        stage,
		EventType:    eventType,
		OccurredAt:   p.clock(),
		InputRef:     inputRef,
		OutputRef:    outputRef,
		DecisionHash: decisionHash,
		ConfigRef:    p.Snapshot.Ref(),
		Payload:      payload,
	}
	if stage == canonical.StageRoute && p.Ruleset != nil {
		rr := p.Ruleset.Ref
		d.RulesRef = &rr
	}
	event, err := audit.NewEvent(d)
	if err != nil {
		return err
	}
	return p.Audit.Append(ctx, event)
}

// withRetry reruns fn on retryable faults with exponential backoff.
// Only transport stages go through here; decision stages run once.
func (p *Pipeline) withRetry(ctx context.Context, fn func(context.Context) error) error {
	cfg := p.Snapshot.Retry
	backoff := time.Duration(cfg.BaseBackoff)
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !fault.Retryable(err) || attempt >= cfg.MaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
		if cap := time.Duration(cfg.MaxBackoff); backoff > cap {
			backoff = cap
		}
	}
}

// rawMIMESchemaID labels pointers at unparsed message bytes, which
// have no artifact schema of their own.
const rawMIMESchemaID = "urn:ieim:blob:raw-mime:1.0.0"

func rawRef(rawSHA string) *artifact.Ref {
	return &artifact.Ref{SchemaID: rawMIMESchemaID, URI: "blob://" + rawSHA, SHA256: rawSHA}
}

func (p *Pipeline) runNormalize(ctx context.Context, job Job, raw []byte) (*normalize.Message, artifact.Ref, error) {
	var msg *normalize.Message
	ref, reused, err := p.runStage(ctx, job, canonical.StageNormalize, "", []string{job.RawSHA256}, rawRef(job.RawSHA256),
		func(ctx context.Context) (artifact.Ref, string, error) {
			parsed, err := normalize.ParseMIME(raw)
			if err != nil {
				return artifact.Ref{}, "", err
			}
			m, err := normalize.Build(parsed, normalize.BuildInput{
				MessageID:     job.MessageID,
				RunID:         job.RunID,
				IngestedAt:    p.clock(),
				Source:        job.Source,
				RawMIMEURI:    "blob://" + job.RawSHA256,
				RawMIMESHA256: job.RawSHA256,
			})
			if err != nil {
				return artifact.Ref{}, "", err
			}
			ref, _, err := p.Artifacts.PutIfAbsent(ctx, canonical.SchemaNormalizedMessage, job.MessageID, job.RunID, canonical.StageNormalize, m)
			if err != nil {
				return artifact.Ref{}, "", err
			}
			msg = m
			return ref, "", nil
		})
	if err != nil {
		return nil, artifact.Ref{}, err
	}
	if reused || msg == nil {
		msg = &normalize.Message{}
		if err := p.Artifacts.GetInto(ctx, ref, msg); err != nil {
			return nil, artifact.Ref{}, err
		}
	}
	return msg, ref, nil
}

func (p *Pipeline) runAttachments(ctx context.Context, job Job, msgRef artifact.Ref, parts []normalize.Part) ([]attachments.Record, []string, error) {
	var records []attachments.Record
	_, reused, err := p.runStage(ctx, job, canonical.StageAttachments, "", []string{msgRef.SHA256}, &msgRef,
		func(ctx context.Context) (artifact.Ref, string, error) {
			var recs []attachments.Record
			err := p.withRetry(ctx, func(ctx context.Context) error {
				var err error
				recs, err = p.Attachments.Process(ctx, job.MessageID, parts)
				return err
			})
			if err != nil {
				return artifact.Ref{}, "", err
			}
			var last artifact.Ref
			for _, rec := range recs {
				ref, _, err := p.Artifacts.PutIfAbsent(ctx, canonical.SchemaAttachment, job.MessageID, job.RunID, canonical.StageAttachments, rec)
				if err != nil {
					return artifact.Ref{}, "", err
				}
				last = ref
			}
			records = recs
			return last, "", nil
		})
	if err != nil {
		return nil, nil, err
	}
	if reused {
		records, err = p.loadAttachments(ctx, job)
		if err != nil {
			return nil, nil, err
		}
	}
	shas := make([]string, 0, len(records))
	for _, rec := range records {
		shas = append(shas, rec.SHA256)
	}
	return records, shas, nil
}

func (p *Pipeline) loadAttachments(ctx context.Context, job Job) ([]attachments.Record, error) {
	refs, err := p.Artifacts.List(ctx, job.MessageID, canonical.StageAttachments)
	if err != nil {
		return nil, err
	}
	records := make([]attachments.Record, 0, len(refs))
	for _, ref := range refs {
		var rec attachments.Record
		if err := p.Artifacts.GetInto(ctx, ref, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (p *Pipeline) runIdentity(ctx context.Context, job Job, msg *normalize.Message, msgRef artifact.Ref, texts []string) (*identity.Result, artifact.Ref, error) {
	var res *identity.Result
	ref, reused, err := p.runStage(ctx, job, canonical.StageIdentity, "", []string{msgRef.SHA256}, &msgRef,
		func(ctx context.Context) (artifact.Ref, string, error) {
			r, err := p.Identity.Resolve(ctx, identity.Input{
				Message:         msg,
				AttachmentTexts: texts,
				ClaimContext:    identity.FindClaimNumber(msg.SubjectC14N, msg.BodyTextC14N) != nil,
			})
			if err != nil {
				return artifact.Ref{}, "", err
			}
			ref, _, err := p.Artifacts.PutIfAbsent(ctx, canonical.SchemaIdentityResult, job.MessageID, job.RunID, canonical.StageIdentity, r)
			if err != nil {
				return artifact.Ref{}, "", err
			}
			res = r
			return ref, r.DecisionHash, nil
		})
	if err != nil {
		return nil, artifact.Ref{}, err
	}
	if reused || res == nil {
		res = &identity.Result{}
		if err := p.Artifacts.GetInto(ctx, ref, res); err != nil {
			return nil, artifact.Ref{}, err
		}
	}
	return res, ref, nil
}

func (p *Pipeline) runClassify(ctx context.Context, job Job, msg *normalize.Message, msgRef artifact.Ref, records []attachments.Record, texts []string) (*classify.Result, artifact.Ref, error) {
	var res *classify.Result
	ref, reused, err := p.runStage(ctx, job, canonical.StageClassify, "", []string{msgRef.SHA256}, &msgRef,
		func(ctx context.Context) (artifact.Ref, string, error) {
			r, err := p.Classifier.Classify(ctx, classify.Input{
				Message:         msg,
				Attachments:     records,
				AttachmentTexts: texts,
			})
			if err != nil {
				return artifact.Ref{}, "", err
			}
			ref, _, err := p.Artifacts.PutIfAbsent(ctx, canonical.SchemaClassification, job.MessageID, job.RunID, canonical.StageClassify, r)
			if err != nil {
				return artifact.Ref{}, "", err
			}
			res = r
			return ref, r.DecisionHash, nil
		})
	if err != nil {
		return nil, artifact.Ref{}, err
	}
	if reused || res == nil {
		res = &classify.Result{}
		if err := p.Artifacts.GetInto(ctx, ref, res); err != nil {
			return nil, artifact.Ref{}, err
		}
	}
	return res, ref, nil
}

func (p *Pipeline) runExtract(ctx context.Context, job Job, msg *normalize.Message, msgRef artifact.Ref, records []attachments.Record, texts []string) (*extract.Result, artifact.Ref, error) {
	var res *extract.Result
	ref, reused, err := p.runStage(ctx, job, canonical.StageExtract, "", []string{msgRef.SHA256}, &msgRef,
		func(ctx context.Context) (artifact.Ref, string, error) {
			r, err := p.Extractor.Extract(ctx, extract.Input{
				Message:         msg,
				Attachments:     records,
				AttachmentTexts: texts,
			})
			if err != nil {
				return artifact.Ref{}, "", err
			}
			ref, _, err := p.Artifacts.PutIfAbsent(ctx, canonical.SchemaExtraction, job.MessageID, job.RunID, canonical.StageExtract, r)
			if err != nil {
				return artifact.Ref{}, "", err
			}
			res = r
			return ref, "", nil
		})
	if err != nil {
		return nil, artifact.Ref{}, err
	}
	if reused || res == nil {
		res = &extract.Result{}
		if err := p.Artifacts.GetInto(ctx, ref, res); err != nil {
			return nil, artifact.Ref{}, err
		}
	}
	return res, ref, nil
}

func (p *Pipeline) runRoute(ctx context.Context, job Job, msg *normalize.Message, msgRef, clsRef, idRef artifact.Ref, attSHAs []string, routeCtx route.Context) (*route.Decision, artifact.Ref, error) {
	inputs := []string{msgRef.SHA256}
	if !idRef.IsZero() {
		inputs = append(inputs, idRef.SHA256)
	}
	if !clsRef.IsZero() {
		inputs = append(inputs, clsRef.SHA256)
	}
	inputs = append(inputs, attSHAs...)

	var d *route.Decision
	ref, reused, err := p.runStage(ctx, job, canonical.StageRoute, p.Ruleset.Ref.SHA256, inputs, &msgRef,
		func(ctx context.Context) (artifact.Ref, string, error) {
			ev := &route.Evaluator{Snapshot: p.Snapshot, Ruleset: p.Ruleset}
			dec, err := ev.Evaluate(msg, routeCtx)
			if err != nil {
				return artifact.Ref{}, "", err
			}
			ref, _, err := p.Artifacts.PutIfAbsent(ctx, canonical.SchemaRoutingDecision, job.MessageID, job.RunID, canonical.StageRoute, dec)
			if err != nil {
				return artifact.Ref{}, "", err
			}
			d = dec
			return ref, dec.DecisionHash, nil
		})
	if err != nil {
		return nil, artifact.Ref{}, err
	}
	if reused || d == nil {
		d = &route.Decision{}
		if err := p.Artifacts.GetInto(ctx, ref, d); err != nil {
			return nil, artifact.Ref{}, err
		}
	}
	return d, ref, nil
}

// runCase executes the decision's actions. The CASE stage has no
// artifact of its own: its outcome is the job record plus the audit
// event, and an exhausted adapter dead-letters the job into the
// case-create failure queue instead of failing the whole chain.
func (p *Pipeline) runCase(ctx context.Context, job Job, msg *normalize.Message, d *route.Decision, decisionRef artifact.Ref, records []attachments.Record, extRes *extract.Result) (*caseadapter.Result, error) {
	jobID, err := JobID(job.MessageID, canonical.StageCase, p.Snapshot.Ref().SHA256, "", []string{decisionRef.SHA256})
	if err != nil {
		return nil, err
	}

	rec, err := p.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		switch rec.State {
		case canonical.JobDone:
			res := &caseadapter.Result{CaseID: rec.OutputSHA256}
			res.Blocked = rec.Reason == "case_create_blocked"
			return res, nil
		case canonical.JobDeadLettered, canonical.JobFailedClosed:
			return &caseadapter.Result{}, nil
		}
	}
	if rec == nil {
		claimed, err := p.Jobs.Claim(ctx, store.JobRecord{
			JobID:     jobID,
			MessageID: job.MessageID,
			RunID:     job.RunID,
			Stage:     canonical.StageCase,
		})
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, fault.New(fault.KindDependencyUnavailable, canonical.StageCase, "job_claim_conflict")
		}
	}

	in, err := p.caseInput(job, msg, d, records, extRes)
	if err != nil {
		return p.caseFailClosed(ctx, job, jobID, decisionRef, err)
	}

	var res *caseadapter.Result
	started := time.Now()
	err = p.withRetry(ctx, func(ctx context.Context) error {
		var err error
		res, err = p.Cases.Apply(ctx, in)
		return err
	})
	p.observeStage(canonical.StageCase, started, err)
	if err != nil {
		if fault.Retryable(err) {
			return p.caseDeadLetter(ctx, job, jobID, d, decisionRef, err)
		}
		return p.caseFailClosed(ctx, job, jobID, decisionRef, err)
	}

	reason := ""
	if res.Blocked {
		reason = "case_create_blocked"
	}
	if err := p.Jobs.Complete(ctx, jobID, canonical.JobDone, res.CaseID, reason); err != nil {
		return nil, err
	}
	payload := map[string]any{"blocked": res.Blocked}
	if res.CaseID != "" {
		payload["case_id"] = res.CaseID
	}
	if err := p.appendStageEvent(ctx, job, canonical.StageCase, audit.TypeStageCompleted, &decisionRef, nil, "", payload); err != nil {
		return nil, err
	}
	return res, nil
}

// caseInput assembles the material the decision's actions reference.
func (p *Pipeline) caseInput(job Job, msg *normalize.Message, d *route.Decision, records []attachments.Record, extRes *extract.Result) (caseadapter.Input, error) {
	in := caseadapter.Input{
		Message:     msg,
		Decision:    d,
		Attachments: records,
	}
	for _, a := range d.Actions {
		switch a {
		case canonical.ActionAddRequestInfoDraft:
			draft, err := requestinfo.Generate(requestinfo.Input{
				MessageID:       job.MessageID,
				RunID:           job.RunID,
				Language:        msg.Language,
				OriginalSubject: msg.Subject,
				MissingFields:   missingFields(extRes),
			})
			if err != nil {
				return caseadapter.Input{}, err
			}
			in.RequestInfo = draft
		case canonical.ActionAddReplyDraft:
			reply := requestinfo.Acknowledge(msg.Language, msg.Subject)
			in.ReplyDraft = &caseadapter.Draft{Subject: reply.Subject, Body: reply.Body}
		}
	}
	return in, nil
}

// caseDeadLetter parks an exhausted case-create in the failure review
// queue. The chain itself completes: the routing decision stands and a
// human finishes the handover.
func (p *Pipeline) caseDeadLetter(ctx context.Context, job Job, jobID string, d *route.Decision, decisionRef artifact.Ref, cause error) (*caseadapter.Result, error) {
	reason := fault.ReasonOf(cause)
	if err := p.Jobs.Complete(ctx, jobID, canonical.JobDeadLettered, "", reason); err != nil {
		return nil, err
	}
	if p.Reviews != nil {
		_, err := p.Reviews.Open(ctx, hitl.ReviewItem{
			ReviewItemID: hitl.ReviewItemID(job.MessageID, job.RunID, canonical.QueueCaseCreateFailureReview, decisionRef),
			MessageID:    job.MessageID,
			RunID:        job.RunID,
			QueueID:      canonical.QueueCaseCreateFailureReview,
			Reason:       reason,
		})
		if err != nil {
			return nil, err
		}
	}
	if err := p.appendStageEvent(ctx, job, canonical.StageCase, audit.TypeStageFailedClosed, &decisionRef, nil, "", map[string]any{
		"reason":      reason,
		"dead_letter": true,
		"queue_id":    string(canonical.QueueCaseCreateFailureReview),
	}); err != nil {
		return nil, err
	}
	return &caseadapter.Result{}, nil
}

func (p *Pipeline) caseFailClosed(ctx context.Context, job Job, jobID string, decisionRef artifact.Ref, cause error) (*caseadapter.Result, error) {
	reason := fault.ReasonOf(cause)
	if err := p.Jobs.Complete(ctx, jobID, canonical.JobFailedClosed, "", reason); err != nil {
		return nil, err
	}
	if err := p.appendStageEvent(ctx, job, canonical.StageCase, audit.TypeStageFailedClosed, &decisionRef, nil, "", map[string]any{
		"reason": reason,
	}); err != nil {
		return nil, err
	}
	return nil, cause
}
