// Package identity resolves which customer, policy or claim an inbound
// message concerns. Resolution is deterministic: fixed extractors,
// config-pinned signal weights, and a ranked candidate list whose
// ordering never depends on map iteration or clock.
package identity

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/config"
	"github.com/intake-labs/ire/pkg/decision"
	"github.com/intake-labs/ire/pkg/directory"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/normalize"
)

// CRM links senders to the book of business. Lookups are optional
// enrichment: a nil CRM only costs the medium and soft signals.
type CRM interface {
	PolicyNumbersForSender(ctx context.Context, email string) ([]string, error)
	CustomerName(ctx context.Context, customerID string) (string, error)
}

// Resolver runs the IDENTITY stage.
type Resolver struct {
	Snapshot  *config.Snapshot
	Directory directory.Adapter
	CRM       CRM
}

// Input is one resolution request. AttachmentTexts must contain only
// text from attachments with a CLEAN scan verdict. ClaimContext biases
// the entity-type tie-break toward claims.
type Input struct {
	Message         *normalize.Message
	AttachmentTexts []string
	ClaimContext    bool
}

// High-risk markers that turn an unresolved message into a review case
// instead of a silent NO_CANDIDATE.
var highRiskMarkers = []string{"ombudsmann", "anwalt", "frist"}

// Resolve produces the identity artifact for the message.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Result, error) {
	msg := in.Message
	subject := msg.SubjectC14N
	body := msg.BodyTextC14N

	claimHit := FindClaimNumber(subject, body)
	policyHit := FindPolicyNumber(subject, body)
	customerHit := FindCustomerNumber(subject, body)

	if claimHit == nil && policyHit == nil && customerHit == nil {
		for _, text := range in.AttachmentTexts {
			claimHit = FindClaimNumber("", text)
			policyHit = FindPolicyNumber("", text)
			customerHit = FindCustomerNumber("", text)
			if claimHit != nil || policyHit != nil || customerHit != nil {
				break
			}
		}
	}

	var candidates []Candidate
	degraded := false

	addDegraded := func(err error) bool {
		if err == nil {
			return false
		}
		if fault.KindOf(err) == fault.KindDependencyUnavailable {
			degraded = true
			return true
		}
		return true
	}

	if claimHit != nil {
		entry, err := r.Directory.LookupClaim(ctx, claimHit.Value)
		if addDegraded(err) {
			// fall through with no claim candidate
		} else if entry != nil {
			c := Candidate{EntityType: canonical.EntityClaim, EntityID: entry.EntityID}
			c.DirectoryStatus = statusPtr(entry.Status)
			r.addSignal(&c, SigClaimLookupMatch, entry.EntityID)
			c.Evidence = append(c.Evidence, evidenceFor(claimHit, subject, body, in.AttachmentTexts))
			candidates = append(candidates, c)
		}
	}

	if policyHit != nil {
		entry, err := r.Directory.LookupPolicy(ctx, policyHit.Value)
		if addDegraded(err) {
		} else if entry != nil {
			c := Candidate{EntityType: canonical.EntityPolicy, EntityID: entry.EntityID}
			c.DirectoryStatus = statusPtr(entry.Status)
			r.addSignal(&c, SigPolicyLookupMatch, policyHit.Value)
			if r.CRM != nil && msg.FromEmail != "" {
				linked, err := r.CRM.PolicyNumbersForSender(ctx, msg.FromEmail)
				if err == nil && contains(linked, policyHit.Value) {
					r.addSignal(&c, SigSenderEmailMatch, msg.FromEmail)
				}
			}
			c.Evidence = append(c.Evidence, evidenceFor(policyHit, subject, body, in.AttachmentTexts))
			candidates = append(candidates, c)
		}
	}

	if customerHit != nil {
		entry, err := r.Directory.LookupCustomer(ctx, customerHit.Value)
		if addDegraded(err) {
		} else if entry != nil {
			c := Candidate{EntityType: canonical.EntityCustomer, EntityID: entry.EntityID}
			c.DirectoryStatus = statusPtr(entry.Status)
			r.addSignal(&c, SigCustomerLookupMatch, entry.EntityID)
			if r.CRM != nil && msg.FromDisplayName != nil {
				name, err := r.CRM.CustomerName(ctx, entry.EntityID)
				if err == nil && name != "" &&
					Similarity(*msg.FromDisplayName, name) >= r.Snapshot.Identity.FuzzyMatchThreshold {
					r.addSignal(&c, SigSignatureFuzzy, *msg.FromDisplayName)
				}
			}
			c.Evidence = append(c.Evidence, evidenceFor(customerHit, subject, body, in.AttachmentTexts))
			candidates = append(candidates, c)
		}
	}

	shared := SharedMailbox(msg.FromEmail)
	for i := range candidates {
		candidates[i].Score = r.score(&candidates[i], shared)
	}
	r.rank(candidates, in.ClaimContext)

	topK := candidates
	if k := r.Snapshot.Identity.TopK; k > 0 && len(topK) > k {
		topK = topK[:k]
	}

	th := r.thresholds()
	status, selected, reason := r.derive(topK, degraded, subject, body)

	result := &Result{
		SchemaID:        canonical.SchemaIdentityResult,
		MessageID:       msg.MessageID,
		RunID:           msg.RunID,
		Status:          status,
		StatusReason:    reason,
		Selected:        selected,
		TopK:            topK,
		Thresholds:      th,
		ConfigRef:       r.Snapshot.Ref(),
		DeterminismMode: r.Snapshot.Runtime.DeterminismMode,
	}
	if result.TopK == nil {
		result.TopK = []Candidate{}
	}

	hash, err := decision.Hash(r.decisionInput(msg, result))
	if err != nil {
		return nil, err
	}
	result.DecisionHash = hash
	return result, nil
}

func (r *Resolver) addSignal(c *Candidate, name, value string) {
	spec := r.signalSpec(name)
	c.Signals = append(c.Signals, Signal{
		Name:     name,
		Value:    value,
		Weight:   spec.Weight,
		Strength: spec.Strength,
	})
	switch spec.Strength {
	case config.StrengthHard:
		c.hasHard = true
	case config.StrengthMedium:
		c.hasMedium = true
	}
}

// defaultSignalSpecs back any signal the snapshot does not weight
// explicitly, so a sparse config still scores deterministically.
var defaultSignalSpecs = map[string]config.SignalSpec{
	SigClaimLookupMatch:    {Weight: 0.9, Strength: config.StrengthHard},
	SigPolicyLookupMatch:   {Weight: 0.9, Strength: config.StrengthHard},
	SigCustomerLookupMatch: {Weight: 0.8, Strength: config.StrengthHard},
	SigSenderEmailMatch:    {Weight: 0.5, Strength: config.StrengthMedium},
	SigSignatureFuzzy:      {Weight: 0.3, Strength: config.StrengthSoft},
}

func (r *Resolver) signalSpec(name string) config.SignalSpec {
	if spec, ok := r.Snapshot.Identity.Signals[name]; ok {
		return spec
	}
	return defaultSignalSpecs[name]
}

// score maps the weighted signal sum through the configured affine
// transform, applies the shared-mailbox penalty, clamps to [0,1] and
// rounds half-up to two decimals.
func (r *Resolver) score(c *Candidate, sharedMailbox bool) float64 {
	raw := 0.0
	for _, s := range c.Signals {
		raw += s.Weight * r.strengthFactor(s.Strength)
	}
	t := r.Snapshot.Identity.ScoreTransform
	intercept, slope := t.Intercept, t.Slope
	if intercept == 0 && slope == 0 {
		slope = 1
	}
	score := intercept + slope*raw
	if sharedMailbox {
		score -= r.Snapshot.Identity.SharedMailboxPenalty
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return math.Round(score*100) / 100
}

func (r *Resolver) strengthFactor(strength string) float64 {
	return config.SignalSpec{Strength: strength}.StrengthFactor()
}

// rank orders candidates by the four-level deterministic tie-break:
// hard signal, entity-type preference, directory status, then score
// with lexicographic entity id as the final key.
func (r *Resolver) rank(candidates []Candidate, claimContext bool) {
	pref := map[canonical.EntityType]int{
		canonical.EntityPolicy:   0,
		canonical.EntityCustomer: 1,
		canonical.EntityClaim:    2,
	}
	if claimContext {
		pref = map[canonical.EntityType]int{
			canonical.EntityClaim:    0,
			canonical.EntityPolicy:   1,
			canonical.EntityCustomer: 2,
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.hasHard != b.hasHard {
			return a.hasHard
		}
		if pa, pb := pref[a.EntityType], pref[b.EntityType]; pa != pb {
			return pa < pb
		}
		if aa, ab := isActive(a), isActive(b); aa != ab {
			return aa
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.EntityID < b.EntityID
	})
}

func (r *Resolver) thresholds() Thresholds {
	t := r.Snapshot.Identity.Thresholds
	return Thresholds{
		ConfirmScore:   t.ConfirmedMinScore,
		ConfirmMargin:  t.ConfirmedMinMargin,
		ProbableScore:  t.ProbableMinScore,
		ProbableMargin: t.ProbableMinMargin,
	}
}

func (r *Resolver) derive(topK []Candidate, degraded bool, subject, body string) (canonical.IdentityStatus, *Selected, *string) {
	if degraded {
		reason := "directory_unavailable"
		return canonical.IdentityNeedsReview, nil, &reason
	}
	if len(topK) == 0 {
		text := canonicalize.FingerprintForm(subject + "\n" + body)
		for _, marker := range highRiskMarkers {
			if strings.Contains(text, marker) {
				reason := "high_risk_unresolved"
				return canonical.IdentityNeedsReview, nil, &reason
			}
		}
		return canonical.IdentityNoCandidate, nil, nil
	}

	top := topK[0]
	margin := top.Score
	if len(topK) > 1 {
		margin = top.Score - topK[1].Score
	}
	t := r.Snapshot.Identity.Thresholds

	if top.hasHard && top.Score >= t.ConfirmedMinScore && margin >= t.ConfirmedMinMargin {
		return canonical.IdentityConfirmed, selectedFrom(top), nil
	}
	if top.hasMedium && top.Score >= t.ProbableMinScore && margin >= t.ProbableMinMargin {
		return canonical.IdentityProbable, selectedFrom(top), nil
	}
	reason := "below_thresholds"
	return canonical.IdentityNeedsReview, nil, &reason
}

func (r *Resolver) decisionInput(msg *normalize.Message, res *Result) decision.IdentityInput {
	in := decision.IdentityInput{
		Base: decision.Base{
			SystemID:            r.Snapshot.Pack.SystemID,
			CanonicalSpecSemver: r.Snapshot.Pack.CanonicalSpecSemver,
			Stage:               canonical.StageIdentity,
			MessageFingerprint:  msg.Fingerprint,
			RawMIMESHA256:       msg.RawMIMESHA256,
			ConfigRef:           r.Snapshot.Ref(),
			DeterminismMode:     res.DeterminismMode,
		},
		Status: res.Status,
		Thresholds: decision.ThresholdsInput{
			ConfirmScore:   res.Thresholds.ConfirmScore,
			ConfirmMargin:  res.Thresholds.ConfirmMargin,
			ProbableScore:  res.Thresholds.ProbableScore,
			ProbableMargin: res.Thresholds.ProbableMargin,
		},
		TopK: make([]decision.CandidateInput, 0, len(res.TopK)),
	}
	if res.Selected != nil {
		in.Selected = &decision.SelectedInput{
			EntityType: string(res.Selected.EntityType),
			EntityID:   res.Selected.EntityID,
			Score:      res.Selected.Score,
		}
	}
	for i, c := range res.TopK {
		ci := decision.CandidateInput{
			Rank:            i + 1,
			EntityType:      string(c.EntityType),
			EntityID:        c.EntityID,
			Score:           c.Score,
			Signals:         make([]decision.SignalInput, 0, len(c.Signals)),
			EvidenceSHA256s: make([]string, 0, len(c.Evidence)),
		}
		for _, s := range c.Signals {
			ci.Signals = append(ci.Signals, decision.SignalInput{Name: s.Name, Value: s.Value, Weight: s.Weight})
		}
		for _, e := range c.Evidence {
			ci.EvidenceSHA256s = append(ci.EvidenceSHA256s, e.SnippetSHA256)
		}
		in.TopK = append(in.TopK, ci)
	}
	return in
}

func selectedFrom(c Candidate) *Selected {
	return &Selected{EntityType: c.EntityType, EntityID: c.EntityID, Score: c.Score}
}

func statusPtr(s directory.Status) *string {
	v := string(s)
	if v == "" {
		return nil
	}
	return &v
}

func isActive(c Candidate) bool {
	return c.DirectoryStatus != nil && *c.DirectoryStatus == string(directory.StatusActive)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// evidenceFor turns a hit back into an evidence span against the text
// it was found in.
func evidenceFor(hit *Hit, subject, body string, attachmentTexts []string) artifact.Evidence {
	switch hit.Source {
	case SourceSubject:
		return artifact.NewEvidence(subject, hit.Start, hit.End, hit.Source)
	case SourceBody:
		if body != "" && hit.End <= len(body) && body[hit.Start:hit.End] == hit.Snippet {
			return artifact.NewEvidence(body, hit.Start, hit.End, hit.Source)
		}
		// Hit came from an attachment text scanned under the body
		// source name.
		for _, text := range attachmentTexts {
			if hit.End <= len(text) && text[hit.Start:hit.End] == hit.Snippet {
				return artifact.NewEvidence(text, hit.Start, hit.End, hit.Source)
			}
		}
	}
	return artifact.NewEvidence(hit.Snippet, 0, len(hit.Snippet), hit.Source)
}

var errNoMessage = errors.New("identity: nil message")

// Validate guards the resolver inputs before Resolve runs.
func (in Input) Validate() error {
	if in.Message == nil {
		return fault.Wrap(fault.KindValidation, canonical.StageIdentity, "identity_input_missing_message", errNoMessage)
	}
	return nil
}
