package caseadapter

import (
	"context"

	"github.com/intake-labs/ire/pkg/attachments"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/normalize"
	"github.com/intake-labs/ire/pkg/requestinfo"
	"github.com/intake-labs/ire/pkg/route"
)

// Result is the CASE stage outcome.
type Result struct {
	CaseID  string `json:"case_id,omitempty"`
	Blocked bool   `json:"blocked"`
}

// Stage executes the actions of a routing decision.
type Stage struct {
	Adapter Adapter
}

// Input binds the decision to the material its actions reference.
type Input struct {
	Message     *normalize.Message
	Decision    *route.Decision
	Attachments []attachments.Record
	RequestInfo *requestinfo.Draft
	ReplyDraft  *Draft
}

func hasAction(actions []canonical.Action, a canonical.Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

// Apply runs the decision's actions in order. BLOCK_CASE_CREATE stops
// everything; drafts required by an action but not provided are a
// validation fault, not a silent skip.
func (s *Stage) Apply(ctx context.Context, in Input) (*Result, error) {
	actions := in.Decision.Actions
	if hasAction(actions, canonical.ActionBlockCaseCreate) {
		return &Result{Blocked: true}, nil
	}

	fingerprint := in.Message.Fingerprint
	ruleID := in.Decision.RuleID
	ruleVersion := ""
	if in.Decision.RuleVersion != nil {
		ruleVersion = *in.Decision.RuleVersion
	}
	key := func(operation string) string {
		return IdempotencyKey(fingerprint, ruleID, ruleVersion, operation)
	}

	if hasAction(actions, canonical.ActionAddRequestInfoDraft) && in.RequestInfo == nil {
		return nil, fault.New(fault.KindValidation, canonical.StageCase, "request_info_draft_missing")
	}
	if hasAction(actions, canonical.ActionAddReplyDraft) && in.ReplyDraft == nil {
		return nil, fault.New(fault.KindValidation, canonical.StageCase, "reply_draft_missing")
	}

	res := &Result{}
	if hasAction(actions, canonical.ActionCreateCase) {
		caseID, err := s.Adapter.CreateOrUpdate(ctx, key("CREATE_CASE"),
			string(in.Decision.QueueID), in.Message.SubjectC14N)
		if err != nil {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageCase, "case_create_failed", err)
		}
		res.CaseID = caseID
	}
	if res.CaseID == "" {
		return res, nil
	}

	if hasAction(actions, canonical.ActionAttachOriginalEmail) {
		err := s.Adapter.Attach(ctx, key("ATTACH_ORIGINAL_EMAIL"), res.CaseID, Artifact{
			URI:    "blob://" + in.Message.RawMIMESHA256,
			SHA256: in.Message.RawMIMESHA256,
			Kind:   KindRawMIME,
		})
		if err != nil {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageCase, "case_attach_failed", err)
		}
	}
	if hasAction(actions, canonical.ActionAttachAllFiles) {
		for _, att := range in.Attachments {
			err := s.Adapter.Attach(ctx, key("ATTACH:"+att.AttachmentID), res.CaseID, Artifact{
				URI:          "blob://" + att.SHA256,
				SHA256:       att.SHA256,
				Kind:         KindAttachment,
				AttachmentID: att.AttachmentID,
			})
			if err != nil {
				return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageCase, "case_attach_failed", err)
			}
		}
	}
	if hasAction(actions, canonical.ActionAddRequestInfoDraft) {
		err := s.Adapter.AddDraft(ctx, key("ADD_REQUEST_INFO_DRAFT"), res.CaseID, Draft{
			Subject: in.RequestInfo.Subject,
			Body:    in.RequestInfo.Body,
		})
		if err != nil {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageCase, "case_draft_failed", err)
		}
	}
	if hasAction(actions, canonical.ActionAddReplyDraft) {
		err := s.Adapter.AddDraft(ctx, key("ADD_REPLY_DRAFT"), res.CaseID, *in.ReplyDraft)
		if err != nil {
			return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageCase, "case_draft_failed", err)
		}
	}
	return res, nil
}
