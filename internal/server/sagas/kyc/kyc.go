// Copyright 2025 The Evergreen Dragon OS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kyc onboards an investor: documents are extracted, screened for
// AML, checked for retail eligibility and ERISA compliance, and the
// investor is approved with eligibility tags or rejected with a reason.
package kyc

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/retry"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

const (
	ExtractDocuments       = "extractDocuments"
	RunAMLCheck            = "runAMLCheck"
	CheckRetailEligibility = "checkRetailEligibility"
	CheckERISA             = "checkERISA"
	ApproveKYC             = "approveKYC"
	RejectKYC              = "rejectKYC"

	// SignalAddTags adds tags to the approval.
	SignalAddTags = "addTags"

	TagERISACompliant = "erisa_compliant"

	Timeout = 15 * time.Minute
)

type (
	Document struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	}

	Input struct {
		InvestorID string     `json:"investorId"`
		Documents  []Document `json:"documents"`
	}

	ExtractedDocument struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}

	Extraction struct {
		Extracted []ExtractedDocument `json:"extracted"`
	}

	// CheckRequest is the input of every screening check.
	CheckRequest struct {
		InvestorID   string              `json:"investorId"`
		DocumentData []ExtractedDocument `json:"documentData"`
	}

	AMLResult struct {
		Passed bool   `json:"passed"`
		Reason string `json:"reason,omitempty"`
	}

	Eligibility struct {
		Eligible bool     `json:"eligible"`
		Tags     []string `json:"tags"`
	}

	ERISAResult struct {
		Compliant bool   `json:"compliant"`
		Reason    string `json:"reason,omitempty"`
	}

	Approval struct {
		InvestorID string   `json:"investorId"`
		Tags       []string `json:"tags"`
	}

	Rejection struct {
		InvestorID string `json:"investorId"`
		Reason     string `json:"reason"`
	}

	Result struct {
		InvestorID     string   `json:"investorId"`
		Tags           []string `json:"tags"`
		Eligible       bool     `json:"eligible"`
		ERISACompliant bool     `json:"erisaCompliant"`
	}
)

type Definition struct{}

var _ saga.Definition = Definition{}

func (Definition) Type() api.SagaType { return api.KYC }

func (Definition) Activities() []string {
	return []string{ExtractDocuments, RunAMLCheck, CheckRetailEligibility, CheckERISA, ApproveKYC, RejectKYC}
}

func (Definition) Signals() map[string]saga.SignalHandler {
	return map[string]saga.SignalHandler{
		SignalAddTags: func(args []any) error {
			if len(args) == 0 {
				return fmt.Errorf("expected at least one tag")
			}
			_, err := saga.ArgStrings(args)
			return err
		},
	}
}

func (Definition) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, Backoff: retry.Exponential}
}

func (Definition) Timeout() time.Duration { return Timeout }

func (Definition) Next(s *saga.State) saga.Decision {
	var in Input
	if err := s.Input(&in); err != nil {
		return saga.Fail(err)
	}
	r := s.Replay()

	var docs Extraction
	if err := r.Run(activity.Call{Name: ExtractDocuments, Input: in.Documents}, &docs); err != nil {
		return abort(r, in.InvestorID, err)
	}
	check := CheckRequest{InvestorID: in.InvestorID, DocumentData: docs.Extracted}

	var aml AMLResult
	if err := r.Run(activity.Call{Name: RunAMLCheck, Input: check}, &aml); err != nil {
		return abort(r, in.InvestorID, err)
	}
	if !aml.Passed {
		return reject(r, in.InvestorID, fmt.Sprintf("AML check failed: %s", aml.Reason))
	}

	var eligibility Eligibility
	if err := r.Run(activity.Call{Name: CheckRetailEligibility, Input: check}, &eligibility); err != nil {
		return abort(r, in.InvestorID, err)
	}

	var erisa ERISAResult
	if err := r.Run(activity.Call{Name: CheckERISA, Input: check}, &erisa); err != nil {
		return abort(r, in.InvestorID, err)
	}
	if !erisa.Compliant {
		return reject(r, in.InvestorID, fmt.Sprintf("ERISA check failed: %s", erisa.Reason))
	}

	tags := append(slices.Clone(eligibility.Tags), TagERISACompliant)
	for _, args := range r.Signals(SignalAddTags) {
		extra, err := saga.ArgStrings(args)
		if err != nil {
			continue
		}
		for _, tag := range extra {
			if !slices.Contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
	}

	if err := r.Run(activity.Call{Name: ApproveKYC, Input: Approval{InvestorID: in.InvestorID, Tags: tags}}, nil); err != nil {
		return abort(r, in.InvestorID, err)
	}

	return saga.Complete(Result{
		InvestorID:     in.InvestorID,
		Tags:           tags,
		Eligible:       eligibility.Eligible,
		ERISACompliant: erisa.Compliant,
	})
}

// reject records the rejection and fails the saga with the same reason.
func reject(r *saga.Replay, investorID, reason string) saga.Decision {
	if err := r.Run(activity.Call{Name: RejectKYC, Input: Rejection{InvestorID: investorID, Reason: reason}}, nil); saga.IsPending(err) {
		return r.Pending()
	}
	return saga.Fail(errors.New(reason))
}

// abort handles a failed step: the investor is rejected best effort and
// the saga fails with the step's own error.
func abort(r *saga.Replay, investorID string, cause error) saga.Decision {
	if saga.IsPending(cause) {
		return r.Pending()
	}
	var stepErr *saga.StepError
	if !errors.As(cause, &stepErr) {
		return saga.Fail(cause)
	}

	err := r.Run(activity.Call{Name: RejectKYC, Input: Rejection{InvestorID: investorID, Reason: cause.Error()}}, nil)
	if saga.IsPending(err) {
		return r.Pending()
	}
	return saga.Fail(cause)
}
