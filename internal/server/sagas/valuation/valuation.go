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

// Package valuation runs the quarterly valuation cycle. Every asset moves
// through appraisal, optional OCR of the appraisal document, model
// valuation and a check against the administrator's NAV. Each stage runs
// for all assets at once and the results are posted once, ordered by
// asset ID.
package valuation

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/retry"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

const (
	FetchAppraisal = "fetchAppraisal"
	OCRDocuments   = "ocrDocuments"
	ModelValuation = "modelValuation"
	CheckAdminNAV  = "checkAdminNAV"
	PostResults    = "postResults"

	// SignalExcludeAsset drops an asset from the cycle starting with its
	// next stage.
	SignalExcludeAsset = "excludeAsset"

	Timeout = 30 * time.Minute
)

type (
	Input struct {
		Quarter  string   `json:"quarter"`
		Year     int      `json:"year"`
		AssetIDs []string `json:"assetIds,omitempty"`
	}

	AssetRef struct {
		AssetID string `json:"assetId"`
	}

	// Appraisal is passed through to the valuation model untouched. The
	// only key the cycle reads is documentUrl; its presence, whatever the
	// value, sends the appraisal through OCR.
	Appraisal map[string]any

	OCRRequest struct {
		AssetID     string `json:"assetId"`
		DocumentURL string `json:"documentUrl"`
	}

	ModelRequest struct {
		AssetID string         `json:"assetId"`
		Data    map[string]any `json:"data"`
	}

	Valuation struct {
		Valuation  float64 `json:"valuation"`
		Confidence float64 `json:"confidence"`
	}

	NAVCheck struct {
		AssetID     string  `json:"assetId"`
		ComputedNAV float64 `json:"computedNav"`
	}

	NAVCheckResult struct {
		Matches  bool    `json:"matches"`
		AdminNAV float64 `json:"adminNav"`
	}

	AssetResult struct {
		AssetID    string  `json:"assetId"`
		NAV        float64 `json:"nav"`
		Confidence float64 `json:"confidence"`
		Warning    string  `json:"warning,omitempty"`
	}

	Result struct {
		Quarter string        `json:"quarter"`
		Year    int           `json:"year"`
		Results []AssetResult `json:"results"`
	}
)

// HasDocument reports whether the appraisal carries a documentUrl key.
func (a Appraisal) HasDocument() bool {
	_, ok := a["documentUrl"]
	return ok
}

// DocumentURL returns the documentUrl value, or "" when it is not a string.
func (a Appraisal) DocumentURL() string {
	url, _ := a["documentUrl"].(string)
	return url
}

type Definition struct{}

var _ saga.Definition = Definition{}

func (Definition) Type() api.SagaType { return api.ValuationCycle }

func (Definition) Activities() []string {
	return []string{FetchAppraisal, OCRDocuments, ModelValuation, CheckAdminNAV, PostResults}
}

func (Definition) Signals() map[string]saga.SignalHandler {
	return map[string]saga.SignalHandler{
		SignalExcludeAsset: func(args []any) error {
			if err := saga.ExpectArgs(args, 1); err != nil {
				return err
			}
			_, err := saga.ArgString(args[0])
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
	assets := unique(in.AssetIDs)

	// Appraisals.
	assets = active(r, assets)
	appraisals := make([]Appraisal, len(assets))
	if err := runEach(r, assets, &appraisals, func(id string) activity.Call {
		return activity.Call{Name: FetchAppraisal, Input: AssetRef{AssetID: id}}
	}); err != nil {
		return r.Stop(err)
	}
	byAsset := make(map[string]map[string]any, len(assets))
	for i, id := range assets {
		byAsset[id] = maps.Clone(map[string]any(appraisals[i]))
		if byAsset[id] == nil {
			byAsset[id] = map[string]any{}
		}
	}

	// Documents, only for appraisals that reference one.
	assets = active(r, assets)
	var withDocs []string
	for _, id := range assets {
		if Appraisal(byAsset[id]).HasDocument() {
			withDocs = append(withDocs, id)
		}
	}
	ocr := make([]map[string]any, len(withDocs))
	if err := runEach(r, withDocs, &ocr, func(id string) activity.Call {
		return activity.Call{Name: OCRDocuments, Input: OCRRequest{AssetID: id, DocumentURL: Appraisal(byAsset[id]).DocumentURL()}}
	}); err != nil {
		return r.Stop(err)
	}
	for i, id := range withDocs {
		maps.Copy(byAsset[id], ocr[i])
	}

	// Model valuations.
	assets = active(r, assets)
	valuations := make([]Valuation, len(assets))
	if err := runEach(r, assets, &valuations, func(id string) activity.Call {
		data := maps.Clone(byAsset[id])
		data["quarter"] = in.Quarter
		data["year"] = in.Year
		return activity.Call{Name: ModelValuation, Input: ModelRequest{AssetID: id, Data: data}}
	}); err != nil {
		return r.Stop(err)
	}
	computed := make(map[string]Valuation, len(assets))
	for i, id := range assets {
		computed[id] = valuations[i]
	}

	// Administrator NAV checks.
	assets = active(r, assets)
	checks := make([]NAVCheckResult, len(assets))
	if err := runEach(r, assets, &checks, func(id string) activity.Call {
		return activity.Call{Name: CheckAdminNAV, Input: NAVCheck{AssetID: id, ComputedNAV: computed[id].Valuation}}
	}); err != nil {
		return r.Stop(err)
	}

	results := make([]AssetResult, 0, len(assets))
	for i, id := range assets {
		v := computed[id]
		res := AssetResult{AssetID: id, NAV: v.Valuation, Confidence: v.Confidence}
		if !checks[i].Matches {
			res.Warning = MismatchWarning(v.Valuation, checks[i].AdminNAV)
		}
		results = append(results, res)
	}
	slices.SortFunc(results, func(a, b AssetResult) int { return cmp.Compare(a.AssetID, b.AssetID) })

	if err := r.Run(activity.Call{Name: PostResults, Input: results}, nil); err != nil {
		return r.Stop(err)
	}
	return saga.Complete(Result{Quarter: in.Quarter, Year: in.Year, Results: results})
}

// MismatchWarning annotates an asset whose computed NAV disagrees with the
// administrator's.
func MismatchWarning(computed, admin float64) string {
	return fmt.Sprintf("NAV mismatch: computed %s, admin %s",
		strconv.FormatFloat(computed, 'f', -1, 64), strconv.FormatFloat(admin, 'f', -1, 64))
}

// runEach issues one concurrent call per asset and decodes the outputs into
// the matching elements of *outs.
func runEach[T any](r *saga.Replay, assets []string, outs *[]T, call func(id string) activity.Call) error {
	calls := make([]activity.Call, len(assets))
	targets := make([]any, len(assets))
	for i, id := range assets {
		calls[i] = call(id)
		targets[i] = &(*outs)[i]
	}
	return r.RunAll(calls, targets)
}

// active drops assets excluded by a signal visible at the current position.
func active(r *saga.Replay, assets []string) []string {
	excluded := map[string]bool{}
	for _, args := range r.Signals(SignalExcludeAsset) {
		if len(args) != 1 {
			continue
		}
		if id, err := saga.ArgString(args[0]); err == nil {
			excluded[id] = true
		}
	}
	if len(excluded) == 0 {
		return assets
	}
	return slices.DeleteFunc(slices.Clone(assets), func(id string) bool { return excluded[id] })
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
