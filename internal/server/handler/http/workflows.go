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

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/kyc"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/sagas/stresstest"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/scheduler"
	"github.com/DealExMachina/evergreen-dragon-os/internal/server/store"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

const maxBodyBytes = 1 << 20

// Scheduler is the trigger surface served over HTTP.
type Scheduler interface {
	TriggerAssetUnwind(ctx context.Context, assetID, reason string) (string, error)
	TriggerValuationCycle(ctx context.Context, quarter string, year int, assetIDs ...string) (string, error)
	TriggerStressTest(ctx context.Context, scenarios []stresstest.Scenario) (string, error)
	TriggerKYC(ctx context.Context, investorID string, documents []kyc.Document) (string, error)
	GetWorkflowStatus(ctx context.Context, sagaID string) (api.StatusView, error)
	SignalWorkflow(ctx context.Context, sagaID, name string, args ...any) error
}

type AssetUnwindRequest struct {
	AssetID string `json:"assetId"`
	Reason  string `json:"reason"`
}

type ValuationCycleRequest struct {
	Quarter  string   `json:"quarter"`
	Year     int      `json:"year"`
	AssetIDs []string `json:"assetIds"`
}

type StressTestRequest struct {
	Scenarios []stresstest.Scenario `json:"scenarios"`
}

type KYCRequest struct {
	InvestorID string         `json:"investorId"`
	Documents  []kyc.Document `json:"documents"`
}

type SignalRequest struct {
	Args []any `json:"args"`
}

// TriggerResponse is returned for accepted and duplicate triggers alike.
type TriggerResponse struct {
	SagaID    string `json:"saga_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type WorkflowHandler struct {
	sched Scheduler
	log   *slog.Logger
}

func NewWorkflowHandler(sched Scheduler, log *slog.Logger) *WorkflowHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WorkflowHandler{sched: sched, log: log.With("component", "http")}
}

func (h *WorkflowHandler) TriggerAssetUnwind(w http.ResponseWriter, r *http.Request) {
	var req AssetUnwindRequest
	if !decode(w, r, &req) {
		return
	}
	h.started(w, r, func(ctx context.Context) (string, error) {
		return h.sched.TriggerAssetUnwind(ctx, req.AssetID, req.Reason)
	})
}

func (h *WorkflowHandler) TriggerValuationCycle(w http.ResponseWriter, r *http.Request) {
	var req ValuationCycleRequest
	if !decode(w, r, &req) {
		return
	}
	h.started(w, r, func(ctx context.Context) (string, error) {
		return h.sched.TriggerValuationCycle(ctx, req.Quarter, req.Year, req.AssetIDs...)
	})
}

func (h *WorkflowHandler) TriggerStressTest(w http.ResponseWriter, r *http.Request) {
	var req StressTestRequest
	if !decode(w, r, &req) {
		return
	}
	h.started(w, r, func(ctx context.Context) (string, error) {
		return h.sched.TriggerStressTest(ctx, req.Scenarios)
	})
}

func (h *WorkflowHandler) TriggerKYC(w http.ResponseWriter, r *http.Request) {
	var req KYCRequest
	if !decode(w, r, &req) {
		return
	}
	h.started(w, r, func(ctx context.Context) (string, error) {
		return h.sched.TriggerKYC(ctx, req.InvestorID, req.Documents)
	})
}

// started runs a trigger. A duplicate answers 200 with the active saga ID.
func (h *WorkflowHandler) started(w http.ResponseWriter, r *http.Request, trigger func(context.Context) (string, error)) {
	id, err := trigger(r.Context())
	if err != nil {
		var dup *saga.DuplicateSagaError
		if errors.As(err, &dup) {
			writeJSON(w, http.StatusOK, TriggerResponse{SagaID: dup.ActiveID, Duplicate: true})
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, TriggerResponse{SagaID: id})
}

func (h *WorkflowHandler) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.sched.GetWorkflowStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *WorkflowHandler) Signal(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if err := h.sched.SignalWorkflow(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), req.Args...); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *WorkflowHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	var (
		unknown    *saga.UnknownSignalError
		notRunning *saga.SagaNotRunningError
	)
	switch {
	case errors.Is(err, scheduler.ErrInvalidInput), errors.Is(err, saga.ErrInvalidSignal):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, saga.ErrUnknownSagaType):
		return http.StatusBadRequest, "unknown_saga_type"
	case errors.As(err, &unknown):
		return http.StatusBadRequest, "unknown_signal"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &notRunning):
		return http.StatusConflict, "not_running"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", fmt.Sprintf("decode request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
