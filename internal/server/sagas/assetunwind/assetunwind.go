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

// Package assetunwind sells an asset to the best bidder: it requests bids,
// prices the haircut, settles with the winning bidder, updates the NAV
// and records a summary in long-term memory.
package assetunwind

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/DealExMachina/evergreen-dragon-os/api"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/activity"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/retry"
	"github.com/DealExMachina/evergreen-dragon-os/sdk/saga"
)

const (
	RequestBids       = "requestBids"
	ComputeHaircut    = "computeHaircut"
	SettleTransaction = "settleTransaction"
	UpdateNAV         = "updateNAV"
	SaveToMemory      = "saveToMemory"

	// SignalSetReservePrice sets the minimum acceptable bid amount.
	SignalSetReservePrice = "setReservePrice"

	Timeout = 10 * time.Minute
)

var (
	ErrNoBids       = errors.New("No bids received")
	ErrBelowReserve = errors.New("No bids above reserve price")
)

type (
	Input struct {
		AssetID string `json:"assetId"`
		Reason  string `json:"reason"`
	}

	Bid struct {
		Bidder  string  `json:"bidder"`
		Amount  float64 `json:"amount"`
		Haircut float64 `json:"haircut"`
	}

	AssetRef struct {
		AssetID string `json:"assetId"`
	}

	HaircutRequest struct {
		AssetID string `json:"assetId"`
		Bids    []Bid  `json:"bids"`
	}

	SettleRequest struct {
		AssetID string  `json:"assetId"`
		Bidder  string  `json:"bidder"`
		Amount  float64 `json:"amount"`
	}

	Settlement struct {
		TxID string `json:"txId"`
	}

	NAVUpdate struct {
		AssetID string  `json:"assetId"`
		Amount  float64 `json:"amount"`
	}

	MemoryRecord struct {
		Summary      string   `json:"summary"`
		ReferenceIDs []string `json:"referenceIds"`
	}

	Result struct {
		AssetID string  `json:"assetId"`
		Bidder  string  `json:"bidder"`
		Amount  float64 `json:"amount"`
		Haircut float64 `json:"haircut"`
		TxID    string  `json:"txId"`
	}
)

type Definition struct{}

var _ saga.Definition = Definition{}

func (Definition) Type() api.SagaType { return api.AssetUnwind }

func (Definition) Activities() []string {
	return []string{RequestBids, ComputeHaircut, SettleTransaction, UpdateNAV, SaveToMemory}
}

func (Definition) Signals() map[string]saga.SignalHandler {
	return map[string]saga.SignalHandler{
		SignalSetReservePrice: func(args []any) error {
			if err := saga.ExpectArgs(args, 1); err != nil {
				return err
			}
			amount, err := saga.ArgFloat(args[0])
			if err != nil {
				return err
			}
			if amount < 0 {
				return fmt.Errorf("reserve price must not be negative, got %v", amount)
			}
			return nil
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

	var bids []Bid
	if err := r.Run(activity.Call{Name: RequestBids, Input: AssetRef{AssetID: in.AssetID}}, &bids); err != nil {
		return r.Stop(err)
	}
	if len(bids) == 0 {
		return saga.Fail(ErrNoBids)
	}

	var haircut float64
	if err := r.Run(activity.Call{Name: ComputeHaircut, Input: HaircutRequest{AssetID: in.AssetID, Bids: bids}}, &haircut); err != nil {
		return r.Stop(err)
	}

	best, ok := SelectBid(bids, reservePrice(r))
	if !ok {
		return saga.Fail(ErrBelowReserve)
	}

	var settlement Settlement
	settle := SettleRequest{AssetID: in.AssetID, Bidder: best.Bidder, Amount: best.Amount}
	if err := r.Run(activity.Call{Name: SettleTransaction, Input: settle}, &settlement); err != nil {
		return r.Stop(err)
	}

	if err := r.Run(activity.Call{Name: UpdateNAV, Input: NAVUpdate{AssetID: in.AssetID, Amount: best.Amount}}, nil); err != nil {
		return r.Stop(err)
	}

	record := MemoryRecord{
		Summary:      Summary(in.AssetID, best.Amount, haircut, in.Reason),
		ReferenceIDs: []string{in.AssetID, settlement.TxID},
	}
	if err := r.Run(activity.Call{Name: SaveToMemory, Input: record}, nil); err != nil {
		return r.Stop(err)
	}

	return saga.Complete(Result{
		AssetID: in.AssetID,
		Bidder:  best.Bidder,
		Amount:  best.Amount,
		Haircut: haircut,
		TxID:    settlement.TxID,
	})
}

// SelectBid picks the highest bid at or above reserve. Ties go to the bid
// seen first.
func SelectBid(bids []Bid, reserve float64) (Bid, bool) {
	var (
		best  Bid
		found bool
	)
	for _, b := range bids {
		if b.Amount < reserve {
			continue
		}
		if !found || b.Amount > best.Amount {
			best, found = b, true
		}
	}
	return best, found
}

func Summary(assetID string, amount, haircut float64, reason string) string {
	return fmt.Sprintf("Asset %s unwound for %s with %s%% haircut. Reason: %s",
		assetID, formatNumber(amount), formatNumber(haircut), reason)
}

// reservePrice is the latest reserve set before bid selection; 0 when unset.
func reservePrice(r *saga.Replay) float64 {
	var reserve float64
	for _, args := range r.Signals(SignalSetReservePrice) {
		if len(args) != 1 {
			continue
		}
		if amount, err := saga.ArgFloat(args[0]); err == nil {
			reserve = amount
		}
	}
	return reserve
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
