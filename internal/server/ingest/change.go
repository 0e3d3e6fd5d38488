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

// Package ingest consumes row changes of the upstream fund tables from
// JetStream and hands each change to a callback.
package ingest

import (
	"fmt"
	"strings"

	"github.com/DealExMachina/evergreen-dragon-os/api/serde"
)

// Upstream tables whose changes are ingested.
const (
	TableFundEvents = "fund_events"
	TableAssets     = "assets"
	TableFundFlows  = "fund_flows"
)

// Change is one row change. EventType is the database operation
// (INSERT, UPDATE, DELETE).
type Change struct {
	// ID identifies the delivery: the publisher's message ID when set,
	// otherwise the stream position.
	ID        string         `json:"-"`
	Table     string         `json:"table"`
	EventType string         `json:"eventType"`
	New       map[string]any `json:"new"`
	Old       map[string]any `json:"old,omitempty"`
}

// RoutingKey is the event type the change is routed under: the
// event_type column of a fund event, or <TABLE>_<EventType> for the other
// tables.
func (c Change) RoutingKey() string {
	if c.Table == TableFundEvents {
		if et, ok := c.New["event_type"].(string); ok && et != "" {
			return et
		}
	}
	return strings.ToUpper(c.Table) + "_" + strings.ToUpper(c.EventType)
}

// Decode reads a change published on the subject of table. The table name
// in the message, if any, must match.
func Decode(table string, data []byte, conv serde.BinarySerde) (Change, error) {
	var c Change
	if err := conv.DeserializeBinary(data, &c); err != nil {
		return Change{}, fmt.Errorf("decode %s change: %w", table, err)
	}
	if c.Table == "" {
		c.Table = table
	}
	if c.Table != table {
		return Change{}, fmt.Errorf("change for table %q published on %s", c.Table, table)
	}
	if c.EventType == "" {
		return Change{}, fmt.Errorf("%s change has no event type", table)
	}
	if c.New == nil {
		c.New = map[string]any{}
	}
	return c, nil
}
