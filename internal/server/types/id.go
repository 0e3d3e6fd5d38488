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

package types

import "github.com/gofrs/uuid/v5"

// EventID identifies one published message. IDs are time ordered.
type EventID uuid.UUID

func NewEventID() (EventID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return EventID{}, err
	}
	return EventID(id), nil
}

func (id EventID) String() string {
	return uuid.UUID(id).String()
}
