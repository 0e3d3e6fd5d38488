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

package api

// NATS Stream Names
const (
	SagaHistoryStream  = "SAGA_HISTORY"
	DomainEventsStream = "DOMAIN_EVENTS"
	AgentTasksStream   = "AGENT_TASKS"
)

// NATS Subject Prefix
const (
	HistorySubjectPrefix = "history"
	DomainSubjectPrefix  = "domain"
)

// NATS Subject Format
const (
	HistoryPublishSubjectPattern    = HistorySubjectPrefix + ".%s" // sagaID
	ActivityInvokeSubjectPattern    = "activity.%s.invoke"         // activity name
	AgentInvokeSubjectPattern       = "agents.%s.invoke"           // agent name
	CompletionPublishSubjectPattern = "saga.completed.%s"          // saga type
)

// NATS Subject Patterns
const (
	HistoryFilterSubjectPattern      = HistorySubjectPrefix + ".>"
	DomainEventsFilterSubjectPattern = DomainSubjectPrefix + ".>"
	AgentTasksFilterSubjectPattern   = "agents.*.invoke"

	CommandRequestSubjectPattern = "command.request.>"
)

// Domain change subjects, one per upstream table.
const (
	FundEventsSubject = DomainSubjectPrefix + ".fund_events"
	AssetsSubject     = DomainSubjectPrefix + ".assets"
	FundFlowsSubject  = DomainSubjectPrefix + ".fund_flows"
)

// Specific Command Subjects
const (
	CommandRequestStart  = "command.request.start"
	CommandRequestStatus = "command.request.status"
	CommandRequestSignal = "command.request.signal"
)

// Consumer Names
const (
	ManagerCommandProcessorsConsumer = "manager-command-processors"
	CompletionProjectorConsumer      = "projector-saga-completion"

	FundEventsConsumer = "ingest-fund-events"
	AssetsConsumer     = "ingest-assets"
	FundFlowsConsumer  = "ingest-fund-flows"
)

// KeyValue Bucket Names
const (
	SagaInstanceBucket = "saga-instances"
	SagaActiveBucket   = "saga-active"
)

// JetStream Headers
const (
	SagaEventNameHeader = "Saga-Event-Name"
	SagaTypeHeader      = "Saga-Type"
	EventTypeHeader     = "Event-Type"
)
